// Package sieve compiles search conditions into backend predicates.
//
// A SearchCondition is a tree of ValuesGroup nodes; every group maps field
// names to a ValuesBag of typed constraints. Conditions come from the
// FilterQuery text grammar, the array/JSON/XML interchange formats or the
// ConditionBuilder, are normalized by the Pipeline, and are compiled by one
// of the generators (SQL, OQL, Elasticsearch, MongoDB, GORM).
//
//	fs := sieve.NewFieldSet("users").
//		Add("id", sieve.IntegerType{}).
//		Add("name", sieve.TextType{}, sieve.Required())
//
//	cond, err := sieve.NewProcessor(fs, sieve.ProcessorConfig{}).Process(`name=ann,bob; id=1-10;`)
//	if err != nil {
//		return err
//	}
//
//	gen := sieve.NewSQLGenerator(cond)
//	_ = gen.SetField("name", "u.name", sieve.WithStorageType("string"))
//	out, err := gen.Generate()
package sieve

import "fmt"

// OrderField is one ordering directive of a condition.
type OrderField struct {
	Field string
	Desc  bool
}

func (o OrderField) Direction() string {
	if o.Desc {
		return "DESC"
	}
	return "ASC"
}

// SearchCondition is the root of a condition tree.
type SearchCondition struct {
	fieldSet *FieldSet
	root     *ValuesGroup
	primary  *ValuesGroup
	order    []OrderField
}

// NewSearchCondition returns a condition over fs. A nil root is replaced by an
// empty AND group.
func NewSearchCondition(fs *FieldSet, root *ValuesGroup) *SearchCondition {
	if root == nil {
		root = NewValuesGroup(LogicalAnd)
	}
	return &SearchCondition{fieldSet: fs, root: root}
}

func (c *SearchCondition) FieldSet() *FieldSet { return c.fieldSet }

func (c *SearchCondition) Values() *ValuesGroup { return c.root }

// PrimaryCondition returns the group that is always ANDed with the root, or nil.
func (c *SearchCondition) PrimaryCondition() *ValuesGroup { return c.primary }

// SetPrimaryCondition sets constraints the user cannot override, such as
// tenant scoping.
func (c *SearchCondition) SetPrimaryCondition(g *ValuesGroup) { c.primary = g }

func (c *SearchCondition) Order() []OrderField { return c.order }

// AddOrder appends an ordering directive. Unknown fields are rejected.
func (c *SearchCondition) AddOrder(field string, desc bool) error {
	if !c.fieldSet.Has(field) {
		return fmt.Errorf("order by %q: %w", field, ErrUnknownField)
	}
	for i, o := range c.order {
		if o.Field == field {
			c.order[i].Desc = desc
			return nil
		}
	}
	c.order = append(c.order, OrderField{Field: field, Desc: desc})
	return nil
}

// Empty reports whether the user part of the condition holds no values.
func (c *SearchCondition) Empty() bool { return c.root.Empty() }
