package sieve

import "fmt"

// ConditionBuilder assembles a condition in code. Values are raw input, the
// same as in FilterQuery, and Build runs the normal validation and
// normalization on them. The first error is kept and returned by Build.
//
//	cond, err := sieve.NewConditionBuilder(fs, sieve.ProcessorConfig{}).
//		Field("status").Values("active", "pending").End().
//		Group(sieve.LogicalOr).
//			Field("age").Compare(sieve.OpHigherOrEqual, "18").End().
//			Field("name").Pattern(sieve.PatternMatch{Kind: sieve.PatternStartsWith, Value: "a"}).End().
//		End().
//		Done().
//		OrderBy("age", true).
//		Build()
type ConditionBuilder struct {
	proc    *Processor
	root    *GroupBuilder
	primary *GroupBuilder
	order   []OrderField
	err     error
}

// GroupBuilder adds fields and child groups to one group.
type GroupBuilder struct {
	b      *ConditionBuilder
	parent *GroupBuilder
	group  *ValuesGroup
	path   string
	depth  int
}

// FieldBuilder adds values to the bag of one field in one group.
type FieldBuilder struct {
	g    *GroupBuilder
	name string
	bag  *ValuesBag
}

func NewConditionBuilder(fs *FieldSet, cfg ProcessorConfig) *ConditionBuilder {
	b := &ConditionBuilder{proc: NewProcessor(fs, cfg)}
	b.root = &GroupBuilder{b: b, group: NewValuesGroup(LogicalAnd)}
	return b
}

func (b *ConditionBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Operator sets the operator of the root group.
func (b *ConditionBuilder) Operator(op LogicalOperator) *ConditionBuilder {
	b.root.group.SetOperator(op)
	return b
}

// Field is shorthand for Root().Field.
func (b *ConditionBuilder) Field(name string) *FieldBuilder { return b.root.Field(name) }

// Group is shorthand for Root().Group.
func (b *ConditionBuilder) Group(op LogicalOperator) *GroupBuilder { return b.root.Group(op) }

func (b *ConditionBuilder) Root() *GroupBuilder { return b.root }

// Primary returns the builder of the primary condition. It is created on
// first use with the AND operator.
func (b *ConditionBuilder) Primary() *GroupBuilder {
	if b.primary == nil {
		b.primary = &GroupBuilder{b: b, group: NewValuesGroup(LogicalAnd), path: "primary"}
	}
	return b.primary
}

// OrderBy appends an ordering directive.
func (b *ConditionBuilder) OrderBy(field string, desc bool) *ConditionBuilder {
	if !b.proc.fieldSet.Has(field) {
		b.fail(&ConfigurationError{Field: field, Msg: "cannot order by a field outside the field set", Err: ErrUnknownField})
		return b
	}
	b.order = append(b.order, OrderField{Field: field, Desc: desc})
	return b
}

// Build validates and normalizes the collected values.
func (b *ConditionBuilder) Build() (*SearchCondition, error) {
	if b.err != nil {
		return nil, b.err
	}
	cond := NewSearchCondition(b.proc.fieldSet, b.root.group)
	if b.primary != nil {
		cond.SetPrimaryCondition(b.primary.group)
	}
	for _, o := range b.order {
		if err := cond.AddOrder(o.Field, o.Desc); err != nil {
			return nil, err
		}
	}
	return b.proc.finish(cond)
}

// Field returns the builder of a field of this group. Calling it again for
// the same field continues the same bag.
func (g *GroupBuilder) Field(name string) *FieldBuilder {
	fb := &FieldBuilder{g: g, name: name}
	if !g.b.proc.fieldSet.Has(name) {
		g.b.fail(&ConfigurationError{Field: name, Msg: fmt.Sprintf("not part of field set %q", g.b.proc.fieldSet.Name()), Err: ErrUnknownField})
		fb.bag = NewValuesBag()
		return fb
	}
	fb.bag = g.group.Field(name)
	if fb.bag == nil {
		fb.bag = NewValuesBag()
		g.group.AddField(name, fb.bag)
	}
	return fb
}

// Group adds a child group and returns its builder.
func (g *GroupBuilder) Group(op LogicalOperator) *GroupBuilder {
	limits := g.b.proc.config.Limits
	child := &GroupBuilder{
		b:      g.b,
		parent: g,
		group:  NewValuesGroup(op),
		path:   childPath(g.path, len(g.group.Groups())),
		depth:  g.depth + 1,
	}
	switch n := len(g.group.Groups()) + 1; {
	case n > limits.MaxGroups:
		g.b.fail(&StructuralError{Err: ErrGroupsOverflow, Group: g.path, Max: limits.MaxGroups, Count: n})
		return child
	case child.depth > limits.MaxNestingLevel:
		g.b.fail(&StructuralError{Err: ErrNestingOverflow, Group: child.path, Max: limits.MaxNestingLevel, Count: child.depth})
		return child
	}
	g.group.AddGroup(child.group)
	return child
}

// End returns the parent group builder, or g itself for the root.
func (g *GroupBuilder) End() *GroupBuilder {
	if g.parent == nil {
		return g
	}
	return g.parent
}

// Done returns the condition builder.
func (g *GroupBuilder) Done() *ConditionBuilder { return g.b }

func (f *FieldBuilder) add(fn func(bag *ValuesBag)) *FieldBuilder {
	if err := f.g.b.proc.checkValueCount(f.bag, f.name, f.g.path); err != nil {
		f.g.b.fail(err)
		return f
	}
	fn(f.bag)
	return f
}

// Values adds single values.
func (f *FieldBuilder) Values(raw ...string) *FieldBuilder {
	for _, r := range raw {
		f.add(func(bag *ValuesBag) { bag.AddSimpleValue(NewSingleValue(r)) })
	}
	return f
}

// Exclude adds excluded single values.
func (f *FieldBuilder) Exclude(raw ...string) *FieldBuilder {
	for _, r := range raw {
		f.add(func(bag *ValuesBag) { bag.AddExcludedSimpleValue(NewSingleValue(r)) })
	}
	return f
}

// Range adds an inclusive range.
func (f *FieldBuilder) Range(lower, upper string) *FieldBuilder {
	return f.RangeBounds(NewRange(lower, upper))
}

// RangeBounds adds a range with explicit inclusivity.
func (f *FieldBuilder) RangeBounds(r Range) *FieldBuilder {
	return f.add(func(bag *ValuesBag) { bag.AddRange(r) })
}

// ExcludeRange adds an inclusive excluded range.
func (f *FieldBuilder) ExcludeRange(lower, upper string) *FieldBuilder {
	r := NewRange(lower, upper)
	return f.add(func(bag *ValuesBag) { bag.AddExcludedRange(r) })
}

func (f *FieldBuilder) Compare(op CompareOperator, raw string) *FieldBuilder {
	return f.add(func(bag *ValuesBag) { bag.AddComparison(NewCompare(op, raw)) })
}

func (f *FieldBuilder) Pattern(pm PatternMatch) *FieldBuilder {
	return f.add(func(bag *ValuesBag) { bag.AddPatternMatch(pm) })
}

// End returns the group builder the field belongs to.
func (f *FieldBuilder) End() *GroupBuilder { return f.g }
