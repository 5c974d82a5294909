package sieve

import (
	"database/sql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormCondition is a compiled condition ready to be applied to a *gorm.DB.
type GormCondition struct {
	// Expr is nil when the condition matches every row.
	Expr  clause.Expression
	Order []clause.OrderByColumn
	SQL   *SQLCondition
}

func (c *GormCondition) boundParameters() []Parameter {
	if c.SQL == nil {
		return nil
	}
	return c.SQL.Parameters
}

// Apply adds the where clause and the ordering to trx.
func (c *GormCondition) Apply(trx *gorm.DB) *gorm.DB {
	if c.Expr != nil {
		trx = trx.Where(c.Expr)
	}
	if len(c.Order) > 0 {
		trx = trx.Order(clause.OrderBy{Columns: c.Order})
	}
	return trx
}

// DryRunSQL renders the SELECT that Apply would run for model, with the
// parameters inlined by the dialector.
func (c *GormCondition) DryRunSQL(trx *gorm.DB, model any) string {
	tr := trx.Session(&gorm.Session{DryRun: true, NewDB: true, Logger: logger.Default.LogMode(logger.Silent)})
	stmt := c.Apply(tr.Model(model)).Find(model).Statement
	return tr.Dialector.Explain(stmt.SQL.String(), stmt.Vars...)
}

// GormGenerator compiles a condition into a gorm clause. The predicate uses
// @name parameters bound through sql.Named.
type GormGenerator struct {
	sql    *SQLGenerator
	result *GormCondition
	err    error
}

func NewGormGenerator(cond *SearchCondition, opts ...GeneratorOption) *GormGenerator {
	o := newGeneratorOptions(cond, opts)
	d := DialectSQL
	if o.dialect != nil {
		d = *o.dialect
	}
	d.ParamPrefix = "@"
	g := newSQLGenerator(cond, o, d)
	g.backend = "gorm:" + d.Name
	return &GormGenerator{sql: g}
}

func (g *GormGenerator) SetField(field, locator string, opts ...MappingOption) error {
	return g.sql.SetField(field, locator, opts...)
}

func (g *GormGenerator) FieldConfig() *FieldConfig { return g.sql.FieldConfig() }

func (g *GormGenerator) Fingerprint() string { return g.sql.Fingerprint() }

func (g *GormGenerator) Condition() *SearchCondition { return g.sql.Condition() }

func (g *GormGenerator) parameterBinder() *ParameterBinder { return g.sql.binder }

// Generate compiles the condition. Later calls return the first result.
func (g *GormGenerator) Generate() (*GormCondition, error) {
	if g.result != nil || g.err != nil {
		g.sql.logger.Warn("generator already ran, returning the first result", "backend", g.sql.backend)
		return g.result, g.err
	}
	out, err := g.sql.Generate()
	if err != nil {
		g.err = err
		return nil, err
	}
	gc := newGormCondition(out)
	g.result = gc
	return gc, nil
}

// newGormCondition wraps a predicate compiled with the "@" parameter prefix.
func newGormCondition(out *SQLCondition) *GormCondition {
	gc := &GormCondition{SQL: out}
	if !out.Empty() {
		vars := make([]any, 0, len(out.Parameters))
		for _, p := range out.Parameters {
			vars = append(vars, sql.Named(p.Name, p.Value))
		}
		gc.Expr = clause.NamedExpr{SQL: out.Predicate, Vars: vars}
	}
	for _, o := range out.OrderBy {
		gc.Order = append(gc.Order, clause.OrderByColumn{Column: clause.Column{Name: o.Column, Raw: true}, Desc: o.Desc})
	}
	return gc
}
