package sieve

import (
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SQLDialect holds the few places where SQL flavours differ. Templates take
// the column and the parameter, in that order.
type SQLDialect struct {
	Name string
	// ParamPrefix is ":" for named parameters, "@" for GORM and sql.Named.
	ParamPrefix string
	// Regex is the template of a regex match. Empty means not supported.
	Regex string
	// RegexCaseInsensitive falls back to Regex when empty.
	RegexCaseInsensitive string
	// RequireAlias rejects mappings without an alias.
	RequireAlias bool
}

var (
	// DialectSQL matches MySQL and SQLite (with REGEXP and REGEXP_LIKE
	// functions loaded).
	DialectSQL = SQLDialect{
		Name:                 "sql",
		ParamPrefix:          ":",
		Regex:                "%s REGEXP %s",
		RegexCaseInsensitive: "REGEXP_LIKE(%s, %s, 'i')",
	}

	DialectPostgres = SQLDialect{
		Name:                 "postgres",
		ParamPrefix:          ":",
		Regex:                "%s ~ %s",
		RegexCaseInsensitive: "%s ~* %s",
	}
)

// OrderColumn is one ORDER BY entry.
type OrderColumn struct {
	Column string
	Desc   bool
}

// SQLCondition is a compiled WHERE predicate without the WHERE keyword.
type SQLCondition struct {
	Predicate  string
	Parameters []Parameter
	OrderBy    []OrderColumn
	// ParamPrefix is the prefix of the parameter names inside Predicate.
	ParamPrefix string
}

// Empty reports whether the condition matches every row.
func (c *SQLCondition) Empty() bool { return c.Predicate == "" }

func (c *SQLCondition) boundParameters() []Parameter { return c.Parameters }

// OrderByClause returns "ORDER BY ..." or an empty string.
func (c *SQLCondition) OrderByClause() string {
	if len(c.OrderBy) == 0 {
		return ""
	}
	cols := make([]string, 0, len(c.OrderBy))
	for _, o := range c.OrderBy {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		cols = append(cols, fmt.Sprintf("%s %s", o.Column, dir))
	}
	return "ORDER BY " + strings.Join(cols, ", ")
}

// NamedArgs returns the parameters as sql.NamedArg, for database/sql drivers
// that support named parameters.
func (c *SQLCondition) NamedArgs() []any {
	args := make([]any, 0, len(c.Parameters))
	for _, p := range c.Parameters {
		args = append(args, sql.Named(p.Name, p.Value))
	}
	return args
}

// Positional rewrites the named parameters to '?' placeholders and returns
// the values in placeholder order.
func (c *SQLCondition) Positional() (string, []any) {
	values := make(map[string]any, len(c.Parameters))
	for _, p := range c.Parameters {
		values[p.Name] = p.Value
	}
	var args []any
	out := rewriteParams(c.Predicate, c.ParamPrefix, func(name string) (string, bool) {
		v, ok := values[name]
		if !ok {
			return "", false
		}
		args = append(args, v)
		return "?", true
	})
	return out, args
}

// Sqlizer exposes the predicate to squirrel builders. An empty condition
// becomes (1=1).
func (c *SQLCondition) Sqlizer() sq.Sqlizer {
	if c.Empty() {
		return sq.And{}
	}
	s, args := c.Positional()
	return sq.Expr(s, args...)
}

// String inlines the parameters, for logging and debugging only.
func (c *SQLCondition) String() string {
	values := make(map[string]any, len(c.Parameters))
	for _, p := range c.Parameters {
		values[p.Name] = p.Value
	}
	return rewriteParams(c.Predicate, c.ParamPrefix, func(name string) (string, bool) {
		v, ok := values[name]
		if !ok {
			return "", false
		}
		return toSQLLiteral(v), true
	})
}

// rewriteParams replaces prefix-name tokens outside of quotes.
func rewriteParams(s, prefix string, replace func(name string) (string, bool)) string {
	if prefix == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inSingle, inDouble := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble && strings.HasPrefix(s[i:], prefix):
			j := i + len(prefix)
			for j < len(s) && isParamChar(s[j]) {
				j++
			}
			if r, ok := replace(s[i+len(prefix) : j]); ok {
				b.WriteString(r)
				i = j - 1
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isParamChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func toSQLLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case fmt.Stringer:
		return "'" + strings.ReplaceAll(x.String(), "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", x), "'", "''") + "'"
	}
}

// sqlEmitter renders predicates as SQL text and binds every value.
type sqlEmitter struct {
	dialect SQLDialect
	binder  *ParameterBinder
}

func (e *sqlEmitter) param(t target, v any) string {
	return e.dialect.ParamPrefix + e.binder.BindTyped(t.Field, t.StorageType, v)
}

func (e *sqlEmitter) values(t target, vs []any, exclude bool) (string, error) {
	if len(vs) == 1 {
		op := "="
		if exclude {
			op = "<>"
		}
		return fmt.Sprintf("%s %s %s", t.Locator, op, e.param(t, vs[0])), nil
	}
	params := make([]string, len(vs))
	for i, v := range vs {
		params[i] = e.param(t, v)
	}
	op := "IN"
	if exclude {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", t.Locator, op, strings.Join(params, ", ")), nil
}

func (e *sqlEmitter) between(t target, r bound, exclude bool) (string, error) {
	lower, upper := e.param(t, r.Lower), e.param(t, r.Upper)
	if exclude {
		lop, uop := "<", ">"
		if !r.InclusiveLower {
			lop = "<="
		}
		if !r.InclusiveUpper {
			uop = ">="
		}
		return fmt.Sprintf("(%s %s %s OR %s %s %s)", t.Locator, lop, lower, t.Locator, uop, upper), nil
	}
	lop, uop := ">=", "<="
	if !r.InclusiveLower {
		lop = ">"
	}
	if !r.InclusiveUpper {
		uop = "<"
	}
	return fmt.Sprintf("(%s %s %s AND %s %s %s)", t.Locator, lop, lower, t.Locator, uop, upper), nil
}

func (e *sqlEmitter) compare(t target, op CompareOperator, v any) (string, error) {
	return fmt.Sprintf("%s %s %s", t.Locator, op, e.param(t, v)), nil
}

func (e *sqlEmitter) pattern(t target, pm PatternMatch) (string, error) {
	var expr string
	col := t.Locator
	switch pm.Kind {
	case PatternContains, PatternStartsWith, PatternEndsWith:
		p := e.param(t, likePattern(pm))
		if pm.CaseInsensitive {
			expr = fmt.Sprintf(`LOWER(%s) LIKE LOWER(%s) ESCAPE '\'`, col, p)
		} else {
			expr = fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, col, p)
		}
	case PatternEquals:
		p := e.param(t, pm.Value)
		if pm.CaseInsensitive {
			expr = fmt.Sprintf("LOWER(%s) = LOWER(%s)", col, p)
		} else {
			expr = fmt.Sprintf("%s = %s", col, p)
		}
	case PatternRegex:
		tmpl := e.dialect.Regex
		if pm.CaseInsensitive && e.dialect.RegexCaseInsensitive != "" {
			tmpl = e.dialect.RegexCaseInsensitive
		}
		if tmpl == "" {
			return "", &ConfigurationError{
				Field: t.Field,
				Msg:   fmt.Sprintf("dialect %q has no regex support", e.dialect.Name),
				Err:   ErrUnsupportedPattern,
			}
		}
		expr = fmt.Sprintf(tmpl, col, e.param(t, pm.Value))
	default:
		return "", &ConfigurationError{Field: t.Field, Msg: fmt.Sprintf("unknown pattern kind %s", pm.Kind), Err: ErrUnsupportedPattern}
	}
	if pm.Exclusive {
		return "NOT (" + expr + ")", nil
	}
	return expr, nil
}

func (e *sqlEmitter) and(parts []string) string { return joinGroup("AND", parts) }

func (e *sqlEmitter) or(parts []string) string { return joinGroup("OR", parts) }

func joinGroup(op string, parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(pm PatternMatch) string {
	v := likeEscaper.Replace(pm.Value)
	switch pm.Kind {
	case PatternStartsWith:
		return v + "%"
	case PatternEndsWith:
		return "%" + v
	}
	return "%" + v + "%"
}

// SQLGenerator compiles a condition into a parameterized WHERE predicate.
// It is single-use and not safe for concurrent use.
type SQLGenerator struct {
	base
	dialect SQLDialect
	binder  *ParameterBinder

	result *SQLCondition
	err    error
}

// NewSQLGenerator returns a generator using DialectSQL unless WithDialect is
// given.
func NewSQLGenerator(cond *SearchCondition, opts ...GeneratorOption) *SQLGenerator {
	o := newGeneratorOptions(cond, opts)
	d := DialectSQL
	if o.dialect != nil {
		d = *o.dialect
	}
	return newSQLGenerator(cond, o, d)
}

func newSQLGenerator(cond *SearchCondition, o generatorOptions, d SQLDialect) *SQLGenerator {
	g := &SQLGenerator{base: newBase(cond, o, d.Name), dialect: d, binder: o.binder}
	g.requireAlias = d.RequireAlias
	return g
}

func (g *SQLGenerator) Dialect() SQLDialect { return g.dialect }

func (g *SQLGenerator) parameterBinder() *ParameterBinder { return g.binder }

// Generate compiles the condition. Later calls return the first result.
func (g *SQLGenerator) Generate() (*SQLCondition, error) {
	if !g.begin() {
		return g.result, g.err
	}
	g.result, g.err = g.generate()
	return g.result, g.err
}

func (g *SQLGenerator) generate() (*SQLCondition, error) {
	start := len(g.binder.params)
	em := &sqlEmitter{dialect: g.dialect, binder: g.binder}
	pred, _, err := walk[string](&g.base, em)
	if err != nil {
		return nil, err
	}
	order, err := g.orderTargets()
	if err != nil {
		return nil, err
	}
	out := &SQLCondition{Predicate: pred, Parameters: g.binder.since(start), ParamPrefix: g.dialect.ParamPrefix}
	for _, o := range order {
		out.OrderBy = append(out.OrderBy, OrderColumn{Column: o.Locator, Desc: o.Desc})
	}
	g.logger.Debug("generated sql condition", "dialect", g.dialect.Name, "parameters", len(out.Parameters))
	return out, nil
}
