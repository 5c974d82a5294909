package sieve

// DialectOQL targets object query languages such as Doctrine DQL or JPQL:
// locators are entity paths that need an alias, and there is no portable
// regex operator.
var DialectOQL = SQLDialect{
	Name:         "oql",
	ParamPrefix:  ":",
	RequireAlias: true,
}

// OQLRegexFunction returns DialectOQL with a regex template, for query
// builders that register a custom function such as "REGEXP(%s, %s) = true".
func OQLRegexFunction(tmpl string) SQLDialect {
	d := DialectOQL
	d.Regex = tmpl
	return d
}

// NewOQLGenerator compiles into an OQL WHERE clause. Every mapping must have
// an alias, e.g. SetField("name", "name", WithAlias("u")) renders u.name.
// WithDialect may replace DialectOQL, usually with OQLRegexFunction.
func NewOQLGenerator(cond *SearchCondition, opts ...GeneratorOption) *SQLGenerator {
	o := newGeneratorOptions(cond, opts)
	d := DialectOQL
	if o.dialect != nil {
		d = *o.dialect
		d.RequireAlias = true
	}
	return newSQLGenerator(cond, o, d)
}
