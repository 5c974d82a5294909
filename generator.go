package sieve

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Parameter is one bound value of a generated predicate.
type Parameter struct {
	Name  string
	Value any
	// StorageType is the storage type of the mapping the value was bound for.
	StorageType string
}

// ParameterBinder hands out parameter names of the form <field>_<n>. Sharing
// one binder between generators keeps names unique across predicates that end
// up in the same query.
type ParameterBinder struct {
	counters map[string]int
	params   []Parameter
}

func NewParameterBinder() *ParameterBinder {
	return &ParameterBinder{counters: make(map[string]int)}
}

// Bind registers v and returns its parameter name.
func (b *ParameterBinder) Bind(field string, v any) string {
	return b.BindTyped(field, "", v)
}

// BindTyped is Bind for a value bound to a column of the given storage type.
func (b *ParameterBinder) BindTyped(field, storageType string, v any) string {
	key := paramBase(field)
	name := fmt.Sprintf("%s_%d", key, b.counters[key])
	b.counters[key]++
	b.params = append(b.params, Parameter{Name: name, Value: v, StorageType: storageType})
	return name
}

// Parameters returns every parameter bound so far, in binding order.
func (b *ParameterBinder) Parameters() []Parameter {
	return append([]Parameter(nil), b.params...)
}

func (b *ParameterBinder) since(start int) []Parameter {
	return append([]Parameter(nil), b.params[start:]...)
}

// state renders the counters, empty for a fresh binder.
func (b *ParameterBinder) state() string {
	keys := make([]string, 0, len(b.counters))
	for k := range b.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var s strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&s, "%s=%d;", k, b.counters[k])
	}
	return s.String()
}

// restore records parameters bound by an earlier run that started from the
// same binder state, so later binds continue after them.
func (b *ParameterBinder) restore(params []Parameter) {
	for _, p := range params {
		i := strings.LastIndexByte(p.Name, '_')
		if i < 0 {
			continue
		}
		n, err := strconv.Atoi(p.Name[i+1:])
		if err != nil {
			continue
		}
		if key := p.Name[:i]; b.counters[key] <= n {
			b.counters[key] = n + 1
		}
		b.params = append(b.params, p)
	}
}

func paramBase(field string) string {
	var s strings.Builder
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			s.WriteRune(r)
		default:
			s.WriteByte('_')
		}
	}
	if s.Len() == 0 {
		return "p"
	}
	return s.String()
}

// GeneratorOption configures a generator.
type GeneratorOption func(*generatorOptions)

type generatorOptions struct {
	logger  *slog.Logger
	binder  *ParameterBinder
	config  *FieldConfig
	dialect *SQLDialect
	strict  bool
}

func WithLogger(l *slog.Logger) GeneratorOption {
	return func(o *generatorOptions) { o.logger = l }
}

// WithParameterBinder shares a binder between generators.
func WithParameterBinder(b *ParameterBinder) GeneratorOption {
	return func(o *generatorOptions) { o.binder = b }
}

// WithFieldConfig uses a prepared mapping configuration.
func WithFieldConfig(c *FieldConfig) GeneratorOption {
	return func(o *generatorOptions) { o.config = c }
}

// WithStrictMapping fails generation on fields without a mapping instead of
// leaving them out.
func WithStrictMapping() GeneratorOption {
	return func(o *generatorOptions) { o.strict = true }
}

// WithDialect sets the SQL dialect of the SQL, OQL and GORM generators.
func WithDialect(d SQLDialect) GeneratorOption {
	return func(o *generatorOptions) { o.dialect = &d }
}

func newGeneratorOptions(cond *SearchCondition, opts []GeneratorOption) generatorOptions {
	var o generatorOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.binder == nil {
		o.binder = NewParameterBinder()
	}
	if o.config == nil {
		o.config = NewFieldConfig(cond.FieldSet())
	}
	return o
}

// target is the resolved locator of one field mapping and strategy.
type target struct {
	Field       string
	Mapping     string
	Locator     string
	StorageType string
	Strategy    Strategy
}

// bound is a range whose values are already converted.
type bound struct {
	Lower          any
	Upper          any
	InclusiveLower bool
	InclusiveUpper bool
}

// emitter renders the leaves and connectives of one backend. Exclusion is
// part of the leaf so backends can use their native negation.
type emitter[P any] interface {
	values(t target, vs []any, exclude bool) (P, error)
	between(t target, r bound, exclude bool) (P, error)
	compare(t target, op CompareOperator, v any) (P, error)
	pattern(t target, pm PatternMatch) (P, error)
	and(parts []P) P
	or(parts []P) P
}

type locatorKey struct {
	field    string
	mapping  string
	strategy Strategy
}

// base is the state shared by all generators: the condition, the mappings
// and the single-use lock.
type base struct {
	cond    *SearchCondition
	config  *FieldConfig
	logger  *slog.Logger
	backend string

	requireAlias bool
	strict       bool
	generated    bool
	locators     map[locatorKey]string
}

func newBase(cond *SearchCondition, o generatorOptions, backend string) base {
	return base{cond: cond, config: o.config, logger: o.logger, backend: backend, strict: o.strict}
}

// SetField maps a field to a locator, see FieldConfig.SetField. It fails once
// Generate has been called.
func (b *base) SetField(field, locator string, opts ...MappingOption) error {
	return b.config.SetField(field, locator, opts...)
}

func (b *base) FieldConfig() *FieldConfig { return b.config }

// Fingerprint identifies the backend and the mappings, for cache keys.
func (b *base) Fingerprint() string {
	return b.backend + "|" + b.config.Fingerprint()
}

// Condition returns the condition being compiled.
func (b *base) Condition() *SearchCondition { return b.cond }

// begin locks the configuration. It reports false when a previous call already
// ran, so the caller returns the cached result.
func (b *base) begin() bool {
	if b.generated {
		b.logger.Warn("generator already ran, returning the first result", "backend", b.backend)
		return false
	}
	b.generated = true
	b.config.lock()
	b.locators = make(map[locatorKey]string)
	return true
}

func (b *base) hints(m *FieldMapping, s Strategy) ConversionHints {
	return ConversionHints{Field: m.Field, Mapping: m.Name, StorageType: m.StorageType, Strategy: s, Backend: b.backend}
}

func (b *base) target(m *FieldMapping, s Strategy) (target, error) {
	if b.requireAlias && m.Alias == "" {
		return target{}, &ConfigurationError{Field: m.Field, Msg: "mapping needs an alias", Err: ErrUnknownField}
	}
	key := locatorKey{field: m.Field, mapping: m.Name, strategy: s}
	loc, ok := b.locators[key]
	if !ok {
		loc = m.Qualified()
		if m.LocatorConversion != nil {
			loc = m.LocatorConversion.ConvertLocator(loc, b.hints(m, s))
		}
		b.locators[key] = loc
	}
	return target{Field: m.Field, Mapping: m.Name, Locator: loc, StorageType: m.StorageType, Strategy: s}, nil
}

func (b *base) convert(m *FieldMapping, s Strategy, v any) (any, error) {
	if m.ValueConversion == nil {
		return v, nil
	}
	out, err := m.ValueConversion.ConvertValue(v, b.hints(m, s))
	if err != nil {
		return nil, fmt.Errorf("convert value of field %q: %w", m.Field, err)
	}
	return out, nil
}

// orderTargets resolves the ordering directives of the condition.
func (b *base) orderTargets() ([]orderTarget, error) {
	var out []orderTarget
	for _, o := range b.cond.Order() {
		mappings := b.config.Mappings(o.Field)
		if len(mappings) == 0 {
			if b.strict {
				return nil, &ConfigurationError{Field: o.Field, Msg: "ordered field has no mapping", Err: ErrUnknownField}
			}
			b.logger.Debug("skipping ordered field without mapping", "field", o.Field, "backend", b.backend)
			continue
		}
		t, err := b.target(mappings[0], 0)
		if err != nil {
			return nil, err
		}
		out = append(out, orderTarget{Locator: t.Locator, Desc: o.Desc})
	}
	return out, nil
}

type orderTarget struct {
	Locator string
	Desc    bool
}

// walk compiles the whole condition. ok is false when there is nothing to
// filter on.
func walk[P any](b *base, e emitter[P]) (P, bool, error) {
	var zero P
	root, ok, err := walkGroup(b, e, b.cond.Values())
	if err != nil {
		return zero, false, err
	}
	primary := b.cond.PrimaryCondition()
	if primary == nil {
		return root, ok, nil
	}
	pp, pok, err := walkGroup(b, e, primary)
	if err != nil {
		return zero, false, err
	}
	switch {
	case ok && pok:
		return e.and([]P{root, pp}), true, nil
	case pok:
		return pp, true, nil
	}
	return root, ok, nil
}

func walkGroup[P any](b *base, e emitter[P], g *ValuesGroup) (P, bool, error) {
	var zero P
	var fields []P
	for _, name := range g.FieldNames() {
		bag := g.Field(name)
		if bag.Empty() {
			continue
		}
		p, ok, err := walkField(b, e, name, bag)
		if err != nil {
			return zero, false, err
		}
		if ok {
			fields = append(fields, p)
		}
	}

	var parts []P
	if len(fields) > 0 {
		if g.Operator() == LogicalOr {
			parts = append(parts, e.or(fields))
		} else {
			parts = append(parts, e.and(fields))
		}
	}
	for _, child := range g.Groups() {
		p, ok, err := walkGroup(b, e, child)
		if err != nil {
			return zero, false, err
		}
		if ok {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return zero, false, nil
	}
	return e.and(parts), true, nil
}

func walkField[P any](b *base, e emitter[P], name string, bag *ValuesBag) (P, bool, error) {
	var zero P
	mappings := b.config.Mappings(name)
	if len(mappings) == 0 {
		if b.strict {
			return zero, false, &ConfigurationError{Field: name, Msg: "field has no mapping", Err: ErrUnknownField}
		}
		b.logger.Debug("skipping field without mapping", "field", name, "backend", b.backend)
		return zero, false, nil
	}
	var parts []P
	for _, m := range mappings {
		p, ok, err := walkMapping(b, e, m, bag)
		if err != nil {
			return zero, false, err
		}
		if ok {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return zero, false, nil
	}
	return e.or(parts), true, nil
}

// partition is the share of a bag that uses one strategy.
type partition struct {
	simple         []any
	excluded       []any
	ranges         []Range
	excludedRanges []Range
	compares       []Compare
	patterns       []PatternMatch
}

func partitionBag(m *FieldMapping, bag *ValuesBag) ([]Strategy, map[Strategy]*partition) {
	parts := make(map[Strategy]*partition)
	get := func(v any) *partition {
		var s Strategy
		if m.Strategies != nil {
			s = m.Strategies.Strategy(v)
		}
		p, ok := parts[s]
		if !ok {
			p = &partition{}
			parts[s] = p
		}
		return p
	}
	for _, v := range bag.simple.values() {
		p := get(v.Value)
		p.simple = append(p.simple, v.Value)
	}
	for _, v := range bag.excluded.values() {
		p := get(v.Value)
		p.excluded = append(p.excluded, v.Value)
	}
	for _, r := range bag.ranges.values() {
		p := get(r.Lower)
		p.ranges = append(p.ranges, r)
	}
	for _, r := range bag.excludedRanges.values() {
		p := get(r.Lower)
		p.excludedRanges = append(p.excludedRanges, r)
	}
	for _, c := range bag.compares.values() {
		p := get(c.Value)
		p.compares = append(p.compares, c)
	}
	for _, pm := range bag.patterns.values() {
		p := get(pm.Value)
		p.patterns = append(p.patterns, pm)
	}

	order := make([]Strategy, 0, len(parts))
	for s := range parts {
		order = append(order, s)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return order, parts
}

// walkMapping ORs the inclusive parts of every strategy and ANDs the
// exclusions onto them.
func walkMapping[P any](b *base, e emitter[P], m *FieldMapping, bag *ValuesBag) (P, bool, error) {
	var zero P
	var include, exclude []P
	strategies, parts := partitionBag(m, bag)
	for _, s := range strategies {
		p := parts[s]
		t, err := b.target(m, s)
		if err != nil {
			return zero, false, err
		}
		conv := func(v any) (any, error) { return b.convert(m, s, v) }

		if len(p.simple) > 0 {
			vs, err := convertAll(conv, p.simple)
			if err != nil {
				return zero, false, err
			}
			part, err := e.values(t, vs, false)
			if err != nil {
				return zero, false, err
			}
			include = append(include, part)
		}
		for _, r := range p.ranges {
			part, err := emitRange(e, t, conv, r, false)
			if err != nil {
				return zero, false, err
			}
			include = append(include, part)
		}
		for _, c := range p.compares {
			v, err := conv(c.Value)
			if err != nil {
				return zero, false, err
			}
			part, err := e.compare(t, c.Operator, v)
			if err != nil {
				return zero, false, err
			}
			if c.Operator == OpNotEqual {
				exclude = append(exclude, part)
			} else {
				include = append(include, part)
			}
		}
		for _, pm := range p.patterns {
			part, err := e.pattern(t, pm)
			if err != nil {
				return zero, false, err
			}
			if pm.Exclusive {
				exclude = append(exclude, part)
			} else {
				include = append(include, part)
			}
		}
		if len(p.excluded) > 0 {
			vs, err := convertAll(conv, p.excluded)
			if err != nil {
				return zero, false, err
			}
			part, err := e.values(t, vs, true)
			if err != nil {
				return zero, false, err
			}
			exclude = append(exclude, part)
		}
		for _, r := range p.excludedRanges {
			part, err := emitRange(e, t, conv, r, true)
			if err != nil {
				return zero, false, err
			}
			exclude = append(exclude, part)
		}
	}

	var all []P
	if len(include) > 0 {
		all = append(all, e.or(include))
	}
	all = append(all, exclude...)
	if len(all) == 0 {
		return zero, false, nil
	}
	return e.and(all), true, nil
}

func emitRange[P any](e emitter[P], t target, conv func(any) (any, error), r Range, exclude bool) (P, error) {
	var zero P
	lower, err := conv(r.Lower)
	if err != nil {
		return zero, err
	}
	upper, err := conv(r.Upper)
	if err != nil {
		return zero, err
	}
	return e.between(t, bound{Lower: lower, Upper: upper, InclusiveLower: r.InclusiveLower, InclusiveUpper: r.InclusiveUpper}, exclude)
}

func convertAll(conv func(any) (any, error), vs []any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		c, err := conv(v)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
