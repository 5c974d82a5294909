package sieve

import (
	"fmt"
	"regexp"
)

// FieldType is the capability set a field supplies to the engine. Only Name is
// mandatory; the optional interfaces below are detected at runtime and the
// engine only runs the passes whose capabilities are present.
type FieldType interface {
	Name() string
}

// Sanitizable converts raw user input into the typed value of the field.
type Sanitizable interface {
	Sanitize(raw string) (any, error)
}

// Validatable rejects sanitized values that are not acceptable.
type Validatable interface {
	Validate(v any) error
}

// Ordered gives a field an order, required for ranges and comparisons.
type Ordered interface {
	IsHigher(a, b any) bool
	IsLower(a, b any) bool
	IsEqual(a, b any) bool
}

// HasSuccessor returns the next value after v, enabling adjacent values to be
// collapsed into ranges.
type HasSuccessor interface {
	Successor(v any) (any, error)
}

// Dumpable returns the canonical string of a value, used for deduplication.
type Dumpable interface {
	Dump(v any) string
}

// Formattable renders a typed value the way a user would type it.
type Formattable interface {
	Format(v any) string
}

// ValueMatcher returns a pattern for values that may contain a '-' which must
// not split a range, e.g. dates.
type ValueMatcher interface {
	ValueMatcher() *regexp.Regexp
}

// ValueTypeSupport restricts the value kinds a field accepts.
type ValueTypeSupport interface {
	SupportsValueType(kind ValueKind) bool
}

// FieldDefinition is one entry of a FieldSet.
type FieldDefinition struct {
	Name     string
	Type     FieldType
	Required bool
}

// FieldOption configures a FieldDefinition.
type FieldOption func(*FieldDefinition)

// Required marks a field that must have at least one value in every group.
func Required() FieldOption {
	return func(d *FieldDefinition) { d.Required = true }
}

// Supports reports whether the field accepts values of the given kind.
func (d *FieldDefinition) Supports(kind ValueKind) bool {
	if s, ok := d.Type.(ValueTypeSupport); ok {
		return s.SupportsValueType(kind)
	}
	switch kind {
	case KindRange, KindExcludedRange, KindComparison:
		_, ok := d.Type.(Ordered)
		return ok
	}
	return true
}

// Dump returns the canonical string of v for this field.
func (d *FieldDefinition) Dump(v any) string {
	if dp, ok := d.Type.(Dumpable); ok {
		return dp.Dump(v)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// Format renders v for export.
func (d *FieldDefinition) Format(v any) string {
	if f, ok := d.Type.(Formattable); ok {
		return f.Format(v)
	}
	return fmt.Sprint(v)
}

// FieldSet is the ordered set of searchable fields of one condition.
type FieldSet struct {
	name   string
	fields []*FieldDefinition
	byName map[string]*FieldDefinition
}

// NewFieldSet returns an empty set.
func NewFieldSet(name string) *FieldSet {
	return &FieldSet{name: name, byName: make(map[string]*FieldDefinition)}
}

// Add registers a field; adding an existing name replaces its definition but
// keeps its position.
func (s *FieldSet) Add(name string, typ FieldType, opts ...FieldOption) *FieldSet {
	d := &FieldDefinition{Name: name, Type: typ}
	for _, opt := range opts {
		opt(d)
	}
	if _, ok := s.byName[name]; ok {
		for i, f := range s.fields {
			if f.Name == name {
				s.fields[i] = d
			}
		}
	} else {
		s.fields = append(s.fields, d)
	}
	s.byName[name] = d
	return s
}

func (s *FieldSet) Name() string { return s.name }

func (s *FieldSet) Get(name string) (*FieldDefinition, bool) {
	d, ok := s.byName[name]
	return d, ok
}

func (s *FieldSet) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Fields returns the definitions in registration order.
func (s *FieldSet) Fields() []*FieldDefinition {
	return append([]*FieldDefinition(nil), s.fields...)
}

func (s *FieldSet) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}
