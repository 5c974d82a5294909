package sieve

import (
	"fmt"
	"strings"

	"github.com/gobeam/stringy"
)

// NamingStrategy derives the default locator of a field from its name.
type NamingStrategy string

const (
	NamingStrategyNoChange  NamingStrategy = "no_change"
	NamingStrategySnakeCase NamingStrategy = "snake_case"
)

func (s NamingStrategy) apply(name string) string {
	if s == NamingStrategyNoChange {
		return name
	}
	return stringy.New(name).SnakeCase("?", "").ToLower()
}

// Strategy tags a group of values that need the same locator and value
// conversion. Values without a classifier use strategy 0.
type Strategy int

// ConversionHints tells a converter where it is applied.
type ConversionHints struct {
	Field       string
	Mapping     string
	StorageType string
	Strategy    Strategy
	Backend     string
}

// LocatorConverter rewrites the column (or document path) of a mapping, for
// example to wrap it in a function call.
type LocatorConverter interface {
	ConvertLocator(locator string, hints ConversionHints) string
}

type LocatorConverterFunc func(locator string, hints ConversionHints) string

func (f LocatorConverterFunc) ConvertLocator(locator string, hints ConversionHints) string {
	return f(locator, hints)
}

// ValueConverter converts a typed model value into what the backend stores.
type ValueConverter interface {
	ConvertValue(v any, hints ConversionHints) (any, error)
}

type ValueConverterFunc func(v any, hints ConversionHints) (any, error)

func (f ValueConverterFunc) ConvertValue(v any, hints ConversionHints) (any, error) { return f(v, hints) }

// StrategyClassifier picks the conversion strategy of a single value.
type StrategyClassifier interface {
	Strategy(v any) Strategy
}

type StrategyClassifierFunc func(v any) Strategy

func (f StrategyClassifierFunc) Strategy(v any) Strategy { return f(v) }

// FieldMapping binds a field of the field set to a backend locator.
type FieldMapping struct {
	Field       string
	Name        string
	Locator     string
	Alias       string
	StorageType string

	LocatorConversion LocatorConverter
	ValueConversion   ValueConverter
	Strategies        StrategyClassifier
}

// Qualified returns the locator prefixed with the alias, if any.
func (m *FieldMapping) Qualified() string {
	if m.Alias == "" {
		return m.Locator
	}
	return m.Alias + "." + m.Locator
}

// MappingOption configures a FieldMapping.
type MappingOption func(*FieldMapping)

// WithAlias sets the table or entity alias of the locator.
func WithAlias(alias string) MappingOption {
	return func(m *FieldMapping) { m.Alias = alias }
}

// WithStorageType records the backend type, passed to converters as a hint.
func WithStorageType(typ string) MappingOption {
	return func(m *FieldMapping) { m.StorageType = typ }
}

func WithLocatorConversion(c LocatorConverter) MappingOption {
	return func(m *FieldMapping) { m.LocatorConversion = c }
}

func WithValueConversion(c ValueConverter) MappingOption {
	return func(m *FieldMapping) { m.ValueConversion = c }
}

func WithStrategy(c StrategyClassifier) MappingOption {
	return func(m *FieldMapping) { m.Strategies = c }
}

// FieldConfig holds the mappings of one field set. A field has either one
// primary mapping or any number of named secondary mappings, which are ORed.
type FieldConfig struct {
	fieldSet  *FieldSet
	naming    NamingStrategy
	primary   map[string]*FieldMapping
	secondary map[string][]*FieldMapping
	locked    bool
}

// NewFieldConfig returns an empty configuration. Default locators are snake
// cased field names.
func NewFieldConfig(fs *FieldSet) *FieldConfig {
	return &FieldConfig{
		fieldSet:  fs,
		naming:    NamingStrategySnakeCase,
		primary:   make(map[string]*FieldMapping),
		secondary: make(map[string][]*FieldMapping),
	}
}

func (c *FieldConfig) SetNamingStrategy(s NamingStrategy) { c.naming = s }

func (c *FieldConfig) NamingStrategy() NamingStrategy { return c.naming }

// SetField maps a field. "field#name" adds or replaces the secondary mapping
// "name" and drops the primary mapping; a plain field name replaces all
// secondary mappings. An empty locator is derived from the field name.
func (c *FieldConfig) SetField(field, locator string, opts ...MappingOption) error {
	name, mappingName, secondary := strings.Cut(field, "#")
	if c.locked {
		return &ConfigurationError{Field: name, Msg: "cannot change mappings", Err: ErrGeneratorLocked}
	}
	if !c.fieldSet.Has(name) {
		return &ConfigurationError{Field: name, Msg: fmt.Sprintf("not part of field set %q", c.fieldSet.Name()), Err: ErrUnknownField}
	}
	if secondary && mappingName == "" {
		return &ConfigurationError{Field: name, Msg: "secondary mapping name must not be empty", Err: ErrUnknownField}
	}
	if locator == "" {
		locator = c.naming.apply(name)
	}

	m := &FieldMapping{Field: name, Name: mappingName, Locator: locator}
	for _, opt := range opts {
		opt(m)
	}

	if !secondary {
		delete(c.secondary, name)
		c.primary[name] = m
		return nil
	}
	delete(c.primary, name)
	list := c.secondary[name]
	for i, existing := range list {
		if existing.Name == mappingName {
			list[i] = m
			return nil
		}
	}
	c.secondary[name] = append(list, m)
	return nil
}

// MapAll maps every field that has no mapping yet to its default locator.
func (c *FieldConfig) MapAll(opts ...MappingOption) error {
	for _, name := range c.fieldSet.Names() {
		if len(c.Mappings(name)) > 0 {
			continue
		}
		if err := c.SetField(name, "", opts...); err != nil {
			return err
		}
	}
	return nil
}

// Mappings returns the mappings of a field: the primary one, or the secondary
// ones in the order they were added.
func (c *FieldConfig) Mappings(field string) []*FieldMapping {
	if m, ok := c.primary[field]; ok {
		return []*FieldMapping{m}
	}
	return c.secondary[field]
}

func (c *FieldConfig) FieldSet() *FieldSet { return c.fieldSet }

func (c *FieldConfig) Locked() bool { return c.locked }

func (c *FieldConfig) lock() { c.locked = true }

// Fingerprint describes the mappings in a stable form, for cache keys.
// Converters are identified by their type only.
func (c *FieldConfig) Fingerprint() string {
	var b strings.Builder
	b.WriteString(c.fieldSet.Name())
	for _, name := range c.fieldSet.Names() {
		for _, m := range c.Mappings(name) {
			fmt.Fprintf(&b, "|%s#%s=%s@%s:%s", m.Field, m.Name, m.Locator, m.Alias, m.StorageType)
			if m.LocatorConversion != nil {
				fmt.Fprintf(&b, ",l=%T", m.LocatorConversion)
			}
			if m.ValueConversion != nil {
				fmt.Fprintf(&b, ",v=%T", m.ValueConversion)
			}
			if m.Strategies != nil {
				fmt.Fprintf(&b, ",s=%T", m.Strategies)
			}
		}
	}
	return b.String()
}
