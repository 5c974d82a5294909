package sieve

import "log/slog"

// Limits bounds the size of processed input.
type Limits struct {
	// MaxGroups is the maximum number of child groups of one group.
	MaxGroups int `yaml:"max_groups"`
	// MaxValues is the maximum number of values of one field in one group.
	MaxValues int `yaml:"max_values"`
	// MaxNestingLevel is the maximum depth of nested groups.
	MaxNestingLevel int `yaml:"max_nesting_level"`
}

// DefaultLimits returns 30 groups, 100 values and a nesting level of 10.
func DefaultLimits() Limits {
	return Limits{MaxGroups: 30, MaxValues: 100, MaxNestingLevel: 10}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxGroups <= 0 {
		l.MaxGroups = d.MaxGroups
	}
	if l.MaxValues <= 0 {
		l.MaxValues = d.MaxValues
	}
	if l.MaxNestingLevel <= 0 {
		l.MaxNestingLevel = d.MaxNestingLevel
	}
	return l
}

// LabelResolver maps a user facing label to a field name.
type LabelResolver interface {
	ResolveLabel(label string) (string, bool)
}

// LabelResolverFunc adapts a function to LabelResolver.
type LabelResolverFunc func(label string) (string, bool)

func (f LabelResolverFunc) ResolveLabel(label string) (string, bool) { return f(label) }

// ProcessorConfig configures input processing. The zero value is usable.
type ProcessorConfig struct {
	Limits Limits
	// Aliases maps labels to field names and takes precedence over Resolver.
	Aliases map[string]string
	// Resolver is consulted when Aliases is nil.
	Resolver LabelResolver
	Logger   *slog.Logger
}

func (c ProcessorConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// resolveLabel returns the field name of a label. Without aliases and without
// a resolver the label is the field name.
func (c ProcessorConfig) resolveLabel(label string) string {
	if c.Aliases != nil {
		if name, ok := c.Aliases[label]; ok {
			return name
		}
		return label
	}
	if c.Resolver != nil {
		if name, ok := c.Resolver.ResolveLabel(label); ok {
			return name
		}
	}
	return label
}
