package sieve

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrGroupsOverflow  = errors.New("too many groups")
	ErrValuesOverflow  = errors.New("too many values")
	ErrNestingOverflow = errors.New("groups nested too deep")

	ErrInvalidValue     = errors.New("invalid value")
	ErrRangeBounds      = errors.New("lower bound is higher than upper bound")
	ErrValueConflict    = errors.New("value is both included and excluded")
	ErrRequiredField    = errors.New("required field has no values")
	ErrUnsupportedValue = errors.New("value type not supported by field")

	ErrGeneratorLocked    = errors.New("field mapping is locked after generation started")
	ErrUnknownField       = errors.New("unknown field")
	ErrUnsupportedPattern = errors.New("pattern match not supported by backend")
)

// StructuralError aborts processing before any value is validated.
type StructuralError struct {
	Err   error
	Group string
	Field string
	Max   int
	Count int
	Pos   int
	Msg   string
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Max > 0 {
		fmt.Fprintf(&b, " (%d given, max %d)", e.Count, e.Max)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(" in ")
	b.WriteString(groupLabel(e.Group))
	if errors.Is(e.Err, ErrSyntax) {
		fmt.Fprintf(&b, " at position %d", e.Pos)
	}
	return b.String()
}

func (e *StructuralError) Unwrap() error { return e.Err }

// ValidationError reports an invalid value with enough context to render a
// precise message: the field, the group path and the original input.
type ValidationError struct {
	Field   string
	Group   string
	Input   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Input != "" {
		return fmt.Sprintf("field %q in %s: %s (input %q)", e.Field, groupLabel(e.Group), msg, e.Input)
	}
	return fmt.Sprintf("field %q in %s: %s", e.Field, groupLabel(e.Group), msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigurationError is a programming error in how a generator is set up.
type ConfigurationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %s", e.Err, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func groupLabel(path string) string {
	if path == "" {
		return "root group"
	}
	return "group " + path
}
