package sieve

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// IntegerType holds int64 values. Min and Max are optional inclusive bounds.
type IntegerType struct {
	Min *int64
	Max *int64
}

func (IntegerType) Name() string { return "integer" }

func (IntegerType) Sanitize(raw string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("not an integer")
	}
	return n, nil
}

func (t IntegerType) Validate(v any) error {
	n, ok := toInt64(v)
	if !ok {
		return fmt.Errorf("expected an integer, got %T", v)
	}
	if t.Min != nil && n < *t.Min {
		return fmt.Errorf("must be at least %d", *t.Min)
	}
	if t.Max != nil && n > *t.Max {
		return fmt.Errorf("must be at most %d", *t.Max)
	}
	return nil
}

func (IntegerType) IsHigher(a, b any) bool { x, y := int64Pair(a, b); return x > y }

func (IntegerType) IsLower(a, b any) bool { x, y := int64Pair(a, b); return x < y }

func (IntegerType) IsEqual(a, b any) bool { x, y := int64Pair(a, b); return x == y }

func (IntegerType) Successor(v any) (any, error) {
	n, ok := toInt64(v)
	if !ok {
		return nil, fmt.Errorf("expected an integer, got %T", v)
	}
	return n + 1, nil
}

func (IntegerType) Dump(v any) string {
	if n, ok := toInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

func (t IntegerType) Format(v any) string { return t.Dump(v) }

func (IntegerType) SupportsValueType(kind ValueKind) bool { return kind != KindPatternMatch }

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func int64Pair(a, b any) (int64, int64) {
	x, _ := toInt64(a)
	y, _ := toInt64(b)
	return x, y
}

// DecimalType holds float64 values.
type DecimalType struct{}

func (DecimalType) Name() string { return "decimal" }

func (DecimalType) Sanitize(raw string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a number")
	}
	return f, nil
}

func (DecimalType) Validate(v any) error {
	if _, ok := v.(float64); !ok {
		return fmt.Errorf("expected a decimal, got %T", v)
	}
	return nil
}

func (DecimalType) IsHigher(a, b any) bool { return a.(float64) > b.(float64) }

func (DecimalType) IsLower(a, b any) bool { return a.(float64) < b.(float64) }

func (DecimalType) IsEqual(a, b any) bool { return a.(float64) == b.(float64) }

func (DecimalType) Dump(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func (t DecimalType) Format(v any) string { return t.Dump(v) }

func (DecimalType) SupportsValueType(kind ValueKind) bool { return kind != KindPatternMatch }

// TextType holds NFC normalized strings. With CaseInsensitive set, values that
// only differ in case are duplicates.
type TextType struct {
	CaseInsensitive bool
}

func (TextType) Name() string { return "text" }

func (TextType) Sanitize(raw string) (any, error) {
	return norm.NFC.String(raw), nil
}

func (TextType) Validate(v any) error {
	if _, ok := v.(string); !ok {
		return fmt.Errorf("expected text, got %T", v)
	}
	return nil
}

func (t TextType) Dump(v any) string {
	s := fmt.Sprint(v)
	if t.CaseInsensitive {
		return cases.Fold().String(s)
	}
	return s
}

func (TextType) SupportsValueType(kind ValueKind) bool {
	switch kind {
	case KindRange, KindExcludedRange, KindComparison:
		return false
	}
	return true
}

// DateType holds time.Time values truncated to a day.
type DateType struct {
	// Layout defaults to 2006-01-02.
	Layout string
}

var isoDateMatcher = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

func (t DateType) layout() string {
	if t.Layout == "" {
		return time.DateOnly
	}
	return t.Layout
}

func (DateType) Name() string { return "date" }

func (t DateType) Sanitize(raw string) (any, error) {
	d, err := time.Parse(t.layout(), strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("not a date in format %s", t.layout())
	}
	return d, nil
}

func (DateType) Validate(v any) error {
	if _, ok := v.(time.Time); !ok {
		return fmt.Errorf("expected a date, got %T", v)
	}
	return nil
}

func (DateType) IsHigher(a, b any) bool { return a.(time.Time).After(b.(time.Time)) }

func (DateType) IsLower(a, b any) bool { return a.(time.Time).Before(b.(time.Time)) }

func (DateType) IsEqual(a, b any) bool { return a.(time.Time).Equal(b.(time.Time)) }

func (DateType) Successor(v any) (any, error) {
	d, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("expected a date, got %T", v)
	}
	return d.AddDate(0, 0, 1), nil
}

func (t DateType) Dump(v any) string {
	if d, ok := v.(time.Time); ok {
		return d.Format(t.layout())
	}
	return fmt.Sprint(v)
}

func (t DateType) Format(v any) string { return t.Dump(v) }

func (t DateType) ValueMatcher() *regexp.Regexp {
	if t.layout() == time.DateOnly {
		return isoDateMatcher
	}
	return nil
}

func (DateType) SupportsValueType(kind ValueKind) bool { return kind != KindPatternMatch }

// Choice is one label/value pair of a ChoiceType.
type Choice struct {
	Label string
	Value any
}

// ChoiceType accepts a fixed list of labels and stores their values.
type ChoiceType struct {
	Choices []Choice
}

func (ChoiceType) Name() string { return "choice" }

func (t ChoiceType) Sanitize(raw string) (any, error) {
	for _, c := range t.Choices {
		if c.Label == raw {
			return c.Value, nil
		}
	}
	return nil, fmt.Errorf("not one of the available choices")
}

func (t ChoiceType) Validate(v any) error {
	for _, c := range t.Choices {
		if c.Value == v {
			return nil
		}
	}
	return fmt.Errorf("not one of the available choices")
}

func (ChoiceType) Dump(v any) string { return fmt.Sprintf("%T:%v", v, v) }

func (t ChoiceType) Format(v any) string {
	for _, c := range t.Choices {
		if c.Value == v {
			return c.Label
		}
	}
	return fmt.Sprint(v)
}

func (ChoiceType) SupportsValueType(kind ValueKind) bool {
	return kind == KindSimpleValue || kind == KindExcludedSimpleValue
}

// UUIDType holds uuid.UUID values.
type UUIDType struct{}

var uuidMatcher = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

func (UUIDType) Name() string { return "uuid" }

func (UUIDType) Sanitize(raw string) (any, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("not a uuid")
	}
	return id, nil
}

func (UUIDType) Validate(v any) error {
	if _, ok := v.(uuid.UUID); !ok {
		return fmt.Errorf("expected a uuid, got %T", v)
	}
	return nil
}

func (UUIDType) Dump(v any) string { return fmt.Sprint(v) }

func (UUIDType) ValueMatcher() *regexp.Regexp { return uuidMatcher }

func (UUIDType) SupportsValueType(kind ValueKind) bool {
	return kind == KindSimpleValue || kind == KindExcludedSimpleValue
}

// VersionType holds semantic versions.
type VersionType struct{}

// prerelease parts must start with a letter so "1.0.0-2.0.0" stays a range
var versionMatcher = regexp.MustCompile(`^v?\d+(\.\d+){0,2}(-[A-Za-z][0-9A-Za-z.]*)?(\+[0-9A-Za-z.]+)?`)

func (VersionType) Name() string { return "version" }

func (VersionType) Sanitize(raw string) (any, error) {
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("not a semantic version")
	}
	return v, nil
}

func (VersionType) Validate(v any) error {
	if _, ok := v.(*semver.Version); !ok {
		return fmt.Errorf("expected a version, got %T", v)
	}
	return nil
}

func (VersionType) IsHigher(a, b any) bool { return a.(*semver.Version).GreaterThan(b.(*semver.Version)) }

func (VersionType) IsLower(a, b any) bool { return a.(*semver.Version).LessThan(b.(*semver.Version)) }

func (VersionType) IsEqual(a, b any) bool { return a.(*semver.Version).Equal(b.(*semver.Version)) }

func (VersionType) Dump(v any) string {
	if sv, ok := v.(*semver.Version); ok {
		return sv.String()
	}
	return fmt.Sprint(v)
}

func (t VersionType) Format(v any) string { return t.Dump(v) }

func (VersionType) ValueMatcher() *regexp.Regexp { return versionMatcher }

func (VersionType) SupportsValueType(kind ValueKind) bool { return kind != KindPatternMatch }
