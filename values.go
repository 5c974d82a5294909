package sieve

import "fmt"

// ValueKind identifies one of the value lists held by a ValuesBag.
type ValueKind int

const (
	KindSimpleValue ValueKind = iota
	KindExcludedSimpleValue
	KindRange
	KindExcludedRange
	KindComparison
	KindPatternMatch
)

func (k ValueKind) String() string {
	switch k {
	case KindSimpleValue:
		return "simple-value"
	case KindExcludedSimpleValue:
		return "excluded-simple-value"
	case KindRange:
		return "range"
	case KindExcludedRange:
		return "excluded-range"
	case KindComparison:
		return "comparison"
	case KindPatternMatch:
		return "pattern-match"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// SingleValue is an exact (or excluded) value. Raw keeps the user input and
// never changes; Value is replaced by the sanitized form during validation.
type SingleValue struct {
	Value any
	Raw   string
}

// NewSingleValue returns a value that still has to be sanitized.
func NewSingleValue(raw string) SingleValue {
	return SingleValue{Value: raw, Raw: raw}
}

// Range is a lower/upper bound pair. Excluded ranges use the same type.
type Range struct {
	Lower          any
	Upper          any
	LowerRaw       string
	UpperRaw       string
	InclusiveLower bool
	InclusiveUpper bool
}

// NewRange returns an inclusive range from raw input.
func NewRange(lower, upper string) Range {
	return Range{
		Lower:          lower,
		Upper:          upper,
		LowerRaw:       lower,
		UpperRaw:       upper,
		InclusiveLower: true,
		InclusiveUpper: true,
	}
}

// CompareOperator is the operator of a Compare value.
type CompareOperator string

const (
	OpLower         CompareOperator = "<"
	OpLowerOrEqual  CompareOperator = "<="
	OpHigher        CompareOperator = ">"
	OpHigherOrEqual CompareOperator = ">="
	OpNotEqual      CompareOperator = "<>"
)

// Valid reports whether o is one of the supported operators.
func (o CompareOperator) Valid() bool {
	switch o {
	case OpLower, OpLowerOrEqual, OpHigher, OpHigherOrEqual, OpNotEqual:
		return true
	}
	return false
}

// Compare is a comparison against a single value.
type Compare struct {
	Operator CompareOperator
	Value    any
	Raw      string
}

// NewCompare returns a comparison that still has to be sanitized.
func NewCompare(op CompareOperator, raw string) Compare {
	return Compare{Operator: op, Value: raw, Raw: raw}
}

// PatternKind is the matching mode of a PatternMatch.
type PatternKind int

const (
	PatternContains PatternKind = iota
	PatternStartsWith
	PatternEndsWith
	PatternEquals
	PatternRegex
)

var patternKindNames = map[PatternKind]string{
	PatternContains:   "CONTAINS",
	PatternStartsWith: "STARTS_WITH",
	PatternEndsWith:   "ENDS_WITH",
	PatternEquals:     "EQUALS",
	PatternRegex:      "REGEX",
}

func (k PatternKind) String() string {
	if s, ok := patternKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("PatternKind(%d)", int(k))
}

// ParsePatternKind is the inverse of PatternKind.String.
func ParsePatternKind(s string) (PatternKind, bool) {
	for k, name := range patternKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// PatternMatch matches text values. Exclusive negates the match.
type PatternMatch struct {
	Value           string
	Kind            PatternKind
	CaseInsensitive bool
	Exclusive       bool
}

// Entry pairs a value with its stable index inside a ValuesBag.
type Entry[T any] struct {
	Index int
	Value T
}

// entries is an append-only arena. Removing a slot marks it dead, so indices
// handed out earlier stay valid for the survivors.
type entries[T any] struct {
	slots []T
	live  []bool
	n     int
}

func (e *entries[T]) add(v T) int {
	e.slots = append(e.slots, v)
	e.live = append(e.live, true)
	e.n++
	return len(e.slots) - 1
}

func (e *entries[T]) get(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(e.slots) || !e.live[i] {
		return zero, false
	}
	return e.slots[i], true
}

func (e *entries[T]) set(i int, v T) bool {
	if i < 0 || i >= len(e.slots) || !e.live[i] {
		return false
	}
	e.slots[i] = v
	return true
}

func (e *entries[T]) remove(i int) bool {
	if i < 0 || i >= len(e.slots) || !e.live[i] {
		return false
	}
	var zero T
	e.slots[i] = zero
	e.live[i] = false
	e.n--
	return true
}

func (e *entries[T]) len() int { return e.n }

func (e *entries[T]) list() []Entry[T] {
	out := make([]Entry[T], 0, e.n)
	for i, v := range e.slots {
		if e.live[i] {
			out = append(out, Entry[T]{Index: i, Value: v})
		}
	}
	return out
}

func (e *entries[T]) values() []T {
	out := make([]T, 0, e.n)
	for i, v := range e.slots {
		if e.live[i] {
			out = append(out, v)
		}
	}
	return out
}

// ValuesBag holds every value of one field inside one group.
type ValuesBag struct {
	simple         entries[SingleValue]
	excluded       entries[SingleValue]
	ranges         entries[Range]
	excludedRanges entries[Range]
	compares       entries[Compare]
	patterns       entries[PatternMatch]

	errors   []*ValidationError
	messages []string
}

// NewValuesBag returns an empty bag.
func NewValuesBag() *ValuesBag {
	return &ValuesBag{}
}

func (b *ValuesBag) AddSimpleValue(v SingleValue) int { return b.simple.add(v) }

func (b *ValuesBag) SimpleValues() []Entry[SingleValue] { return b.simple.list() }

func (b *ValuesBag) SimpleValue(i int) (SingleValue, bool) { return b.simple.get(i) }

func (b *ValuesBag) RemoveSimpleValue(i int) bool { return b.simple.remove(i) }

func (b *ValuesBag) AddExcludedSimpleValue(v SingleValue) int { return b.excluded.add(v) }

func (b *ValuesBag) ExcludedSimpleValues() []Entry[SingleValue] { return b.excluded.list() }

func (b *ValuesBag) ExcludedSimpleValue(i int) (SingleValue, bool) { return b.excluded.get(i) }

func (b *ValuesBag) RemoveExcludedSimpleValue(i int) bool { return b.excluded.remove(i) }

func (b *ValuesBag) AddRange(r Range) int { return b.ranges.add(r) }

func (b *ValuesBag) Ranges() []Entry[Range] { return b.ranges.list() }

func (b *ValuesBag) Range(i int) (Range, bool) { return b.ranges.get(i) }

func (b *ValuesBag) RemoveRange(i int) bool { return b.ranges.remove(i) }

func (b *ValuesBag) AddExcludedRange(r Range) int { return b.excludedRanges.add(r) }

func (b *ValuesBag) ExcludedRanges() []Entry[Range] { return b.excludedRanges.list() }

func (b *ValuesBag) ExcludedRange(i int) (Range, bool) { return b.excludedRanges.get(i) }

func (b *ValuesBag) RemoveExcludedRange(i int) bool { return b.excludedRanges.remove(i) }

func (b *ValuesBag) AddComparison(c Compare) int { return b.compares.add(c) }

func (b *ValuesBag) Comparisons() []Entry[Compare] { return b.compares.list() }

func (b *ValuesBag) Comparison(i int) (Compare, bool) { return b.compares.get(i) }

func (b *ValuesBag) RemoveComparison(i int) bool { return b.compares.remove(i) }

func (b *ValuesBag) AddPatternMatch(p PatternMatch) int { return b.patterns.add(p) }

func (b *ValuesBag) PatternMatches() []Entry[PatternMatch] { return b.patterns.list() }

func (b *ValuesBag) PatternMatch(i int) (PatternMatch, bool) { return b.patterns.get(i) }

func (b *ValuesBag) RemovePatternMatch(i int) bool { return b.patterns.remove(i) }

// Has reports whether the list of the given kind holds at least one value.
func (b *ValuesBag) Has(kind ValueKind) bool {
	return b.CountOf(kind) > 0
}

// CountOf returns the number of live entries of one kind.
func (b *ValuesBag) CountOf(kind ValueKind) int {
	switch kind {
	case KindSimpleValue:
		return b.simple.len()
	case KindExcludedSimpleValue:
		return b.excluded.len()
	case KindRange:
		return b.ranges.len()
	case KindExcludedRange:
		return b.excludedRanges.len()
	case KindComparison:
		return b.compares.len()
	case KindPatternMatch:
		return b.patterns.len()
	}
	return 0
}

// Count returns the number of live entries over all kinds.
func (b *ValuesBag) Count() int {
	return b.simple.len() + b.excluded.len() + b.ranges.len() +
		b.excludedRanges.len() + b.compares.len() + b.patterns.len()
}

func (b *ValuesBag) Empty() bool { return b.Count() == 0 }

func (b *ValuesBag) AddError(err *ValidationError) { b.errors = append(b.errors, err) }

func (b *ValuesBag) Errors() []*ValidationError { return b.errors }

func (b *ValuesBag) HasErrors() bool { return len(b.errors) > 0 }

// Messages returns the diagnostics recorded by the normalization passes.
func (b *ValuesBag) Messages() []string { return b.messages }

func (b *ValuesBag) addMessage(format string, args ...any) {
	b.messages = append(b.messages, fmt.Sprintf(format, args...))
}
