package sieve

import (
	"fmt"
	"log/slog"
	"regexp"
)

// Pass is one normalization step applied to a single bag.
type Pass interface {
	Name() string
	Apply(pc *passContext, bag *ValuesBag) error
}

type passContext struct {
	field *FieldDefinition
	group string
}

func (pc *passContext) fail(bag *ValuesBag, input string, err error, format string, args ...any) error {
	verr := &ValidationError{
		Field:   pc.field.Name,
		Group:   pc.group,
		Input:   input,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
	bag.AddError(verr)
	return verr
}

// Pipeline runs the fixed sequence of passes on every bag of every group.
// Running it twice on the same tree changes nothing the second time.
type Pipeline struct {
	passes []Pass
	logger *slog.Logger
}

// NewPipeline returns the standard pipeline: validate, remove duplicates,
// normalize ranges, collapse adjacent values into ranges, drop redundant
// comparisons.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		passes: []Pass{
			validatorPass{},
			duplicateRemovePass{},
			rangeNormalizerPass{},
			valuesToRangePass{},
			compareNormalizerPass{},
		},
		logger: logger,
	}
}

// Process normalizes the root and, when set, the primary condition in place.
// It stops at the first error.
func (p *Pipeline) Process(cond *SearchCondition) error {
	if err := p.processGroup(cond.FieldSet(), cond.Values(), ""); err != nil {
		return err
	}
	if primary := cond.PrimaryCondition(); primary != nil {
		return p.processGroup(cond.FieldSet(), primary, "primary")
	}
	return nil
}

func (p *Pipeline) processGroup(fs *FieldSet, root *ValuesGroup, path string) error {
	return walkGroups(root, path, func(path string, g *ValuesGroup) error {
		for _, name := range g.FieldNames() {
			def, ok := fs.Get(name)
			if !ok {
				return &ValidationError{Field: name, Group: path, Err: ErrUnknownField, Message: "field is not part of the field set"}
			}
			bag := g.Field(name)
			pc := &passContext{field: def, group: path}
			seen := len(bag.Messages())
			for _, pass := range p.passes {
				if err := pass.Apply(pc, bag); err != nil {
					return err
				}
			}
			for _, msg := range bag.Messages()[seen:] {
				p.logger.Debug("normalized search values", "field", name, "group", path, "message", msg)
			}
		}
		return nil
	})
}

type validatorPass struct{}

func (validatorPass) Name() string { return "validator" }

func (validatorPass) Apply(pc *passContext, bag *ValuesBag) error {
	def := pc.field
	for _, kind := range []ValueKind{KindSimpleValue, KindExcludedSimpleValue, KindRange, KindExcludedRange, KindComparison, KindPatternMatch} {
		if bag.Has(kind) && !def.Supports(kind) {
			return pc.fail(bag, firstInput(bag, kind), ErrUnsupportedValue, "%s values are not supported by %s fields", kind, def.Type.Name())
		}
	}

	for _, e := range bag.SimpleValues() {
		v, err := sanitize(def, e.Value.Raw, e.Value.Value)
		if err != nil {
			return pc.fail(bag, e.Value.Raw, ErrInvalidValue, "%v", err)
		}
		bag.simple.set(e.Index, SingleValue{Value: v, Raw: e.Value.Raw})
	}
	for _, e := range bag.ExcludedSimpleValues() {
		v, err := sanitize(def, e.Value.Raw, e.Value.Value)
		if err != nil {
			return pc.fail(bag, e.Value.Raw, ErrInvalidValue, "%v", err)
		}
		bag.excluded.set(e.Index, SingleValue{Value: v, Raw: e.Value.Raw})
	}
	if err := validateRanges(pc, bag, bag.Ranges(), bag.ranges.set); err != nil {
		return err
	}
	if err := validateRanges(pc, bag, bag.ExcludedRanges(), bag.excludedRanges.set); err != nil {
		return err
	}
	for _, e := range bag.Comparisons() {
		c := e.Value
		if !c.Operator.Valid() {
			return pc.fail(bag, c.Raw, ErrInvalidValue, "unknown comparison operator %q", c.Operator)
		}
		v, err := sanitize(def, c.Raw, c.Value)
		if err != nil {
			return pc.fail(bag, c.Raw, ErrInvalidValue, "%v", err)
		}
		c.Value = v
		bag.compares.set(e.Index, c)
	}
	for _, e := range bag.PatternMatches() {
		pm := e.Value
		if pm.Value == "" {
			return pc.fail(bag, pm.Value, ErrInvalidValue, "pattern must not be empty")
		}
		if pm.Kind == PatternRegex {
			if _, err := regexp.Compile(pm.Value); err != nil {
				return pc.fail(bag, pm.Value, ErrInvalidValue, "invalid regular expression: %v", err)
			}
		}
	}

	return checkConflicts(pc, bag)
}

func validateRanges(pc *passContext, bag *ValuesBag, list []Entry[Range], set func(int, Range) bool) error {
	ord, _ := pc.field.Type.(Ordered)
	for _, e := range list {
		r := e.Value
		lower, err := sanitize(pc.field, r.LowerRaw, r.Lower)
		if err != nil {
			return pc.fail(bag, r.LowerRaw, ErrInvalidValue, "lower bound: %v", err)
		}
		upper, err := sanitize(pc.field, r.UpperRaw, r.Upper)
		if err != nil {
			return pc.fail(bag, r.UpperRaw, ErrInvalidValue, "upper bound: %v", err)
		}
		if ord != nil && ord.IsHigher(lower, upper) {
			return pc.fail(bag, r.LowerRaw+"-"+r.UpperRaw, ErrRangeBounds, "lower bound %s is higher than upper bound %s",
				pc.field.Format(lower), pc.field.Format(upper))
		}
		r.Lower, r.Upper = lower, upper
		set(e.Index, r)
	}
	return nil
}

// checkConflicts rejects a value or a range that is both included and
// excluded. Passes that merge or create ranges run it again on their result.
func checkConflicts(pc *passContext, bag *ValuesBag) error {
	excluded := make(map[string]bool)
	for _, e := range bag.ExcludedSimpleValues() {
		excluded[pc.field.Dump(e.Value.Value)] = true
	}
	for _, e := range bag.SimpleValues() {
		if excluded[pc.field.Dump(e.Value.Value)] {
			return pc.fail(bag, e.Value.Raw, ErrValueConflict, "value is both included and excluded")
		}
	}
	return checkRangeConflicts(pc, bag)
}

// checkRangeConflicts rejects a range that is also present as excluded range.
func checkRangeConflicts(pc *passContext, bag *ValuesBag) error {
	excluded := make(map[string]bool)
	for _, e := range bag.ExcludedRanges() {
		excluded[rangeDump(pc.field, e.Value)] = true
	}
	for _, e := range bag.Ranges() {
		if excluded[rangeDump(pc.field, e.Value)] {
			return pc.fail(bag, e.Value.LowerRaw+"-"+e.Value.UpperRaw, ErrValueConflict, "range is both included and excluded")
		}
	}
	return nil
}

// sanitize converts raw input through the field type. Values built in code
// carry no raw input and are only validated.
func sanitize(def *FieldDefinition, raw string, current any) (any, error) {
	v := current
	if raw != "" {
		if s, ok := def.Type.(Sanitizable); ok {
			sv, err := s.Sanitize(raw)
			if err != nil {
				return nil, err
			}
			v = sv
		} else {
			v = raw
		}
	}
	if val, ok := def.Type.(Validatable); ok {
		if err := val.Validate(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func firstInput(bag *ValuesBag, kind ValueKind) string {
	switch kind {
	case KindSimpleValue:
		return bag.SimpleValues()[0].Value.Raw
	case KindExcludedSimpleValue:
		return bag.ExcludedSimpleValues()[0].Value.Raw
	case KindRange:
		r := bag.Ranges()[0].Value
		return r.LowerRaw + "-" + r.UpperRaw
	case KindExcludedRange:
		r := bag.ExcludedRanges()[0].Value
		return r.LowerRaw + "-" + r.UpperRaw
	case KindComparison:
		c := bag.Comparisons()[0].Value
		return string(c.Operator) + c.Raw
	case KindPatternMatch:
		return bag.PatternMatches()[0].Value.Value
	}
	return ""
}

func rangeDump(def *FieldDefinition, r Range) string {
	lower, upper := "[", "]"
	if !r.InclusiveLower {
		lower = "]"
	}
	if !r.InclusiveUpper {
		upper = "["
	}
	return lower + def.Dump(r.Lower) + "~" + def.Dump(r.Upper) + upper
}

type duplicateRemovePass struct{}

func (duplicateRemovePass) Name() string { return "duplicate-remove" }

func (duplicateRemovePass) Apply(pc *passContext, bag *ValuesBag) error {
	def := pc.field
	removeDuplicates(bag, "simple value", bag.SimpleValues(), bag.RemoveSimpleValue,
		func(v SingleValue) string { return def.Dump(v.Value) })
	removeDuplicates(bag, "excluded simple value", bag.ExcludedSimpleValues(), bag.RemoveExcludedSimpleValue,
		func(v SingleValue) string { return def.Dump(v.Value) })
	removeDuplicates(bag, "range", bag.Ranges(), bag.RemoveRange,
		func(r Range) string { return rangeDump(def, r) })
	removeDuplicates(bag, "excluded range", bag.ExcludedRanges(), bag.RemoveExcludedRange,
		func(r Range) string { return rangeDump(def, r) })
	removeDuplicates(bag, "comparison", bag.Comparisons(), bag.RemoveComparison,
		func(c Compare) string { return string(c.Operator) + def.Dump(c.Value) })
	removeDuplicates(bag, "pattern match", bag.PatternMatches(), bag.RemovePatternMatch,
		func(p PatternMatch) string {
			return fmt.Sprintf("%s|%t|%t|%s", p.Kind, p.CaseInsensitive, p.Exclusive, p.Value)
		})
	return nil
}

func removeDuplicates[T any](bag *ValuesBag, what string, list []Entry[T], remove func(int) bool, dump func(T) string) {
	seen := make(map[string]int, len(list))
	for _, e := range list {
		d := dump(e.Value)
		if first, ok := seen[d]; ok {
			remove(e.Index)
			bag.addMessage("%s at index %d removed, duplicate of index %d", what, e.Index, first)
			continue
		}
		seen[d] = e.Index
	}
}

type compareNormalizerPass struct{}

func (compareNormalizerPass) Name() string { return "compare-normalizer" }

// Apply drops '>' and '<' when '>=' or '<=' on the same value exists.
func (compareNormalizerPass) Apply(pc *passContext, bag *ValuesBag) error {
	list := bag.Comparisons()
	nonStrict := make(map[string]bool)
	for _, e := range list {
		if e.Value.Operator == OpHigherOrEqual || e.Value.Operator == OpLowerOrEqual {
			nonStrict[string(e.Value.Operator)+pc.field.Dump(e.Value.Value)] = true
		}
	}
	for _, e := range list {
		var wider CompareOperator
		switch e.Value.Operator {
		case OpHigher:
			wider = OpHigherOrEqual
		case OpLower:
			wider = OpLowerOrEqual
		default:
			continue
		}
		if nonStrict[string(wider)+pc.field.Dump(e.Value.Value)] {
			bag.RemoveComparison(e.Index)
			bag.addMessage("comparison at index %d removed, covered by '%s'", e.Index, wider)
		}
	}
	return nil
}
