package sieve

import "sort"

type rangeNormalizerPass struct{}

func (rangeNormalizerPass) Name() string { return "range-normalizer" }

// Apply removes single values inside a range and merges overlapping,
// touching or contained ranges. Excluded values and ranges are handled the
// same way among themselves.
func (rangeNormalizerPass) Apply(pc *passContext, bag *ValuesBag) error {
	ord, ok := pc.field.Type.(Ordered)
	if !ok {
		return nil
	}
	removeCoveredValues(pc, bag, ord, "simple value", bag.SimpleValues(), bag.Ranges(), bag.RemoveSimpleValue)
	removeCoveredValues(pc, bag, ord, "excluded simple value", bag.ExcludedSimpleValues(), bag.ExcludedRanges(), bag.RemoveExcludedSimpleValue)
	mergeRanges(bag, ord, "range", &bag.ranges)
	mergeRanges(bag, ord, "excluded range", &bag.excludedRanges)
	return checkRangeConflicts(pc, bag)
}

func removeCoveredValues(pc *passContext, bag *ValuesBag, ord Ordered, what string, values []Entry[SingleValue], ranges []Entry[Range], remove func(int) bool) {
	for _, v := range values {
		for _, r := range ranges {
			if rangeCovers(ord, r.Value, v.Value.Value) {
				remove(v.Index)
				bag.addMessage("%s %s at index %d removed, covered by range at index %d",
					what, pc.field.Format(v.Value.Value), v.Index, r.Index)
				break
			}
		}
	}
}

func rangeCovers(ord Ordered, r Range, v any) bool {
	aboveLower := ord.IsHigher(v, r.Lower) || (r.InclusiveLower && ord.IsEqual(v, r.Lower))
	belowUpper := ord.IsLower(v, r.Upper) || (r.InclusiveUpper && ord.IsEqual(v, r.Upper))
	return aboveLower && belowUpper
}

// mergeRanges folds ranges pairwise until no pair overlaps. The merged range
// keeps the lower index; the other one is removed.
func mergeRanges(bag *ValuesBag, ord Ordered, what string, list *entries[Range]) {
	for {
		merged := false
		all := list.list()
	outer:
		for i := 0; i < len(all); i++ {
			for j := i + 1; j < len(all); j++ {
				a, b := all[i], all[j]
				u, ok := rangeUnion(ord, a.Value, b.Value)
				if !ok {
					continue
				}
				list.set(a.Index, u)
				list.remove(b.Index)
				switch {
				case sameRange(ord, u, a.Value):
					bag.addMessage("%s at index %d removed, contained in %s at index %d", what, b.Index, what, a.Index)
				case sameRange(ord, u, b.Value):
					bag.addMessage("%s at index %d replaced by containing %s at index %d", what, a.Index, what, b.Index)
				default:
					bag.addMessage("%s at index %d merged into %s at index %d", what, b.Index, what, a.Index)
				}
				merged = true
				break outer
			}
		}
		if !merged {
			return
		}
	}
}

// rangeUnion returns the union of a and b when they overlap or touch on at
// least one inclusive bound.
func rangeUnion(ord Ordered, a, b Range) (Range, bool) {
	if disjoint(ord, a, b) || disjoint(ord, b, a) {
		return Range{}, false
	}
	u := a
	switch {
	case ord.IsLower(b.Lower, a.Lower):
		u.Lower, u.LowerRaw, u.InclusiveLower = b.Lower, b.LowerRaw, b.InclusiveLower
	case ord.IsEqual(b.Lower, a.Lower):
		u.InclusiveLower = a.InclusiveLower || b.InclusiveLower
	}
	switch {
	case ord.IsHigher(b.Upper, a.Upper):
		u.Upper, u.UpperRaw, u.InclusiveUpper = b.Upper, b.UpperRaw, b.InclusiveUpper
	case ord.IsEqual(b.Upper, a.Upper):
		u.InclusiveUpper = a.InclusiveUpper || b.InclusiveUpper
	}
	return u, true
}

// disjoint reports whether a ends before b starts.
func disjoint(ord Ordered, a, b Range) bool {
	if ord.IsLower(a.Upper, b.Lower) {
		return true
	}
	return ord.IsEqual(a.Upper, b.Lower) && !a.InclusiveUpper && !b.InclusiveLower
}

func sameRange(ord Ordered, a, b Range) bool {
	return ord.IsEqual(a.Lower, b.Lower) && ord.IsEqual(a.Upper, b.Upper) &&
		a.InclusiveLower == b.InclusiveLower && a.InclusiveUpper == b.InclusiveUpper
}

type valuesToRangePass struct{}

func (valuesToRangePass) Name() string { return "values-to-range" }

// Apply collapses runs of at least two successive values into one inclusive
// range, then merges the new ranges with the existing ones.
func (valuesToRangePass) Apply(pc *passContext, bag *ValuesBag) error {
	ord, ok := pc.field.Type.(Ordered)
	if !ok {
		return nil
	}
	succ, ok := pc.field.Type.(HasSuccessor)
	if !ok {
		return nil
	}
	if err := collapseRuns(pc, bag, ord, succ, "simple values", bag.SimpleValues(), bag.RemoveSimpleValue, bag.AddRange); err != nil {
		return err
	}
	if err := collapseRuns(pc, bag, ord, succ, "excluded simple values", bag.ExcludedSimpleValues(), bag.RemoveExcludedSimpleValue, bag.AddExcludedRange); err != nil {
		return err
	}
	mergeRanges(bag, ord, "range", &bag.ranges)
	mergeRanges(bag, ord, "excluded range", &bag.excludedRanges)
	return checkRangeConflicts(pc, bag)
}

func collapseRuns(pc *passContext, bag *ValuesBag, ord Ordered, succ HasSuccessor, what string,
	values []Entry[SingleValue], remove func(int) bool, add func(Range) int) error {
	if len(values) < 2 {
		return nil
	}
	sort.SliceStable(values, func(i, j int) bool { return ord.IsLower(values[i].Value.Value, values[j].Value.Value) })

	flush := func(run []Entry[SingleValue]) {
		if len(run) < 2 {
			return
		}
		first, last := run[0].Value, run[len(run)-1].Value
		for _, e := range run {
			remove(e.Index)
		}
		idx := add(Range{
			Lower:          first.Value,
			Upper:          last.Value,
			LowerRaw:       first.Raw,
			UpperRaw:       last.Raw,
			InclusiveLower: true,
			InclusiveUpper: true,
		})
		bag.addMessage("%d %s %s to %s collapsed into range at index %d",
			len(run), what, pc.field.Format(first.Value), pc.field.Format(last.Value), idx)
	}

	run := []Entry[SingleValue]{values[0]}
	for _, e := range values[1:] {
		next, err := succ.Successor(run[len(run)-1].Value.Value)
		if err != nil {
			return pc.fail(bag, run[len(run)-1].Value.Raw, ErrInvalidValue, "no successor: %v", err)
		}
		if ord.IsEqual(next, e.Value.Value) {
			run = append(run, e)
			continue
		}
		flush(run)
		run = []Entry[SingleValue]{e}
	}
	flush(run)
	return nil
}
