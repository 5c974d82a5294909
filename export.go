package sieve

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// ExportFilterQuery writes the user part of cond back as FilterQuery text.
// Parsing the result with the same field set yields an equal condition. An
// OR root is written as a single OR group.
func ExportFilterQuery(cond *SearchCondition) string {
	var b strings.Builder
	root := cond.Values()
	if root.Operator() == LogicalOr {
		b.WriteString("*(")
		writeGroupBody(&b, cond.FieldSet(), root)
		b.WriteString(")")
	} else {
		writeGroupBody(&b, cond.FieldSet(), root)
	}
	for _, o := range cond.Order() {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "@%s=%s;", o.Field, strings.ToLower(o.Direction()))
	}
	return b.String()
}

func writeGroupBody(b *strings.Builder, fs *FieldSet, g *ValuesGroup) {
	parts := make([]string, 0, len(g.FieldNames())+len(g.Groups()))
	for _, name := range g.FieldNames() {
		bag := g.Field(name)
		def, ok := fs.Get(name)
		if !ok || bag.Empty() {
			continue
		}
		parts = append(parts, name+"="+strings.Join(filterQueryValues(def, bag), ",")+";")
	}
	for _, child := range g.Groups() {
		var cb strings.Builder
		if child.Operator() == LogicalOr {
			cb.WriteByte('*')
		}
		cb.WriteByte('(')
		writeGroupBody(&cb, fs, child)
		cb.WriteByte(')')
		parts = append(parts, cb.String())
	}
	b.WriteString(strings.Join(parts, " "))
}

func filterQueryValues(def *FieldDefinition, bag *ValuesBag) []string {
	var out []string
	for _, v := range bag.simple.values() {
		out = append(out, quoteValue(def.Format(v.Value)))
	}
	for _, v := range bag.excluded.values() {
		out = append(out, "!"+quoteValue(def.Format(v.Value)))
	}
	for _, r := range bag.ranges.values() {
		out = append(out, filterQueryRange(def, r))
	}
	for _, r := range bag.excludedRanges.values() {
		out = append(out, "!"+filterQueryRange(def, r))
	}
	for _, c := range bag.compares.values() {
		out = append(out, string(c.Operator)+quoteValue(def.Format(c.Value)))
	}
	for _, p := range bag.patterns.values() {
		var s strings.Builder
		if p.Exclusive {
			s.WriteByte('!')
		}
		s.WriteByte('~')
		if p.CaseInsensitive {
			s.WriteByte('i')
		}
		for c, kind := range patternKindChars {
			if kind == p.Kind {
				s.WriteByte(c)
				break
			}
		}
		s.WriteString(quoteValue(p.Value))
		out = append(out, s.String())
	}
	return out
}

func filterQueryRange(def *FieldDefinition, r Range) string {
	var s strings.Builder
	if !r.InclusiveLower {
		s.WriteByte(']')
	}
	s.WriteString(quoteValue(def.Format(r.Lower)))
	s.WriteByte('-')
	s.WriteString(quoteValue(def.Format(r.Upper)))
	if !r.InclusiveUpper {
		s.WriteByte('[')
	}
	return s.String()
}

// quoteValue quotes values that the parser would otherwise split or read as
// an operator.
func quoteValue(s string) string {
	if s != "" && s == strings.TrimSpace(s) && !strings.ContainsAny(s, `,;()"[]-!~<>=@*`) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ExportJSON writes the user part of cond in the JSON interchange format.
// encoding/json sorts the field keys, so equal conditions give equal bytes.
func ExportJSON(cond *SearchCondition) ([]byte, error) {
	doc := exportDocument(cond.FieldSet(), cond.Values())
	doc.Order = exportOrder(cond)
	return json.Marshal(doc)
}

// ExportXML writes the user part of cond in the XML interchange format.
func ExportXML(cond *SearchCondition) ([]byte, error) {
	doc := exportDocument(cond.FieldSet(), cond.Values())
	g := doc.toXML()
	x := xmlSearch{LogicalCase: g.LogicalCase, Fields: g.Fields, Groups: g.Groups}
	for _, o := range exportOrder(cond) {
		x.Order = append(x.Order, xmlOrder{Field: o.Field, Direction: o.Direction})
	}
	out, err := xml.MarshalIndent(x, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export xml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func exportOrder(cond *SearchCondition) []orderDocument {
	var out []orderDocument
	for _, o := range cond.Order() {
		out = append(out, orderDocument{Field: o.Field, Direction: o.Direction()})
	}
	return out
}

func exportDocument(fs *FieldSet, g *ValuesGroup) *conditionDocument {
	doc := &conditionDocument{LogicalCase: string(g.Operator()), Fields: make(map[string]*fieldDocument)}
	for _, name := range g.FieldNames() {
		bag := g.Field(name)
		def, ok := fs.Get(name)
		if !ok || bag.Empty() {
			continue
		}
		doc.Fields[name] = exportField(def, bag)
		doc.fieldOrder = append(doc.fieldOrder, name)
	}
	for _, child := range g.Groups() {
		doc.Groups = append(doc.Groups, exportDocument(fs, child))
	}
	return doc
}

func exportField(def *FieldDefinition, bag *ValuesBag) *fieldDocument {
	fd := &fieldDocument{}
	for _, v := range bag.simple.values() {
		fd.SimpleValues = append(fd.SimpleValues, docValue(def.Format(v.Value)))
	}
	for _, v := range bag.excluded.values() {
		fd.ExcludedSimpleValues = append(fd.ExcludedSimpleValues, docValue(def.Format(v.Value)))
	}
	for _, r := range bag.ranges.values() {
		fd.Ranges = append(fd.Ranges, exportRange(def, r))
	}
	for _, r := range bag.excludedRanges.values() {
		fd.ExcludedRanges = append(fd.ExcludedRanges, exportRange(def, r))
	}
	for _, c := range bag.compares.values() {
		fd.Comparisons = append(fd.Comparisons, compareDocument{Operator: string(c.Operator), Value: docValue(def.Format(c.Value))})
	}
	for _, p := range bag.patterns.values() {
		fd.PatternMatchers = append(fd.PatternMatchers, patternDocument{Type: patternType(p), Value: p.Value, CaseInsensitive: p.CaseInsensitive})
	}
	return fd
}

func exportRange(def *FieldDefinition, r Range) rangeDocument {
	rd := rangeDocument{Lower: docValue(def.Format(r.Lower)), Upper: docValue(def.Format(r.Upper))}
	if !r.InclusiveLower {
		f := false
		rd.InclusiveLower = &f
	}
	if !r.InclusiveUpper {
		f := false
		rd.InclusiveUpper = &f
	}
	return rd
}

// Equal reports whether c and other hold the same constraints, ignoring
// value indices and raw input. Values are compared by their canonical dump.
func (c *SearchCondition) Equal(other *SearchCondition) bool {
	if other == nil {
		return false
	}
	if len(c.order) != len(other.order) {
		return false
	}
	for i := range c.order {
		if c.order[i] != other.order[i] {
			return false
		}
	}
	if (c.primary == nil) != (other.primary == nil) {
		return false
	}
	if c.primary != nil && !groupsEqual(c.fieldSet, c.primary, other.primary) {
		return false
	}
	return groupsEqual(c.fieldSet, c.root, other.root)
}

func groupsEqual(fs *FieldSet, a, b *ValuesGroup) bool {
	if a.Operator() != b.Operator() || len(a.Groups()) != len(b.Groups()) {
		return false
	}
	names := make(map[string]bool)
	for _, g := range []*ValuesGroup{a, b} {
		for _, name := range g.FieldNames() {
			if !g.Field(name).Empty() {
				names[name] = true
			}
		}
	}
	for name := range names {
		def, ok := fs.Get(name)
		if !ok {
			return false
		}
		if !bagsEqual(def, a.Field(name), b.Field(name)) {
			return false
		}
	}
	for i := range a.Groups() {
		if !groupsEqual(fs, a.Groups()[i], b.Groups()[i]) {
			return false
		}
	}
	return true
}

func bagsEqual(def *FieldDefinition, a, b *ValuesBag) bool {
	if a == nil || b == nil {
		return false
	}
	return sameDumps(a.simple.values(), b.simple.values(), func(v SingleValue) string { return def.Dump(v.Value) }) &&
		sameDumps(a.excluded.values(), b.excluded.values(), func(v SingleValue) string { return def.Dump(v.Value) }) &&
		sameDumps(a.ranges.values(), b.ranges.values(), func(r Range) string { return rangeDump(def, r) }) &&
		sameDumps(a.excludedRanges.values(), b.excludedRanges.values(), func(r Range) string { return rangeDump(def, r) }) &&
		sameDumps(a.compares.values(), b.compares.values(), func(c Compare) string { return string(c.Operator) + def.Dump(c.Value) }) &&
		sameDumps(a.patterns.values(), b.patterns.values(), func(p PatternMatch) string { return fmt.Sprintf("%s|%t|%t|%s", p.Kind, p.CaseInsensitive, p.Exclusive, p.Value) })
}

func sameDumps[T any](a, b []T, dump func(T) string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if dump(a[i]) != dump(b[i]) {
			return false
		}
	}
	return true
}
