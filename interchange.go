package sieve

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// docValue accepts strings, numbers and booleans and keeps them as raw input.
type docValue string

func (v *docValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = docValue(s)
		return nil
	case '{', '[':
		return fmt.Errorf("value must be a string, number or boolean, got %s", data)
	}
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("value must not be null")
	}
	*v = docValue(data)
	return nil
}

type rangeDocument struct {
	Lower          docValue `json:"lower"`
	Upper          docValue `json:"upper"`
	InclusiveLower *bool    `json:"inclusive-lower,omitempty"`
	InclusiveUpper *bool    `json:"inclusive-upper,omitempty"`
}

type compareDocument struct {
	Operator string   `json:"operator"`
	Value    docValue `json:"value"`
}

type patternDocument struct {
	Type            string `json:"type"`
	Value           string `json:"value"`
	CaseInsensitive bool   `json:"case-insensitive,omitempty"`
}

type fieldDocument struct {
	SimpleValues         []docValue        `json:"simple-values,omitempty"`
	ExcludedSimpleValues []docValue        `json:"excluded-simple-values,omitempty"`
	Ranges               []rangeDocument   `json:"ranges,omitempty"`
	ExcludedRanges       []rangeDocument   `json:"excluded-ranges,omitempty"`
	Comparisons          []compareDocument `json:"comparisons,omitempty"`
	PatternMatchers      []patternDocument `json:"pattern-matchers,omitempty"`
}

type orderDocument struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// conditionDocument is the array/JSON shape of one group. The root document
// may carry an order list.
type conditionDocument struct {
	Fields      map[string]*fieldDocument `json:"fields,omitempty"`
	Groups      []*conditionDocument      `json:"groups,omitempty"`
	LogicalCase string                    `json:"logical-case,omitempty"`
	Order       []orderDocument           `json:"order,omitempty"`

	// fieldOrder keeps the field order for XML output
	fieldOrder []string
}

type xmlRange struct {
	InclusiveLower *bool  `xml:"inclusive-lower,attr,omitempty"`
	InclusiveUpper *bool  `xml:"inclusive-upper,attr,omitempty"`
	Lower          string `xml:"lower"`
	Upper          string `xml:"upper"`
}

type xmlComparison struct {
	Operator string `xml:"operator,attr"`
	Value    string `xml:",chardata"`
}

type xmlPattern struct {
	Type            string `xml:"type,attr"`
	CaseInsensitive bool   `xml:"case-insensitive,attr,omitempty"`
	Value           string `xml:",chardata"`
}

type xmlField struct {
	Name                 string          `xml:"name,attr"`
	SimpleValues         []string        `xml:"simple-values>value,omitempty"`
	ExcludedSimpleValues []string        `xml:"excluded-simple-values>value,omitempty"`
	Ranges               []xmlRange      `xml:"ranges>range,omitempty"`
	ExcludedRanges       []xmlRange      `xml:"excluded-ranges>range,omitempty"`
	Comparisons          []xmlComparison `xml:"comparisons>comparison,omitempty"`
	PatternMatchers      []xmlPattern    `xml:"pattern-matchers>pattern-matcher,omitempty"`
}

type xmlGroup struct {
	LogicalCase string     `xml:"logical-case,attr,omitempty"`
	Fields      []xmlField `xml:"fields>field,omitempty"`
	Groups      []xmlGroup `xml:"groups>group,omitempty"`
}

type xmlOrder struct {
	Field     string `xml:"name,attr"`
	Direction string `xml:"direction,attr"`
}

type xmlSearch struct {
	XMLName     xml.Name   `xml:"search"`
	LogicalCase string     `xml:"logical-case,attr,omitempty"`
	Fields      []xmlField `xml:"fields>field,omitempty"`
	Groups      []xmlGroup `xml:"groups>group,omitempty"`
	Order       []xmlOrder `xml:"order>field,omitempty"`
}

func (x *xmlSearch) document() conditionDocument {
	doc := xmlGroup{LogicalCase: x.LogicalCase, Fields: x.Fields, Groups: x.Groups}.document()
	for _, o := range x.Order {
		doc.Order = append(doc.Order, orderDocument{Field: o.Field, Direction: o.Direction})
	}
	return *doc
}

func (g xmlGroup) document() *conditionDocument {
	doc := &conditionDocument{LogicalCase: g.LogicalCase, Fields: make(map[string]*fieldDocument)}
	for _, f := range g.Fields {
		fd, ok := doc.Fields[f.Name]
		if !ok {
			fd = &fieldDocument{}
			doc.Fields[f.Name] = fd
			doc.fieldOrder = append(doc.fieldOrder, f.Name)
		}
		for _, v := range f.SimpleValues {
			fd.SimpleValues = append(fd.SimpleValues, docValue(v))
		}
		for _, v := range f.ExcludedSimpleValues {
			fd.ExcludedSimpleValues = append(fd.ExcludedSimpleValues, docValue(v))
		}
		for _, r := range f.Ranges {
			fd.Ranges = append(fd.Ranges, r.document())
		}
		for _, r := range f.ExcludedRanges {
			fd.ExcludedRanges = append(fd.ExcludedRanges, r.document())
		}
		for _, c := range f.Comparisons {
			fd.Comparisons = append(fd.Comparisons, compareDocument{Operator: c.Operator, Value: docValue(c.Value)})
		}
		for _, p := range f.PatternMatchers {
			fd.PatternMatchers = append(fd.PatternMatchers, patternDocument{Type: p.Type, Value: p.Value, CaseInsensitive: p.CaseInsensitive})
		}
	}
	for _, child := range g.Groups {
		doc.Groups = append(doc.Groups, child.document())
	}
	return doc
}

func (r xmlRange) document() rangeDocument {
	return rangeDocument{
		Lower:          docValue(strings.TrimSpace(r.Lower)),
		Upper:          docValue(strings.TrimSpace(r.Upper)),
		InclusiveLower: r.InclusiveLower,
		InclusiveUpper: r.InclusiveUpper,
	}
}

// toXML is the inverse of xmlGroup.document, used on export.
func (doc *conditionDocument) toXML() xmlGroup {
	g := xmlGroup{LogicalCase: doc.LogicalCase}
	for _, name := range doc.fieldOrder {
		fd := doc.Fields[name]
		f := xmlField{Name: name}
		for _, v := range fd.SimpleValues {
			f.SimpleValues = append(f.SimpleValues, string(v))
		}
		for _, v := range fd.ExcludedSimpleValues {
			f.ExcludedSimpleValues = append(f.ExcludedSimpleValues, string(v))
		}
		for _, r := range fd.Ranges {
			f.Ranges = append(f.Ranges, r.xml())
		}
		for _, r := range fd.ExcludedRanges {
			f.ExcludedRanges = append(f.ExcludedRanges, r.xml())
		}
		for _, c := range fd.Comparisons {
			f.Comparisons = append(f.Comparisons, xmlComparison{Operator: c.Operator, Value: string(c.Value)})
		}
		for _, p := range fd.PatternMatchers {
			f.PatternMatchers = append(f.PatternMatchers, xmlPattern{Type: p.Type, Value: p.Value, CaseInsensitive: p.CaseInsensitive})
		}
		g.Fields = append(g.Fields, f)
	}
	for _, child := range doc.Groups {
		g.Groups = append(g.Groups, child.toXML())
	}
	return g
}

func (r rangeDocument) xml() xmlRange {
	return xmlRange{
		Lower:          string(r.Lower),
		Upper:          string(r.Upper),
		InclusiveLower: r.InclusiveLower,
		InclusiveUpper: r.InclusiveUpper,
	}
}

func parseDirection(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ASC":
		return false, nil
	case "DESC":
		return true, nil
	}
	return false, fmt.Errorf("ordering direction must be ASC or DESC, got %q", s)
}

// parsePatternType splits the NOT_ prefix of exclusive pattern types.
func parsePatternType(s string) (PatternKind, bool, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	exclusive := strings.HasPrefix(s, "NOT_")
	kind, ok := ParsePatternKind(strings.TrimPrefix(s, "NOT_"))
	return kind, exclusive, ok
}

func patternType(p PatternMatch) string {
	if p.Exclusive {
		return "NOT_" + p.Kind.String()
	}
	return p.Kind.String()
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// buildDocument converts one document group. Fields are visited in FieldSet
// order so the tree does not depend on map iteration.
func (p *Processor) buildDocument(doc *conditionDocument, path string, depth int) (*ValuesGroup, error) {
	op, err := ParseLogicalOperator(doc.LogicalCase)
	if err != nil {
		return nil, &StructuralError{Err: ErrSyntax, Group: path, Msg: err.Error()}
	}
	if n := len(doc.Groups); n > p.config.Limits.MaxGroups {
		return nil, &StructuralError{Err: ErrGroupsOverflow, Group: path, Max: p.config.Limits.MaxGroups, Count: n}
	}
	g := NewValuesGroup(op)

	byName := make(map[string][]string)
	for label := range doc.Fields {
		name := p.config.resolveLabel(label)
		if !p.fieldSet.Has(name) {
			p.config.logger().Debug("ignoring unknown field", "label", label, "group", path)
			continue
		}
		byName[name] = append(byName[name], label)
	}
	for _, name := range p.fieldSet.Names() {
		labels, ok := byName[name]
		if !ok {
			continue
		}
		sort.Strings(labels)
		bag := NewValuesBag()
		g.AddField(name, bag)
		for _, label := range labels {
			if err := p.fillBag(bag, doc.Fields[label], name, path); err != nil {
				return nil, err
			}
		}
	}

	for i, child := range doc.Groups {
		cpath := childPath(path, i)
		if depth+1 > p.config.Limits.MaxNestingLevel {
			return nil, &StructuralError{Err: ErrNestingOverflow, Group: cpath, Max: p.config.Limits.MaxNestingLevel, Count: depth + 1}
		}
		if child == nil {
			continue
		}
		cg, err := p.buildDocument(child, cpath, depth+1)
		if err != nil {
			return nil, err
		}
		g.AddGroup(cg)
	}
	return g, nil
}

func (p *Processor) fillBag(bag *ValuesBag, fd *fieldDocument, name, path string) error {
	if fd == nil {
		return nil
	}
	n := len(fd.SimpleValues) + len(fd.ExcludedSimpleValues) + len(fd.Ranges) +
		len(fd.ExcludedRanges) + len(fd.Comparisons) + len(fd.PatternMatchers)
	if total := bag.Count() + n; total > p.config.Limits.MaxValues {
		return &StructuralError{Err: ErrValuesOverflow, Group: path, Field: name, Max: p.config.Limits.MaxValues, Count: total}
	}

	for _, v := range fd.SimpleValues {
		bag.AddSimpleValue(NewSingleValue(string(v)))
	}
	for _, v := range fd.ExcludedSimpleValues {
		bag.AddExcludedSimpleValue(NewSingleValue(string(v)))
	}
	for _, r := range fd.Ranges {
		bag.AddRange(r.value())
	}
	for _, r := range fd.ExcludedRanges {
		bag.AddExcludedRange(r.value())
	}
	for _, c := range fd.Comparisons {
		bag.AddComparison(NewCompare(CompareOperator(strings.TrimSpace(c.Operator)), string(c.Value)))
	}
	for _, pd := range fd.PatternMatchers {
		kind, exclusive, ok := parsePatternType(pd.Type)
		if !ok {
			return &StructuralError{Err: ErrSyntax, Group: path, Field: name, Msg: fmt.Sprintf("unknown pattern type %q", pd.Type)}
		}
		bag.AddPatternMatch(PatternMatch{Value: pd.Value, Kind: kind, CaseInsensitive: pd.CaseInsensitive, Exclusive: exclusive})
	}
	return nil
}

func (r rangeDocument) value() Range {
	v := NewRange(string(r.Lower), string(r.Upper))
	v.InclusiveLower = boolOr(r.InclusiveLower, true)
	v.InclusiveUpper = boolOr(r.InclusiveUpper, true)
	return v
}
