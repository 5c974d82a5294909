package sieve

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
)

// Processor turns user input into a validated, normalized SearchCondition.
// It keeps no per-call state and may be shared.
type Processor struct {
	fieldSet *FieldSet
	config   ProcessorConfig
	pipeline *Pipeline
}

// NewProcessor returns a processor for fs.
func NewProcessor(fs *FieldSet, cfg ProcessorConfig) *Processor {
	cfg.Limits = cfg.Limits.withDefaults()
	return &Processor{fieldSet: fs, config: cfg, pipeline: NewPipeline(cfg.logger())}
}

// Process handles FilterQuery input.
func (p *Processor) Process(input string) (*SearchCondition, error) {
	q, err := parseFilterQuery(input, p.config.Limits, p.matcherFor)
	if err != nil {
		return nil, err
	}

	root, err := p.buildRawGroup(q.root, false)
	if err != nil {
		return nil, err
	}
	cond := NewSearchCondition(p.fieldSet, root)
	for _, o := range q.order {
		name := p.config.resolveLabel(o.label)
		if !p.fieldSet.Has(name) {
			p.config.logger().Debug("ignoring ordering on unknown field", "label", o.label)
			continue
		}
		if err := cond.AddOrder(name, o.desc); err != nil {
			return nil, err
		}
	}
	return p.finish(cond)
}

// ProcessJSON handles the JSON interchange format.
func (p *Processor) ProcessJSON(data []byte) (*SearchCondition, error) {
	var doc conditionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &StructuralError{Err: ErrSyntax, Msg: fmt.Sprintf("invalid json: %v", err)}
	}
	return p.processDocument(&doc)
}

// ProcessArray handles an already decoded document, e.g. from a request body.
func (p *Processor) ProcessArray(input map[string]any) (*SearchCondition, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, &StructuralError{Err: ErrSyntax, Msg: fmt.Sprintf("invalid array input: %v", err)}
	}
	return p.ProcessJSON(data)
}

// ProcessXML handles the XML interchange format.
func (p *Processor) ProcessXML(data []byte) (*SearchCondition, error) {
	var x xmlSearch
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, &StructuralError{Err: ErrSyntax, Msg: fmt.Sprintf("invalid xml: %v", err)}
	}
	doc := x.document()
	return p.processDocument(&doc)
}

func (p *Processor) processDocument(doc *conditionDocument) (*SearchCondition, error) {
	root, err := p.buildDocument(doc, "", 0)
	if err != nil {
		return nil, err
	}
	cond := NewSearchCondition(p.fieldSet, root)
	for _, o := range doc.Order {
		name := p.config.resolveLabel(o.Field)
		if !p.fieldSet.Has(name) {
			continue
		}
		desc, err := parseDirection(o.Direction)
		if err != nil {
			return nil, &StructuralError{Err: ErrSyntax, Field: name, Msg: err.Error()}
		}
		if err := cond.AddOrder(name, desc); err != nil {
			return nil, err
		}
	}
	return p.finish(cond)
}

// finish runs the semantic stages: required fields first, then the pipeline.
func (p *Processor) finish(cond *SearchCondition) (*SearchCondition, error) {
	if err := checkRequired(cond); err != nil {
		return nil, err
	}
	if err := p.pipeline.Process(cond); err != nil {
		return nil, err
	}
	return cond, nil
}

func (p *Processor) matcherFor(label string) *regexp.Regexp {
	def, ok := p.fieldSet.Get(p.config.resolveLabel(label))
	if !ok {
		return nil
	}
	if m, ok := def.Type.(ValueMatcher); ok {
		return m.ValueMatcher()
	}
	return nil
}

func (p *Processor) buildRawGroup(rg *rawGroup, or bool) (*ValuesGroup, error) {
	op := LogicalAnd
	if or {
		op = LogicalOr
	}
	g := NewValuesGroup(op)

	for _, cl := range rg.clauses {
		name := p.config.resolveLabel(cl.label)
		if !p.fieldSet.Has(name) {
			p.config.logger().Debug("ignoring unknown field", "label", cl.label, "group", rg.path)
			continue
		}
		bag := g.Field(name)
		if bag == nil {
			bag = NewValuesBag()
			g.AddField(name, bag)
		}
		for _, v := range cl.values {
			if err := p.checkValueCount(bag, name, rg.path); err != nil {
				return nil, err
			}
			addRawValue(bag, v)
		}
	}

	for _, child := range rg.groups {
		cg, err := p.buildRawGroup(child, child.or)
		if err != nil {
			return nil, err
		}
		g.AddGroup(cg)
	}
	return g, nil
}

func (p *Processor) checkValueCount(bag *ValuesBag, field, group string) error {
	if n := bag.Count() + 1; n > p.config.Limits.MaxValues {
		return &StructuralError{Err: ErrValuesOverflow, Group: group, Field: field, Max: p.config.Limits.MaxValues, Count: n}
	}
	return nil
}

func addRawValue(bag *ValuesBag, v rawValue) {
	switch v.kind {
	case rawSingle:
		if v.excluded {
			bag.AddExcludedSimpleValue(NewSingleValue(v.value))
		} else {
			bag.AddSimpleValue(NewSingleValue(v.value))
		}
	case rawRange:
		r := NewRange(v.lower, v.upper)
		r.InclusiveLower, r.InclusiveUpper = v.inclLower, v.inclUpper
		if v.excluded {
			bag.AddExcludedRange(r)
		} else {
			bag.AddRange(r)
		}
	case rawCompare:
		bag.AddComparison(NewCompare(v.op, v.value))
	case rawPattern:
		bag.AddPatternMatch(PatternMatch{
			Value:           v.value,
			Kind:            v.pattern,
			CaseInsensitive: v.caseInsensitive,
			Exclusive:       v.excluded,
		})
	}
}

// checkRequired reports the first required field without values. Groups that
// only hold child groups are containers and are not checked themselves.
func checkRequired(cond *SearchCondition) error {
	required := make([]string, 0)
	for _, def := range cond.FieldSet().Fields() {
		if def.Required {
			required = append(required, def.Name)
		}
	}
	if len(required) == 0 {
		return nil
	}
	return walkGroups(cond.Values(), "", func(path string, g *ValuesGroup) error {
		if len(g.FieldNames()) == 0 && g.HasGroups() {
			return nil
		}
		for _, name := range required {
			if bag := g.Field(name); bag == nil || bag.Empty() {
				return &ValidationError{Field: name, Group: path, Err: ErrRequiredField, Message: ErrRequiredField.Error()}
			}
		}
		return nil
	})
}
