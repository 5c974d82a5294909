package sieve

import (
	"fmt"
	"regexp"
	"strings"
)

type rawValueKind int

const (
	rawSingle rawValueKind = iota
	rawRange
	rawCompare
	rawPattern
)

type rawValue struct {
	kind     rawValueKind
	excluded bool

	value string

	lower     string
	upper     string
	inclLower bool
	inclUpper bool

	op CompareOperator

	pattern         PatternKind
	caseInsensitive bool

	pos int
}

type rawClause struct {
	label  string
	values []rawValue
	pos    int
}

type rawGroup struct {
	or      bool
	clauses []rawClause
	groups  []*rawGroup
	path    string
}

type rawOrder struct {
	label string
	desc  bool
	pos   int
}

type rawQuery struct {
	root  *rawGroup
	order []rawOrder
}

// fqParser holds the state of one parse call. A new one is created per call
// so processors can be shared.
type fqParser struct {
	input   string
	pos     int
	limits  Limits
	matcher func(label string) *regexp.Regexp
}

var patternKindChars = map[byte]PatternKind{
	'*': PatternContains,
	'>': PatternStartsWith,
	'<': PatternEndsWith,
	'=': PatternEquals,
	'?': PatternRegex,
}

// parseFilterQuery turns FilterQuery text into raw groups. Only structural
// problems are reported here; values are not looked at.
func parseFilterQuery(input string, limits Limits, matcher func(label string) *regexp.Regexp) (*rawQuery, error) {
	if matcher == nil {
		matcher = func(string) *regexp.Regexp { return nil }
	}
	p := &fqParser{input: input, limits: limits.withDefaults(), matcher: matcher}
	q := &rawQuery{root: &rawGroup{}}
	if err := p.parseBody(q, q.root, 0, true); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *fqParser) syntaxError(group string, format string, args ...any) error {
	return &StructuralError{Err: ErrSyntax, Group: group, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *fqParser) eof() bool { return p.pos >= len(p.input) }

func (p *fqParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *fqParser) skipWS() {
	for !p.eof() {
		switch p.input[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *fqParser) parseBody(q *rawQuery, g *rawGroup, depth int, top bool) error {
	for {
		p.skipWS()
		if p.eof() {
			if top {
				return nil
			}
			return p.syntaxError(g.path, "group is not closed, expected ')'")
		}

		switch c := p.peek(); c {
		case ')':
			if top {
				return p.syntaxError(g.path, "unexpected ')'")
			}
			return nil
		case ',':
			p.pos++
		case '*', '(':
			if err := p.parseGroup(q, g, depth); err != nil {
				return err
			}
		case '@':
			if !top {
				return p.syntaxError(g.path, "ordering is only allowed at the top level")
			}
			o, err := p.parseOrder(g.path)
			if err != nil {
				return err
			}
			q.order = append(q.order, o)
		default:
			cl, err := p.parseClause(g.path)
			if err != nil {
				return err
			}
			g.clauses = append(g.clauses, cl)
		}
	}
}

func (p *fqParser) parseGroup(q *rawQuery, parent *rawGroup, depth int) error {
	child := &rawGroup{path: childPath(parent.path, len(parent.groups))}
	if p.peek() == '*' {
		child.or = true
		p.pos++
		p.skipWS()
	}
	if p.peek() != '(' {
		return p.syntaxError(parent.path, "expected '(' after '*'")
	}
	if len(parent.groups)+1 > p.limits.MaxGroups {
		return &StructuralError{Err: ErrGroupsOverflow, Group: parent.path, Max: p.limits.MaxGroups, Count: len(parent.groups) + 1, Pos: p.pos}
	}
	if depth+1 > p.limits.MaxNestingLevel {
		return &StructuralError{Err: ErrNestingOverflow, Group: child.path, Max: p.limits.MaxNestingLevel, Count: depth + 1, Pos: p.pos}
	}
	p.pos++

	if err := p.parseBody(q, child, depth+1, false); err != nil {
		return err
	}
	// parseBody only returns without error on ')'
	p.pos++
	parent.groups = append(parent.groups, child)
	return nil
}

func (p *fqParser) parseLabel(group string) (string, error) {
	start := p.pos
	for !p.eof() {
		switch p.peek() {
		case '=':
			label := strings.TrimSpace(p.input[start:p.pos])
			if label == "" {
				return "", p.syntaxError(group, "missing field label")
			}
			p.pos++
			return label, nil
		case ';', ',', '(', ')', '"':
			return "", p.syntaxError(group, "expected '=' after field label")
		}
		p.pos++
	}
	return "", p.syntaxError(group, "expected '=' after field label")
}

func (p *fqParser) parseOrder(group string) (rawOrder, error) {
	pos := p.pos
	p.pos++ // @
	label, err := p.parseLabel(group)
	if err != nil {
		return rawOrder{}, err
	}
	start := p.pos
	for !p.eof() && p.peek() != ';' {
		p.pos++
	}
	if p.eof() {
		return rawOrder{}, p.syntaxError(group, "ordering of %q must end with ';'", label)
	}
	dir := strings.ToLower(strings.TrimSpace(p.input[start:p.pos]))
	p.pos++
	switch dir {
	case "asc":
		return rawOrder{label: label, pos: pos}, nil
	case "desc":
		return rawOrder{label: label, desc: true, pos: pos}, nil
	}
	return rawOrder{}, p.syntaxError(group, "ordering direction must be asc or desc, got %q", dir)
}

func (p *fqParser) parseClause(group string) (rawClause, error) {
	cl := rawClause{pos: p.pos}
	label, err := p.parseLabel(group)
	if err != nil {
		return cl, err
	}
	cl.label = label
	matcher := p.matcher(label)

	for {
		p.skipWS()
		if p.eof() {
			return cl, p.syntaxError(group, "values of %q must end with ';'", label)
		}
		if p.peek() == ';' {
			p.pos++
			return cl, nil
		}

		v, err := p.parseValue(group, matcher)
		if err != nil {
			return cl, err
		}
		cl.values = append(cl.values, v)

		p.skipWS()
		switch p.peek() {
		case ',':
			p.pos++
		case ';':
			p.pos++
			return cl, nil
		default:
			if p.eof() {
				return cl, p.syntaxError(group, "values of %q must end with ';'", label)
			}
			return cl, p.syntaxError(group, "expected ',' or ';' after value, got %q", p.peek())
		}
	}
}

func (p *fqParser) compareOperator() CompareOperator {
	for _, op := range []CompareOperator{OpHigherOrEqual, OpLowerOrEqual, OpNotEqual, OpLower, OpHigher} {
		if strings.HasPrefix(p.input[p.pos:], string(op)) {
			p.pos += len(op)
			return op
		}
	}
	return ""
}

func (p *fqParser) parseValue(group string, matcher *regexp.Regexp) (rawValue, error) {
	v := rawValue{pos: p.pos}
	if p.peek() == '!' {
		v.excluded = true
		p.pos++
		p.skipWS()
	}

	if p.peek() == '~' {
		p.pos++
		if p.peek() == 'i' {
			v.caseInsensitive = true
			p.pos++
		}
		if p.peek() == '!' {
			v.excluded = true
			p.pos++
		}
		kind, ok := patternKindChars[p.peek()]
		if !ok {
			return v, p.syntaxError(group, "unknown pattern match type %q", p.peek())
		}
		p.pos++
		p.skipWS()
		s, err := p.scalar(group, false, nil)
		if err != nil {
			return v, err
		}
		v.kind, v.pattern, v.value = rawPattern, kind, s
		return v, nil
	}

	if op := p.compareOperator(); op != "" {
		if v.excluded {
			return v, p.syntaxError(group, "a comparison cannot be excluded, use '<>'")
		}
		p.skipWS()
		s, err := p.scalar(group, false, matcher)
		if err != nil {
			return v, err
		}
		v.kind, v.op, v.value = rawCompare, op, s
		return v, nil
	}

	v.inclLower, v.inclUpper = true, true
	marker := false
	switch p.peek() {
	case '[':
		marker = true
		p.pos++
	case ']':
		marker = true
		v.inclLower = false
		p.pos++
	}
	p.skipWS()

	lower, err := p.scalar(group, true, matcher)
	if err != nil {
		return v, err
	}
	p.skipWS()
	if p.peek() != '-' {
		if marker {
			return v, p.syntaxError(group, "range bound marker without a range")
		}
		v.kind, v.value = rawSingle, lower
		return v, nil
	}

	p.pos++
	p.skipWS()
	upper, err := p.scalar(group, true, matcher)
	if err != nil {
		return v, err
	}
	p.skipWS()
	switch p.peek() {
	case ']':
		p.pos++
	case '[':
		v.inclUpper = false
		p.pos++
	}
	v.kind, v.lower, v.upper = rawRange, lower, upper
	return v, nil
}

// scalar reads one quoted or unquoted value. In range mode an unquoted '-'
// that follows other characters ends the value, unless it is covered by the
// field's value matcher.
func (p *fqParser) scalar(group string, rangeMode bool, matcher *regexp.Regexp) (string, error) {
	if p.peek() == '"' {
		p.pos++
		var b strings.Builder
		for {
			if p.eof() {
				return "", p.syntaxError(group, "unterminated quoted value")
			}
			c := p.input[p.pos]
			if c == '"' {
				if p.pos+1 < len(p.input) && p.input[p.pos+1] == '"' {
					b.WriteByte('"')
					p.pos += 2
					continue
				}
				p.pos++
				return b.String(), nil
			}
			b.WriteByte(c)
			p.pos++
		}
	}

	start := p.pos
	if matcher != nil {
		if loc := matcher.FindStringIndex(p.input[p.pos:]); loc != nil && loc[0] == 0 {
			p.pos += loc[1]
		}
	}
scan:
	for !p.eof() {
		switch c := p.input[p.pos]; c {
		case ',', ';', '(', ')', '"':
			break scan
		case '[', ']':
			if rangeMode {
				break scan
			}
		case '-':
			if rangeMode && strings.TrimSpace(p.input[start:p.pos]) != "" {
				break scan
			}
		}
		p.pos++
	}

	s := strings.TrimSpace(p.input[start:p.pos])
	if s == "" {
		return "", p.syntaxError(group, "empty value, use quotes for an empty string")
	}
	return s, nil
}
