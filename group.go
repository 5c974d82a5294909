package sieve

import (
	"fmt"
	"strings"
)

// LogicalOperator combines the fields of one group.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ParseLogicalOperator accepts AND/OR in any case. The empty string means AND.
func ParseLogicalOperator(s string) (LogicalOperator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return LogicalAnd, nil
	case "OR":
		return LogicalOr, nil
	}
	return "", fmt.Errorf("unknown logical operator %q", s)
}

// ValuesGroup is one node of the condition tree. Its own fields combine under
// Operator; child groups are always ANDed into it.
type ValuesGroup struct {
	operator LogicalOperator
	fields   map[string]*ValuesBag
	order    []string
	groups   []*ValuesGroup
}

// NewValuesGroup returns an empty group. An empty operator means AND.
func NewValuesGroup(op LogicalOperator) *ValuesGroup {
	if op == "" {
		op = LogicalAnd
	}
	return &ValuesGroup{operator: op, fields: make(map[string]*ValuesBag)}
}

func (g *ValuesGroup) Operator() LogicalOperator { return g.operator }

func (g *ValuesGroup) SetOperator(op LogicalOperator) { g.operator = op }

// AddField sets the bag of a field, replacing any existing one.
func (g *ValuesGroup) AddField(name string, bag *ValuesBag) {
	if _, ok := g.fields[name]; !ok {
		g.order = append(g.order, name)
	}
	g.fields[name] = bag
}

// Field returns the bag of a field, or nil.
func (g *ValuesGroup) Field(name string) *ValuesBag {
	return g.fields[name]
}

func (g *ValuesGroup) HasField(name string) bool {
	_, ok := g.fields[name]
	return ok
}

func (g *ValuesGroup) RemoveField(name string) {
	if _, ok := g.fields[name]; !ok {
		return
	}
	delete(g.fields, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// FieldNames returns the field names in insertion order.
func (g *ValuesGroup) FieldNames() []string {
	return append([]string(nil), g.order...)
}

func (g *ValuesGroup) AddGroup(child *ValuesGroup) {
	g.groups = append(g.groups, child)
}

func (g *ValuesGroup) Groups() []*ValuesGroup { return g.groups }

func (g *ValuesGroup) HasGroups() bool { return len(g.groups) > 0 }

// Empty reports whether neither the group nor any descendant holds a value.
func (g *ValuesGroup) Empty() bool {
	for _, bag := range g.fields {
		if !bag.Empty() {
			return false
		}
	}
	for _, child := range g.groups {
		if !child.Empty() {
			return false
		}
	}
	return true
}

// HasErrors reports whether any bag in the subtree recorded an error.
func (g *ValuesGroup) HasErrors() bool {
	for _, bag := range g.fields {
		if bag.HasErrors() {
			return true
		}
	}
	for _, child := range g.groups {
		if child.HasErrors() {
			return true
		}
	}
	return false
}

// walkGroups visits g and its descendants depth first. path is the dotted
// position of a group below the root ("" for the root, "1.0" for the first
// child of the second child).
func walkGroups(g *ValuesGroup, path string, fn func(path string, g *ValuesGroup) error) error {
	if err := fn(path, g); err != nil {
		return err
	}
	for i, child := range g.groups {
		if err := walkGroups(child, childPath(path, i), fn); err != nil {
			return err
		}
	}
	return nil
}

func childPath(parent string, i int) string {
	if parent == "" {
		return fmt.Sprint(i)
	}
	return fmt.Sprintf("%s.%d", parent, i)
}
