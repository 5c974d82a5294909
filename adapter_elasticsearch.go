package sieve

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ElasticsearchQuery represents the structure of an Elasticsearch search body
type ElasticsearchQuery struct {
	Query  map[string]interface{}   `json:"query"`
	Sort   []map[string]interface{} `json:"sort,omitempty"`
	From   int                      `json:"from,omitempty"`
	Size   int                      `json:"size,omitempty"`
	Source []string                 `json:"_source,omitempty"`
}

// SetPagination sets the from and size parameters
func (q *ElasticsearchQuery) SetPagination(from, size int) *ElasticsearchQuery {
	q.From = from
	q.Size = size
	return q
}

// SetSource sets the _source fields to return
func (q *ElasticsearchQuery) SetSource(fields ...string) *ElasticsearchQuery {
	q.Source = fields
	return q
}

// JSON returns the query as a compact JSON string
func (q *ElasticsearchQuery) JSON() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to marshal Elasticsearch query: %w", err)
	}
	return string(b), nil
}

// JSONIndent returns the query as an indented JSON string
func (q *ElasticsearchQuery) JSONIndent() (string, error) {
	b, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal Elasticsearch query: %w", err)
	}
	return string(b), nil
}

type esEmitter struct{}

func esMustNot(q map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must_not": q,
		},
	}
}

func (esEmitter) values(t target, vs []any, exclude bool) (map[string]interface{}, error) {
	var q map[string]interface{}
	if len(vs) == 1 {
		q = map[string]interface{}{
			"term": map[string]interface{}{
				t.Locator: vs[0],
			},
		}
	} else {
		q = map[string]interface{}{
			"terms": map[string]interface{}{
				t.Locator: vs,
			},
		}
	}
	if exclude {
		return esMustNot(q), nil
	}
	return q, nil
}

func (esEmitter) between(t target, r bound, exclude bool) (map[string]interface{}, error) {
	bounds := map[string]interface{}{}
	if r.InclusiveLower {
		bounds["gte"] = r.Lower
	} else {
		bounds["gt"] = r.Lower
	}
	if r.InclusiveUpper {
		bounds["lte"] = r.Upper
	} else {
		bounds["lt"] = r.Upper
	}
	q := map[string]interface{}{
		"range": map[string]interface{}{
			t.Locator: bounds,
		},
	}
	if exclude {
		return esMustNot(q), nil
	}
	return q, nil
}

var esRangeOps = map[CompareOperator]string{
	OpLower:         "lt",
	OpLowerOrEqual:  "lte",
	OpHigher:        "gt",
	OpHigherOrEqual: "gte",
}

func (esEmitter) compare(t target, op CompareOperator, v any) (map[string]interface{}, error) {
	if op == OpNotEqual {
		return esMustNot(map[string]interface{}{
			"term": map[string]interface{}{
				t.Locator: v,
			},
		}), nil
	}
	return map[string]interface{}{
		"range": map[string]interface{}{
			t.Locator: map[string]interface{}{
				esRangeOps[op]: v,
			},
		},
	}, nil
}

var esWildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func (esEmitter) pattern(t target, pm PatternMatch) (map[string]interface{}, error) {
	leaf := func(kind string, value string) map[string]interface{} {
		params := map[string]interface{}{"value": value}
		if pm.CaseInsensitive {
			params["case_insensitive"] = true
		}
		return map[string]interface{}{
			kind: map[string]interface{}{
				t.Locator: params,
			},
		}
	}
	var q map[string]interface{}
	switch pm.Kind {
	case PatternContains:
		q = leaf("wildcard", "*"+esWildcardEscaper.Replace(pm.Value)+"*")
	case PatternEndsWith:
		q = leaf("wildcard", "*"+esWildcardEscaper.Replace(pm.Value))
	case PatternStartsWith:
		q = leaf("prefix", pm.Value)
	case PatternEquals:
		q = leaf("term", pm.Value)
	case PatternRegex:
		q = leaf("regexp", pm.Value)
	default:
		return nil, &ConfigurationError{Field: t.Field, Msg: fmt.Sprintf("unknown pattern kind %s", pm.Kind), Err: ErrUnsupportedPattern}
	}
	if pm.Exclusive {
		return esMustNot(q), nil
	}
	return q, nil
}

func (esEmitter) and(parts []map[string]interface{}) map[string]interface{} {
	if len(parts) == 1 {
		return parts[0]
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must": parts,
		},
	}
}

func (esEmitter) or(parts []map[string]interface{}) map[string]interface{} {
	if len(parts) == 1 {
		return parts[0]
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               parts,
			"minimum_should_match": 1,
		},
	}
}

// ElasticsearchGenerator compiles a condition into a search body. Values are
// embedded in the document; there are no parameters.
type ElasticsearchGenerator struct {
	base
	result *ElasticsearchQuery
	err    error
}

func NewElasticsearchGenerator(cond *SearchCondition, opts ...GeneratorOption) *ElasticsearchGenerator {
	o := newGeneratorOptions(cond, opts)
	return &ElasticsearchGenerator{base: newBase(cond, o, "elasticsearch")}
}

// Generate compiles the condition. Later calls return the first result.
func (g *ElasticsearchGenerator) Generate() (*ElasticsearchQuery, error) {
	if !g.begin() {
		return g.result, g.err
	}
	g.result, g.err = g.generate()
	return g.result, g.err
}

func (g *ElasticsearchGenerator) generate() (*ElasticsearchQuery, error) {
	q, ok, err := walk[map[string]interface{}](&g.base, esEmitter{})
	if err != nil {
		return nil, err
	}
	if !ok {
		q = map[string]interface{}{
			"match_all": map[string]interface{}{},
		}
	}
	out := &ElasticsearchQuery{Query: q}

	order, err := g.orderTargets()
	if err != nil {
		return nil, err
	}
	for _, o := range order {
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		out.Sort = append(out.Sort, map[string]interface{}{
			o.Locator: map[string]string{
				"order": dir,
			},
		})
	}
	return out, nil
}
