package sieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateElasticsearch(t *testing.T, cond *SearchCondition, opts ...GeneratorOption) *ElasticsearchQuery {
	t.Helper()
	g := NewElasticsearchGenerator(cond, opts...)
	require.NoError(t, g.FieldConfig().MapAll())
	out, err := g.Generate()
	require.NoError(t, err)
	return out
}

func TestElasticsearchGenerator(t *testing.T) {
	fs := userFields()

	tests := []struct {
		name  string
		input string
		want  map[string]interface{}
	}{
		{
			name:  "term",
			input: `id=5;`,
			want:  map[string]interface{}{"term": map[string]interface{}{"id": int64(5)}},
		},
		{
			name:  "terms",
			input: `id=1,9;`,
			want:  map[string]interface{}{"terms": map[string]interface{}{"id": []any{int64(1), int64(9)}}},
		},
		{
			name:  "range",
			input: `id=]1-5;`,
			want: map[string]interface{}{"range": map[string]interface{}{
				"id": map[string]interface{}{"gt": int64(1), "lte": int64(5)},
			}},
		},
		{
			name:  "excluded value",
			input: `name=!a;`,
			want: map[string]interface{}{"bool": map[string]interface{}{
				"must_not": map[string]interface{}{"term": map[string]interface{}{"name": "a"}},
			}},
		},
		{
			name:  "comparison",
			input: `id=>=18;`,
			want: map[string]interface{}{"range": map[string]interface{}{
				"id": map[string]interface{}{"gte": int64(18)},
			}},
		},
		{
			name:  "prefix",
			input: `name=~>jo;`,
			want: map[string]interface{}{"prefix": map[string]interface{}{
				"name": map[string]interface{}{"value": "jo"},
			}},
		},
		{
			name:  "wildcard is escaped",
			input: `name=~i*fo*o;`,
			want: map[string]interface{}{"wildcard": map[string]interface{}{
				"name": map[string]interface{}{"value": `*fo\*o*`, "case_insensitive": true},
			}},
		},
		{
			name:  "fields are ANDed",
			input: `id=5; name=ann;`,
			want: map[string]interface{}{"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"id": int64(5)}},
					{"term": map[string]interface{}{"name": "ann"}},
				},
			}},
		},
		{
			name:  "or group",
			input: `*(id=5; status=active;)`,
			want: map[string]interface{}{"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"term": map[string]interface{}{"id": int64(5)}},
					{"term": map[string]interface{}{"status": "A"}},
				},
				"minimum_should_match": 1,
			}},
		},
		{
			name:  "empty",
			input: `@id=asc;`,
			want:  map[string]interface{}{"match_all": map[string]interface{}{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := generateElasticsearch(t, mustProcess(t, fs, tt.input))
			assert.Equal(t, tt.want, out.Query)
		})
	}

	t.Run("sort", func(t *testing.T) {
		out := generateElasticsearch(t, mustProcess(t, fs, `id=5; @id=desc; @name=asc;`))
		assert.Equal(t, []map[string]interface{}{
			{"id": map[string]string{"order": "desc"}},
			{"name": map[string]string{"order": "asc"}},
		}, out.Sort)
	})

	t.Run("json body", func(t *testing.T) {
		out := generateElasticsearch(t, mustProcess(t, fs, `id=5; @id=desc;`))
		js, err := out.SetPagination(0, 10).SetSource("id", "name").JSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"query": {"term": {"id": 5}},
			"sort": [{"id": {"order": "desc"}}],
			"size": 10,
			"_source": ["id", "name"]
		}`, js)

		indented, err := out.JSONIndent()
		require.NoError(t, err)
		assert.JSONEq(t, js, indented)
	})

	t.Run("document paths", func(t *testing.T) {
		g := NewElasticsearchGenerator(mustProcess(t, fs, `name=ann;`))
		require.NoError(t, g.SetField("name", "profile.name.keyword"))
		out, err := g.Generate()
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"term": map[string]interface{}{"profile.name.keyword": "ann"}}, out.Query)
	})
}
