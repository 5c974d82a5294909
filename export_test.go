package sieve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roundTripQuery = `id=1,7,!20,]10-15[,>100; name=~i*ann,!~>bob,"a,b"; status=active,!banned; ` +
	`birthday="2024-01-01"-"2024-01-31"; (version=1.0.0-2.0.0;), *(id=<>3; name=x;) @id=desc; @name=asc;`

func TestExportFilterQuery(t *testing.T) {
	fs := userFields()

	t.Run("values in kind order", func(t *testing.T) {
		cond := mustProcess(t, fs, `name=~i*ann,!~>bob,"a,b";`)
		assert.Equal(t, `name="a,b",~i*ann,!~>bob;`, ExportFilterQuery(cond))
	})

	t.Run("excluded patterns", func(t *testing.T) {
		cond := mustProcess(t, fs, `name=~i*foo,!~>bar,~!<baz;`)
		assert.Equal(t, "name=~i*foo,!~>bar,!~<baz;", ExportFilterQuery(cond))
	})

	t.Run("quoting", func(t *testing.T) {
		cond := mustProcess(t, fs, `name="say ""hi""", "-1", "x;y";`)
		assert.Equal(t, `name="say ""hi""","-1","x;y";`, ExportFilterQuery(cond))
	})

	t.Run("groups and order", func(t *testing.T) {
		cond := mustProcess(t, fs, `*(id=1; name=ann;) @id=desc;`)
		assert.Equal(t, "*(id=1; name=ann;) @id=desc;", ExportFilterQuery(cond))
	})

	t.Run("or root", func(t *testing.T) {
		root := NewValuesGroup(LogicalOr)
		bag := NewValuesBag()
		bag.AddSimpleValue(NewSingleValue("1"))
		root.AddField("id", bag)
		cond := NewSearchCondition(fs, root)
		require.NoError(t, NewPipeline(nil).Process(cond))
		assert.Equal(t, "*(id=1;)", ExportFilterQuery(cond))
	})

	t.Run("choices use labels", func(t *testing.T) {
		cond := mustProcess(t, fs, `status=banned;`)
		assert.Equal(t, "status=banned;", ExportFilterQuery(cond))
	})
}

func TestExportJSON(t *testing.T) {
	fs := userFields()
	cond := mustProcess(t, fs, `id=1,]5-9; @id=desc;`)
	data, err := ExportJSON(cond)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fields": {"id": {"simple-values": ["1"], "ranges": [{"lower": "5", "upper": "9", "inclusive-lower": false}]}},
		"logical-case": "AND",
		"order": [{"field": "id", "direction": "DESC"}]
	}`, string(data))
}

func TestRoundTrip(t *testing.T) {
	fs := userFields()
	proc := NewProcessor(fs, ProcessorConfig{})
	cond := mustProcess(t, fs, roundTripQuery)

	t.Run("filter query", func(t *testing.T) {
		again, err := proc.Process(ExportFilterQuery(cond))
		require.NoError(t, err)
		assert.True(t, cond.Equal(again), ExportFilterQuery(again))
	})

	t.Run("json", func(t *testing.T) {
		data, err := ExportJSON(cond)
		require.NoError(t, err)
		again, err := proc.ProcessJSON(data)
		require.NoError(t, err)
		assert.True(t, cond.Equal(again), ExportFilterQuery(again))
	})

	t.Run("xml", func(t *testing.T) {
		data, err := ExportXML(cond)
		require.NoError(t, err)
		again, err := proc.ProcessXML(data)
		require.NoError(t, err)
		assert.True(t, cond.Equal(again), ExportFilterQuery(again))
	})

	t.Run("differences are detected", func(t *testing.T) {
		other := mustProcess(t, fs, `id=1;`)
		assert.False(t, cond.Equal(other))
		assert.False(t, cond.Equal(nil))

		reordered := mustProcess(t, fs, `id=1; @id=asc;`)
		assert.False(t, other.Equal(reordered))
	})
}

func TestProcessDocuments(t *testing.T) {
	fs := userFields()
	proc := NewProcessor(fs, ProcessorConfig{})

	t.Run("json", func(t *testing.T) {
		cond, err := proc.ProcessJSON([]byte(`{
			"fields": {"id": {"simple-values": [1, "3"], "ranges": [{"lower": 10, "upper": 20, "inclusive-upper": false}]}},
			"groups": [{"logical-case": "OR", "fields": {"name": {"pattern-matchers": [{"type": "NOT_CONTAINS", "value": "x"}]}}}],
			"order": [{"field": "id", "direction": "DESC"}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, "id=1,3,10-20[; *(name=!~*x;) @id=desc;", ExportFilterQuery(cond))
	})

	t.Run("array", func(t *testing.T) {
		cond, err := proc.ProcessArray(map[string]any{
			"fields": map[string]any{
				"status": map[string]any{"simple-values": []any{"active"}},
				"id":     map[string]any{"comparisons": []any{map[string]any{"operator": ">=", "value": 18}}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "status"}, cond.Values().FieldNames())
		assert.Equal(t, "id=>=18; status=active;", ExportFilterQuery(cond))
	})

	t.Run("xml", func(t *testing.T) {
		cond, err := proc.ProcessXML([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<search logical-case="AND">
  <fields>
    <field name="id">
      <simple-values><value>1</value><value>3</value></simple-values>
      <ranges><range inclusive-lower="false"><lower>10</lower><upper>20</upper></range></ranges>
    </field>
    <field name="name">
      <pattern-matchers><pattern-matcher type="STARTS_WITH" case-insensitive="true">jo</pattern-matcher></pattern-matchers>
    </field>
  </fields>
  <order><field name="id" direction="DESC"/></order>
</search>`))
		require.NoError(t, err)
		assert.Equal(t, "id=1,3,]10-20; name=~i>jo; @id=desc;", ExportFilterQuery(cond))
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		cond, err := proc.ProcessJSON([]byte(`{"fields": {"nope": {"simple-values": [1]}, "id": {"simple-values": [2]}}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"id"}, cond.Values().FieldNames())
	})

	errorCases := []struct {
		name  string
		input string
		err   error
	}{
		{name: "object value", input: `{"fields": {"id": {"simple-values": [{"a": 1}]}}}`, err: ErrSyntax},
		{name: "null value", input: `{"fields": {"id": {"simple-values": [null]}}}`, err: ErrSyntax},
		{name: "broken json", input: `{"fields":`, err: ErrSyntax},
		{name: "unknown pattern type", input: `{"fields": {"name": {"pattern-matchers": [{"type": "FUZZY", "value": "x"}]}}}`, err: ErrSyntax},
		{name: "bad logical case", input: `{"logical-case": "XOR"}`, err: ErrSyntax},
		{name: "bad direction", input: `{"order": [{"field": "id", "direction": "UP"}]}`, err: ErrSyntax},
		{name: "invalid value", input: `{"fields": {"id": {"simple-values": ["abc"]}}}`, err: ErrInvalidValue},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proc.ProcessJSON([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err), err.Error())
		})
	}

	t.Run("limits", func(t *testing.T) {
		p := NewProcessor(fs, ProcessorConfig{Limits: Limits{MaxValues: 1, MaxGroups: 1}})
		_, err := p.ProcessJSON([]byte(`{"fields": {"id": {"simple-values": [1, 2]}}}`))
		assert.True(t, errors.Is(err, ErrValuesOverflow))

		_, err = p.ProcessJSON([]byte(`{"groups": [{}, {}]}`))
		assert.True(t, errors.Is(err, ErrGroupsOverflow))
	})

	t.Run("broken xml", func(t *testing.T) {
		_, err := proc.ProcessXML([]byte(`<search><fields>`))
		assert.True(t, errors.Is(err, ErrSyntax))
	})
}
