package sieve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterQuery(t *testing.T) {
	t.Run("flat clauses", func(t *testing.T) {
		q, err := parseFilterQuery(`id=1,2; name="a,b";`, Limits{}, nil)
		require.NoError(t, err)
		require.Len(t, q.root.clauses, 2)
		assert.Equal(t, "id", q.root.clauses[0].label)
		require.Len(t, q.root.clauses[0].values, 2)
		assert.Equal(t, "2", q.root.clauses[0].values[1].value)
		assert.Equal(t, "a,b", q.root.clauses[1].values[0].value)
	})

	t.Run("value forms", func(t *testing.T) {
		q, err := parseFilterQuery(`f=!x, >=3, <>4, 1-5, ]1-5[, ~i*foo, !~>bar;`, Limits{}, nil)
		require.NoError(t, err)
		vs := q.root.clauses[0].values
		require.Len(t, vs, 7)

		assert.Equal(t, rawSingle, vs[0].kind)
		assert.True(t, vs[0].excluded)

		assert.Equal(t, rawCompare, vs[1].kind)
		assert.Equal(t, OpHigherOrEqual, vs[1].op)
		assert.Equal(t, OpNotEqual, vs[2].op)

		assert.Equal(t, rawRange, vs[3].kind)
		assert.Equal(t, "1", vs[3].lower)
		assert.Equal(t, "5", vs[3].upper)
		assert.True(t, vs[3].inclLower && vs[3].inclUpper)
		assert.False(t, vs[4].inclLower || vs[4].inclUpper)

		assert.Equal(t, rawPattern, vs[5].kind)
		assert.Equal(t, PatternContains, vs[5].pattern)
		assert.True(t, vs[5].caseInsensitive)
		assert.Equal(t, "foo", vs[5].value)
		assert.Equal(t, PatternStartsWith, vs[6].pattern)
		assert.True(t, vs[6].excluded)
	})

	t.Run("quoted values", func(t *testing.T) {
		q, err := parseFilterQuery(`f="say ""hi""", "", "-1";`, Limits{}, nil)
		require.NoError(t, err)
		vs := q.root.clauses[0].values
		require.Len(t, vs, 3)
		assert.Equal(t, `say "hi"`, vs[0].value)
		assert.Equal(t, "", vs[1].value)
		assert.Equal(t, rawSingle, vs[2].kind)
		assert.Equal(t, "-1", vs[2].value)
	})

	t.Run("negative lower bound", func(t *testing.T) {
		q, err := parseFilterQuery(`f=-5-10;`, Limits{}, nil)
		require.NoError(t, err)
		v := q.root.clauses[0].values[0]
		assert.Equal(t, rawRange, v.kind)
		assert.Equal(t, "-5", v.lower)
		assert.Equal(t, "10", v.upper)
	})

	t.Run("groups", func(t *testing.T) {
		q, err := parseFilterQuery(`a=1; (b=2;), *(c=3; (d=4;))`, Limits{}, nil)
		require.NoError(t, err)
		require.Len(t, q.root.groups, 2)
		assert.False(t, q.root.groups[0].or)
		or := q.root.groups[1]
		assert.True(t, or.or)
		assert.Equal(t, "1", or.path)
		require.Len(t, or.groups, 1)
		assert.False(t, or.groups[0].or)
		assert.Equal(t, "1.0", or.groups[0].path)
	})

	t.Run("ordering", func(t *testing.T) {
		q, err := parseFilterQuery(`a=1; @a=desc; @b=ASC;`, Limits{}, nil)
		require.NoError(t, err)
		require.Len(t, q.order, 2)
		assert.True(t, q.order[0].desc)
		assert.False(t, q.order[1].desc)
	})
}

func TestParseFilterQueryErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
		pos   int
	}{
		{name: "unterminated clause", input: `id=1`, err: ErrSyntax, pos: 4},
		{name: "unexpected close", input: `id=1;)`, err: ErrSyntax, pos: 5},
		{name: "unclosed group", input: `(id=1;`, err: ErrSyntax, pos: 6},
		{name: "missing label", input: `=1;`, err: ErrSyntax, pos: 0},
		{name: "unterminated quote", input: `id="1;`, err: ErrSyntax, pos: 6},
		{name: "unknown pattern", input: `id=~x1;`, err: ErrSyntax, pos: 4},
		{name: "excluded comparison", input: `id=!>1;`, err: ErrSyntax, pos: 5},
		{name: "bad direction", input: `@id=up;`, err: ErrSyntax, pos: 7},
		{name: "nested ordering", input: `(@id=asc;)`, err: ErrSyntax, pos: 1},
		{name: "empty value", input: `id=1,,2;`, err: ErrSyntax, pos: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFilterQuery(tt.input, Limits{}, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err))
			var serr *StructuralError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.pos, serr.Pos)
		})
	}
}

func TestParseFilterQueryLimits(t *testing.T) {
	t.Run("groups", func(t *testing.T) {
		_, err := parseFilterQuery(`(a=1;),(a=2;)`, Limits{MaxGroups: 1}, nil)
		assert.True(t, errors.Is(err, ErrGroupsOverflow))
	})

	t.Run("nesting", func(t *testing.T) {
		_, err := parseFilterQuery(`((a=1;))`, Limits{MaxNestingLevel: 1}, nil)
		assert.True(t, errors.Is(err, ErrNestingOverflow))

		_, err = parseFilterQuery(`(a=1;)`, Limits{MaxNestingLevel: 1}, nil)
		assert.NoError(t, err)
	})
}
