package sieve

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func generateMongo(t *testing.T, cond *SearchCondition) *MongoCondition {
	t.Helper()
	g := NewMongoGenerator(cond)
	require.NoError(t, g.FieldConfig().MapAll())
	out, err := g.Generate()
	require.NoError(t, err)
	return out
}

func TestMongoGenerator(t *testing.T) {
	fs := userFields()

	tests := []struct {
		name  string
		input string
		want  bson.M
	}{
		{name: "value", input: `id=5;`, want: bson.M{"id": int64(5)}},
		{name: "in", input: `id=1,9;`, want: bson.M{"id": bson.M{"$in": []any{int64(1), int64(9)}}}},
		{name: "not in", input: `name=!a,!b;`, want: bson.M{"name": bson.M{"$nin": []any{"a", "b"}}}},
		{name: "ne", input: `name=!a;`, want: bson.M{"name": bson.M{"$ne": "a"}}},
		{name: "range", input: `id=1-5[;`, want: bson.M{"id": bson.M{"$gte": int64(1), "$lt": int64(5)}}},
		{
			name:  "excluded range",
			input: `id=!1-5;`,
			want: bson.M{"$or": []bson.M{
				{"id": bson.M{"$lt": int64(1)}},
				{"id": bson.M{"$gt": int64(5)}},
			}},
		},
		{
			name:  "comparisons",
			input: `id=>5,<>7;`,
			want: bson.M{"$and": []bson.M{
				{"id": bson.M{"$gt": int64(5)}},
				{"id": bson.M{"$ne": int64(7)}},
			}},
		},
		{
			name:  "starts with",
			input: `name=~i>Jo.n;`,
			want:  bson.M{"name": primitive.Regex{Pattern: `^Jo\.n`, Options: "i"}},
		},
		{
			name:  "not contains",
			input: `name=!~*x;`,
			want:  bson.M{"name": bson.M{"$not": primitive.Regex{Pattern: "x"}}},
		},
		{
			name:  "equals",
			input: `name=~=a+b;`,
			want:  bson.M{"name": primitive.Regex{Pattern: `^a\+b$`}},
		},
		{
			name:  "regex",
			input: `name=~?^a+$;`,
			want:  bson.M{"name": primitive.Regex{Pattern: "^a+$"}},
		},
		{
			name:  "or group",
			input: `*(id=5; status=banned;)`,
			want:  bson.M{"$or": []bson.M{{"id": int64(5)}, {"status": "B"}}},
		},
		{name: "empty", input: `@id=asc;`, want: bson.M{}},
		{
			name:  "date",
			input: `birthday=2024-02-29;`,
			want:  bson.M{"birthday": primitive.NewDateTimeFromTime(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))},
		},
		{name: "version", input: `version=>1.2;`, want: bson.M{"version": bson.M{"$gt": "1.2.0"}}},
		{
			name:  "version range",
			input: `version=1.0-2.0;`,
			want:  bson.M{"version": bson.M{"$gte": "1.0.0", "$lte": "2.0.0"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := generateMongo(t, mustProcess(t, fs, tt.input))
			assert.Equal(t, tt.want, out.Filter)
		})
	}

	t.Run("sort and options", func(t *testing.T) {
		out := generateMongo(t, mustProcess(t, fs, `id=5; @id=desc; @name=asc;`))
		want := bson.D{{Key: "id", Value: -1}, {Key: "name", Value: 1}}
		assert.Equal(t, want, out.Sort)
		assert.Equal(t, want, out.FindOptions().Sort)
	})

	t.Run("pipeline", func(t *testing.T) {
		out := generateMongo(t, mustProcess(t, fs, `id=5; @id=desc;`))
		p := out.Pipeline()
		require.Len(t, p, 2)
		assert.Equal(t, "$match", p[0][0].Key)
		assert.Equal(t, "$sort", p[1][0].Key)

		empty := generateMongo(t, mustProcess(t, fs, `@id=asc;`))
		assert.Len(t, empty.Pipeline(), 1)

		unordered := generateMongo(t, mustProcess(t, fs, `id=5;`))
		assert.Nil(t, unordered.FindOptions().Sort)
	})

	t.Run("uuid", func(t *testing.T) {
		ref := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		out := generateMongo(t, mustProcess(t, userFields().Add("ref", UUIDType{}), `ref=`+ref.String()+`;`))
		assert.Equal(t, bson.M{"ref": primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: ref[:]}}, out.Filter)
	})

	t.Run("filter marshals", func(t *testing.T) {
		out := generateMongo(t, mustProcess(t, fs, `name=~i>jo;`))
		data, err := bson.MarshalExtJSON(out.Filter, false, false)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name": {"$regularExpression": {"pattern": "^jo", "options": "i"}}}`, string(data))
	})
}
