package sieve

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
)

// countingSQL counts how often the wrapped generator actually runs.
type countingSQL struct {
	*SQLGenerator
	calls int
}

func (c *countingSQL) Generate() (*SQLCondition, error) {
	c.calls++
	return c.SQLGenerator.Generate()
}

func newCountingSQL(t *testing.T, input string, opts ...MappingOption) *countingSQL {
	t.Helper()
	g := NewSQLGenerator(mustProcess(t, userFields(), input))
	require.NoError(t, g.FieldConfig().MapAll(opts...))
	return &countingSQL{SQLGenerator: g}
}

type failingStore struct {
	getErr error
	sets   int
}

func (s *failingStore) Get(string) ([]byte, bool, error) { return nil, false, s.getErr }

func (s *failingStore) Set(string, []byte, time.Duration) error {
	s.sets++
	return nil
}

func (s *failingStore) Delete(string) error { return nil }

func TestCachedGenerator(t *testing.T) {
	const input = `id=1-5,9; name=~i>jo; @id=desc;`

	t.Run("hit after miss", func(t *testing.T) {
		store := NewMemoryCacheStore()
		reg := prometheus.NewRegistry()
		metrics := NewCacheMetrics(reg)

		first := newCountingSQL(t, input)
		out1, err := NewCachedGenerator[*SQLCondition](first, store, MsgpackCodec[*SQLCondition]{}, time.Minute, WithCacheMetrics(metrics)).Generate()
		require.NoError(t, err)
		assert.Equal(t, 1, first.calls)

		second := newCountingSQL(t, input)
		out2, err := NewCachedGenerator[*SQLCondition](second, store, MsgpackCodec[*SQLCondition]{}, time.Minute, WithCacheMetrics(metrics)).Generate()
		require.NoError(t, err)
		assert.Equal(t, 0, second.calls)
		assert.Equal(t, out1, out2)

		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("hit")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("miss")))
		assert.Equal(t, 1, testutil.CollectAndCount(metrics.generate))
	})

	t.Run("keys", func(t *testing.T) {
		key := func(input string, opts ...MappingOption) string {
			k, err := CacheSQL(newCountingSQL(t, input, opts...).SQLGenerator, NewMemoryCacheStore(), 0).Key()
			require.NoError(t, err)
			return k
		}
		k := key(`id=1; name=a;`)
		assert.Regexp(t, `^sieve\.[0-9a-f]{16}$`, k)
		assert.Equal(t, k, key(`name=a; id=1;`))
		assert.NotEqual(t, k, key(`id=2; name=a;`))
		assert.NotEqual(t, k, key(`id=1; name=a;`, WithAlias("u")))

		es := NewElasticsearchGenerator(mustProcess(t, userFields(), `id=1; name=a;`))
		require.NoError(t, es.FieldConfig().MapAll())
		esKey, err := CacheElasticsearch(es, NewMemoryCacheStore(), 0).Key()
		require.NoError(t, err)
		assert.NotEqual(t, k, esKey)
	})

	t.Run("primary condition is part of the key", func(t *testing.T) {
		build := func(tenant string) string {
			cond, err := NewConditionBuilder(userFields(), ProcessorConfig{}).
				Field("name").Values("a").End().
				Done().
				Primary().Field("id").Values(tenant).End().
				Done().
				Build()
			require.NoError(t, err)
			g := NewSQLGenerator(cond)
			require.NoError(t, g.FieldConfig().MapAll())
			k, err := CacheSQL(g, NewMemoryCacheStore(), 0).Key()
			require.NoError(t, err)
			return k
		}
		assert.NotEqual(t, build("1"), build("2"))
	})

	t.Run("undecodable entries are regenerated", func(t *testing.T) {
		store := NewMemoryCacheStore()
		gen := newCountingSQL(t, input)
		cached := CacheSQL(gen.SQLGenerator, store, 0)
		key, err := cached.Key()
		require.NoError(t, err)
		require.NoError(t, store.Set(key, []byte{0xc1}, 0))

		wrapped := NewCachedGenerator[*SQLCondition](gen, store, MsgpackCodec[*SQLCondition]{}, 0)
		out, err := wrapped.Generate()
		require.NoError(t, err)
		assert.Equal(t, 1, gen.calls)
		assert.NotEmpty(t, out.Predicate)

		data, ok, err := store.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEqual(t, []byte{0xc1}, data)
	})

	t.Run("store errors are returned", func(t *testing.T) {
		boom := errors.New("store down")
		reg := prometheus.NewRegistry()
		metrics := NewCacheMetrics(reg)
		gen := newCountingSQL(t, input)
		_, err := NewCachedGenerator[*SQLCondition](gen, &failingStore{getErr: boom}, MsgpackCodec[*SQLCondition]{}, 0, WithCacheMetrics(metrics)).Generate()
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 0, gen.calls)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("error")))
	})

	t.Run("miss errors are misses", func(t *testing.T) {
		store := &failingStore{getErr: ErrCacheMiss}
		gen := newCountingSQL(t, input)
		_, err := NewCachedGenerator[*SQLCondition](gen, store, MsgpackCodec[*SQLCondition]{}, 0).Generate()
		require.NoError(t, err)
		assert.Equal(t, 1, gen.calls)
		assert.Equal(t, 1, store.sets)
	})

	t.Run("generator errors are not cached", func(t *testing.T) {
		store := NewMemoryCacheStore()
		g := NewSQLGenerator(mustProcess(t, userFields(), `id=1;`), WithStrictMapping())
		cached := CacheSQL(g, store, 0)
		_, err := cached.Generate()
		assert.True(t, errors.Is(err, ErrUnknownField))
		assert.Empty(t, store.items)
	})

	t.Run("shared binder", func(t *testing.T) {
		store := NewMemoryCacheStore()
		cachedWith := func(binder *ParameterBinder) *CachedGenerator[*SQLCondition] {
			g := NewSQLGenerator(mustProcess(t, userFields(), `name=a;`), WithParameterBinder(binder))
			require.NoError(t, g.FieldConfig().MapAll())
			return CacheSQL(g, store, 0)
		}

		binder := NewParameterBinder()
		first, err := cachedWith(binder).Generate()
		require.NoError(t, err)
		second, err := cachedWith(binder).Generate()
		require.NoError(t, err)
		assert.Equal(t, "name = :name_0", first.Predicate)
		assert.Equal(t, "name = :name_1", second.Predicate)
		assert.Equal(t, []Parameter{{Name: "name_1", Value: "a"}}, second.Parameters)
		assert.Len(t, binder.Parameters(), 2)

		// a hit still registers its parameters with the binder
		other := NewParameterBinder()
		hit, err := cachedWith(other).Generate()
		require.NoError(t, err)
		assert.Equal(t, first, hit)
		assert.Equal(t, first.Parameters, other.Parameters())
		after := generateSQL(t, mustProcess(t, userFields(), `name=b;`), WithParameterBinder(other))
		assert.Equal(t, "name = :name_1", after.Predicate)
	})

	t.Run("invalidate", func(t *testing.T) {
		store := NewMemoryCacheStore()
		cached := CacheSQL(newCountingSQL(t, input).SQLGenerator, store, 0)
		_, err := cached.Generate()
		require.NoError(t, err)
		key, _ := cached.Key()

		require.NoError(t, cached.Invalidate())
		_, ok, err := store.Get(key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCacheCodecs(t *testing.T) {
	fs := userFields()
	typed := userFields().Add("ref", UUIDType{})
	const typedInput = `ref=6ba7b810-9dad-11d1-80b4-00c04fd430c8; birthday=2024-02-29; version=>1.2; id=7; @birthday=desc;`

	t.Run("sql keeps parameter types", func(t *testing.T) {
		store := NewMemoryCacheStore()
		gen := func() *SQLGenerator {
			g := NewSQLGenerator(mustProcess(t, typed, typedInput))
			require.NoError(t, g.FieldConfig().MapAll(WithStorageType("text")))
			return g
		}
		first, err := CacheSQL(gen(), store, 0).Generate()
		require.NoError(t, err)
		second, err := CacheSQL(gen(), store, 0).Generate()
		require.NoError(t, err)

		require.Len(t, second.Parameters, 4)
		assert.Equal(t, first, second)
		for i, p := range second.Parameters {
			assert.IsType(t, first.Parameters[i].Value, p.Value, p.Name)
			assert.Equal(t, "text", p.StorageType)
		}
		assert.Equal(t, first.String(), second.String())
	})

	t.Run("sql decode errors", func(t *testing.T) {
		data, err := msgpack.Marshal(cachedSQL{Predicate: "id = :id_0", Parameters: []cachedParam{{Name: "id_0", Kind: paramKindUUID, Value: "nope"}}})
		require.NoError(t, err)
		_, err = SQLCodec{}.Decode(data)
		assert.ErrorContains(t, err, "parameter id_0")
	})

	t.Run("elasticsearch keeps the body", func(t *testing.T) {
		store := NewMemoryCacheStore()
		gen := func() *ElasticsearchGenerator {
			g := NewElasticsearchGenerator(mustProcess(t, typed, typedInput))
			require.NoError(t, g.FieldConfig().MapAll())
			return g
		}
		first, err := CacheElasticsearch(gen(), store, 0).Generate()
		require.NoError(t, err)
		second, err := CacheElasticsearch(gen(), store, 0).Generate()
		require.NoError(t, err)

		want, err := first.JSON()
		require.NoError(t, err)
		got, err := second.JSON()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Contains(t, got, `"6ba7b810-9dad-11d1-80b4-00c04fd430c8"`)
		assert.Contains(t, got, `"2024-02-29T00:00:00Z"`)
		assert.Contains(t, got, `"1.2.0"`)
	})

	t.Run("mongo keeps value types", func(t *testing.T) {
		store := NewMemoryCacheStore()
		gen := func() *MongoGenerator {
			g := NewMongoGenerator(mustProcess(t, typed, typedInput))
			require.NoError(t, g.FieldConfig().MapAll())
			return g
		}
		first, err := CacheMongo(gen(), store, 0).Generate()
		require.NoError(t, err)
		second, err := CacheMongo(gen(), store, 0).Generate()
		require.NoError(t, err)

		want, err := bson.MarshalExtJSON(first.Filter, true, false)
		require.NoError(t, err)
		got, err := bson.MarshalExtJSON(second.Filter, true, false)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
		assert.Equal(t, first.Sort, second.Sort)
	})

	t.Run("elasticsearch", func(t *testing.T) {
		store := NewMemoryCacheStore()
		gen := func() *ElasticsearchGenerator {
			g := NewElasticsearchGenerator(mustProcess(t, fs, `id=1,2,9; *(name=~*a; status=active;) @id=desc;`))
			require.NoError(t, g.FieldConfig().MapAll())
			return g
		}
		first, err := CacheElasticsearch(gen(), store, 0).Generate()
		require.NoError(t, err)
		second, err := CacheElasticsearch(gen(), store, 0).Generate()
		require.NoError(t, err)

		want, err := first.JSON()
		require.NoError(t, err)
		got, err := second.JSON()
		require.NoError(t, err)
		assert.JSONEq(t, want, got)
	})

	t.Run("mongo", func(t *testing.T) {
		store := NewMemoryCacheStore()
		gen := func() *MongoGenerator {
			g := NewMongoGenerator(mustProcess(t, fs, `id=5; @id=desc;`))
			require.NoError(t, g.FieldConfig().MapAll())
			return g
		}
		_, err := CacheMongo(gen(), store, 0).Generate()
		require.NoError(t, err)
		got, err := CacheMongo(gen(), store, 0).Generate()
		require.NoError(t, err)
		assert.Equal(t, bson.M{"id": int64(5)}, got.Filter)
		assert.Equal(t, bson.D{{Key: "id", Value: int32(-1)}}, got.Sort)
	})

	t.Run("gorm", func(t *testing.T) {
		db := openTestDB(t)
		seedUsers(t, db)
		store := NewMemoryCacheStore()
		gen := func() *GormGenerator {
			g := NewGormGenerator(mustProcess(t, gormFields(), `age=20-30; @age=asc;`))
			require.NoError(t, g.FieldConfig().MapAll())
			return g
		}
		first, err := CacheGorm(gen(), store, 0).Generate()
		require.NoError(t, err)
		second, err := CacheGorm(gen(), store, 0).Generate()
		require.NoError(t, err)
		assert.Equal(t, first.SQL, second.SQL)
		require.NotNil(t, second.Expr)

		var users []gormUser
		require.NoError(t, second.Apply(db).Find(&users).Error)
		assert.Equal(t, []string{"bob", "ann", "dan"}, names(users))
	})
}

func TestMemoryCacheStore(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewMemoryCacheStore()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set("a", []byte("1"), time.Minute))
	require.NoError(t, store.Set("b", []byte("2"), 0))

	v, ok, err := store.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(time.Minute)
	_, ok, _ = store.Get("a")
	assert.False(t, ok)
	_, ok, _ = store.Get("b")
	assert.True(t, ok)

	require.NoError(t, store.Delete("b"))
	_, ok, _ = store.Get("b")
	assert.False(t, ok)
}

func TestGormCacheStore(t *testing.T) {
	store, err := NewGormCacheStore(openTestDB(t))
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return now }

	t.Run("upsert", func(t *testing.T) {
		require.NoError(t, store.Set("a", []byte("1"), 0))
		require.NoError(t, store.Set("a", []byte("2"), time.Hour))
		v, ok, err := store.Get("a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("2"), v)
	})

	t.Run("missing", func(t *testing.T) {
		_, ok, err := store.Get("nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expiry and purge", func(t *testing.T) {
		require.NoError(t, store.Set("b", []byte("x"), time.Second))
		require.NoError(t, store.Set("c", []byte("y"), 0))
		now = now.Add(2 * time.Second)

		_, ok, err := store.Get("b")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := store.Purge()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, ok, _ = store.Get("a")
		assert.True(t, ok)
		_, ok, _ = store.Get("c")
		assert.True(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete("a"))
		_, ok, err := store.Get("a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("behind a cached generator", func(t *testing.T) {
		gen := newCountingSQL(t, `id=3;`)
		_, err := CacheSQL(gen.SQLGenerator, store, time.Hour).Generate()
		require.NoError(t, err)

		again := newCountingSQL(t, `id=3;`)
		out, err := NewCachedGenerator[*SQLCondition](again, store, MsgpackCodec[*SQLCondition]{}, time.Hour).Generate()
		require.NoError(t, err)
		assert.Equal(t, 0, again.calls)
		assert.Equal(t, "id = :id_0", out.Predicate)
	})
}
