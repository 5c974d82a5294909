package sieve

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
	"go.mongodb.org/mongo-driver/bson"
)

// CacheStore is the storage behind a CachedGenerator. A ttl of zero means no
// expiry.
type CacheStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryCacheStore is a process local CacheStore, safe for concurrent use.
type MemoryCacheStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryCacheStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		delete(s.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

func (s *MemoryCacheStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *MemoryCacheStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// CacheMetrics counts cache lookups by result and times cache misses.
type CacheMetrics struct {
	requests *prometheus.CounterVec
	generate prometheus.Histogram
}

// NewCacheMetrics registers the cache metrics with reg. It panics when they
// are already registered, like promauto.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	f := promauto.With(reg)
	return &CacheMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sieve_cache_requests_total",
				Help: "Total number of cached condition lookups",
			},
			[]string{"result"},
		),
		generate: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sieve_generate_duration_seconds",
				Help:    "Time spent generating conditions on cache misses",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *CacheMetrics) inc(result string) {
	if m != nil {
		m.requests.WithLabelValues(result).Inc()
	}
}

func (m *CacheMetrics) observe(d time.Duration) {
	if m != nil {
		m.generate.Observe(d.Seconds())
	}
}

// Cacheable is what CachedGenerator wraps; all generators of this package
// implement it.
type Cacheable[T any] interface {
	Generate() (T, error)
	Fingerprint() string
	Condition() *SearchCondition
}

// Codec turns a generated condition into cache bytes and back.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// MsgpackCodec stores values with msgpack. Decoded interface values come back
// in their loose form: integers as int64, maps as map[string]interface{}.
type MsgpackCodec[T any] struct{}

func (MsgpackCodec[T]) Encode(v T) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec[T]) Decode(data []byte) (T, error) {
	var v T
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	err := dec.Decode(&v)
	return v, err
}

// SQLCodec stores SQL conditions with msgpack. Parameter values of the
// uuid, version and date types are tagged so they decode to the type the
// generator produced.
type SQLCodec struct{}

const (
	paramKindUUID    = "uuid"
	paramKindVersion = "semver"
	paramKindTime    = "time"
)

type cachedParam struct {
	Name        string `msgpack:"n"`
	StorageType string `msgpack:"s,omitempty"`
	Kind        string `msgpack:"k,omitempty"`
	Value       any    `msgpack:"v"`
}

type cachedSQL struct {
	Predicate   string        `msgpack:"p"`
	Parameters  []cachedParam `msgpack:"a,omitempty"`
	OrderBy     []OrderColumn `msgpack:"o,omitempty"`
	ParamPrefix string        `msgpack:"x"`
}

func (SQLCodec) Encode(v *SQLCondition) ([]byte, error) {
	c := cachedSQL{Predicate: v.Predicate, OrderBy: v.OrderBy, ParamPrefix: v.ParamPrefix}
	for _, p := range v.Parameters {
		cp := cachedParam{Name: p.Name, StorageType: p.StorageType, Value: p.Value}
		switch x := p.Value.(type) {
		case uuid.UUID:
			cp.Kind, cp.Value = paramKindUUID, x.String()
		case *semver.Version:
			if x != nil {
				cp.Kind, cp.Value = paramKindVersion, x.Original()
			}
		case time.Time:
			b, err := x.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			cp.Kind, cp.Value = paramKindTime, b
		}
		c.Parameters = append(c.Parameters, cp)
	}
	return msgpack.Marshal(c)
}

func (SQLCodec) Decode(data []byte) (*SQLCondition, error) {
	c, err := MsgpackCodec[cachedSQL]{}.Decode(data)
	if err != nil {
		return nil, err
	}
	out := &SQLCondition{Predicate: c.Predicate, OrderBy: c.OrderBy, ParamPrefix: c.ParamPrefix}
	for _, cp := range c.Parameters {
		v, err := decodeParam(cp)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", cp.Name, err)
		}
		out.Parameters = append(out.Parameters, Parameter{Name: cp.Name, Value: v, StorageType: cp.StorageType})
	}
	return out, nil
}

func decodeParam(cp cachedParam) (any, error) {
	if cp.Kind == "" {
		return cp.Value, nil
	}
	switch cp.Kind {
	case paramKindUUID:
		s, _ := cp.Value.(string)
		return uuid.Parse(s)
	case paramKindVersion:
		s, _ := cp.Value.(string)
		return semver.NewVersion(s)
	case paramKindTime:
		// loose decoding turns msgpack bin into a string
		var b []byte
		switch x := cp.Value.(type) {
		case string:
			b = []byte(x)
		case []byte:
			b = x
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown parameter kind %q", cp.Kind)
}

// JSONCodec stores values as their JSON encoding. Numbers decode as
// json.Number so the re-encoded body is byte for byte the one first stored.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	err := dec.Decode(&v)
	return v, err
}

// gormCodec caches the SQL form and rebuilds the gorm clause.
type gormCodec struct{}

func (gormCodec) Encode(v *GormCondition) ([]byte, error) {
	return SQLCodec{}.Encode(v.SQL)
}

func (gormCodec) Decode(data []byte) (*GormCondition, error) {
	out, err := SQLCodec{}.Decode(data)
	if err != nil {
		return nil, err
	}
	return newGormCondition(out), nil
}

// mongoCodec uses bson so regex values survive the round trip.
type mongoCodec struct{}

type mongoPayload struct {
	Filter bson.M `bson:"filter"`
	Sort   bson.D `bson:"sort,omitempty"`
}

func (mongoCodec) Encode(v *MongoCondition) ([]byte, error) {
	return bson.Marshal(mongoPayload{Filter: v.Filter, Sort: v.Sort})
}

func (mongoCodec) Decode(data []byte) (*MongoCondition, error) {
	var p mongoPayload
	if err := bson.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Filter == nil {
		p.Filter = bson.M{}
	}
	return &MongoCondition{Filter: p.Filter, Sort: p.Sort}, nil
}

// CachedGenerator memoizes Generate in a CacheStore. The key covers the
// condition, the backend and the mappings; changing a converter
// implementation without changing its type does not invalidate entries.
type CachedGenerator[T any] struct {
	gen     Cacheable[T]
	store   CacheStore
	codec   Codec[T]
	ttl     time.Duration
	metrics *CacheMetrics
	logger  *slog.Logger
}

// CacheOption configures a CachedGenerator.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	metrics *CacheMetrics
	logger  *slog.Logger
}

func WithCacheMetrics(m *CacheMetrics) CacheOption {
	return func(o *cacheOptions) { o.metrics = m }
}

func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(o *cacheOptions) { o.logger = l }
}

// NewCachedGenerator wraps gen with an explicit codec.
func NewCachedGenerator[T any](gen Cacheable[T], store CacheStore, codec Codec[T], ttl time.Duration, opts ...CacheOption) *CachedGenerator[T] {
	var o cacheOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &CachedGenerator[T]{gen: gen, store: store, codec: codec, ttl: ttl, metrics: o.metrics, logger: o.logger}
}

func CacheSQL(gen *SQLGenerator, store CacheStore, ttl time.Duration, opts ...CacheOption) *CachedGenerator[*SQLCondition] {
	return NewCachedGenerator[*SQLCondition](gen, store, SQLCodec{}, ttl, opts...)
}

func CacheElasticsearch(gen *ElasticsearchGenerator, store CacheStore, ttl time.Duration, opts ...CacheOption) *CachedGenerator[*ElasticsearchQuery] {
	return NewCachedGenerator[*ElasticsearchQuery](gen, store, JSONCodec[*ElasticsearchQuery]{}, ttl, opts...)
}

func CacheMongo(gen *MongoGenerator, store CacheStore, ttl time.Duration, opts ...CacheOption) *CachedGenerator[*MongoCondition] {
	return NewCachedGenerator[*MongoCondition](gen, store, mongoCodec{}, ttl, opts...)
}

func CacheGorm(gen *GormGenerator, store CacheStore, ttl time.Duration, opts ...CacheOption) *CachedGenerator[*GormCondition] {
	return NewCachedGenerator[*GormCondition](gen, store, gormCodec{}, ttl, opts...)
}

// parameterBinding is implemented by generators that bind parameters.
type parameterBinding interface {
	parameterBinder() *ParameterBinder
}

// boundParameters is implemented by conditions that carry bound parameters.
type boundParameters interface {
	boundParameters() []Parameter
}

func generatorBinder(gen any) *ParameterBinder {
	if pb, ok := gen.(parameterBinding); ok {
		return pb.parameterBinder()
	}
	return nil
}

// Key returns the cache key of the wrapped generator. A binder shared with
// earlier generators is part of the key, since it decides the parameter names.
func (c *CachedGenerator[T]) Key() (string, error) {
	fp := c.gen.Fingerprint()
	if b := generatorBinder(c.gen); b != nil {
		if st := b.state(); st != "" {
			fp += "|binder=" + st
		}
	}
	return cacheKey(c.gen.Condition(), fp)
}

func cacheKey(cond *SearchCondition, fingerprint string) (string, error) {
	data, err := ExportJSON(cond)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	h := xxh3.New()
	_, _ = h.WriteString(fingerprint)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(data)
	if primary := cond.PrimaryCondition(); primary != nil {
		pdata, err := ExportJSON(NewSearchCondition(cond.FieldSet(), primary))
		if err != nil {
			return "", fmt.Errorf("cache key: %w", err)
		}
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(pdata)
	}
	return fmt.Sprintf("sieve.%016x", h.Sum64()), nil
}

// Generate returns the cached condition, or generates and stores it. Store
// errors are returned; an entry that cannot be decoded is regenerated.
func (c *CachedGenerator[T]) Generate() (T, error) {
	var zero T
	key, err := c.Key()
	if err != nil {
		return zero, err
	}

	data, ok, err := c.store.Get(key)
	if errors.Is(err, ErrCacheMiss) {
		ok, err = false, nil
	}
	if err != nil {
		c.metrics.inc("error")
		return zero, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ok {
		v, derr := c.codec.Decode(data)
		if derr == nil {
			if b := generatorBinder(c.gen); b != nil {
				if bp, ok := any(v).(boundParameters); ok {
					b.restore(bp.boundParameters())
				}
			}
			c.metrics.inc("hit")
			return v, nil
		}
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", derr)
	}
	c.metrics.inc("miss")

	start := time.Now()
	v, err := c.gen.Generate()
	if err != nil {
		return zero, err
	}
	c.metrics.observe(time.Since(start))

	data, err = c.codec.Encode(v)
	if err != nil {
		return zero, fmt.Errorf("cache encode: %w", err)
	}
	if err := c.store.Set(key, data, c.ttl); err != nil {
		c.metrics.inc("error")
		return zero, fmt.Errorf("cache set %s: %w", key, err)
	}
	return v, nil
}

// Invalidate removes the entry of the wrapped generator.
func (c *CachedGenerator[T]) Invalidate() error {
	key, err := c.Key()
	if err != nil {
		return err
	}
	if err := c.store.Delete(key); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// ErrCacheMiss may be returned by stores that report misses as errors;
// CachedGenerator treats it like a plain miss.
var ErrCacheMiss = errors.New("cache miss")
