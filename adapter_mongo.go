package sieve

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCondition is a compiled MongoDB filter with its sort document.
type MongoCondition struct {
	Filter bson.M
	Sort   bson.D
}

// FindOptions produces FindOptions carrying the sort
func (c *MongoCondition) FindOptions() *options.FindOptions {
	opts := options.Find()
	if len(c.Sort) > 0 {
		opts.SetSort(c.Sort)
	}
	return opts
}

// Pipeline returns an aggregation pipeline with a $match stage for the
// filter and a $sort stage for the ordering, both only when present.
func (c *MongoCondition) Pipeline() mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	if len(c.Filter) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: c.Filter}})
	}
	if len(c.Sort) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: c.Sort}})
	}
	return pipeline
}

type mongoEmitter struct{}

// mongoValue maps the uuid, version and date values to their bson form.
func mongoValue(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: x[:]}
	case *semver.Version:
		if x != nil {
			return x.String()
		}
	case time.Time:
		return primitive.NewDateTimeFromTime(x)
	}
	return v
}

func (mongoEmitter) values(t target, vs []any, exclude bool) (bson.M, error) {
	vs = append([]any(nil), vs...)
	for i, v := range vs {
		vs[i] = mongoValue(v)
	}
	if len(vs) == 1 {
		if exclude {
			return bson.M{t.Locator: bson.M{"$ne": vs[0]}}, nil
		}
		return bson.M{t.Locator: vs[0]}, nil
	}
	if exclude {
		return bson.M{t.Locator: bson.M{"$nin": vs}}, nil
	}
	return bson.M{t.Locator: bson.M{"$in": vs}}, nil
}

func (mongoEmitter) between(t target, r bound, exclude bool) (bson.M, error) {
	r.Lower, r.Upper = mongoValue(r.Lower), mongoValue(r.Upper)
	if exclude {
		lop, uop := "$lt", "$gt"
		if !r.InclusiveLower {
			lop = "$lte"
		}
		if !r.InclusiveUpper {
			uop = "$gte"
		}
		return bson.M{"$or": []bson.M{
			{t.Locator: bson.M{lop: r.Lower}},
			{t.Locator: bson.M{uop: r.Upper}},
		}}, nil
	}
	lop, uop := "$gte", "$lte"
	if !r.InclusiveLower {
		lop = "$gt"
	}
	if !r.InclusiveUpper {
		uop = "$lt"
	}
	return bson.M{t.Locator: bson.M{lop: r.Lower, uop: r.Upper}}, nil
}

var mongoCompareOps = map[CompareOperator]string{
	OpLower:         "$lt",
	OpLowerOrEqual:  "$lte",
	OpHigher:        "$gt",
	OpHigherOrEqual: "$gte",
	OpNotEqual:      "$ne",
}

func (mongoEmitter) compare(t target, op CompareOperator, v any) (bson.M, error) {
	return bson.M{t.Locator: bson.M{mongoCompareOps[op]: mongoValue(v)}}, nil
}

// mongoRegex converts a pattern match into a bson regex. Literal patterns
// are quoted so only the anchors carry meaning.
func mongoRegex(pm PatternMatch) (primitive.Regex, error) {
	quoted := regexp.QuoteMeta(pm.Value)
	var pattern string
	switch pm.Kind {
	case PatternContains:
		pattern = quoted
	case PatternStartsWith:
		pattern = "^" + quoted
	case PatternEndsWith:
		pattern = quoted + "$"
	case PatternEquals:
		pattern = "^" + quoted + "$"
	case PatternRegex:
		pattern = pm.Value
	default:
		return primitive.Regex{}, fmt.Errorf("unknown pattern kind %s", pm.Kind)
	}
	re := primitive.Regex{Pattern: pattern}
	if pm.CaseInsensitive {
		re.Options = "i"
	}
	return re, nil
}

func (mongoEmitter) pattern(t target, pm PatternMatch) (bson.M, error) {
	re, err := mongoRegex(pm)
	if err != nil {
		return nil, &ConfigurationError{Field: t.Field, Msg: err.Error(), Err: ErrUnsupportedPattern}
	}
	if pm.Exclusive {
		return bson.M{t.Locator: bson.M{"$not": re}}, nil
	}
	return bson.M{t.Locator: re}, nil
}

func (mongoEmitter) and(parts []bson.M) bson.M {
	if len(parts) == 1 {
		return parts[0]
	}
	return bson.M{"$and": parts}
}

func (mongoEmitter) or(parts []bson.M) bson.M {
	if len(parts) == 1 {
		return parts[0]
	}
	return bson.M{"$or": parts}
}

// MongoGenerator compiles a condition into a MongoDB filter document.
type MongoGenerator struct {
	base
	result *MongoCondition
	err    error
}

func NewMongoGenerator(cond *SearchCondition, opts ...GeneratorOption) *MongoGenerator {
	o := newGeneratorOptions(cond, opts)
	return &MongoGenerator{base: newBase(cond, o, "mongo")}
}

// Generate compiles the condition. Later calls return the first result.
func (g *MongoGenerator) Generate() (*MongoCondition, error) {
	if !g.begin() {
		return g.result, g.err
	}
	g.result, g.err = g.generate()
	return g.result, g.err
}

func (g *MongoGenerator) generate() (*MongoCondition, error) {
	filter, ok, err := walk[bson.M](&g.base, mongoEmitter{})
	if err != nil {
		return nil, err
	}
	if !ok {
		filter = bson.M{}
	}
	order, err := g.orderTargets()
	if err != nil {
		return nil, err
	}
	out := &MongoCondition{Filter: filter}
	for _, o := range order {
		dir := 1
		if o.Desc {
			dir = -1
		}
		out.Sort = append(out.Sort, bson.E{Key: o.Locator, Value: dir})
	}
	return out, nil
}
