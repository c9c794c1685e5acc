package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gurcuff91/mongotoy/query"
)

func TestBuilderEquivalence(t *testing.T) {
	fluent := query.Field("age").Gt(21)
	direct := query.Gt("age", 21)
	keyword, err := query.Where(map[string]any{"age__gt": 21})
	require.NoError(t, err)

	assert.Equal(t, direct, fluent)
	assert.Equal(t, direct, keyword)
	assert.Equal(t, query.Compile(direct, nil), query.Compile(keyword, nil))
}

func TestCompileComparison(t *testing.T) {
	tests := []struct {
		name string
		expr query.Expr
		want bson.M
	}{
		{"eq", query.Eq("name", "Ana"), bson.M{"name": bson.M{"$eq": "Ana"}}},
		{"ne", query.Ne("name", "Ana"), bson.M{"name": bson.M{"$ne": "Ana"}}},
		{"gt", query.Gt("age", 21), bson.M{"age": bson.M{"$gt": 21}}},
		{"gte", query.Gte("age", 21), bson.M{"age": bson.M{"$gte": 21}}},
		{"lt", query.Lt("age", 21), bson.M{"age": bson.M{"$lt": 21}}},
		{"lte", query.Lte("age", 21), bson.M{"age": bson.M{"$lte": 21}}},
		{"in", query.In("age", 1, 2), bson.M{"age": bson.M{"$in": []any{1, 2}}}},
		{"nin", query.Nin("age", 1, 2), bson.M{"age": bson.M{"$nin": []any{1, 2}}}},
		{"match", query.Match("name", "^A"), bson.M{"name": bson.M{"$regex": "^A"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, query.Compile(tc.expr, nil))
		})
	}
}

func TestCompileTree(t *testing.T) {
	e := query.And(query.Eq("a", 1), query.Or(query.Eq("b", 2), query.Eq("c", 3)))
	want := bson.M{"$and": bson.A{
		bson.M{"a": bson.M{"$eq": 1}},
		bson.M{"$or": bson.A{
			bson.M{"b": bson.M{"$eq": 2}},
			bson.M{"c": bson.M{"$eq": 3}},
		}},
	}}
	assert.Equal(t, want, query.Compile(e, nil))
}

func TestNotCompilesToNor(t *testing.T) {
	e := query.Not(query.Eq("age", 30))
	want := bson.M{"$nor": bson.A{bson.M{"age": bson.M{"$eq": 30}}}}
	assert.Equal(t, want, query.Compile(e, nil))
}

func TestNilElision(t *testing.T) {
	e := query.Eq("a", 1)
	assert.Equal(t, e, query.And(nil, e))
	assert.Equal(t, e, query.And(e, nil))
	assert.Equal(t, e, query.Or(nil, e))
	assert.Nil(t, query.Not(nil))
	assert.Equal(t, bson.M{}, query.Compile(nil, nil))
}

func TestCompileTranslatesPaths(t *testing.T) {
	translate := func(path string) string {
		if path == "address.street" {
			return "addr.st"
		}
		return path
	}
	got := query.Compile(query.Field("address", "street").Eq("Elm"), translate)
	assert.Equal(t, bson.M{"addr.st": bson.M{"$eq": "Elm"}}, got)
}

func TestFieldRefPaths(t *testing.T) {
	assert.Equal(t, "address.street", query.Field("address", "street").Path())
	assert.Equal(t, "address.street", query.Field("address").At("street").Path())
}

func TestWhere(t *testing.T) {
	t.Run("plain key means equality", func(t *testing.T) {
		e, err := query.Where(map[string]any{"name": "Ana"})
		require.NoError(t, err)
		assert.Equal(t, query.Eq("name", "Ana"), e)
	})

	t.Run("nested path with operator", func(t *testing.T) {
		e, err := query.Where(map[string]any{"address__street": "Elm"})
		require.NoError(t, err)
		assert.Equal(t, query.Eq("address.street", "Elm"), e)
	})

	t.Run("membership coerces typed slices", func(t *testing.T) {
		e, err := query.Where(map[string]any{"age__in": []int{1, 2}})
		require.NoError(t, err)
		assert.Equal(t, query.In("age", 1, 2), e)
	})

	t.Run("membership rejects scalars", func(t *testing.T) {
		_, err := query.Where(map[string]any{"age__in": 5})
		require.Error(t, err)
	})

	t.Run("conditions fold in lexical key order", func(t *testing.T) {
		e, err := query.Where(map[string]any{"b": 2, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, query.And(query.Eq("a", 1), query.Eq("b", 2)), e)
	})

	t.Run("empty field is rejected", func(t *testing.T) {
		_, err := query.Where(map[string]any{"__gt": 5})
		require.Error(t, err)
	})
}

func TestSortThen(t *testing.T) {
	s := query.Desc("age").Then(query.Asc("name"))
	assert.Equal(t, []query.SortKey{
		{Field: "age", Direction: query.Descending},
		{Field: "name", Direction: query.Ascending},
	}, s.Keys())

	t.Run("first occurrence wins", func(t *testing.T) {
		merged := query.Asc("age").Then(query.Desc("age", "name"))
		assert.Equal(t, []query.SortKey{
			{Field: "age", Direction: query.Ascending},
			{Field: "name", Direction: query.Descending},
		}, merged.Keys())
	})

	t.Run("zero value is neutral", func(t *testing.T) {
		var zero query.Sort
		assert.True(t, zero.IsZero())
		assert.Equal(t, query.Asc("a"), zero.Then(query.Asc("a")))
		assert.Equal(t, query.Asc("a"), query.Asc("a").Then(zero))
	})
}

func TestCompileSort(t *testing.T) {
	s := query.Desc("age").Then(query.Asc("name"))
	got := query.CompileSort(s, nil)
	assert.Equal(t, bson.D{
		{Key: "age", Value: int32(-1)},
		{Key: "name", Value: int32(1)},
	}, got)
}
