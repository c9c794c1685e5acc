package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMatches(t *testing.T) {
	record := bson.M{
		"name": "Ana",
		"age":  int64(30),
		"addr": bson.M{"st": "Elm"},
	}

	tests := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"empty filter matches", bson.M{}, true},
		{"eq", bson.M{"name": bson.M{"$eq": "Ana"}}, true},
		{"eq mismatch", bson.M{"name": bson.M{"$eq": "Bea"}}, false},
		{"implicit eq", bson.M{"name": "Ana"}, true},
		{"numeric cross-type", bson.M{"age": bson.M{"$gte": 30}}, true},
		{"gt excludes equal", bson.M{"age": bson.M{"$gt": 30}}, false},
		{"ne on absent field", bson.M{"nope": bson.M{"$ne": 1}}, true},
		{"gt on absent field", bson.M{"nope": bson.M{"$gt": 1}}, false},
		{"dotted path", bson.M{"addr.st": bson.M{"$eq": "Elm"}}, true},
		{"in", bson.M{"age": bson.M{"$in": []any{20, 30}}}, true},
		{"nin", bson.M{"age": bson.M{"$nin": []any{20, 30}}}, false},
		{"regex", bson.M{"name": bson.M{"$regex": "^A"}}, true},
		{"and", bson.M{"$and": bson.A{
			bson.M{"name": bson.M{"$eq": "Ana"}},
			bson.M{"age": bson.M{"$lt": 40}},
		}}, true},
		{"or", bson.M{"$or": bson.A{
			bson.M{"name": bson.M{"$eq": "Bea"}},
			bson.M{"age": bson.M{"$eq": 30}},
		}}, true},
		{"nor", bson.M{"$nor": bson.A{
			bson.M{"name": bson.M{"$eq": "Ana"}},
		}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := matches(record, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("unknown operator errors", func(t *testing.T) {
		_, err := matches(record, bson.M{"age": bson.M{"$mod": 2}})
		require.Error(t, err)
	})
}

func TestSortRecords(t *testing.T) {
	records := []bson.M{
		{"name": "Ana", "age": int64(20)},
		{"name": "Bea", "age": int64(30)},
		{"name": "Cai", "age": int64(25)},
	}
	sortRecords(records, bson.D{{Key: "age", Value: int32(-1)}})

	var got []string
	for _, r := range records {
		got = append(got, r["name"].(string))
	}
	assert.Equal(t, []string{"Bea", "Cai", "Ana"}, got)
}
