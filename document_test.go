package mongotoy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/gurcuff91/mongotoy"
)

func personType(t *testing.T) *mongotoy.DocumentType {
	t.Helper()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Person",
		mongotoy.String("name", mongotoy.NotNull(), mongotoy.MinLen(1)),
		mongotoy.Int("age", mongotoy.Gte(18)),
		mongotoy.String("role", mongotoy.Default("member"), mongotoy.Choices("member", "admin")),
	))
	require.NoError(t, err)
	return dt
}

func TestNewValidates(t *testing.T) {
	dt := personType(t)

	t.Run("valid data passes", func(t *testing.T) {
		doc, err := dt.New(map[string]any{"name": "Ana", "age": 25})
		require.NoError(t, err)
		assert.Equal(t, int64(25), doc.MustGet("age"))
		assert.Equal(t, "member", doc.MustGet("role"))
		assert.NotNil(t, doc.ID())
	})

	t.Run("constraint fault names the field", func(t *testing.T) {
		_, err := dt.New(map[string]any{"name": "Ana", "age": 17})
		var ve *mongotoy.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, []string{"age"}, ve.Fields())
	})

	t.Run("faults accumulate across fields", func(t *testing.T) {
		_, err := dt.New(map[string]any{"name": "", "age": 10, "role": "owner"})
		var ve *mongotoy.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.ElementsMatch(t, []string{"name", "age", "role"}, ve.Fields())
	})

	t.Run("null on a non-nullable field is a fault", func(t *testing.T) {
		_, err := dt.New(map[string]any{"name": nil, "age": 20})
		var ve *mongotoy.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, []string{"name"}, ve.Fields())
	})
}

func TestUnsetVersusNull(t *testing.T) {
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Note",
		mongotoy.String("title"),
		mongotoy.String("body"),
	))
	require.NoError(t, err)

	doc, err := dt.New(map[string]any{"title": nil})
	require.NoError(t, err)

	v, set := doc.Get("title")
	assert.True(t, set)
	assert.Nil(t, v)

	_, set = doc.Get("body")
	assert.False(t, set)

	t.Run("dict includes unset as nil by default", func(t *testing.T) {
		d := doc.DumpDict()
		assert.Contains(t, d, "body")
		assert.Nil(t, d["body"])
	})

	t.Run("ExcludeEmpty drops unset but keeps explicit null", func(t *testing.T) {
		d := doc.DumpDict(mongotoy.ExcludeEmpty())
		assert.NotContains(t, d, "body")
		assert.Contains(t, d, "title")
	})

	t.Run("ExcludeNull drops explicit null", func(t *testing.T) {
		d := doc.DumpDict(mongotoy.ExcludeEmpty(), mongotoy.ExcludeNull())
		assert.NotContains(t, d, "title")
	})

	t.Run("Unset returns a set field to unset", func(t *testing.T) {
		doc.Unset("title")
		_, set := doc.Get("title")
		assert.False(t, set)
	})
}

func TestSet(t *testing.T) {
	dt := personType(t)
	doc, err := dt.New(map[string]any{"name": "Ana", "age": 30})
	require.NoError(t, err)

	require.NoError(t, doc.Set("age", 40))
	assert.Equal(t, int64(40), doc.MustGet("age"))

	var ve *mongotoy.ValidationError
	require.ErrorAs(t, doc.Set("age", 5), &ve)
	require.ErrorAs(t, doc.Set("name", nil), &ve)

	var se *mongotoy.SchemaError
	require.ErrorAs(t, doc.Set("nope", 1), &se)
}

func TestDumpShapes(t *testing.T) {
	r := mongotoy.NewRegistry()
	_, err := r.Register(mongotoy.NewEmbedded("Address",
		mongotoy.String("street", mongotoy.Alias("st")),
	))
	require.NoError(t, err)

	dt, err := r.Register(mongotoy.NewDocument("Person",
		mongotoy.String("name", mongotoy.Alias("n")),
		mongotoy.Time("joined"),
		mongotoy.Embedded("address", "Address"),
	))
	require.NoError(t, err)

	joined := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc, err := dt.New(map[string]any{
		"name":    "Ana",
		"joined":  joined,
		"address": map[string]any{"street": "Elm"},
	})
	require.NoError(t, err)

	t.Run("dict keys by name with native values", func(t *testing.T) {
		d := doc.DumpDict()
		assert.Equal(t, "Ana", d["name"])
		assert.Equal(t, joined, d["joined"])
		assert.Equal(t, map[string]any{"street": "Elm"}, d["address"])
	})

	t.Run("json serializes times and omits unset", func(t *testing.T) {
		d := doc.DumpJSON()
		assert.Equal(t, joined.Format(time.RFC3339Nano), d["joined"])
	})

	t.Run("bson keys by alias with driver values", func(t *testing.T) {
		d := doc.DumpBSON()
		assert.Equal(t, "Ana", d["n"])
		assert.Equal(t, primitive.NewDateTimeFromTime(joined), d["joined"])
		assert.Equal(t, map[string]any{"st": "Elm"}, d["address"])
		assert.Contains(t, d, "_id")
	})
}

func TestDumpDictRoundTrip(t *testing.T) {
	r := mongotoy.NewRegistry()
	_, err := r.Register(mongotoy.NewEmbedded("Address",
		mongotoy.String("street"),
		mongotoy.String("city"),
	))
	require.NoError(t, err)
	dt, err := r.Register(mongotoy.NewDocument("Person",
		mongotoy.String("name"),
		mongotoy.Int("age"),
		mongotoy.Float("score"),
		mongotoy.Bool("active"),
		mongotoy.Time("born"),
		mongotoy.List("tags", mongotoy.String("tag")),
		mongotoy.Embedded("address", "Address"),
	))
	require.NoError(t, err)

	doc, err := dt.New(map[string]any{
		"name":    "Ana",
		"age":     30,
		"score":   9.5,
		"active":  true,
		"born":    time.Date(1990, 5, 1, 12, 30, 0, 0, time.UTC),
		"tags":    []string{"a", "b"},
		"address": map[string]any{"street": "Elm", "city": "Ames"},
	})
	require.NoError(t, err)

	dump := doc.DumpDict()
	again, err := dt.New(dump)
	require.NoError(t, err)

	assert.Equal(t, doc.ID(), again.ID())
	assert.Equal(t, dump, again.DumpDict())
}

func TestParseAcceptsDriverValues(t *testing.T) {
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Event",
		mongotoy.Time("at"),
	))
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	oid := primitive.NewObjectID()
	doc, err := dt.Parse(map[string]any{
		"_id": oid,
		"at":  primitive.NewDateTimeFromTime(at),
	})
	require.NoError(t, err)
	assert.Equal(t, oid, doc.ID())
	assert.Equal(t, at, doc.MustGet("at"))
}

func TestEmbeddedFaultPaths(t *testing.T) {
	r := mongotoy.NewRegistry()
	_, err := r.Register(mongotoy.NewEmbedded("Address",
		mongotoy.String("street", mongotoy.MinLen(1)),
	))
	require.NoError(t, err)

	dt, err := r.Register(mongotoy.NewDocument("Person",
		mongotoy.Embedded("address", "Address"),
	))
	require.NoError(t, err)

	_, err = dt.New(map[string]any{"address": map[string]any{"street": ""}})
	var ve *mongotoy.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"address.street"}, ve.Fields())
}

func TestListFaultPaths(t *testing.T) {
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Squad",
		mongotoy.List("ages", mongotoy.Int("", mongotoy.Gte(0)), mongotoy.MinItems(1)),
	))
	require.NoError(t, err)

	_, err = dt.New(map[string]any{"ages": []any{5, -1, 7}})
	var ve *mongotoy.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"ages.1"}, ve.Fields())

	_, err = dt.New(map[string]any{"ages": []any{}})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"ages"}, ve.Fields())
}
