package mongotoy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gurcuff91/mongotoy"
	"github.com/gurcuff91/mongotoy/internal/mock"
	"github.com/gurcuff91/mongotoy/pkg/config"
)

func TestNewEngineValidatesDatabaseName(t *testing.T) {
	driver := mock.New()

	for _, name := range []string{"bad/name", `bad\name`, "bad.name", `bad"name`, "bad$name", "bad name", "bad\x00name", ""} {
		_, err := mongotoy.NewEngine(name, mongotoy.WithDriver(driver))
		var ee *mongotoy.EngineError
		require.ErrorAs(t, err, &ee, "name %q", name)
	}

	engine, err := mongotoy.NewEngine("goodname", mongotoy.WithDriver(driver))
	require.NoError(t, err)
	assert.Equal(t, "goodname", engine.Database())
}

func TestNewEngineNeedsDriver(t *testing.T) {
	_, err := mongotoy.NewEngine("db")
	var ee *mongotoy.EngineError
	require.ErrorAs(t, err, &ee)
}

func TestNewEngineFromConfig(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.log")
	cfg := &config.Config{
		URI:            "mock://",
		Database:       "confdb",
		AppName:        "toyapp",
		LogLevel:       "debug",
		LogPath:        path,
		ConnectTimeout: time.Second,
		PingOnConnect:  true,
	}

	engine, err := mongotoy.NewEngineFromConfig(cfg,
		mongotoy.WithDriver(mock.New()),
		mongotoy.WithRegistry(mongotoy.NewRegistry()),
	)
	require.NoError(t, err)
	assert.Equal(t, "confdb", engine.Database())

	require.NoError(t, engine.ConnectFromConfig(ctx))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "engine connected")
	assert.Contains(t, string(content), `"app":"toyapp"`)

	t.Run("invalid log level", func(t *testing.T) {
		bad := &config.Config{Database: "confdb", LogLevel: "chatty"}
		_, err := mongotoy.NewEngineFromConfig(bad, mongotoy.WithDriver(mock.New()))
		var ee *mongotoy.EngineError
		require.ErrorAs(t, err, &ee)
	})

	t.Run("plain engines cannot connect from config", func(t *testing.T) {
		plain, err := mongotoy.NewEngine("plaindb", mongotoy.WithDriver(mock.New()))
		require.NoError(t, err)
		var ee *mongotoy.EngineError
		require.ErrorAs(t, plain.ConnectFromConfig(ctx), &ee)
	})
}

func TestConnectLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, _ := func() (*mongotoy.Engine, *mock.Driver) {
		d := mock.New()
		e, err := mongotoy.NewEngine("db", mongotoy.WithDriver(d))
		require.NoError(t, err)
		return e, d
	}()

	assert.ErrorIs(t, engine.Disconnect(ctx), mongotoy.ErrNotConnected)

	s := engine.Session()
	assert.ErrorIs(t, s.Start(ctx), mongotoy.ErrNotConnected)

	require.NoError(t, engine.Connect(ctx, "mock://", true))
	// idempotent
	require.NoError(t, engine.Connect(ctx, "mock://", true))

	require.NoError(t, engine.Disconnect(ctx))
	assert.ErrorIs(t, engine.Disconnect(ctx), mongotoy.ErrNotConnected)
}

func TestEnsureCollectionOnlyWhenAbsent(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Person"))
	require.NoError(t, err)

	t.Run("provisions absent collections once", func(t *testing.T) {
		engine, driver := newTestEngine(t, r)
		s := startedSession(t, engine)

		for i := 0; i < 3; i++ {
			doc, err := dt.New(nil)
			require.NoError(t, err)
			require.NoError(t, s.Save(ctx, doc, false))
		}
		_, created := driver.Created("persons")
		assert.True(t, created)
	})

	t.Run("existing collections are left untouched", func(t *testing.T) {
		driver := mock.New()
		driver.Preload("persons", bson.M{"_id": "preexisting"})
		engine, err := mongotoy.NewEngine("db", mongotoy.WithDriver(driver), mongotoy.WithRegistry(r))
		require.NoError(t, err)
		require.NoError(t, engine.Connect(ctx, "mock://", false))

		s := engine.Session()
		require.NoError(t, s.Start(ctx))
		defer s.End(ctx) //nolint:errcheck

		doc, err := dt.New(nil)
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, doc, false))

		_, created := driver.Created("persons")
		assert.False(t, created)
		assert.Empty(t, driver.Indexes("persons"))
	})
}

func TestEnsureCollectionPropagatesSpec(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Reading",
		mongotoy.Time("at", mongotoy.TimeField()),
		mongotoy.String("sensor", mongotoy.MetaField(), mongotoy.Index(mongotoy.IndexAsc)),
		mongotoy.Float("value"),
	).WithTimeseries("seconds", time.Hour))
	require.NoError(t, err)

	engine, driver := newTestEngine(t, r)
	s := startedSession(t, engine)

	doc, err := dt.New(map[string]any{"at": time.Now().UTC(), "sensor": "s1", "value": 1.5})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, doc, false))

	spec, created := driver.Created("readings")
	require.True(t, created)
	require.NotNil(t, spec.Timeseries)
	assert.Equal(t, "at", spec.Timeseries.TimeField)
	assert.Equal(t, "sensor", spec.Timeseries.MetaField)
	assert.Equal(t, "seconds", spec.Timeseries.Granularity)

	indexes := driver.Indexes("readings")
	require.Len(t, indexes, 1)
	assert.Equal(t, "sensor", indexes[0].Keys[0].Field)
}

func TestSeedRunsOnce(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Person"))
	require.NoError(t, err)

	engine, driver := newTestEngine(t, r)

	runs := 0
	seed := func(ctx context.Context, s *mongotoy.Session) error {
		runs++
		doc, err := dt.New(nil)
		if err != nil {
			return err
		}
		return s.Save(ctx, doc, false)
	}

	require.NoError(t, engine.Seed(ctx, "initial-people", seed))
	require.NoError(t, engine.Seed(ctx, "initial-people", seed))

	assert.Equal(t, 1, runs)
	assert.Len(t, driver.Records("persons"), 1)
	assert.Len(t, driver.Records("mongotoy.seeds"), 1)

	t.Run("distinct names run independently", func(t *testing.T) {
		require.NoError(t, engine.Seed(ctx, "more-people", seed))
		assert.Equal(t, 2, runs)
	})
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()
	engine, driver := newTestEngine(t, mongotoy.NewRegistry())

	err := engine.WithSession(ctx, func(ctx context.Context, s *mongotoy.Session) error {
		return nil
	})
	require.NoError(t, err)
	require.Len(t, driver.Sessions, 1)
	assert.True(t, driver.Sessions[0].Ended)
}
