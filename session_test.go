package mongotoy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurcuff91/mongotoy"
	"github.com/gurcuff91/mongotoy/internal/mock"
)

func newTestEngine(t *testing.T, r *mongotoy.Registry) (*mongotoy.Engine, *mock.Driver) {
	t.Helper()
	driver := mock.New()
	engine, err := mongotoy.NewEngine("testdb",
		mongotoy.WithDriver(driver),
		mongotoy.WithRegistry(r),
	)
	require.NoError(t, err)
	require.NoError(t, engine.Connect(context.Background(), "mock://", true))
	return engine, driver
}

func startedSession(t *testing.T, engine *mongotoy.Engine) *mongotoy.Session {
	t.Helper()
	s := engine.Session()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.End(context.Background()) })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, mongotoy.NewRegistry())

	s := engine.Session()

	var se *mongotoy.SessionError
	require.ErrorAs(t, s.End(ctx), &se)

	require.NoError(t, s.Start(ctx))
	require.ErrorAs(t, s.Start(ctx), &se)

	require.NoError(t, s.End(ctx))
	require.ErrorAs(t, s.End(ctx), &se)
	require.ErrorAs(t, s.Start(ctx), &se)

	t.Run("operations demand a started session", func(t *testing.T) {
		r := mongotoy.NewRegistry()
		dt, err := r.Register(mongotoy.NewDocument("Thing"))
		require.NoError(t, err)
		doc, err := dt.New(nil)
		require.NoError(t, err)

		unstarted := engine.Session()
		require.ErrorAs(t, unstarted.Save(ctx, doc, false), &se)
		require.ErrorAs(t, unstarted.Delete(ctx, doc, false), &se)
		_, err = unstarted.Transaction(ctx)
		require.ErrorAs(t, err, &se)
	})
}

func TestSaveUpsertsByID(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Person",
		mongotoy.String("name"),
	))
	require.NoError(t, err)

	engine, driver := newTestEngine(t, r)
	s := startedSession(t, engine)

	doc, err := dt.New(map[string]any{"name": "Ana"})
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, doc, false))
	require.NoError(t, doc.Set("name", "Anna"))
	require.NoError(t, s.Save(ctx, doc, false))

	records := driver.Records("persons")
	require.Len(t, records, 1)
	assert.Equal(t, "Anna", records[0]["name"])
	assert.Equal(t, 2, driver.Writes("persons"))
}

func TestSaveFillsUnsetID(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Person",
		mongotoy.String("name"),
	))
	require.NoError(t, err)

	engine, driver := newTestEngine(t, r)
	s := startedSession(t, engine)

	doc := dt.Empty()
	require.Nil(t, doc.ID())
	require.NoError(t, s.Save(ctx, doc, false))

	assert.NotNil(t, doc.ID())
	records := driver.Records("persons")
	require.Len(t, records, 1)
	assert.Equal(t, doc.ID(), records[0]["_id"])
}

func TestSaveReferences(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	_, err := r.Register(mongotoy.NewDocument("Owner",
		mongotoy.String("name"),
	))
	require.NoError(t, err)
	petType, err := r.Register(mongotoy.NewDocument("Pet",
		mongotoy.String("name"),
		mongotoy.Ref("owner", "Owner"),
	))
	require.NoError(t, err)
	ownerType, _ := r.Lookup("Owner")

	newPair := func(t *testing.T) *mongotoy.Document {
		owner, err := ownerType.New(map[string]any{"name": "Ana"})
		require.NoError(t, err)
		pet, err := petType.New(map[string]any{"name": "Rex", "owner": owner})
		require.NoError(t, err)
		return pet
	}

	t.Run("without cascade only the root is written", func(t *testing.T) {
		engine, driver := newTestEngine(t, r)
		s := startedSession(t, engine)

		require.NoError(t, s.Save(ctx, newPair(t), false))
		assert.Equal(t, 1, driver.Writes("pets"))
		assert.Equal(t, 0, driver.Writes("owners"))
	})

	t.Run("with cascade the reference is written first", func(t *testing.T) {
		engine, driver := newTestEngine(t, r)
		s := startedSession(t, engine)

		require.NoError(t, s.Save(ctx, newPair(t), true))
		assert.Equal(t, 1, driver.Writes("pets"))
		assert.Equal(t, 1, driver.Writes("owners"))

		// the stored record holds the foreign key only
		records := driver.Records("pets")
		require.Len(t, records, 1)
		owners := driver.Records("owners")
		require.Len(t, owners, 1)
		assert.Equal(t, owners[0]["_id"], records[0]["owner_id"])
	})

	t.Run("shared reference is written once", func(t *testing.T) {
		engine, driver := newTestEngine(t, r)
		s := startedSession(t, engine)

		owner, err := ownerType.New(map[string]any{"name": "Ana"})
		require.NoError(t, err)
		rex, err := petType.New(map[string]any{"name": "Rex", "owner": owner})
		require.NoError(t, err)
		max, err := petType.New(map[string]any{"name": "Max", "owner": owner})
		require.NoError(t, err)

		require.NoError(t, s.SaveAll(ctx, []*mongotoy.Document{rex, max}, true))
		assert.Equal(t, 2, driver.Writes("pets"))
		// one write per distinct instance across the whole call
		assert.Equal(t, 1, driver.Writes("owners"))
		assert.Len(t, driver.Records("owners"), 1)

		require.NoError(t, s.DeleteAll(ctx, []*mongotoy.Document{rex, max}, true))
		assert.Equal(t, 2, driver.Deletes("pets"))
		assert.Equal(t, 1, driver.Deletes("owners"))
	})
}

func TestSaveEmbeddedRejected(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	addrType, err := r.Register(mongotoy.NewEmbedded("Address",
		mongotoy.String("street"),
	))
	require.NoError(t, err)

	engine, _ := newTestEngine(t, r)
	s := startedSession(t, engine)

	doc, err := addrType.New(map[string]any{"street": "Elm"})
	require.NoError(t, err)

	var se *mongotoy.SessionError
	require.ErrorAs(t, s.Save(ctx, doc, false), &se)
	require.ErrorAs(t, s.Delete(ctx, doc, false), &se)
}

func TestDeleteCascade(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	_, err := r.Register(mongotoy.NewDocument("Owner",
		mongotoy.String("name"),
	))
	require.NoError(t, err)
	petType, err := r.Register(mongotoy.NewDocument("Pet",
		mongotoy.String("name"),
		mongotoy.Ref("owner", "Owner"),
	))
	require.NoError(t, err)
	ownerType, _ := r.Lookup("Owner")

	engine, driver := newTestEngine(t, r)
	s := startedSession(t, engine)

	owner, err := ownerType.New(map[string]any{"name": "Ana"})
	require.NoError(t, err)
	pet, err := petType.New(map[string]any{"name": "Rex", "owner": owner})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, pet, true))

	t.Run("without cascade references stay", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, pet, false))
		assert.Len(t, driver.Records("pets"), 0)
		assert.Len(t, driver.Records("owners"), 1)
	})

	t.Run("with cascade references are removed too", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, pet, false))
		require.NoError(t, s.Delete(ctx, pet, true))
		assert.Len(t, driver.Records("pets"), 0)
		assert.Len(t, driver.Records("owners"), 0)
	})
}

func TestTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, driver := newTestEngine(t, mongotoy.NewRegistry())
	s := startedSession(t, engine)

	tx, err := s.Transaction(ctx)
	require.NoError(t, err)

	var se *mongotoy.SessionError
	_, err = s.Transaction(ctx)
	require.ErrorAs(t, err, &se)

	require.NoError(t, tx.Commit(ctx))
	require.ErrorAs(t, tx.Commit(ctx), &se)
	require.ErrorAs(t, tx.Abort(ctx), &se)

	tx2, err := s.Transaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Abort(ctx))
	require.ErrorAs(t, tx2.Commit(ctx), &se)

	require.Len(t, driver.Sessions, 1)
	ds := driver.Sessions[0]
	assert.Equal(t, 2, ds.StartedTx)
	assert.Equal(t, 1, ds.Commits)
	assert.Equal(t, 1, ds.Aborts)
}

func TestEndAbortsActiveTransaction(t *testing.T) {
	ctx := context.Background()
	engine, driver := newTestEngine(t, mongotoy.NewRegistry())

	s := engine.Session()
	require.NoError(t, s.Start(ctx))
	_, err := s.Transaction(ctx)
	require.NoError(t, err)
	require.NoError(t, s.End(ctx))

	require.Len(t, driver.Sessions, 1)
	assert.Equal(t, 1, driver.Sessions[0].Aborts)
	assert.True(t, driver.Sessions[0].Ended)
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	r := mongotoy.NewRegistry()
	dt, err := r.Register(mongotoy.NewDocument("Item"))
	require.NoError(t, err)

	engine, driver := newTestEngine(t, r)

	require.NoError(t, engine.WithTransaction(ctx, func(ctx context.Context, s *mongotoy.Session) error {
		doc, err := dt.New(nil)
		if err != nil {
			return err
		}
		return s.Save(ctx, doc, false)
	}))
	require.Len(t, driver.Sessions, 1)
	assert.Equal(t, 1, driver.Sessions[0].Commits)

	sentinel := assert.AnError
	err = engine.WithTransaction(ctx, func(ctx context.Context, s *mongotoy.Session) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Len(t, driver.Sessions, 2)
	assert.Equal(t, 1, driver.Sessions[1].Aborts)
	assert.Equal(t, 0, driver.Sessions[1].Commits)
}
