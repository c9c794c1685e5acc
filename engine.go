package mongotoy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gurcuff91/mongotoy/pkg/config"
	"github.com/gurcuff91/mongotoy/pkg/logger"
	"github.com/gurcuff91/mongotoy/query"
)

// forbidden characters in a database name, checked at construction.
const forbiddenDatabaseChars = "/\\.\"$ \x00"

// Engine binds a driver, a schema registry and one database name, and
// hands out sessions. Pure operations (registration, validation, expression
// building) never touch it; everything that crosses into the driver does.
// Safe for concurrent use once connected.
type Engine struct {
	database string
	driver   Driver
	registry *Registry
	log      zerolog.Logger
	cfg      *config.Config

	mu          sync.Mutex
	connected   bool
	collections map[string]bool
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithDriver sets the database collaborator.
func WithDriver(d Driver) EngineOption { return func(e *Engine) { e.driver = d } }

// WithRegistry sets the schema registry; DefaultRegistry otherwise.
func WithRegistry(r *Registry) EngineOption { return func(e *Engine) { e.registry = r } }

// WithLogger sets the engine logger; disabled otherwise.
func WithLogger(log zerolog.Logger) EngineOption { return func(e *Engine) { e.log = log } }

// NewEngine validates the database name and builds an engine. A driver must
// be supplied with WithDriver before Connect.
func NewEngine(database string, opts ...EngineOption) (*Engine, error) {
	var bad []string
	for _, c := range forbiddenDatabaseChars {
		if strings.ContainsRune(database, c) {
			bad = append(bad, string(c))
		}
	}
	if len(bad) > 0 {
		return nil, &EngineError{Reason: fmt.Sprintf("database name cannot contain: %s", strings.Join(bad, " "))}
	}
	if database == "" {
		return nil, &EngineError{Reason: "database name cannot be empty"}
	}

	e := &Engine{
		database:    database,
		registry:    DefaultRegistry,
		log:         zerolog.Nop(),
		collections: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.driver == nil {
		return nil, &EngineError{Reason: "engine needs a driver, use WithDriver"}
	}
	return e, nil
}

// NewEngineFromConfig builds an engine from loaded settings: the database
// name comes from the config and the logger is assembled from the
// configured level and path. Explicit options are applied afterwards and
// take precedence.
func NewEngineFromConfig(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	level := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, &EngineError{Reason: fmt.Sprintf("invalid log level %q", cfg.LogLevel)}
		}
		level = parsed
	}
	build := logger.New().WithLevel(level)
	if cfg.LogPath != "" {
		build = build.FromPath(cfg.LogPath)
	}
	logData, err := build.Make()
	if err != nil {
		return nil, err
	}
	log := logData.Logger
	if cfg.AppName != "" {
		log = log.With().Str("app", cfg.AppName).Logger()
	}
	e, err := NewEngine(cfg.Database, append([]EngineOption{WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	return e, nil
}

func (e *Engine) Database() string    { return e.database }
func (e *Engine) Registry() *Registry { return e.registry }

// Connect establishes the driver connection, optionally pings the server,
// and caches the names of existing collections. Calling it once is enough.
func (e *Engine) Connect(ctx context.Context, uri string, ping bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}
	if err := e.driver.Connect(ctx, uri); err != nil {
		return err
	}
	if ping {
		if err := e.driver.Ping(ctx); err != nil {
			return err
		}
	}
	names, err := e.driver.ListCollections(ctx, e.database)
	if err != nil {
		return err
	}
	for _, name := range names {
		e.collections[name] = true
	}
	e.connected = true
	e.log.Debug().Str("database", e.database).Int("collections", len(names)).Msg("engine connected")
	return nil
}

// ConnectFromConfig connects with the configured URI, ping flag and connect
// timeout. The engine must have been built with NewEngineFromConfig.
func (e *Engine) ConnectFromConfig(ctx context.Context) error {
	if e.cfg == nil {
		return &EngineError{Reason: "engine was not built from a config"}
	}
	if e.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ConnectTimeout)
		defer cancel()
	}
	return e.Connect(ctx, e.cfg.URI, e.cfg.PingOnConnect)
}

// Disconnect tears the driver connection down.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrNotConnected
	}
	e.connected = false
	return e.driver.Disconnect(ctx)
}

func (e *Engine) checkConnected() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrNotConnected
	}
	return nil
}

// Session creates an unstarted session bound to this engine.
func (e *Engine) Session() *Session {
	return &Session{engine: e}
}

// WithSession runs fn inside a started session and ends it afterwards.
func (e *Engine) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s := e.Session()
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.End(ctx) //nolint:errcheck // best-effort cleanup after fn's error
	return fn(ctx, s)
}

// WithTransaction runs fn inside a transaction on a fresh session,
// committing on success and aborting on error. Abort is the only rollback
// mechanism for partially applied multi-document writes.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	return e.WithSession(ctx, func(ctx context.Context, s *Session) error {
		tx, err := s.Transaction(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, s); err != nil {
			if abortErr := tx.Abort(ctx); abortErr != nil {
				return fmt.Errorf("%w (abort failed: %v)", err, abortErr)
			}
			return err
		}
		return tx.Commit(ctx)
	})
}

// ensureCollection provisions the collection and indexes of a document type
// the first time it is written or queried. Existing collections are left
// untouched: migrations apply only to absent collections.
func (e *Engine) ensureCollection(ctx context.Context, dt *DocumentType) error {
	if dt.embedded {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrNotConnected
	}
	if e.collections[dt.collection] {
		return nil
	}

	spec := CollectionSpec{Name: dt.collection, Capped: dt.capped, Timeseries: dt.timeseries}
	if err := e.driver.CreateCollection(ctx, e.database, spec); err != nil {
		return err
	}
	if indexes := dt.Indexes(); len(indexes) > 0 {
		if err := e.driver.EnsureIndexes(ctx, e.database, dt.collectionRef(), indexes); err != nil {
			return err
		}
	}
	e.collections[dt.collection] = true
	e.log.Debug().Str("collection", dt.collection).Str("type", dt.name).Msg("collection provisioned")
	return nil
}

// --------------------------------------------------
// Seeding
// --------------------------------------------------

const seedCollection = "mongotoy.seeds"

var (
	seedSchemaOnce sync.Once
	seedSchema     *Schema
)

// seedType registers the bookkeeping document type that records which seed
// functions already ran. It persists through the ordinary save path.
func (e *Engine) seedType() (*DocumentType, error) {
	seedSchemaOnce.Do(func() {
		seedSchema = NewDocument("SeedRun",
			String("name", NotNull(), Unique()),
			Time("appliedAt", NotNull()),
		).WithCollection(seedCollection)
	})
	return e.registry.Register(seedSchema)
}

// Seed runs fn exactly once ever for the given name: executed seeds are
// recorded in a dedicated collection and checked before running. The check
// and the record share the session fn runs on, so wrapping Seed calls in a
// transaction makes the run-and-record atomic.
func (e *Engine) Seed(ctx context.Context, name string, fn func(ctx context.Context, s *Session) error) error {
	dt, err := e.seedType()
	if err != nil {
		return err
	}
	return e.WithSession(ctx, func(ctx context.Context, s *Session) error {
		n, err := s.Objects(dt).Filter(query.Eq("name", name)).Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			e.log.Debug().Str("seed", name).Msg("seed already applied, skipping")
			return nil
		}
		if err := fn(ctx, s); err != nil {
			return err
		}
		record, err := dt.New(map[string]any{"name": name, "appliedAt": time.Now().UTC()})
		if err != nil {
			return err
		}
		e.log.Info().Str("seed", name).Msg("seed applied")
		return s.Save(ctx, record, false)
	})
}
