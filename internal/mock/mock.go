// Package mock is an in-memory database driver used by tests: it stores
// records per collection, evaluates compiled filters, and counts every
// operation so tests can assert exactly which writes happened.
package mock

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gurcuff91/mongotoy"
)

// Driver keeps every collection as a slice of records. Create with New;
// safe for concurrent use.
type Driver struct {
	mu          sync.Mutex
	connected   bool
	collections map[string][]bson.M
	created     map[string]mongotoy.CollectionSpec
	indexes     map[string][]mongotoy.IndexSpec

	finds   map[string]int
	counts  map[string]int
	writes  map[string]int
	deletes map[string]int

	Sessions []*Session
}

func New() *Driver {
	return &Driver{
		collections: map[string][]bson.M{},
		created:     map[string]mongotoy.CollectionSpec{},
		indexes:     map[string][]mongotoy.IndexSpec{},
		finds:       map[string]int{},
		counts:      map[string]int{},
		writes:      map[string]int{},
		deletes:     map[string]int{},
	}
}

var _ mongotoy.Driver = (*Driver)(nil)

func (d *Driver) Connect(ctx context.Context, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return errors.New("mock: not connected")
	}
	d.connected = false
	return nil
}

func (d *Driver) Ping(ctx context.Context) error { return nil }

func (d *Driver) ListCollections(ctx context.Context, database string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) CreateCollection(ctx context.Context, database string, spec mongotoy.CollectionSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.created[spec.Name]; ok {
		return errors.New("mock: collection already exists: " + spec.Name)
	}
	d.created[spec.Name] = spec
	if _, ok := d.collections[spec.Name]; !ok {
		d.collections[spec.Name] = nil
	}
	return nil
}

func (d *Driver) EnsureIndexes(ctx context.Context, database string, coll mongotoy.CollectionRef, indexes []mongotoy.IndexSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indexes[coll.Name] = append(d.indexes[coll.Name], indexes...)
	return nil
}

func (d *Driver) Find(ctx context.Context, database string, coll mongotoy.CollectionRef, spec mongotoy.FindSpec) (mongotoy.Cursor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds[coll.Name]++

	var matched []bson.M
	for _, record := range d.collections[coll.Name] {
		ok, err := matches(record, spec.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, record)
		}
	}
	sortRecords(matched, spec.Sort)
	if spec.Skip > 0 {
		if spec.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[spec.Skip:]
		}
	}
	if spec.Limit > 0 && spec.Limit < int64(len(matched)) {
		matched = matched[:spec.Limit]
	}

	out := make([]bson.M, len(matched))
	for i, record := range matched {
		out[i] = copyRecord(record)
	}
	return &cursor{records: out, pos: -1}, nil
}

func (d *Driver) Count(ctx context.Context, database string, coll mongotoy.CollectionRef, filter bson.M) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[coll.Name]++
	var n int64
	for _, record := range d.collections[coll.Name] {
		ok, err := matches(record, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (d *Driver) InsertOne(ctx context.Context, database string, coll mongotoy.CollectionRef, record bson.M) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes[coll.Name]++
	d.collections[coll.Name] = append(d.collections[coll.Name], copyRecord(record))
	return nil
}

func (d *Driver) ReplaceOne(ctx context.Context, database string, coll mongotoy.CollectionRef, filter, record bson.M, upsert bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes[coll.Name]++
	records := d.collections[coll.Name]
	for i, existing := range records {
		ok, err := matches(existing, filter)
		if err != nil {
			return err
		}
		if ok {
			records[i] = copyRecord(record)
			return nil
		}
	}
	if upsert {
		d.collections[coll.Name] = append(records, copyRecord(record))
	}
	return nil
}

func (d *Driver) DeleteOne(ctx context.Context, database string, coll mongotoy.CollectionRef, filter bson.M) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes[coll.Name]++
	records := d.collections[coll.Name]
	for i, existing := range records {
		ok, err := matches(existing, filter)
		if err != nil {
			return err
		}
		if ok {
			d.collections[coll.Name] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return nil
}

// --------------------------------------------------
// Introspection for tests
// --------------------------------------------------

func (d *Driver) Finds(coll string) int   { d.mu.Lock(); defer d.mu.Unlock(); return d.finds[coll] }
func (d *Driver) Writes(coll string) int  { d.mu.Lock(); defer d.mu.Unlock(); return d.writes[coll] }
func (d *Driver) Deletes(coll string) int { d.mu.Lock(); defer d.mu.Unlock(); return d.deletes[coll] }

// Records returns a copy of a collection's current contents in insertion
// order.
func (d *Driver) Records(coll string) []bson.M {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bson.M, len(d.collections[coll]))
	for i, record := range d.collections[coll] {
		out[i] = copyRecord(record)
	}
	return out
}

// Created reports whether CreateCollection ran for the name and with what
// spec.
func (d *Driver) Created(coll string) (mongotoy.CollectionSpec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	spec, ok := d.created[coll]
	return spec, ok
}

// Indexes returns every index spec handed to EnsureIndexes for the name.
func (d *Driver) Indexes(coll string) []mongotoy.IndexSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]mongotoy.IndexSpec(nil), d.indexes[coll]...)
}

// Preload seeds a collection with records directly, bypassing counters.
func (d *Driver) Preload(coll string, records ...bson.M) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, record := range records {
		d.collections[coll] = append(d.collections[coll], copyRecord(record))
	}
}

func copyRecord(record bson.M) bson.M {
	out := make(bson.M, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

// --------------------------------------------------
// Cursor and session
// --------------------------------------------------

type cursor struct {
	records []bson.M
	pos     int
	closed  bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.pos+1 >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Decode(out *bson.M) error {
	if c.pos < 0 || c.pos >= len(c.records) {
		return errors.New("mock: cursor is not positioned on a record")
	}
	*out = c.records[c.pos]
	return nil
}

func (c *cursor) Err() error { return nil }

func (c *cursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

// Session records transaction transitions so tests can assert on them.
type Session struct {
	StartedTx int
	Commits   int
	Aborts    int
	Ended     bool
}

func (d *Driver) StartSession(ctx context.Context) (mongotoy.DriverSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, errors.New("mock: not connected")
	}
	s := &Session{}
	d.Sessions = append(d.Sessions, s)
	return s, nil
}

func (s *Session) Context(ctx context.Context) context.Context { return ctx }

func (s *Session) StartTransaction(ctx context.Context) error {
	s.StartedTx++
	return nil
}

func (s *Session) CommitTransaction(ctx context.Context) error {
	s.Commits++
	return nil
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	s.Aborts++
	return nil
}

func (s *Session) End(ctx context.Context) { s.Ended = true }
