package mongotoy

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gurcuff91/mongotoy/query"
)

// QuerySet is an immutable description of one query over a document type.
// Refinement methods return a modified copy, so a base set can be shared
// and branched freely; nothing touches the database until a terminal
// method runs.
type QuerySet struct {
	session *Session
	dt      *DocumentType

	filter query.Expr
	sort   query.Sort
	skip   int64
	limit  int64
	depth  int
}

// Filter returns a copy narrowed by the conjunction of the given
// expressions and any previously accumulated filter.
func (q QuerySet) Filter(exprs ...query.Expr) QuerySet {
	for _, e := range exprs {
		q.filter = query.And(q.filter, e)
	}
	return q
}

// Sort returns a copy with the given keys appended after any previously
// accumulated ones; earlier calls keep precedence.
func (q QuerySet) Sort(s query.Sort) QuerySet {
	q.sort = q.sort.Then(s)
	return q
}

// Skip returns a copy that discards the first n matches.
func (q QuerySet) Skip(n int64) QuerySet {
	q.skip = n
	return q
}

// Limit returns a copy capped at n results; 0 means unbounded.
func (q QuerySet) Limit(n int64) QuerySet {
	q.limit = n
	return q
}

// Dereference returns a copy whose results have their stored references
// resolved into materialized documents, depth levels deep. Depth -1 means
// unbounded; the default 0 leaves raw keys in place.
func (q QuerySet) Dereference(depth int) QuerySet {
	q.depth = depth
	return q
}

func (q QuerySet) compileFind() FindSpec {
	return FindSpec{
		Filter: query.Compile(q.filter, q.dt.AliasPath),
		Sort:   query.CompileSort(q.sort, q.dt.AliasPath),
		Skip:   q.skip,
		Limit:  q.limit,
	}
}

func (q QuerySet) fetch(ctx context.Context, spec FindSpec) ([]*Document, error) {
	if err := q.session.active("find"); err != nil {
		return nil, err
	}
	if q.dt.embedded {
		return nil, schemaErrorf(q.dt.name, "embedded documents have no collection to query")
	}
	if err := q.session.engine.ensureCollection(ctx, q.dt); err != nil {
		return nil, err
	}
	cur, err := q.session.engine.driver.Find(q.session.context(ctx), q.session.engine.database, q.dt.collectionRef(), spec)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx) //nolint:errcheck // read errors surface through Err

	var docs []*Document
	for cur.Next(ctx) {
		var record bson.M
		if err := cur.Decode(&record); err != nil {
			return nil, err
		}
		doc, err := q.dt.Parse(record)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	if q.depth != 0 {
		seen := map[string]*Document{}
		for _, doc := range docs {
			if err := q.session.dereference(ctx, doc, q.depth, seen); err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}

// All materializes every match in sort order.
func (q QuerySet) All(ctx context.Context) ([]*Document, error) {
	return q.fetch(ctx, q.compileFind())
}

// One returns the single match. No match is ErrNoResult; more than one is
// ErrManyResults.
func (q QuerySet) One(ctx context.Context) (*Document, error) {
	spec := q.compileFind()
	spec.Limit = 2
	docs, err := q.fetch(ctx, spec)
	if err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, ErrNoResult
	case 1:
		return docs[0], nil
	}
	return nil, ErrManyResults
}

// OneOrNone returns the single match, or nil without error when there is
// none. More than one match is still ErrManyResults.
func (q QuerySet) OneOrNone(ctx context.Context) (*Document, error) {
	doc, err := q.One(ctx)
	if errors.Is(err, ErrNoResult) {
		return nil, nil
	}
	return doc, err
}

// GetByID returns the document whose id equals value, or ErrNoResult.
func (q QuerySet) GetByID(ctx context.Context, value any) (*Document, error) {
	if q.dt.idField == nil {
		return nil, schemaErrorf(q.dt.name, "document type has no id field")
	}
	return q.Filter(query.Eq(q.dt.idField.Name(), value)).One(ctx)
}

// Count returns the number of matches. Skip and limit do not apply; the
// count covers the whole filtered set.
func (q QuerySet) Count(ctx context.Context) (int64, error) {
	if err := q.session.active("count"); err != nil {
		return 0, err
	}
	if q.dt.embedded {
		return 0, schemaErrorf(q.dt.name, "embedded documents have no collection to query")
	}
	if err := q.session.engine.ensureCollection(ctx, q.dt); err != nil {
		return 0, err
	}
	filter := query.Compile(q.filter, q.dt.AliasPath)
	return q.session.engine.driver.Count(q.session.context(ctx), q.session.engine.database, q.dt.collectionRef(), filter)
}

// Create builds, validates and inserts a new document in one step,
// returning the materialized instance. The document is known to be new, so
// the write is a plain insert rather than the save path's upsert.
func (q QuerySet) Create(ctx context.Context, data map[string]any) (*Document, error) {
	if err := q.session.active("create"); err != nil {
		return nil, err
	}
	doc, err := q.dt.New(data)
	if err != nil {
		return nil, err
	}
	if err := q.session.insert(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Iter opens a lazy iterator over the matches. The iterator is restartable:
// after exhaustion, the next Next call re-runs the query from the start.
func (q QuerySet) Iter() *Iterator {
	return &Iterator{qs: q}
}

// Iterator walks query matches one document at a time without materializing
// the whole result. Not safe for concurrent use.
type Iterator struct {
	qs   QuerySet
	cur  Cursor
	doc  *Document
	seen map[string]*Document
	err  error
	done bool
}

// Next advances to the next match, opening (or re-opening) the cursor as
// needed. It returns false on exhaustion or error; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.cur == nil {
		if it.done {
			// restart from scratch
			it.done = false
		}
		if err := it.open(ctx); err != nil {
			it.err = err
			return false
		}
	}
	if !it.cur.Next(ctx) {
		it.err = it.cur.Err()
		it.cur.Close(ctx) //nolint:errcheck
		it.cur = nil
		it.done = true
		return false
	}
	var record bson.M
	if err := it.cur.Decode(&record); err != nil {
		it.err = err
		return false
	}
	doc, err := it.qs.dt.Parse(record)
	if err != nil {
		it.err = err
		return false
	}
	if it.qs.depth != 0 {
		if err := it.qs.session.dereference(ctx, doc, it.qs.depth, it.seen); err != nil {
			it.err = err
			return false
		}
	}
	it.doc = doc
	return true
}

// Document returns the match the last successful Next produced.
func (it *Iterator) Document() *Document { return it.doc }

// Err reports the first failure encountered while iterating.
func (it *Iterator) Err() error { return it.err }

// Close releases the underlying cursor early.
func (it *Iterator) Close(ctx context.Context) error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.Close(ctx)
	it.cur = nil
	it.done = true
	return err
}

func (it *Iterator) open(ctx context.Context) error {
	q := it.qs
	if err := q.session.active("find"); err != nil {
		return err
	}
	if q.dt.embedded {
		return schemaErrorf(q.dt.name, "embedded documents have no collection to query")
	}
	if err := q.session.engine.ensureCollection(ctx, q.dt); err != nil {
		return err
	}
	cur, err := q.session.engine.driver.Find(q.session.context(ctx), q.session.engine.database, q.dt.collectionRef(), q.compileFind())
	if err != nil {
		return err
	}
	it.cur = cur
	it.seen = map[string]*Document{}
	return nil
}
