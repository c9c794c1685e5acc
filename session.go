package mongotoy

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

type sessionState int

const (
	sessionUnstarted sessionState = iota
	sessionStarted
	sessionEnded
)

func (s sessionState) String() string {
	switch s {
	case sessionUnstarted:
		return "unstarted"
	case sessionStarted:
		return "started"
	}
	return "ended"
}

// Session wraps one driver session handle and sequences save/delete of a
// document together with its embedded and referenced sub-documents,
// optionally inside a transaction. A session must not be used by two
// logical operations concurrently; the underlying handle is not safe for
// multiplexed use.
type Session struct {
	engine *Engine
	ds     DriverSession
	state  sessionState
	tx     *Transaction
}

func (s *Session) Engine() *Engine { return s.engine }

// Start transitions the session from unstarted to started, acquiring the
// driver session handle. Any other starting state is a SessionError.
func (s *Session) Start(ctx context.Context) error {
	if s.state != sessionUnstarted {
		return sessionErrorf("start", "session is %s", s.state)
	}
	if err := s.engine.checkConnected(); err != nil {
		return err
	}
	ds, err := s.engine.driver.StartSession(ctx)
	if err != nil {
		return err
	}
	s.ds = ds
	s.state = sessionStarted
	s.engine.log.Debug().Msg("session started")
	return nil
}

// End transitions the session to its terminal state, releasing the driver
// handle. A still-active transaction is aborted first.
func (s *Session) End(ctx context.Context) error {
	if s.state != sessionStarted {
		return sessionErrorf("end", "session is %s", s.state)
	}
	if s.tx != nil && s.tx.state == txActive {
		if err := s.tx.Abort(ctx); err != nil {
			return err
		}
	}
	s.ds.End(ctx)
	s.state = sessionEnded
	s.engine.log.Debug().Msg("session ended")
	return nil
}

func (s *Session) active(op string) error {
	if s.state != sessionStarted {
		return sessionErrorf(op, "session is %s", s.state)
	}
	return nil
}

// context binds the driver session into ctx so driver calls run on it.
func (s *Session) context(ctx context.Context) context.Context {
	if s.ds == nil {
		return ctx
	}
	return s.ds.Context(ctx)
}

// Objects opens a query set over a document type on this session.
func (s *Session) Objects(dt *DocumentType) QuerySet {
	return QuerySet{session: s, dt: dt}
}

// --------------------------------------------------
// Cascading save / delete
// --------------------------------------------------

// Save validates the document and upserts it by id. With saveReferences,
// every referenced (non-embedded) document reachable from it is saved
// first, in field declaration order; embedded documents always travel
// inline with their parent and never receive independent writes. Each
// document instance is written at most once per call, which also bounds
// recursion on cyclic reference graphs.
func (s *Session) Save(ctx context.Context, doc *Document, saveReferences bool) error {
	if err := s.active("save"); err != nil {
		return err
	}
	return s.save(ctx, doc, saveReferences, map[*Document]bool{})
}

// SaveAll saves a sequence of documents in input order, sequentially, not
// interleaved. A document instance shared across the inputs, whether as a
// root or a cascaded reference, is written once for the whole call. SaveAll
// stops at the first failure, leaving earlier documents committed unless
// the whole call runs inside a transaction.
func (s *Session) SaveAll(ctx context.Context, docs []*Document, saveReferences bool) error {
	if err := s.active("save"); err != nil {
		return err
	}
	visited := map[*Document]bool{}
	for _, doc := range docs {
		if err := s.save(ctx, doc, saveReferences, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) save(ctx context.Context, doc *Document, saveReferences bool, visited map[*Document]bool) error {
	if doc.dt.embedded {
		return sessionErrorf("save", "embedded document %s cannot be saved independently", doc.dt.name)
	}
	if visited[doc] {
		return nil
	}
	visited[doc] = true

	if err := doc.revalidate(); err != nil {
		return err
	}

	if saveReferences {
		for _, f := range doc.dt.fields {
			if f.ref == nil {
				continue
			}
			value, ok := doc.data[f.name]
			if !ok || value == nil {
				continue
			}
			if f.ref.many {
				items, ok := value.([]any)
				if !ok {
					continue
				}
				for _, item := range items {
					if sub, ok := item.(*Document); ok {
						if err := s.save(ctx, sub, true, visited); err != nil {
							return err
						}
					}
				}
				continue
			}
			if sub, ok := value.(*Document); ok {
				if err := s.save(ctx, sub, true, visited); err != nil {
					return err
				}
			}
		}
	}

	if err := s.engine.ensureCollection(ctx, doc.dt); err != nil {
		return err
	}
	record := doc.DumpBSON()
	filter := bson.M{doc.dt.idField.Alias(): record[doc.dt.idField.Alias()]}
	if err := s.engine.driver.ReplaceOne(s.context(ctx), s.engine.database, doc.dt.collectionRef(), filter, record, true); err != nil {
		return err
	}
	s.engine.log.Debug().Str("collection", doc.dt.collection).Interface("id", doc.ID()).Msg("document saved")
	return nil
}

// insert writes a brand-new document with a plain insert, skipping the
// upsert probe the save path needs; QuerySet.Create is the caller.
func (s *Session) insert(ctx context.Context, doc *Document) error {
	if doc.dt.embedded {
		return sessionErrorf("create", "embedded document %s cannot be saved independently", doc.dt.name)
	}
	if err := doc.revalidate(); err != nil {
		return err
	}
	if err := s.engine.ensureCollection(ctx, doc.dt); err != nil {
		return err
	}
	if err := s.engine.driver.InsertOne(s.context(ctx), s.engine.database, doc.dt.collectionRef(), doc.DumpBSON()); err != nil {
		return err
	}
	s.engine.log.Debug().Str("collection", doc.dt.collection).Interface("id", doc.ID()).Msg("document inserted")
	return nil
}

// Delete removes the document by id. With cascade, every referenced
// document reachable from it is deleted first; embedded data disappears as
// part of the parent's own removal. Without cascade, stored references are
// left dangling by design. File-typed fields are never cascaded; delete
// their content through the FileStore directly.
func (s *Session) Delete(ctx context.Context, doc *Document, cascade bool) error {
	if err := s.active("delete"); err != nil {
		return err
	}
	return s.delete(ctx, doc, cascade, map[*Document]bool{})
}

// DeleteAll deletes a sequence of documents in input order, sequentially,
// stopping at the first failure. A document instance shared across the
// inputs is deleted once for the whole call.
func (s *Session) DeleteAll(ctx context.Context, docs []*Document, cascade bool) error {
	if err := s.active("delete"); err != nil {
		return err
	}
	visited := map[*Document]bool{}
	for _, doc := range docs {
		if err := s.delete(ctx, doc, cascade, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) delete(ctx context.Context, doc *Document, cascade bool, visited map[*Document]bool) error {
	if doc.dt.embedded {
		return sessionErrorf("delete", "embedded document %s cannot be deleted independently", doc.dt.name)
	}
	if visited[doc] {
		return nil
	}
	visited[doc] = true

	if cascade {
		for _, f := range doc.dt.fields {
			if f.ref == nil {
				continue
			}
			value, ok := doc.data[f.name]
			if !ok || value == nil {
				continue
			}
			if f.ref.many {
				items, ok := value.([]any)
				if !ok {
					continue
				}
				for _, item := range items {
					if sub, ok := item.(*Document); ok {
						if err := s.delete(ctx, sub, true, visited); err != nil {
							return err
						}
					}
				}
				continue
			}
			if sub, ok := value.(*Document); ok {
				if err := s.delete(ctx, sub, true, visited); err != nil {
					return err
				}
			}
		}
	}

	id := doc.ID()
	if id == nil {
		return sessionErrorf("delete", "document %s has no id", doc.dt.name)
	}
	filter := bson.M{doc.dt.idField.Alias(): doc.dt.idField.mapper.Dump(id, dumpOptions{target: dumpBSON})}
	if err := s.engine.driver.DeleteOne(s.context(ctx), s.engine.database, doc.dt.collectionRef(), filter); err != nil {
		return err
	}
	s.engine.log.Debug().Str("collection", doc.dt.collection).Interface("id", id).Msg("document deleted")
	return nil
}

// --------------------------------------------------
// Transactions
// --------------------------------------------------

type txState int

const (
	txActive txState = iota
	txCommitted
	txAborted
)

func (t txState) String() string {
	switch t {
	case txActive:
		return "active"
	case txCommitted:
		return "committed"
	}
	return "aborted"
}

// Transaction wraps the session's driver transaction. It moves from active
// to exactly one terminal state; re-entering a terminal transaction is a
// SessionError.
type Transaction struct {
	session *Session
	state   txState
}

// Transaction opens a transaction on this session. Exactly one transaction
// may be active per session at a time.
func (s *Session) Transaction(ctx context.Context) (*Transaction, error) {
	if err := s.active("transaction"); err != nil {
		return nil, err
	}
	if s.tx != nil && s.tx.state == txActive {
		return nil, sessionErrorf("transaction", "a transaction is already active on this session")
	}
	if err := s.ds.StartTransaction(ctx); err != nil {
		return nil, err
	}
	tx := &Transaction{session: s}
	s.tx = tx
	s.engine.log.Debug().Msg("transaction started")
	return tx, nil
}

func (t *Transaction) Session() *Session { return t.session }

// Commit makes the transaction's writes durable and is terminal.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != txActive {
		return sessionErrorf("commit", "transaction already %s", t.state)
	}
	if err := t.session.ds.CommitTransaction(ctx); err != nil {
		return err
	}
	t.state = txCommitted
	t.session.engine.log.Debug().Msg("transaction committed")
	return nil
}

// Abort rolls the transaction's writes back and is terminal. It is the
// only rollback mechanism for partially applied multi-document writes.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.state != txActive {
		return sessionErrorf("abort", "transaction already %s", t.state)
	}
	if err := t.session.ds.AbortTransaction(ctx); err != nil {
		return err
	}
	t.state = txAborted
	t.session.engine.log.Debug().Msg("transaction aborted")
	return nil
}
