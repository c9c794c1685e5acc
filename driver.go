package mongotoy

import (
	"context"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// CollectionRef names a collection together with the per-type read/write
// policy the driver should apply to operations on it.
type CollectionRef struct {
	Name         string
	ReadConcern  *readconcern.ReadConcern
	WriteConcern *writeconcern.WriteConcern
}

// CollectionSpec describes a collection to provision. Capped and Timeseries
// are mutually exclusive; both nil means a plain collection.
type CollectionSpec struct {
	Name       string
	Capped     *CappedOptions
	Timeseries *TimeseriesOptions
}

// FindSpec carries one compiled query execution: native filter and sort,
// plus paging. Limit 0 means unbounded.
type FindSpec struct {
	Filter bson.M
	Sort   bson.D
	Skip   int64
	Limit  int64
}

// Cursor is a lazy, single-pass, forward-only sequence of raw records.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(out *bson.M) error
	Err() error
	Close(ctx context.Context) error
}

// Driver is the database collaborator: wire protocol, pooling and the
// transaction's ACID guarantees all live behind it. Every method is a
// suspension point; the mapping layer never retries driver failures.
type Driver interface {
	Connect(ctx context.Context, uri string) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error

	ListCollections(ctx context.Context, database string) ([]string, error)
	CreateCollection(ctx context.Context, database string, spec CollectionSpec) error
	EnsureIndexes(ctx context.Context, database string, coll CollectionRef, indexes []IndexSpec) error

	Find(ctx context.Context, database string, coll CollectionRef, spec FindSpec) (Cursor, error)
	Count(ctx context.Context, database string, coll CollectionRef, filter bson.M) (int64, error)
	InsertOne(ctx context.Context, database string, coll CollectionRef, record bson.M) error
	ReplaceOne(ctx context.Context, database string, coll CollectionRef, filter, record bson.M, upsert bool) error
	DeleteOne(ctx context.Context, database string, coll CollectionRef, filter bson.M) error

	StartSession(ctx context.Context) (DriverSession, error)
}

// DriverSession wraps one external session handle. It is not safe for
// concurrent multiplexed use; the owning Session serializes access.
type DriverSession interface {
	// Context binds the session to a context so subsequent driver calls
	// run on this session.
	Context(ctx context.Context) context.Context

	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	End(ctx context.Context)
}

// FileRef is the handle a file-typed field stores: the byte-stream store
// keeps the content, the document record keeps only the id.
type FileRef struct {
	ID         primitive.ObjectID
	Name       string
	Revision   int32
	Length     int64
	UploadedAt time.Time
}

// FileStream is a readable byte stream positioned at a stored revision.
// Skip discards n bytes, mirroring the driver's download stream.
type FileStream interface {
	io.ReadCloser
	Skip(n int64) (int64, error)
}

// FileStore is the byte-stream collaborator. File contents are exempt from
// cascading delete; remove them here explicitly.
type FileStore interface {
	Create(ctx context.Context, name string, src io.Reader, metadata bson.M) (*FileRef, error)
	OpenRevision(ctx context.Context, name string, revision int32) (FileStream, error)
	ListRevisions(ctx context.Context, name string) ([]*FileRef, error)
	Delete(ctx context.Context, ref *FileRef) error
}
