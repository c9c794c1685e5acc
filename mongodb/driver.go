// Package mongodb implements the engine's database collaborators on top of
// the official MongoDB driver.
package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/gurcuff91/mongotoy"
)

// Driver talks to a MongoDB deployment. The zero value is ready; Connect
// must succeed before any other method is used.
type Driver struct {
	client *mongo.Client
}

var _ mongotoy.Driver = (*Driver)(nil)

func NewDriver() *Driver { return &Driver{} }

// Client exposes the underlying connection for needs outside the mapping
// layer, such as building a GridFS file store.
func (d *Driver) Client() *mongo.Client { return d.client }

func (d *Driver) Connect(ctx context.Context, uri string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	d.client = client
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	if d.client == nil {
		return errors.New("mongodb: not connected")
	}
	return d.client.Disconnect(ctx)
}

func (d *Driver) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

func (d *Driver) ListCollections(ctx context.Context, database string) ([]string, error) {
	return d.client.Database(database).ListCollectionNames(ctx, bson.M{})
}

func (d *Driver) CreateCollection(ctx context.Context, database string, spec mongotoy.CollectionSpec) error {
	opts := options.CreateCollection()
	if spec.Capped != nil {
		opts.SetCapped(true).SetSizeInBytes(spec.Capped.SizeBytes)
		if spec.Capped.MaxDocuments > 0 {
			opts.SetMaxDocuments(spec.Capped.MaxDocuments)
		}
	}
	if spec.Timeseries != nil {
		ts := options.TimeSeries().SetTimeField(spec.Timeseries.TimeField)
		if spec.Timeseries.MetaField != "" {
			ts.SetMetaField(spec.Timeseries.MetaField)
		}
		if spec.Timeseries.Granularity != "" {
			ts.SetGranularity(spec.Timeseries.Granularity)
		}
		opts.SetTimeSeriesOptions(ts)
		if spec.Timeseries.ExpireAfter > 0 {
			opts.SetExpireAfterSeconds(int64(spec.Timeseries.ExpireAfter.Seconds()))
		}
	}
	return d.client.Database(database).CreateCollection(ctx, spec.Name, opts)
}

func (d *Driver) EnsureIndexes(ctx context.Context, database string, coll mongotoy.CollectionRef, indexes []mongotoy.IndexSpec) error {
	if len(indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, spec := range indexes {
		keys := bson.D{}
		for _, k := range spec.Keys {
			keys = append(keys, bson.E{Key: k.Field, Value: indexKeyValue(k.Kind)})
		}
		opts := options.Index()
		if spec.Unique {
			opts.SetUnique(true)
		}
		if spec.Sparse {
			opts.SetSparse(true)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	_, err := d.collection(database, coll).Indexes().CreateMany(ctx, models)
	return err
}

func indexKeyValue(kind mongotoy.IndexKind) any {
	switch kind {
	case mongotoy.IndexDesc:
		return -1
	case mongotoy.IndexHashed:
		return "hashed"
	case mongotoy.IndexText:
		return "text"
	case mongotoy.IndexGeo2DSphere:
		return "2dsphere"
	}
	return 1
}

func (d *Driver) Find(ctx context.Context, database string, coll mongotoy.CollectionRef, spec mongotoy.FindSpec) (mongotoy.Cursor, error) {
	opts := options.Find()
	if len(spec.Sort) > 0 {
		opts.SetSort(spec.Sort)
	}
	if spec.Skip > 0 {
		opts.SetSkip(spec.Skip)
	}
	if spec.Limit > 0 {
		opts.SetLimit(spec.Limit)
	}
	filter := spec.Filter
	if filter == nil {
		filter = bson.M{}
	}
	cur, err := d.collection(database, coll).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return &cursor{cur: cur}, nil
}

func (d *Driver) Count(ctx context.Context, database string, coll mongotoy.CollectionRef, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	return d.collection(database, coll).CountDocuments(ctx, filter)
}

func (d *Driver) InsertOne(ctx context.Context, database string, coll mongotoy.CollectionRef, record bson.M) error {
	_, err := d.collection(database, coll).InsertOne(ctx, record)
	return err
}

func (d *Driver) ReplaceOne(ctx context.Context, database string, coll mongotoy.CollectionRef, filter, record bson.M, upsert bool) error {
	opts := options.Replace().SetUpsert(upsert)
	_, err := d.collection(database, coll).ReplaceOne(ctx, filter, record, opts)
	return err
}

func (d *Driver) DeleteOne(ctx context.Context, database string, coll mongotoy.CollectionRef, filter bson.M) error {
	_, err := d.collection(database, coll).DeleteOne(ctx, filter)
	return err
}

func (d *Driver) collection(database string, coll mongotoy.CollectionRef) *mongo.Collection {
	opts := options.Collection()
	if coll.ReadConcern != nil {
		opts.SetReadConcern(coll.ReadConcern)
	}
	if coll.WriteConcern != nil {
		opts.SetWriteConcern(coll.WriteConcern)
	}
	return d.client.Database(database).Collection(coll.Name, opts)
}

// --------------------------------------------------
// Cursor and session adapters
// --------------------------------------------------

type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) bool     { return c.cur.Next(ctx) }
func (c *cursor) Decode(out *bson.M) error          { return c.cur.Decode(out) }
func (c *cursor) Err() error                        { return c.cur.Err() }
func (c *cursor) Close(ctx context.Context) error   { return c.cur.Close(ctx) }

func (d *Driver) StartSession(ctx context.Context) (mongotoy.DriverSession, error) {
	sess, err := d.client.StartSession()
	if err != nil {
		return nil, err
	}
	return &driverSession{sess: sess}, nil
}

type driverSession struct {
	sess mongo.Session
}

func (s *driverSession) Context(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}

func (s *driverSession) StartTransaction(ctx context.Context) error {
	return s.sess.StartTransaction()
}

func (s *driverSession) CommitTransaction(ctx context.Context) error {
	return s.sess.CommitTransaction(ctx)
}

func (s *driverSession) AbortTransaction(ctx context.Context) error {
	return s.sess.AbortTransaction(ctx)
}

func (s *driverSession) End(ctx context.Context) {
	s.sess.EndSession(ctx)
}
