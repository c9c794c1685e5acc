package mongodb

import (
	"context"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gurcuff91/mongotoy"
)

// FileStore keeps document file content in a GridFS bucket. Uploading the
// same name again creates a new revision; revision 0 is the oldest and -1
// the newest.
type FileStore struct {
	bucket *gridfs.Bucket
}

var _ mongotoy.FileStore = (*FileStore)(nil)

// NewFileStore opens (or lazily creates) a GridFS bucket on the database.
func NewFileStore(db *mongo.Database, opts ...*options.BucketOptions) (*FileStore, error) {
	bucket, err := gridfs.NewBucket(db, opts...)
	if err != nil {
		return nil, err
	}
	return &FileStore{bucket: bucket}, nil
}

// deadlines copies the context deadline onto the bucket; the v1 bucket API
// takes no context of its own.
func (fs *FileStore) deadlines(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	fs.bucket.SetReadDeadline(deadline)  //nolint:errcheck
	fs.bucket.SetWriteDeadline(deadline) //nolint:errcheck
}

func (fs *FileStore) Create(ctx context.Context, name string, src io.Reader, metadata bson.M) (*mongotoy.FileRef, error) {
	fs.deadlines(ctx)
	opts := options.GridFSUpload()
	if metadata != nil {
		opts.SetMetadata(metadata)
	}
	id, err := fs.bucket.UploadFromStream(name, src, opts)
	if err != nil {
		return nil, err
	}
	refs, err := fs.ListRevisions(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.ID == id {
			return ref, nil
		}
	}
	return &mongotoy.FileRef{ID: id, Name: name}, nil
}

func (fs *FileStore) OpenRevision(ctx context.Context, name string, revision int32) (mongotoy.FileStream, error) {
	fs.deadlines(ctx)
	stream, err := fs.bucket.OpenDownloadStreamByName(name, options.GridFSName().SetRevision(revision))
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (fs *FileStore) ListRevisions(ctx context.Context, name string) ([]*mongotoy.FileRef, error) {
	fs.deadlines(ctx)
	cur, err := fs.bucket.Find(bson.M{"filename": name},
		options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx) //nolint:errcheck

	var refs []*mongotoy.FileRef
	for cur.Next(ctx) {
		var record struct {
			ID         primitive.ObjectID `bson:"_id"`
			Filename   string             `bson:"filename"`
			Length     int64              `bson:"length"`
			UploadDate time.Time          `bson:"uploadDate"`
		}
		if err := cur.Decode(&record); err != nil {
			return nil, err
		}
		refs = append(refs, &mongotoy.FileRef{
			ID:         record.ID,
			Name:       record.Filename,
			Revision:   int32(len(refs)),
			Length:     record.Length,
			UploadedAt: record.UploadDate,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (fs *FileStore) Delete(ctx context.Context, ref *mongotoy.FileRef) error {
	fs.deadlines(ctx)
	return fs.bucket.Delete(ref.ID)
}
