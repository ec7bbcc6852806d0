// Package mongodb implements the repository interface on a MongoDB
// collection, one document per entry.
package mongodb

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

// entryDocument is the stored form of one directory entry
type entryDocument struct {
	Path   string    `bson:"path"`
	RepoID string    `bson:"repo_id"`
	Parent string    `bson:"parent"`
	Name   string    `bson:"name"`
	IsDir  bool      `bson:"is_dir"`
	Data   []byte    `bson:"data,omitempty"`
	Size   int64     `bson:"size"`
	Ctime  time.Time `bson:"ctime"`
	Mtime  time.Time `bson:"mtime"`
}

// Backend implements repo.Repository using MongoDB
type Backend struct {
	client     *mongo.Client
	collection *mongo.Collection
	repoID     string
}

// New connects to MongoDB and ensures the indexes exist
func New(uri, database, collection, repoID string) (*Backend, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(context.Background(), nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "repo_id", Value: 1}, {Key: "path", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "repo_id", Value: 1}, {Key: "parent", Value: 1}}},
	})

	return &Backend{client: client, collection: coll, repoID: repoID}, nil
}

// Close disconnects from MongoDB
func (b *Backend) Close() error {
	return b.client.Disconnect(context.Background())
}

func (b *Backend) ListEntries(ctx context.Context, dirPath string, forceRefresh bool) ([]repo.Entry, error) {
	if dirPath != "/" {
		n, err := b.collection.CountDocuments(ctx,
			bson.M{"repo_id": b.repoID, "path": dirPath, "is_dir": true})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dirPath, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("list %s: %w", dirPath, repo.ErrNotFound)
		}
	}

	cursor, err := b.collection.Find(ctx, bson.M{"repo_id": b.repoID, "parent": dirPath})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, err)
	}
	defer cursor.Close(ctx)

	var entries []repo.Entry
	for cursor.Next(ctx) {
		var doc entryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		e := repo.Entry{Name: doc.Name, Size: doc.Size, Ctime: doc.Ctime, Mtime: doc.Mtime}
		if doc.IsDir {
			e.Kind = repo.KindDir
			e.Size = 0
		}
		entries = append(entries, e)
	}
	return entries, cursor.Err()
}

func (b *Backend) FileContent(ctx context.Context, p string) ([]byte, error) {
	var doc entryDocument
	err := b.collection.FindOne(ctx,
		bson.M{"repo_id": b.repoID, "path": p, "is_dir": false}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("get %s: %w", p, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return doc.Data, nil
}

func (b *Backend) Upload(ctx context.Context, dirPath, name string, data []byte) error {
	now := time.Now()
	p := path.Join(dirPath, name)
	filter := bson.M{"repo_id": b.repoID, "path": p}
	update := bson.M{
		"$set": bson.M{
			"parent": dirPath,
			"name":   name,
			"is_dir": false,
			"data":   data,
			"size":   int64(len(data)),
			"mtime":  now,
		},
		"$setOnInsert": bson.M{"ctime": now},
	}
	_, err := b.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upload %s: %w", p, err)
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, dirPath, name string) error {
	now := time.Now()
	p := path.Join(dirPath, name)
	filter := bson.M{"repo_id": b.repoID, "path": p}
	update := bson.M{
		"$set": bson.M{"parent": dirPath, "name": name, "is_dir": true, "mtime": now},
		"$setOnInsert": bson.M{"ctime": now, "size": int64(0)},
	}
	_, err := b.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, p string) error {
	// The directory document and everything below it.
	filter := bson.M{
		"repo_id": b.repoID,
		"$or": []bson.M{
			{"path": p},
			{"path": bson.M{"$regex": "^" + regexQuote(p) + "/"}},
		},
	}
	res, err := b.collection.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("rmdir %s: %w", p, repo.ErrNotFound)
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, p string) error {
	res, err := b.collection.DeleteOne(ctx,
		bson.M{"repo_id": b.repoID, "path": p, "is_dir": false})
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %s: %w", p, repo.ErrNotFound)
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, p, newName string) error {
	return b.relocate(ctx, p, path.Join(path.Dir(p), newName))
}

func (b *Backend) MoveFile(ctx context.Context, p, targetDir string) error {
	return b.relocate(ctx, p, path.Join(targetDir, path.Base(p)))
}

func (b *Backend) relocate(ctx context.Context, oldPath, newPath string) error {
	filter := bson.M{"repo_id": b.repoID, "path": oldPath, "is_dir": false}
	update := bson.M{"$set": bson.M{
		"path":   newPath,
		"parent": path.Dir(newPath),
		"name":   path.Base(newPath),
		"mtime":  time.Now(),
	}}
	res, err := b.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("relocate %s: %w", oldPath, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("relocate %s: %w", oldPath, repo.ErrNotFound)
	}
	return nil
}

// regexQuote escapes regex metacharacters in a path
func regexQuote(p string) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			out = append(out, '\\')
		}
		out = append(out, p[i])
	}
	return string(out)
}

var _ repo.Repository = (*Backend)(nil)
