package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoBlobStore keeps the salt and wrapped-root-key blobs in a
// collection so several machines can share one vault identity. The
// wrapped record is already sealed under the master password before it
// reaches this layer, so the database operator never sees key material.
type mongoBlobStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// keyBlob is the document shape, keyed by blob id.
type keyBlob struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func NewMongoBlobStore(ctx context.Context, uri, dbName, collName string) (BlobStore, error) {
	if uri == "" {
		return nil, errors.New("storage: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return &mongoBlobStore{
		client: cli,
		coll:   cli.Database(dbName).Collection(collName),
	}, nil
}

func (m *mongoBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrInvalidBlobID
	}
	doc := keyBlob{ID: id, Data: data, UpdatedAt: time.Now()}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *mongoBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrInvalidBlobID
	}
	var doc keyBlob
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return doc.Data, err
}

func (m *mongoBlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidBlobID
	}
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *mongoBlobStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
