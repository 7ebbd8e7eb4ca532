package storage

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB chunk store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. pagedvolume
	Collection string // e.g. chunks
}

// MongoStore implements ChunkStore on MongoDB. One document per chunk,
// _id is the chunk key.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection

	mu     sync.RWMutex
	closed bool
}

type chunkDoc struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore establishes connection and returns the store.
func NewMongoStore(cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "pagedvolume"
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (m *MongoStore) ready(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Load implements ChunkStore.
func (m *MongoStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	var doc chunkDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// Store implements ChunkStore (upsert).
func (m *MongoStore) Store(ctx context.Context, key string, blob []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(ctx); err != nil {
		return err
	}

	_, err := m.collection.ReplaceOne(ctx,
		bson.M{"_id": key},
		chunkDoc{Key: key, Data: blob, UpdatedAt: time.Now()},
		options.Replace().SetUpsert(true),
	)
	return err
}

// Delete implements ChunkStore.
func (m *MongoStore) Delete(ctx context.Context, key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(ctx); err != nil {
		return err
	}

	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// Keys returns sorted chunk keys with the given prefix.
func (m *MongoStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var keys []string
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}

// Close terminates connection.
func (m *MongoStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
