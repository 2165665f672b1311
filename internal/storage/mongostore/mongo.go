// Package mongostore implements storage.Store on a MongoDB collection. Each key
// is one document; a TTL index on expires_at reaps expired documents, and
// reads compare expires_at with the clock because the reaper runs only
// about once a minute.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pbserver/internal/storage"
)

type document struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"val,omitempty"`
	Counter   *int64     `bson:"cnt,omitempty"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

func (d *document) expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// Store implements storage.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

// Open connects to uri, verifies the server and ensures the TTL index on
// database.collection. timeout bounds every operation.
func Open(ctx context.Context, uri, database, collection string, timeout time.Duration) (*Store, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	s := &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
		now:        time.Now,
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := s.collection.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	return nil
}

func liveFilter(key string, now time.Time) bson.M {
	return bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	if doc.expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	if doc.Counter != nil {
		return []byte(strconv.FormatInt(*doc.Counter, 10)), nil
	}
	if doc.Value == nil {
		return []byte{}, nil
	}
	return doc.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	doc := bson.M{"_id": key}
	if len(value) > 0 {
		doc["val"] = value
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	now := s.now()
	// An expired document the reaper has not reached yet restarts from zero.
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key, "expires_at": bson.M{"$lte": now}}); err != nil {
		return 0, fmt.Errorf("drop expired %s: %w", key, err)
	}

	var doc document
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"cnt": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("inc %s: %w", key, err)
	}
	if doc.Counter == nil {
		return 0, fmt.Errorf("inc %s: counter missing", key)
	}
	return *doc.Counter, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}
	now := s.now()
	_, err := s.collection.UpdateOne(ctx,
		liveFilter(key, now),
		bson.M{"$set": bson.M{"expires_at": now.Add(ttl)}},
	)
	if err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Close disconnects from the server.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ storage.Store = (*Store)(nil)
