package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

const (
	valuesCollection   = "values"
	sessionsCollection = "sessions"
)

// KeyValueStore implements repositories.KeyValueStore on two collections:
// one document per key and one document per archived session.
type KeyValueStore struct {
	values   *mongo.Collection
	sessions *mongo.Collection
}

type valueDocument struct {
	Key       string        `bson:"_id"`
	Value     bson.RawValue `bson:"value"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// NewKeyValueStore creates a new MongoDB backed store
func NewKeyValueStore(db *mongo.Database) *KeyValueStore {
	return &KeyValueStore{
		values:   db.Collection(valuesCollection),
		sessions: db.Collection(sessionsCollection),
	}
}

// Get implements repositories.KeyValueStore
func (s *KeyValueStore) Get(ctx context.Context, key string, v any) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	var doc valueDocument
	err := s.values.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repositories.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := doc.Value.Unmarshal(v); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

// Set implements repositories.KeyValueStore
func (s *KeyValueStore) Set(ctx context.Context, key string, v any) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"value":      v,
			"updated_at": time.Now(),
		},
	}
	_, err := s.values.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete implements repositories.KeyValueStore
func (s *KeyValueStore) Delete(ctx context.Context, key string) error {
	if _, err := s.values.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// AppendSession implements repositories.KeyValueStore
func (s *KeyValueStore) AppendSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	if _, err := s.sessions.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// ListSessions implements repositories.KeyValueStore
func (s *KeyValueStore) ListSessions(ctx context.Context) ([]*entities.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.sessions.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := make([]*entities.Session, 0)
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}
