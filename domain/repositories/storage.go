package repositories

import (
	"context"
	"errors"

	"github.com/wenzhen/server/domain/entities"
)

// ErrNotFound is returned when a key or session does not exist
var ErrNotFound = errors.New("not found")

// KeyValueStore is the persisted storage injected into conversation
// consumers. Values are JSON/BSON-serializable structs.
type KeyValueStore interface {
	// Get decodes the value stored under key into v
	Get(ctx context.Context, key string, v any) error
	// Set stores v under key, replacing any previous value
	Set(ctx context.Context, key string, v any) error
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	// AppendSession archives a session in the history list
	AppendSession(ctx context.Context, session *entities.Session) error
	// ListSessions returns archived sessions, oldest first
	ListSessions(ctx context.Context) ([]*entities.Session, error)
}
