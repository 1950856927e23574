package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

// MemoryStore is an in-memory implementation of KeyValueStore.
// Values are kept encoded so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	sessions []*entities.Session
}

// NewMemoryStore creates a new empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		sessions: make([]*entities.Session, 0),
	}
}

// Get implements KeyValueStore interface
func (m *MemoryStore) Get(ctx context.Context, key string, v any) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	m.mu.RLock()
	data, exists := m.values[key]
	m.mu.RUnlock()

	if !exists {
		return repositories.ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

// Set implements KeyValueStore interface
func (m *MemoryStore) Set(ctx context.Context, key string, v any) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = data
	return nil
}

// Delete implements KeyValueStore interface
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// AppendSession implements KeyValueStore interface
func (m *MemoryStore) AppendSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	// Store a copy to prevent external modifications
	sessionCopy := *session
	sessionCopy.Turns = append([]entities.Turn(nil), session.Turns...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, &sessionCopy)
	return nil
}

// ListSessions implements KeyValueStore interface
func (m *MemoryStore) ListSessions(ctx context.Context) ([]*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*entities.Session, len(m.sessions))
	for i, s := range m.sessions {
		sessionCopy := *s
		sessionCopy.Turns = append([]entities.Turn(nil), s.Turns...)
		sessions[i] = &sessionCopy
	}
	return sessions, nil
}
