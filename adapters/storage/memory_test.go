package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

var _ repositories.KeyValueStore = &MemoryStore{}

func TestMemoryStore_GetSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := entities.NewConversation("c1")
	conv.Append(entities.NewTurn(entities.RoleUser, "你好"))

	if err := store.Set(ctx, "current:c1", conv); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	// Mutating the original must not affect the stored value
	conv.Append(entities.NewTurn(entities.RoleAssistant, "嗯"))

	var got entities.Conversation
	if err := store.Get(ctx, "current:c1", &got); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ID != "c1" || len(got.Turns) != 1 || got.Turns[0].Content != "你好" {
		t.Errorf("Unexpected stored conversation: %+v", got)
	}
}

func TestMemoryStore_NotFoundAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var v string
	if err := store.Get(ctx, "missing", &v); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	store.Set(ctx, "k", "v")
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Get(ctx, "k", &v); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Deleting a missing key should not fail, got %v", err)
	}
}

func TestMemoryStore_Sessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AppendSession(ctx, &entities.Session{ID: "empty"}); err == nil {
		t.Error("Expected validation error for a session without turns")
	}

	for _, text := range []string{"first", "second"} {
		conv := entities.NewConversation("c1")
		conv.Append(entities.NewTurn(entities.RoleUser, text))
		if err := store.AppendSession(ctx, entities.NewSession(conv)); err != nil {
			t.Fatalf("AppendSession returned error: %v", err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Turns[0].Content != "first" || sessions[1].Turns[0].Content != "second" {
		t.Error("Sessions should be listed oldest first")
	}

	sessions[0].Turns[0].Content = "changed"
	again, _ := store.ListSessions(ctx)
	if again[0].Turns[0].Content != "first" {
		t.Error("Listed sessions must be copies")
	}
}
