package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wenzhen/server/adapters/storage"
	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

func TestHistoryService_ArchiveFlow(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(storage.NewMemoryStore(), zaptest.NewLogger(t))

	if _, err := svc.Archive(ctx, "c1"); !errors.Is(err, ErrNothingToArchive) {
		t.Fatalf("Expected ErrNothingToArchive, got %v", err)
	}

	turns := []entities.Turn{
		entities.NewTurn(entities.RoleUser, "鼻炎怎么办"),
		entities.NewTurn(entities.RoleAssistant, "嗯，先说说症状。"),
	}
	if err := svc.SaveCurrent(ctx, "c1", turns); err != nil {
		t.Fatalf("SaveCurrent returned error: %v", err)
	}

	session, err := svc.Archive(ctx, "c1")
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	if session.ConversationID != "c1" || len(session.Turns) != 2 || session.Date == "" {
		t.Errorf("Unexpected session: %+v", session)
	}

	current, _ := svc.Current(ctx, "c1")
	if len(current.Turns) != 0 {
		t.Error("Archive should clear the current conversation")
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got.Turns[0].Content != "鼻炎怎么办" {
		t.Errorf("Unexpected session turns: %+v", got.Turns)
	}

	if _, err := svc.GetSession(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	sessions, _ := svc.ListSessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}
}

func TestHistoryService_SaveCurrentKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(storage.NewMemoryStore(), zaptest.NewLogger(t))

	svc.SaveCurrent(ctx, "c1", []entities.Turn{entities.NewTurn(entities.RoleUser, "a")})
	first, _ := svc.Current(ctx, "c1")

	svc.SaveCurrent(ctx, "c1", []entities.Turn{
		entities.NewTurn(entities.RoleUser, "a"),
		entities.NewTurn(entities.RoleAssistant, "b"),
	})
	second, _ := svc.Current(ctx, "c1")

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("CreatedAt should survive later saves")
	}
	if len(second.Turns) != 2 {
		t.Errorf("Expected 2 turns, got %d", len(second.Turns))
	}
}
