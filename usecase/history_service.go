package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

// ErrNothingToArchive is returned when the current conversation has no turns
var ErrNothingToArchive = errors.New("current conversation is empty")

const currentKeyPrefix = "current:"

// HistoryService keeps the current chat of every conversation and the
// archived sessions listed in the history view.
type HistoryService struct {
	store  repositories.KeyValueStore
	logger *zap.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(store repositories.KeyValueStore, logger *zap.Logger) *HistoryService {
	return &HistoryService{store: store, logger: logger}
}

func currentKey(conversationID string) string {
	return currentKeyPrefix + conversationID
}

// SaveCurrent stores turns as the current chat of the conversation
func (s *HistoryService) SaveCurrent(ctx context.Context, conversationID string, turns []entities.Turn) error {
	conv, err := s.Current(ctx, conversationID)
	if err != nil {
		return err
	}

	conv.Turns = make([]entities.Turn, 0, len(turns))
	conv.Append(turns...)

	if err := s.store.Set(ctx, currentKey(conversationID), conv); err != nil {
		return fmt.Errorf("failed to save current conversation: %w", err)
	}
	return nil
}

// Current returns the current chat, or an empty conversation if none was saved
func (s *HistoryService) Current(ctx context.Context, conversationID string) (*entities.Conversation, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id cannot be empty")
	}

	var conv entities.Conversation
	err := s.store.Get(ctx, currentKey(conversationID), &conv)
	if errors.Is(err, repositories.ErrNotFound) {
		return entities.NewConversation(conversationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current conversation: %w", err)
	}
	return &conv, nil
}

// Archive moves the current chat into the session history and clears it
func (s *HistoryService) Archive(ctx context.Context, conversationID string) (*entities.Session, error) {
	conv, err := s.Current(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(conv.Turns) == 0 {
		return nil, ErrNothingToArchive
	}

	session := entities.NewSession(conv)
	if err := s.store.AppendSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to archive session: %w", err)
	}
	if err := s.store.Delete(ctx, currentKey(conversationID)); err != nil {
		return nil, fmt.Errorf("failed to clear current conversation: %w", err)
	}

	s.logger.Info("Conversation archived",
		zap.String("conversationID", conversationID),
		zap.String("sessionID", session.ID),
		zap.Int("turns", len(session.Turns)))
	return session, nil
}

// ListSessions returns all archived sessions, oldest first
func (s *HistoryService) ListSessions(ctx context.Context) ([]*entities.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns one archived session
func (s *HistoryService) GetSession(ctx context.Context, id string) (*entities.Session, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if session.ID == id {
			return session, nil
		}
	}
	return nil, repositories.ErrNotFound
}
