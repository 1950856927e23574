package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/metrics"
)

// ErrStreamInFlight is returned when a conversation already has a reply streaming.
// The rejected send is not queued.
var ErrStreamInFlight = errors.New("a reply is already streaming for this conversation")

// ErrInvalidHistory is returned for a history that cannot be sent upstream
var ErrInvalidHistory = errors.New("invalid conversation history")

const saveTimeout = 5 * time.Second

// ChatService relays one streamed reply per user turn and keeps at most one
// stream open per conversation.
type ChatService struct {
	llm     repositories.LargeLanguageModel
	history *HistoryService
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// ChatOption configures a ChatService
type ChatOption func(*ChatService)

// WithChatMetrics records stream outcomes
func WithChatMetrics(m *metrics.Metrics) ChatOption {
	return func(s *ChatService) {
		s.metrics = m
	}
}

// NewChatService creates a new chat service. history may be nil.
func NewChatService(llm repositories.LargeLanguageModel, history *HistoryService, logger *zap.Logger, opts ...ChatOption) *ChatService {
	s := &ChatService{
		llm:      llm,
		history:  history,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send opens the upstream stream for the given history and returns the
// reply fragments in arrival order. The channel is closed when the reply is
// complete, the upstream fails mid-stream, or ctx is cancelled. The
// conversation slot is released before the channel is closed.
func (s *ChatService) Send(ctx context.Context, conversationID string, turns []entities.Turn) (<-chan string, error) {
	if err := validateHistory(turns); err != nil {
		return nil, err
	}
	if !s.acquire(conversationID) {
		s.logger.Warn("Rejected send while a reply is streaming", zap.String("conversationID", conversationID))
		s.metrics.RecordSendFailed(metrics.ChatRejected)
		return nil, ErrStreamInFlight
	}

	stream, err := s.llm.StreamChat(ctx, turns)
	if err != nil {
		s.release(conversationID)
		s.metrics.RecordSendFailed(metrics.ChatUpstreamError)
		return nil, fmt.Errorf("failed to open chat stream: %w", err)
	}

	opened := time.Now()
	s.metrics.RecordStreamOpened()

	out := make(chan string)
	go func() {
		defer close(out)
		defer s.release(conversationID)

		result := metrics.ChatCompleted
		count := 0
		defer func() {
			s.metrics.RecordStreamClosed(result, count, time.Since(opened))
		}()

		fragments := stream.Fragments()
		var reply strings.Builder
		for fragment := range fragments {
			select {
			case out <- fragment:
				reply.WriteString(fragment)
				count++
			case <-ctx.Done():
				// Drain so the upstream goroutine can exit
				for range fragments {
				}
				result = metrics.ChatCancelled
				s.logger.Info("Reply stream cancelled",
					zap.String("conversationID", conversationID),
					zap.Int("fragments", count))
				return
			}
		}

		if ctx.Err() != nil {
			result = metrics.ChatCancelled
			return
		}
		if err := stream.Err(); err != nil {
			// A truncated reply is neither saved nor counted as completed
			result = metrics.ChatUpstreamError
			s.logger.Error("Reply stream failed mid-stream",
				zap.String("conversationID", conversationID),
				zap.Int("fragments", count),
				zap.Error(err))
			return
		}

		s.logger.Info("Reply stream completed",
			zap.String("conversationID", conversationID),
			zap.Int("fragments", count),
			zap.Int("length", reply.Len()))

		if reply.Len() == 0 {
			return
		}
		s.saveCurrent(conversationID, turns, reply.String())
	}()

	return out, nil
}

// InFlight reports whether a reply is currently streaming for the conversation
func (s *ChatService) InFlight(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[conversationID]
	return busy
}

func (s *ChatService) acquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[conversationID]; busy {
		return false
	}
	s.inFlight[conversationID] = struct{}{}
	return true
}

func (s *ChatService) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, conversationID)
}

func (s *ChatService) saveCurrent(conversationID string, turns []entities.Turn, reply string) {
	if s.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	all := make([]entities.Turn, 0, len(turns)+1)
	all = append(all, turns...)
	all = append(all, entities.NewTurn(entities.RoleAssistant, reply))
	if err := s.history.SaveCurrent(ctx, conversationID, all); err != nil {
		s.logger.Error("Failed to save current conversation",
			zap.String("conversationID", conversationID),
			zap.Error(err))
	}
}

func validateHistory(turns []entities.Turn) error {
	if len(turns) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidHistory)
	}
	for i, turn := range turns {
		if err := turn.Validate(); err != nil {
			return fmt.Errorf("%w: message %d: %v", ErrInvalidHistory, i, err)
		}
	}
	return nil
}
