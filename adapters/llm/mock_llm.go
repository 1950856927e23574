package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
)

// MockLLM streams a canned reply rune by rune, for development without credentials
type MockLLM struct {
	logger *zap.Logger
	delay  time.Duration
}

// NewMockLLM creates a new mock chat provider. delay is the pause between fragments.
func NewMockLLM(logger *zap.Logger, delay time.Duration) *MockLLM {
	return &MockLLM{logger: logger, delay: delay}
}

// StreamChat implements repositories.LargeLanguageModel
func (m *MockLLM) StreamChat(ctx context.Context, history []entities.Turn) (*entities.ReplyStream, error) {
	text := m.reply(history)
	m.logger.Info("Streaming mock reply", zap.Int("turns", len(history)))

	reply := entities.NewReplyStream()
	go func() {
		var streamErr error
		defer func() { reply.Close(streamErr) }()
		for _, r := range text {
			if m.delay > 0 {
				select {
				case <-time.After(m.delay):
				case <-ctx.Done():
					streamErr = ctx.Err()
					return
				}
			}
			if !reply.Send(ctx, string(r)) {
				streamErr = ctx.Err()
				return
			}
		}
	}()
	return reply, nil
}

func (m *MockLLM) reply(history []entities.Turn) string {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == entities.RoleUser {
			last = strings.TrimSpace(history[i].Content)
			break
		}
	}
	if last == "" {
		return "嗯，您好，哪里不舒服？跟我说说具体情况。"
	}
	return "嗯，这样啊。您说的“" + last + "”我了解了，要是持续不好转，建议来院看看。"
}
