package repositories

import (
	"context"
	"errors"

	"github.com/wenzhen/server/domain/entities"
)

// ErrUpstreamUnavailable is returned when the chat stream could not be opened
// or the provider answered with a non-success status.
var ErrUpstreamUnavailable = errors.New("upstream chat service unavailable")

// LargeLanguageModel abstracts any streaming chat provider
type LargeLanguageModel interface {
	// StreamChat opens one streaming completion for the given history. The
	// persona prelude is added by the implementation. Fragments are delivered
	// in arrival order and the stream is closed when the turn completes,
	// fails mid-stream, or ctx is cancelled; the stream's Err tells these apart.
	StreamChat(ctx context.Context, history []entities.Turn) (*entities.ReplyStream, error)
}
