package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/repositories"
)

// Microphone tries each backend in order and uses the first one that opens.
// A refused permission is returned immediately; trying another backend
// would hit the same OS prompt.
type Microphone struct {
	backends []repositories.Microphone
	logger   *zap.Logger
}

// NewMicrophone returns a microphone over the given backends
func NewMicrophone(logger *zap.Logger, backends ...repositories.Microphone) *Microphone {
	return &Microphone{backends: backends, logger: logger}
}

// Open builds the default microphone: miniaudio first, PortAudio as fallback
func Open(logger *zap.Logger) *Microphone {
	return NewMicrophone(logger,
		NewMalgoMicrophone(DefaultSampleRate, logger),
		NewPortAudioMicrophone(DefaultSampleRate, logger),
	)
}

// Available reports whether any backend is usable
func (m *Microphone) Available() bool {
	for _, backend := range m.backends {
		if backend.Available() {
			return true
		}
	}
	return false
}

// Open acquires the first backend that can capture
func (m *Microphone) Open(ctx context.Context) (repositories.Recording, error) {
	var errs []error
	for i, backend := range m.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !backend.Available() {
			continue
		}
		rec, err := backend.Open(ctx)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, repositories.ErrPermissionDenied) {
			return nil, err
		}
		m.logger.Warn("Microphone backend failed, trying next",
			zap.Int("backend", i),
			zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil, repositories.ErrNoMicrophone
	}
	return nil, fmt.Errorf("%w: %w", repositories.ErrNoMicrophone, errors.Join(errs...))
}

// classifyOpenError maps OS-level refusals onto ErrPermissionDenied. Neither
// backend exposes a typed error for it, only the driver message.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
		return fmt.Errorf("%w: %v", repositories.ErrPermissionDenied, err)
	}
	return err
}
