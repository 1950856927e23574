package voice

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/capture"
)

// ErrNoRecognizer is returned by Select when no engine is usable on this host
var ErrNoRecognizer = errors.New("no speech recognizer available")

// Recognizer is one speech recognition engine
type Recognizer interface {
	Name() string
	Available() bool
	Start(ctx context.Context) error
	Stop() error
	OnResult(fn func(text string))
	OnError(fn func(err error))
}

// Select returns the first available recognizer
func Select(logger *zap.Logger, recognizers ...Recognizer) (Recognizer, error) {
	for _, r := range recognizers {
		if r.Available() {
			logger.Info("Selected speech recognizer", zap.String("engine", r.Name()))
			return r, nil
		}
		logger.Info("Speech recognizer unavailable", zap.String("engine", r.Name()))
	}
	return nil, ErrNoRecognizer
}

// CaptureRecognizer records from a local microphone, ends the recording on
// silence and sends it to a transcriber.
type CaptureRecognizer struct {
	mic        repositories.Microphone
	controller *capture.Controller
	logger     *zap.Logger

	mu       sync.Mutex
	onResult func(string)
	onError  func(error)
	onLevel  func(entities.AmplitudeSample)
	onState  func(capture.Transition)
}

// NewCaptureRecognizer creates a recognizer over the given microphone
func NewCaptureRecognizer(mic repositories.Microphone, transcriber capture.Transcriber, config capture.Config, logger *zap.Logger, opts ...capture.Option) (*CaptureRecognizer, error) {
	r := &CaptureRecognizer{mic: mic, logger: logger}
	controller, err := capture.NewController(mic, transcriber, r, config, logger, opts...)
	if err != nil {
		return nil, err
	}
	r.controller = controller
	return r, nil
}

// Name identifies the engine
func (r *CaptureRecognizer) Name() string {
	return "capture"
}

// Available reports whether a microphone can be opened
func (r *CaptureRecognizer) Available() bool {
	return r.mic.Available()
}

// Start begins a recording
func (r *CaptureRecognizer) Start(ctx context.Context) error {
	return r.controller.Start(ctx)
}

// Stop ends the recording early and submits it
func (r *CaptureRecognizer) Stop() error {
	return r.controller.Stop()
}

// Cancel discards the current recording
func (r *CaptureRecognizer) Cancel() error {
	return r.controller.Cancel()
}

// Close releases the microphone
func (r *CaptureRecognizer) Close() {
	r.controller.Close()
}

// State returns the capture state
func (r *CaptureRecognizer) State() capture.State {
	return r.controller.State()
}

func (r *CaptureRecognizer) OnResult(fn func(text string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = fn
}

func (r *CaptureRecognizer) OnError(fn func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// OnLevel receives every amplitude sample while recording
func (r *CaptureRecognizer) OnLevel(fn func(sample entities.AmplitudeSample)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLevel = fn
}

// OnState receives every capture state transition
func (r *CaptureRecognizer) OnState(fn func(t capture.Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// StateChanged implements capture.EventSink
func (r *CaptureRecognizer) StateChanged(t capture.Transition) {
	r.mu.Lock()
	fn := r.onState
	r.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// AmplitudeSampled implements capture.EventSink
func (r *CaptureRecognizer) AmplitudeSampled(sessionID string, sample entities.AmplitudeSample) {
	r.mu.Lock()
	fn := r.onLevel
	r.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

// TranscriptReady implements capture.EventSink
func (r *CaptureRecognizer) TranscriptReady(sessionID string, text string) {
	r.mu.Lock()
	fn := r.onResult
	r.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// TranscriptionFailed implements capture.EventSink
func (r *CaptureRecognizer) TranscriptionFailed(sessionID string, err error) {
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
