package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

var (
	// ErrBusy is returned by Start while a recording is still held or processed
	ErrBusy = errors.New("capture already in progress")
	// ErrNotRecording is returned by Stop and Cancel without an active recording
	ErrNotRecording = errors.New("no active recording")
	// ErrCancelled is returned by Start when the recording was cancelled
	// while the microphone was still opening
	ErrCancelled = errors.New("recording cancelled before it started")
)

// State is the capture controller state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains a state transition
type Reason string

const (
	ReasonStarted             Reason = "recording_started"
	ReasonSilence             Reason = "silence_detected"
	ReasonManualStop          Reason = "manual_stop"
	ReasonCancelled           Reason = "cancelled"
	ReasonPermissionDenied    Reason = "permission_denied"
	ReasonDeviceUnavailable   Reason = "device_unavailable"
	ReasonTranscribed         Reason = "transcribed"
	ReasonTranscriptionFailed Reason = "transcription_failed"
)

// Transition is emitted on every state change. Elapsed is the recording
// length at the moment Recording ended; for silence it is the exact
// moment the window expired.
type Transition struct {
	SessionID string
	From      State
	To        State
	Reason    Reason
	Elapsed   time.Duration
}

// Transcriber turns one finished WAV recording into text
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// EventSink receives controller events. Calls are made from the session
// goroutine and must not block for long.
type EventSink interface {
	StateChanged(t Transition)
	AmplitudeSampled(sessionID string, sample entities.AmplitudeSample)
	TranscriptReady(sessionID string, text string)
	TranscriptionFailed(sessionID string, err error)
}

// Config controls sampling and silence detection
type Config struct {
	SampleInterval time.Duration
	SilenceWindow  time.Duration
	Threshold      float64
}

const (
	DefaultSampleInterval = 100 * time.Millisecond
	DefaultSilenceWindow  = 5 * time.Second
	DefaultThreshold      = 0.03
)

// ValidateConfig validates the capture configuration
func ValidateConfig(config Config) error {
	if config.SampleInterval < 0 {
		return fmt.Errorf("sample interval must be positive, got %s", config.SampleInterval)
	}
	if config.SilenceWindow < 0 {
		return fmt.Errorf("silence window must be positive, got %s", config.SilenceWindow)
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", config.Threshold)
	}
	return nil
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces the wall clock, used by tests to drive timers
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// Controller owns the microphone for the Recording and Processing states.
// Every recording runs in one session goroutine that samples amplitude,
// watches the silence deadline and hands the finished audio to the
// transcriber.
type Controller struct {
	mic         repositories.Microphone
	transcriber Transcriber
	events      EventSink
	config      Config
	clock       clock.Clock
	logger      *zap.Logger

	sessions atomic.Uint64

	mu      sync.Mutex
	state   State
	active  *session
	current uint64
}

type session struct {
	seq      uint64
	id       string
	start    time.Time
	rec      repositories.Recording
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewController creates a capture controller
func NewController(mic repositories.Microphone, transcriber Transcriber, events EventSink, config Config, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	if config.SampleInterval == 0 {
		config.SampleInterval = DefaultSampleInterval
		logger.Info("Using default sample interval", zap.Duration("interval", config.SampleInterval))
	}
	if config.SilenceWindow == 0 {
		config.SilenceWindow = DefaultSilenceWindow
		logger.Info("Using default silence window", zap.Duration("window", config.SilenceWindow))
	}
	if config.Threshold == 0 {
		config.Threshold = DefaultThreshold
		logger.Info("Using default activity threshold", zap.Float64("threshold", config.Threshold))
	}

	c := &Controller{
		mic:         mic,
		transcriber: transcriber,
		events:      events,
		config:      config,
		clock:       clock.New(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the microphone and begins recording. A refused device
// returns the controller to Idle and the error wraps
// repositories.ErrPermissionDenied.
func (c *Controller) Start(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		cancel()
		return ErrBusy
	}
	seq := c.sessions.Add(1)
	// Published before Open so Cancel, Stop and Close reach a session
	// whose device is still opening
	s := &session{
		seq:    seq,
		id:     strconv.FormatUint(seq, 10),
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.state = StateRecording
	c.active = s
	c.current = seq
	c.mu.Unlock()

	rec, err := c.mic.Open(sessionCtx)
	if err != nil {
		defer close(s.done)
		reason := ReasonDeviceUnavailable
		switch {
		case errors.Is(err, repositories.ErrPermissionDenied):
			reason = ReasonPermissionDenied
		case sessionCtx.Err() != nil:
			reason = ReasonCancelled
		}
		cancel()
		c.logger.Warn("Failed to open microphone", zap.String("sessionID", s.id), zap.Error(err))
		c.transition(s, StateIdle, reason, 0)
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	if sessionCtx.Err() != nil {
		defer close(s.done)
		if err := rec.Close(); err != nil {
			c.logger.Warn("Failed to release microphone", zap.String("sessionID", s.id), zap.Error(err))
		}
		c.logger.Info("Recording cancelled while opening", zap.String("sessionID", s.id))
		c.transition(s, StateIdle, ReasonCancelled, 0)
		return ErrCancelled
	}

	c.mu.Lock()
	s.rec = rec
	s.start = c.clock.Now()
	c.mu.Unlock()

	c.logger.Info("Recording started", zap.String("sessionID", s.id))
	c.events.StateChanged(Transition{SessionID: s.id, From: StateIdle, To: StateRecording, Reason: ReasonStarted})

	go c.run(sessionCtx, s)
	return nil
}

// Stop ends the recording and submits it for transcription. A stop that
// arrives before the device has opened cancels instead, as there is no
// audio to submit.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.active
	recording := c.state == StateRecording
	opened := s != nil && s.rec != nil
	c.mu.Unlock()

	if s == nil || !recording {
		return ErrNotRecording
	}
	if !opened {
		s.cancel()
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Cancel discards the recording, or abandons a transcription in progress
func (c *Controller) Cancel() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s == nil {
		return ErrNotRecording
	}
	s.cancel()
	return nil
}

// Close cancels any active recording and waits until the device is released
func (c *Controller) Close() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (c *Controller) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer s.cancel()

	reason, elapsed := c.record(ctx, s)
	if reason == ReasonCancelled {
		if err := s.rec.Close(); err != nil {
			c.logger.Warn("Failed to release microphone", zap.String("sessionID", s.id), zap.Error(err))
		}
		c.logger.Info("Recording cancelled", zap.String("sessionID", s.id))
		c.transition(s, StateIdle, ReasonCancelled, elapsed)
		return
	}

	c.logger.Info("Recording stopped",
		zap.String("sessionID", s.id),
		zap.String("reason", string(reason)),
		zap.Duration("elapsed", elapsed))
	c.transition(s, StateProcessing, reason, elapsed)

	wav, err := s.rec.Finish()
	if err != nil {
		_ = s.rec.Close()
		c.events.TranscriptionFailed(s.id, fmt.Errorf("failed to finish recording: %w", err))
		c.transition(s, StateIdle, ReasonTranscriptionFailed, elapsed)
		return
	}

	text, err := c.transcriber.Transcribe(ctx, wav)
	switch {
	case ctx.Err() != nil:
		c.logger.Info("Transcription abandoned", zap.String("sessionID", s.id))
		c.transition(s, StateIdle, ReasonCancelled, elapsed)
	case err != nil:
		c.logger.Error("Transcription failed", zap.String("sessionID", s.id), zap.Error(err))
		c.events.TranscriptionFailed(s.id, err)
		c.transition(s, StateIdle, ReasonTranscriptionFailed, elapsed)
	default:
		c.events.TranscriptReady(s.id, text)
		c.transition(s, StateIdle, ReasonTranscribed, elapsed)
	}
}

// record samples amplitude until silence, a manual stop or cancellation
func (c *Controller) record(ctx context.Context, s *session) (Reason, time.Duration) {
	ticker := c.clock.Ticker(c.config.SampleInterval)
	defer ticker.Stop()
	silence := c.clock.Timer(c.config.SilenceWindow)
	defer silence.Stop()

	detector := NewSilenceDetector(c.config.Threshold, c.config.SilenceWindow)
	c.sample(s, detector, silence, s.start)

	for {
		// An expired window wins over a tick that arrived at the same time
		select {
		case fired := <-silence.C:
			if detector.Expired(fired.Sub(s.start)) {
				return ReasonSilence, fired.Sub(s.start)
			}
		default:
		}

		select {
		case now := <-ticker.C:
			c.sample(s, detector, silence, now)
		case fired := <-silence.C:
			if detector.Expired(fired.Sub(s.start)) {
				return ReasonSilence, fired.Sub(s.start)
			}
			c.logger.Debug("Ignoring stale silence timer", zap.String("sessionID", s.id))
		case <-s.stop:
			return ReasonManualStop, c.clock.Since(s.start)
		case <-ctx.Done():
			return ReasonCancelled, c.clock.Since(s.start)
		}
	}
}

func (c *Controller) sample(s *session, detector *SilenceDetector, silence *clock.Timer, now time.Time) {
	sample := entities.AmplitudeSample{T: now.Sub(s.start), Level: s.rec.Level()}
	if detector.Observe(sample) {
		rearm(silence, detector.Deadline()-c.clock.Since(s.start))
	}
	c.events.AmplitudeSampled(s.id, sample)
}

func rearm(timer *clock.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// transition ignores sessions other than the most recently started one
func (c *Controller) transition(s *session, to State, reason Reason, elapsed time.Duration) {
	c.mu.Lock()
	if s.seq != c.current {
		c.mu.Unlock()
		c.logger.Debug("Ignoring transition of a stale session", zap.String("sessionID", s.id))
		return
	}
	from := c.state
	c.state = to
	if to == StateIdle {
		c.active = nil
	}
	c.mu.Unlock()

	c.events.StateChanged(Transition{
		SessionID: s.id,
		From:      from,
		To:        to,
		Reason:    reason,
		Elapsed:   elapsed,
	})
}
