package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/capture"
)

type stubRecognizer struct {
	name      string
	available bool
}

func (s *stubRecognizer) Name() string                    { return s.name }
func (s *stubRecognizer) Available() bool                 { return s.available }
func (s *stubRecognizer) Start(ctx context.Context) error { return nil }
func (s *stubRecognizer) Stop() error                     { return nil }
func (s *stubRecognizer) OnResult(fn func(text string))   {}
func (s *stubRecognizer) OnError(fn func(err error))      {}

func TestSelect(t *testing.T) {
	logger := zaptest.NewLogger(t)
	first := &stubRecognizer{name: "first"}
	second := &stubRecognizer{name: "second", available: true}
	third := &stubRecognizer{name: "third", available: true}

	got, err := Select(logger, first, second, third)
	if err != nil || got.Name() != "second" {
		t.Errorf("Expected the first available engine, got %v %v", got, err)
	}

	if _, err := Select(logger, first); !errors.Is(err, ErrNoRecognizer) {
		t.Errorf("Expected ErrNoRecognizer, got %v", err)
	}
}

type quietRecording struct{}

func (quietRecording) Level() float64          { return 0 }
func (quietRecording) Finish() ([]byte, error) { return []byte("RIFF"), nil }
func (quietRecording) Close() error            { return nil }

type stubMicrophone struct {
	err error
}

func (m *stubMicrophone) Open(ctx context.Context) (repositories.Recording, error) {
	if m.err != nil {
		return nil, m.err
	}
	return quietRecording{}, nil
}

func (m *stubMicrophone) Available() bool { return m.err == nil }

type transcriberFunc func(ctx context.Context, wav []byte) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f(ctx, wav)
}

func TestCaptureRecognizer(t *testing.T) {
	transcriber := transcriberFunc(func(ctx context.Context, wav []byte) (string, error) {
		return "我咳嗽", nil
	})
	r, err := NewCaptureRecognizer(&stubMicrophone{}, transcriber, capture.Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create recognizer: %v", err)
	}
	defer r.Close()

	results := make(chan string, 1)
	states := make(chan capture.State, 8)
	r.OnResult(func(text string) { results <- text })
	r.OnError(func(err error) { t.Errorf("Unexpected error: %v", err) })
	r.OnState(func(tr capture.Transition) { states <- tr.To })

	if !r.Available() {
		t.Fatal("Recognizer should be available")
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case text := <-results:
		if text != "我咳嗽" {
			t.Errorf("Unexpected result %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a result")
	}

	want := []capture.State{capture.StateRecording, capture.StateProcessing, capture.StateIdle}
	for _, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Errorf("Expected state %s, got %s", w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for state %s", w)
		}
	}
}

func TestCaptureRecognizerReportsTranscriptionErrors(t *testing.T) {
	failure := errors.New("relay down")
	transcriber := transcriberFunc(func(ctx context.Context, wav []byte) (string, error) {
		return "", failure
	})
	r, err := NewCaptureRecognizer(&stubMicrophone{}, transcriber, capture.Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create recognizer: %v", err)
	}
	defer r.Close()

	errs := make(chan error, 1)
	r.OnError(func(err error) { errs <- err })

	r.Start(context.Background())
	r.Stop()

	select {
	case err := <-errs:
		if !errors.Is(err, failure) {
			t.Errorf("Expected relay failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for an error")
	}
}

func TestCaptureRecognizerPermissionDenied(t *testing.T) {
	r, err := NewCaptureRecognizer(&stubMicrophone{err: repositories.ErrPermissionDenied}, nil, capture.Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create recognizer: %v", err)
	}

	if err := r.Start(context.Background()); !errors.Is(err, repositories.ErrPermissionDenied) {
		t.Errorf("Expected permission error, got %v", err)
	}
	if r.State() != capture.StateIdle {
		t.Errorf("Expected idle, got %s", r.State())
	}
}
