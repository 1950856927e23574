package tui

import (
	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/internal/capture"
)

type streamStartedMsg struct {
	fragments <-chan string
}

type fragmentMsg struct {
	fragments <-chan string
	text      string
}

type streamDoneMsg struct{}

type streamFailedMsg struct {
	err error
}

// TranscriptMsg carries a finished dictation into the input field
type TranscriptMsg struct {
	Text string
}

// VoiceErrorMsg reports a failed dictation
type VoiceErrorMsg struct {
	Err error
}

// LevelMsg carries one live amplitude sample
type LevelMsg struct {
	Sample entities.AmplitudeSample
}

// CaptureStateMsg carries a capture state change
type CaptureStateMsg struct {
	Transition capture.Transition
}
