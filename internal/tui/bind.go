package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/internal/capture"
	"github.com/wenzhen/server/internal/voice"
)

// Bind forwards recognizer callbacks into the running program
func Bind(p *tea.Program, r voice.Recognizer) {
	if r == nil {
		return
	}
	r.OnResult(func(text string) { p.Send(TranscriptMsg{Text: text}) })
	r.OnError(func(err error) { p.Send(VoiceErrorMsg{Err: err}) })

	if meter, ok := r.(interface {
		OnLevel(func(entities.AmplitudeSample))
		OnState(func(capture.Transition))
	}); ok {
		meter.OnLevel(func(sample entities.AmplitudeSample) { p.Send(LevelMsg{Sample: sample}) })
		meter.OnState(func(t capture.Transition) { p.Send(CaptureStateMsg{Transition: t}) })
	}
}
