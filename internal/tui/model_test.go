package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/internal/capture"
	"github.com/wenzhen/server/internal/relayclient"
)

type fakeChatter struct {
	fragments chan string
	err       error
	calls     int
	history   []entities.Turn
}

func (f *fakeChatter) Chat(ctx context.Context, conversationID string, turns []entities.Turn) (<-chan string, error) {
	f.calls++
	f.history = turns
	if f.err != nil {
		return nil, f.err
	}
	return f.fragments, nil
}

type fakeRecognizer struct {
	started, stopped, cancelled int
}

func (f *fakeRecognizer) Name() string                    { return "fake" }
func (f *fakeRecognizer) Available() bool                 { return true }
func (f *fakeRecognizer) Start(ctx context.Context) error { f.started++; return nil }
func (f *fakeRecognizer) Stop() error                     { f.stopped++; return nil }
func (f *fakeRecognizer) Cancel() error                   { f.cancelled++; return nil }
func (f *fakeRecognizer) OnResult(fn func(text string))   {}
func (f *fakeRecognizer) OnError(fn func(err error))      {}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

// run executes cmd and feeds its message back until the stream settles
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for cmd != nil {
		msg := cmd()
		switch msg.(type) {
		case streamStartedMsg, fragmentMsg, streamDoneMsg, streamFailedMsg:
		default:
			return m
		}
		m, cmd = update(t, m, msg)
	}
	return m
}

func TestSendStreamsReplyInOrder(t *testing.T) {
	chatter := &fakeChatter{fragments: make(chan string, 4)}
	chatter.fragments <- "嗯，"
	chatter.fragments <- "多久了"
	chatter.fragments <- "？"
	close(chatter.fragments)

	m := New(chatter, nil, "c1")
	m = typeText(t, m, "我头疼")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.Streaming() {
		t.Fatal("Expected streaming after send")
	}
	m = run(t, m, cmd)

	if m.Streaming() {
		t.Error("Stream should be finished")
	}
	turns := m.Turns()
	if len(turns) != 2 || turns[0].Content != "我头疼" || turns[1].Content != "嗯，多久了？" {
		t.Errorf("Unexpected turns %+v", turns)
	}
	if len(chatter.history) != 1 || chatter.history[0].Role != entities.RoleUser {
		t.Errorf("Only the history up to the user turn should be sent, got %+v", chatter.history)
	}
}

func TestSendWhileStreamingIsRejected(t *testing.T) {
	chatter := &fakeChatter{fragments: make(chan string, 4)}
	m := New(chatter, nil, "c1")

	m = typeText(t, m, "第一句")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, next := update(t, m, cmd())
	if next == nil {
		t.Fatal("Expected a wait command after the stream opened")
	}

	m = typeText(t, m, "第二句")
	m, rejected := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if rejected != nil {
		t.Error("A send while streaming should not start another request")
	}
	if chatter.calls != 1 {
		t.Errorf("Expected one chat call, got %d", chatter.calls)
	}
	if m.status != busyNotice {
		t.Errorf("Expected busy notice, got %q", m.status)
	}
	if m.input.Value() != "第二句" {
		t.Errorf("Rejected text should stay in the input, got %q", m.input.Value())
	}

	chatter.fragments <- "好"
	close(chatter.fragments)
	m = run(t, m, next)

	turns := m.Turns()
	if len(turns) != 2 || turns[1].Content != "好" {
		t.Errorf("The in-progress reply should be unaffected, got %+v", turns)
	}
}

func TestRelayErrorReplacesReply(t *testing.T) {
	chatter := &fakeChatter{err: &relayclient.RelayError{StatusCode: 500, Message: "服务暂时不可用"}}
	m := New(chatter, nil, "c1")

	m = typeText(t, m, "你好")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	turns := m.Turns()
	if len(turns) != 2 || turns[1].Role != entities.RoleAssistant || turns[1].Content != "服务暂时不可用" {
		t.Errorf("Expected the fixed error text as the reply, got %+v", turns)
	}
	if m.Streaming() {
		t.Error("Failed send should not leave the stream open")
	}
}

func TestTransportErrorRestoresInput(t *testing.T) {
	chatter := &fakeChatter{err: errors.New("connection refused")}
	m := New(chatter, nil, "c1")

	m = typeText(t, m, "你好")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	if len(m.Turns()) != 0 {
		t.Errorf("Unanswered exchange should be dropped, got %+v", m.Turns())
	}
	if m.input.Value() != "你好" {
		t.Errorf("Expected input restored, got %q", m.input.Value())
	}
	if !strings.Contains(m.status, "connection refused") {
		t.Errorf("Expected error in status, got %q", m.status)
	}
}

func TestVoiceToggleAndTranscript(t *testing.T) {
	recognizer := &fakeRecognizer{}
	m := New(&fakeChatter{}, recognizer, "c1")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if cmd == nil {
		t.Fatal("Expected a start command")
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("Unexpected start result %v", msg)
	}
	if recognizer.started != 1 || !m.recording {
		t.Fatal("Expected recording to start")
	}

	m, _ = update(t, m, LevelMsg{Sample: entities.AmplitudeSample{Level: 0.2}})
	if !strings.Contains(m.View(), "█") {
		t.Error("Expected the level meter while recording")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if recognizer.stopped != 1 {
		t.Error("Second toggle should stop the recording")
	}

	m, _ = update(t, m, CaptureStateMsg{Transition: capture.Transition{To: capture.StateProcessing}})
	m, _ = update(t, m, TranscriptMsg{Text: "我发烧了"})
	m, _ = update(t, m, CaptureStateMsg{Transition: capture.Transition{To: capture.StateIdle, Reason: capture.ReasonTranscribed}})

	if m.recording {
		t.Error("Expected recording to end")
	}
	if m.input.Value() != "我发烧了" {
		t.Errorf("Transcript should populate the input, got %q", m.input.Value())
	}
}

func TestVoicePermissionDenied(t *testing.T) {
	m := New(&fakeChatter{}, &fakeRecognizer{}, "c1")
	m.recording = true

	m, _ = update(t, m, CaptureStateMsg{Transition: capture.Transition{To: capture.StateIdle, Reason: capture.ReasonPermissionDenied}})
	if m.recording {
		t.Error("Expected recording to end")
	}
	if !strings.Contains(m.status, "权限") {
		t.Errorf("Expected permission notice, got %q", m.status)
	}
}

func TestEscCancelsRecording(t *testing.T) {
	recognizer := &fakeRecognizer{}
	m := New(&fakeChatter{}, recognizer, "c1")
	m.recording = true

	update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if recognizer.cancelled != 1 {
		t.Error("Esc should cancel the recording")
	}
}

func TestNoRecognizer(t *testing.T) {
	m := New(&fakeChatter{}, nil, "c1")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if cmd != nil || m.status != noVoiceNotice {
		t.Errorf("Expected a notice without a recognizer, got %q", m.status)
	}
}
