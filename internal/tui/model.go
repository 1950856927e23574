package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/internal/capture"
	"github.com/wenzhen/server/internal/relayclient"
	"github.com/wenzhen/server/internal/voice"
)

const (
	meterWidth    = 20
	busyNotice    = "回复生成中，请稍候"
	voiceNotice   = "正在录音，说完后静音 5 秒自动结束（ctrl+r 立即结束）"
	noVoiceNotice = "未检测到可用的麦克风"
)

// Chatter opens one streamed reply
type Chatter interface {
	Chat(ctx context.Context, conversationID string, turns []entities.Turn) (<-chan string, error)
}

// Model is the voice chat terminal UI. At most one reply streams at a time;
// a send while streaming is rejected, not queued.
type Model struct {
	chat           Chatter
	recognizer     voice.Recognizer
	conversationID string

	turns     []entities.Turn
	streaming bool
	cancel    context.CancelFunc

	recording bool
	level     float64
	status    string

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	width    int
	ready    bool
}

// New creates the UI model. recognizer may be nil when no engine is available.
func New(chat Chatter, recognizer voice.Recognizer, conversationID string) Model {
	input := textarea.New()
	input.Placeholder = "描述你的症状，回车发送"
	input.ShowLineNumbers = false
	input.SetHeight(2)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	status := "enter 发送 · ctrl+r 语音输入 · esc 取消 · ctrl+c 退出"
	if recognizer == nil {
		status = noVoiceNotice
	}

	return Model{
		chat:           chat,
		recognizer:     recognizer,
		conversationID: conversationID,
		input:          input,
		spinner:        sp,
		viewport:       viewport.New(80, 20),
		width:          80,
		status:         status,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// Turns returns the conversation so far
func (m Model) Turns() []entities.Turn {
	return m.turns
}

// Streaming reports whether a reply is in flight
func (m Model) Streaming() bool {
	return m.streaming
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.SetWidth(msg.Width)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-6, 3)
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.shutdown()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.send()
		case tea.KeyCtrlR:
			return m.toggleVoice()
		case tea.KeyEsc:
			m.abort()
			return m, nil
		}

	case streamStartedMsg:
		return m, waitForFragment(msg.fragments)

	case fragmentMsg:
		m.appendToReply(msg.text)
		return m, waitForFragment(msg.fragments)

	case streamDoneMsg:
		m.finishStream()
		return m, nil

	case streamFailedMsg:
		m.failStream(msg.err)
		return m, nil

	case TranscriptMsg:
		if msg.Text == "" {
			m.status = "没有听清，请再说一遍"
		} else {
			m.input.SetValue(m.input.Value() + msg.Text)
			m.input.CursorEnd()
			m.status = "识别完成，回车发送"
		}
		return m, nil

	case VoiceErrorMsg:
		m.recording = false
		m.status = errorStyle.Render("语音识别失败: " + msg.Err.Error())
		return m, nil

	case LevelMsg:
		m.level = msg.Sample.Level
		return m, nil

	case CaptureStateMsg:
		m.applyCaptureState(msg.Transition)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) send() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.streaming {
		m.status = busyNotice
		return m, nil
	}

	m.input.Reset()
	m.turns = append(m.turns, entities.NewTurn(entities.RoleUser, text))
	history := make([]entities.Turn, len(m.turns))
	copy(history, m.turns)

	// The reply streams into this placeholder
	m.turns = append(m.turns, entities.NewTurn(entities.RoleAssistant, ""))
	m.streaming = true
	m.status = ""

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.refresh()

	chat, conversationID := m.chat, m.conversationID
	return m, func() tea.Msg {
		fragments, err := chat.Chat(ctx, conversationID, history)
		if err != nil {
			return streamFailedMsg{err: err}
		}
		return streamStartedMsg{fragments: fragments}
	}
}

func waitForFragment(fragments <-chan string) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-fragments
		if !ok {
			return streamDoneMsg{}
		}
		return fragmentMsg{fragments: fragments, text: text}
	}
}

func (m *Model) appendToReply(text string) {
	if len(m.turns) == 0 {
		return
	}
	last := &m.turns[len(m.turns)-1]
	if last.Role != entities.RoleAssistant {
		return
	}
	last.Content += text
	m.refresh()
}

func (m *Model) finishStream() {
	m.streaming = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if n := len(m.turns); n > 0 && m.turns[n-1].Role == entities.RoleAssistant && m.turns[n-1].Content == "" {
		m.turns = m.turns[:n-1]
	}
	m.refresh()
}

func (m *Model) failStream(err error) {
	m.streaming = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	var relayErr *relayclient.RelayError
	switch {
	case errors.As(err, &relayErr):
		// The relay's fixed message takes the reply's place
		m.appendToReply(relayErr.Message)
	case errors.Is(err, relayclient.ErrBusy):
		m.status = busyNotice
		m.dropPending()
	case errors.Is(err, context.Canceled):
		m.dropPending()
	default:
		m.status = errorStyle.Render("发送失败: " + err.Error())
		m.dropPending()
	}
	m.refresh()
}

// dropPending removes the unanswered exchange so it can be sent again
func (m *Model) dropPending() {
	n := len(m.turns)
	if n >= 2 && m.turns[n-1].Role == entities.RoleAssistant && m.turns[n-1].Content == "" {
		m.input.SetValue(m.turns[n-2].Content)
		m.turns = m.turns[:n-2]
	}
}

func (m Model) toggleVoice() (tea.Model, tea.Cmd) {
	if m.recognizer == nil {
		m.status = noVoiceNotice
		return m, nil
	}
	if m.recording {
		if err := m.recognizer.Stop(); err != nil {
			m.status = errorStyle.Render(err.Error())
		}
		return m, nil
	}

	recognizer := m.recognizer
	m.recording = true
	m.status = voiceNotice
	return m, func() tea.Msg {
		err := recognizer.Start(context.Background())
		if err != nil && !errors.Is(err, capture.ErrCancelled) {
			return VoiceErrorMsg{Err: err}
		}
		return nil
	}
}

func (m *Model) applyCaptureState(t capture.Transition) {
	switch t.To {
	case capture.StateRecording:
		m.recording = true
		m.status = voiceNotice
	case capture.StateProcessing:
		m.recording = false
		m.level = 0
		m.status = "识别中…"
	case capture.StateIdle:
		m.recording = false
		m.level = 0
		switch t.Reason {
		case capture.ReasonPermissionDenied:
			m.status = errorStyle.Render("麦克风权限被拒绝")
		case capture.ReasonDeviceUnavailable:
			m.status = errorStyle.Render(noVoiceNotice)
		case capture.ReasonCancelled:
			m.status = "已取消录音"
		}
	}
}

func (m *Model) abort() {
	if m.streaming && m.cancel != nil {
		m.cancel()
	}
	if m.recording {
		if canceller, ok := m.recognizer.(interface{ Cancel() error }); ok {
			_ = canceller.Cancel()
		}
	}
}

func (m *Model) shutdown() {
	m.abort()
	if closer, ok := m.recognizer.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	width := max(m.width-2, 10)
	var b strings.Builder
	for i, turn := range m.turns {
		label := userStyle.Render("我")
		if turn.Role == entities.RoleAssistant {
			label = assistantStyle.Render("许医生")
		}
		content := turn.Content
		if content == "" && m.streaming && i == len(m.turns)-1 {
			content = m.spinner.View()
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(wrap.String(wordwrap.String(content, width), width))
		b.WriteString("\n\n")
	}
	return b.String()
}

func renderMeter(level float64) string {
	filled := int(level * 4 * meterWidth)
	filled = min(max(filled, 0), meterWidth)
	return meterStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", meterWidth-filled)
}

// View implements tea.Model
func (m Model) View() string {
	status := m.status
	if m.recording {
		status = fmt.Sprintf("● %s %s", renderMeter(m.level), m.status)
	} else if m.streaming {
		status = m.spinner.View() + " " + status
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("问诊 · 许庚医生"),
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render(status),
	)
}
