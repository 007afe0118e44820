// Package shell draws the Dynamic Island in a terminal: a status pill that
// follows the chat session, the transcript below it and a prompt for the
// text channel.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-island/core"
	"github.com/koscakluka/ema-island/core/config"
	"github.com/koscakluka/ema-island/core/events"
	"github.com/koscakluka/ema-island/core/exchange"
)

const (
	eventBufferSize = 64
	transcriptLines = 12
	defaultWidth    = 72
)

// Session is a running voice or video chat.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	Err() error
}

type TextSubmitter interface {
	Submit(ctx context.Context, prompt string) (string, error)
}

type RenderConfig struct {
	// ContainerID names the island; it is shown as its title.
	ContainerID string
	// Mode is the channel selected when the island opens.
	Mode config.Mode
	// NewSession builds a session for voice or video that reports its events
	// to handler.
	NewSession func(mode config.Mode, handler events.Handler) (Session, error)
	Text       TextSubmitter
}

// Render mounts the island and blocks until the user closes it or ctx is
// done.
func Render(ctx context.Context, cfg RenderConfig) error {
	m := newModel(ctx, cfg)
	// Sessions still starting when the island closes are stopped as soon
	// as they come up.
	defer m.sessions.stopAll()

	program := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("island shell failed: %w", err)
	}
	return nil
}

// liveSessions tracks every session that started, so none outlives the
// island.
type liveSessions struct {
	mu     sync.Mutex
	closed bool
	live   map[Session]struct{}
}

func newLiveSessions() *liveSessions {
	return &liveSessions{live: make(map[Session]struct{})}
}

// add reports false once the island closed; the caller must stop session.
func (l *liveSessions) add(session Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.live[session] = struct{}{}
	return true
}

func (l *liveSessions) stop(session Session) {
	l.mu.Lock()
	delete(l.live, session)
	l.mu.Unlock()
	session.Stop()
}

func (l *liveSessions) forget(session Session) {
	l.mu.Lock()
	delete(l.live, session)
	l.mu.Unlock()
}

func (l *liveSessions) stopAll() {
	l.mu.Lock()
	l.closed = true
	sessions := make([]Session, 0, len(l.live))
	for session := range l.live {
		sessions = append(sessions, session)
	}
	clear(l.live)
	l.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
}

type envelopeMsg events.Envelope

type sessionStartedMsg struct {
	attempt int
	session Session
	err     error
}

type sessionEndedMsg struct {
	session Session
	err     error
}

type textAnswerMsg string

type model struct {
	ctx context.Context
	cfg RenderConfig

	mode     config.Mode
	state    orchestration.SessionState
	session  Session
	sessions *liveSessions
	events   chan events.Envelope

	// attempt identifies the latest session start; results of earlier
	// ones are stale.
	attempt int

	transcript []string
	input      textinput.Model
	spinner    spinner.Model
	busy       bool

	width    int
	quitting bool
}

func newModel(ctx context.Context, cfg RenderConfig) model {
	if cfg.ContainerID == "" {
		cfg.ContainerID = "island"
	}
	mode := cfg.Mode
	if mode != config.ModeText && mode != config.ModeVideo {
		mode = config.ModeVoice
	}

	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = 500
	if mode == config.ModeText {
		input.Focus()
	}

	return model{
		ctx:     ctx,
		cfg:     cfg,
		mode:    mode,
		state:    orchestration.StateIdle,
		sessions: newLiveSessions(),
		events:   make(chan events.Envelope, eventBufferSize),
		input:   input,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:   defaultWidth,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenEvents(), textinput.Blink)
}

func (m model) handler(envelope events.Envelope) {
	select {
	case m.events <- envelope:
	default:
	}
}

func (m model) listenEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case envelope := <-m.events:
			return envelopeMsg(envelope)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyTab:
			return m.switchMode()
		case tea.KeyEnter:
			if m.mode == config.ModeText {
				return m.submitText()
			}
			return m.toggleSession()
		}
		if m.mode == config.ModeText {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-6, 10)

	case envelopeMsg:
		m.handleEvent(events.Envelope(msg))
		cmds = append(cmds, m.listenEvents())

	case sessionStartedMsg:
		if msg.attempt != m.attempt || m.quitting {
			if msg.session != nil {
				m.sessions.stop(msg.session)
			}
			break
		}
		if msg.err != nil {
			m.busy = false
			m.state = orchestration.StateStopped
			m.addLine("error", msg.err.Error())
			break
		}
		m.session = msg.session
		m.busy = false
		cmds = append(cmds, waitSession(msg.session))

	case sessionEndedMsg:
		m.sessions.forget(msg.session)
		if msg.session == m.session {
			m.session = nil
			if msg.err != nil {
				m.addLine("error", msg.err.Error())
			}
		}

	case textAnswerMsg:
		m.busy = false
		m.addLine("assistant", string(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) switchMode() (tea.Model, tea.Cmd) {
	if m.session != nil {
		m.sessions.stop(m.session)
		m.session = nil
	}
	if m.busy && m.mode != config.ModeText {
		// A session still starting belongs to the old mode.
		m.attempt++
		m.busy = false
	}
	m.state = orchestration.StateIdle

	switch m.mode {
	case config.ModeVoice:
		m.mode = config.ModeVideo
	case config.ModeVideo:
		m.mode = config.ModeText
	default:
		m.mode = config.ModeVoice
	}

	if m.mode == config.ModeText {
		return m, m.input.Focus()
	}
	m.input.Blur()
	return m, nil
}

func (m model) toggleSession() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	if m.session != nil {
		m.sessions.stop(m.session)
		m.session = nil
		m.state = orchestration.StateIdle
		return m, nil
	}
	if m.cfg.NewSession == nil {
		m.addLine("error", "no session available")
		return m, nil
	}

	m.busy = true
	m.attempt++
	attempt, mode, ctx, newSession, handler, sessions := m.attempt, m.mode, m.ctx, m.cfg.NewSession, m.handler, m.sessions
	return m, func() tea.Msg {
		session, err := newSession(mode, handler)
		if err != nil {
			return sessionStartedMsg{attempt: attempt, err: err}
		}
		if err := session.Start(ctx); err != nil {
			return sessionStartedMsg{attempt: attempt, err: err}
		}
		if !sessions.add(session) {
			session.Stop()
			return nil
		}
		return sessionStartedMsg{attempt: attempt, session: session}
	}
}

func (m model) submitText() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" || m.busy || m.cfg.Text == nil {
		return m, nil
	}

	m.busy = true
	m.input.Reset()
	m.addLine("you", prompt)

	ctx, text := m.ctx, m.cfg.Text
	return m, func() tea.Msg {
		answer, err := text.Submit(ctx, prompt)
		if err != nil {
			return textAnswerMsg(exchange.Apology)
		}
		return textAnswerMsg(answer)
	}
}

func waitSession(session Session) tea.Cmd {
	return func() tea.Msg {
		<-session.Done()
		return sessionEndedMsg{session: session, err: session.Err()}
	}
}

func (m *model) handleEvent(envelope events.Envelope) {
	switch event := envelope.Event.(type) {
	case events.SessionStateChanged:
		m.state = orchestration.SessionState(event.To)
	case events.AssistantText:
		m.addLine("assistant", event.Text)
	case events.Reconnecting:
		m.addLine("island", fmt.Sprintf("reconnecting in %s", event.Delay))
	case events.UploadFailed:
		m.addLine("island", "could not send audio, listening again")
	}
}

func (m *model) addLine(speaker, text string) {
	m.transcript = append(m.transcript, fmt.Sprintf("%s: %s", speaker, text))
	if len(m.transcript) > transcriptLines {
		m.transcript = m.transcript[len(m.transcript)-transcriptLines:]
	}
}

var (
	pillStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2)
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	lineStyle  = lipgloss.NewStyle().PaddingLeft(2)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(pillStyle.Render(titleStyle.Render(m.cfg.ContainerID) + "  " + m.statusLabel()))
	b.WriteString("\n\n")

	wrapWidth := max(m.width-4, 20)
	for _, line := range m.transcript {
		b.WriteString(lineStyle.Render(wordwrap.String(line, wrapWidth)))
		b.WriteString("\n")
	}

	if m.mode == config.ModeText {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m model) statusLabel() string {
	label := string(m.mode)
	switch {
	case m.busy && m.mode == config.ModeText:
		return label + " " + m.spinner.View() + " thinking"
	case m.busy:
		return label + " " + m.spinner.View() + " starting"
	case m.mode == config.ModeText:
		return label
	}

	switch m.state {
	case orchestration.StateCapturing:
		return label + " " + labelStyle.Render("listening")
	case orchestration.StateAwaitingResponse:
		return label + " " + m.spinner.View() + " thinking"
	case orchestration.StatePlaying:
		return label + " " + labelStyle.Render("speaking")
	case orchestration.StateReconnecting:
		return label + " " + m.spinner.View() + " reconnecting"
	}
	return label + " idle"
}

func (m model) help() string {
	if m.mode == config.ModeText {
		return "enter send • tab switch channel • esc quit"
	}
	if m.session != nil {
		return "enter stop • tab switch channel • esc quit"
	}
	return "enter start • tab switch channel • esc quit"
}
