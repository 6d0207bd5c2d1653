// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/nebot/internal/playback"
	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/stream"
	"github.com/jeranaias/nebot/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Sender runs one send for a session.
type Sender interface {
	Send(ctx context.Context, sessionID, content string) error
}

// Beginner arms playback for the next reply. *playback.Engine implements it.
type Beginner interface {
	Begin()
}

// Config wires a Model.
type Config struct {
	// Session is the open session. Its messages seed the transcript.
	Session *storage.Session

	Sender   Sender
	Engine   Beginner
	Renderer playback.Renderer
	Theme    *styles.Theme

	// Titles delivers chat-updated payloads. Optional.
	Titles <-chan []byte

	// Context bounds sends. Defaults to context.Background.
	Context context.Context
}

// =============================================================================
// MODEL
// =============================================================================

const (
	defaultWidth  = 80
	defaultHeight = 24
	inputHeight   = 3
	maxInput      = 100000
)

type entry struct {
	role   storage.Role
	text   string
	at     time.Time
	failed bool
}

// Model is the Bubble Tea model of the chat view.
type Model struct {
	ctx       context.Context
	sessionID string
	title     string

	sender   Sender
	engine   Beginner
	renderer playback.Renderer
	theme    *styles.Theme
	titles   <-chan []byte
	keys     KeyMap

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	entries []entry
	live    string

	// waiting is set from submit until the first revealed text.
	waiting   bool
	streaming bool

	status     string
	statusKind string

	width  int
	height int
}

// New creates the chat model for cfg.Session.
func New(cfg Config) Model {
	if cfg.Theme == nil {
		cfg.Theme = styles.NewTheme()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}

	ta := textarea.New()
	ta.Placeholder = "Message Nebot..."
	ta.ShowLineNumbers = false
	ta.CharLimit = maxInput
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cfg.Theme.Spinner

	m := Model{
		ctx:      cfg.Context,
		sender:   cfg.Sender,
		engine:   cfg.Engine,
		renderer: cfg.Renderer,
		theme:    cfg.Theme,
		titles:   cfg.Titles,
		keys:     DefaultKeyMap(),
		viewport: viewport.New(defaultWidth, defaultHeight),
		input:    ta,
		spinner:  sp,
	}
	if cfg.Session != nil {
		m.sessionID = cfg.Session.ID
		m.title = cfg.Session.Title
		for _, msg := range cfg.Session.Messages {
			m.entries = append(m.entries, m.historyEntry(msg))
		}
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

// historyEntry renders a persisted assistant message once up front.
func (m Model) historyEntry(msg storage.Message) entry {
	e := entry{role: msg.Role, text: msg.Content, at: msg.Timestamp}
	if msg.Role == storage.RoleAssistant && m.renderer != nil {
		if out, err := m.renderer.Render(msg.Content); err == nil {
			e.text = out
		}
	}
	return e
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForTitle(m.titles, m.sessionID))
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case beginMsg:
		m.streaming = true
		m.live = ""
		m.refresh()
		return m, nil

	case revealMsg:
		m.waiting = false
		m.live += msg.text
		m.refresh()
		return m, nil

	case finalizeMsg:
		text := msg.rendered
		if text == "" {
			text = msg.raw
		}
		m.entries = append(m.entries, entry{role: storage.RoleAssistant, text: text, at: time.Now()})
		m.live = ""
		m.streaming = false
		m.waiting = false
		m.setStatus("success", "Reply complete")
		m.refresh()
		return m, nil

	case failMsg:
		m.entries = append(m.entries, entry{role: storage.RoleAssistant, text: msg.message, at: time.Now(), failed: true})
		m.live = ""
		m.streaming = false
		m.waiting = false
		m.setStatus("error", msg.message)
		m.refresh()
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.setStatus("error", "Send failed: "+stream.Outcome(msg.err))
			if !m.streaming {
				m.waiting = false
			}
		}
		return m, nil

	case titleMsg:
		m.title = msg.title
		return m, waitForTitle(m.titles, m.sessionID)

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return m, nil
	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input. Only one reply runs at a time per session.
func (m Model) submit() (Model, tea.Cmd) {
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}
	if m.busy() {
		m.setStatus("pending", "Nebot is still replying")
		return m, nil
	}
	if m.sender == nil {
		m.setStatus("error", "No backend configured")
		return m, nil
	}

	m.entries = append(m.entries, entry{role: storage.RoleUser, text: content, at: time.Now()})
	m.input.Reset()
	m.waiting = true
	m.setStatus("pending", "Thinking")
	m.refresh()

	return m, tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.engine, m.sender, m.sessionID, content))
}

func (m Model) busy() bool {
	return m.waiting || m.streaming
}

func (m *Model) setStatus(kind, text string) {
	m.statusKind = kind
	m.status = text
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	// header + status bar + bordered input
	chrome := 1 + 1 + inputHeight + 2
	vpHeight := height - chrome
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.input.SetWidth(width - 2)
	m.refresh()
}

// refresh re-renders the transcript into the viewport and follows the
// bottom while the user has not scrolled away.
func (m *Model) refresh() {
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}

// Title returns the session title shown in the header.
func (m Model) Title() string {
	return m.title
}

// Streaming reports whether a reply is being revealed.
func (m Model) Streaming() bool {
	return m.streaming
}
