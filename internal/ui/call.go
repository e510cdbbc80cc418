package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

const (
	refreshInterval = 500 * time.Millisecond
	chatBacklog     = 8
)

// Call is the session the live view drives.
type Call interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	ToggleMicrophone(ctx context.Context) error
	ToggleScreen(ctx context.Context) error
	SendChat(text string) error
}

// Snapshot is everything the live view shows.
type Snapshot struct {
	Name    string
	LocalID string
	Roster  []mesh.Participant
	Links   []mesh.LinkStatus

	// Microphone and Screen hold the active source id, empty when off.
	Microphone string
	Screen     string

	// Viewport is the remote whose screen is being shown.
	Viewport string
}

// ChatLine is one rendered chat entry.
type ChatLine struct {
	User   string
	Text   string
	Edited bool
}

type (
	tickMsg     time.Time
	snapshotMsg struct {
		snap Snapshot
		err  error
	}
	chatMsg       ChatLine
	chatClosedMsg struct{}
	actionMsg     struct {
		what string
		err  error
	}
)

// CallModel is the bubbletea model of a running call.
type CallModel struct {
	call    Call
	chat    <-chan ChatLine
	snap    Snapshot
	lines   []ChatLine
	input   textinput.Model
	typing  bool
	spinner spinner.Model
	notice  string
	failed  bool
	ended   bool
}

func NewCallModel(call Call, chat <-chan ChatLine) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "say something"
	in.CharLimit = 500
	in.Width = 50
	in.Prompt = IconChat + " "

	return &CallModel{call: call, chat: chat, spinner: s, input: in}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.listenChat())
}

func (m *CallModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		snap, err := m.call.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m *CallModel) listenChat() tea.Cmd {
	if m.chat == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-m.chat
		if !ok {
			return chatClosedMsg{}
		}
		return chatMsg(line)
	}
}

func (m *CallModel) act(what string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return actionMsg{what: what, err: fn(ctx)}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.typing {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.ended = true
			return m, tea.Quit
		case "m":
			return m, m.act("microphone", m.call.ToggleMicrophone)
		case "s":
			return m, m.act("screen share", m.call.ToggleScreen)
		case "tab", "c":
			m.typing = true
			return m, m.input.Focus()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, m.refresh()

	case snapshotMsg:
		if errors.Is(msg.err, mesh.ErrSessionStopped) {
			m.ended = true
			return m, tea.Quit
		}
		if msg.err == nil {
			m.snap = msg.snap
		}
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case chatMsg:
		m.lines = append(m.lines, ChatLine(msg))
		if len(m.lines) > chatBacklog {
			m.lines = m.lines[len(m.lines)-chatBacklog:]
		}
		return m, m.listenChat()

	case chatClosedMsg:
		m.notice, m.failed = "relay connection closed", true
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notice, m.failed = fmt.Sprintf("%s: %v", msg.what, msg.err), true
		} else {
			m.notice, m.failed = "", false
		}
		return m, nil
	}

	return m, nil
}

func (m *CallModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.ended = true
		return m, tea.Quit
	case "esc":
		m.typing = false
		m.input.Reset()
		m.input.Blur()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.typing = false
		m.input.Reset()
		m.input.Blur()
		if text == "" {
			return m, nil
		}
		return m, m.act("chat", func(context.Context) error { return m.call.SendChat(text) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Ended reports whether the user quit or the session stopped.
func (m *CallModel) Ended() bool { return m.ended }

func (m *CallModel) View() string {
	if m.ended {
		return ""
	}

	var b strings.Builder

	header := fmt.Sprintf("%s %s", IconRoom, m.snap.Name)
	if m.snap.LocalID != "" {
		header += MutedStyle.Render(" #" + m.snap.LocalID)
	}
	b.WriteString(HeaderStyle.Render(header) + "\n")

	b.WriteString(fmt.Sprintf("%s %d in the room\n", m.spinner.View(), len(m.snap.Roster)))
	b.WriteString(LinksView(m.snap.Links) + "\n\n")
	b.WriteString(m.mediaLine() + "\n")

	if len(m.lines) > 0 || m.typing {
		var chat strings.Builder
		for i, l := range m.lines {
			if i > 0 {
				chat.WriteString("\n")
			}
			chat.WriteString(BoldStyle.Render(l.User) + ": " + l.Text)
			if l.Edited {
				chat.WriteString(MutedStyle.Render(" (edited)"))
			}
		}
		if m.typing {
			if len(m.lines) > 0 {
				chat.WriteString("\n")
			}
			chat.WriteString(m.input.View())
		}
		b.WriteString(ChatBoxStyle.Render(chat.String()) + "\n")
	}

	if m.notice != "" {
		style := MutedStyle
		if m.failed {
			style = ErrorStyle
		}
		b.WriteString(style.Render(m.notice) + "\n")
	}

	help := "m mic • s share • tab chat • q leave"
	if m.typing {
		help = "enter send • esc cancel"
	}
	b.WriteString(FooterStyle.Render(help))

	return b.String()
}

func (m *CallModel) mediaLine() string {
	mic := MutedStyle.Render(IconMicOff + " mic off")
	if m.snap.Microphone != "" {
		mic = SuccessStyle.Render(IconMic+" mic") + " " + m.snap.Microphone
	}

	share := MutedStyle.Render(IconScreen + " not sharing")
	if m.snap.Screen != "" {
		share = SuccessStyle.Render(IconScreen+" sharing") + " " + m.snap.Screen
	}

	line := mic + "   " + share
	if m.snap.Viewport != "" {
		line += "   " + fmt.Sprintf("%s viewing %s", IconScreen, m.snap.Viewport)
	}
	return line
}

// RunCall shows the live view until the user quits or ctx ends.
func RunCall(ctx context.Context, call Call, chat <-chan ChatLine) error {
	p := tea.NewProgram(NewCallModel(call, chat), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
