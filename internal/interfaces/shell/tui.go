package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/domain/service"
	"github.com/hackare/hackare/internal/infrastructure/config"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type engineEventMsg struct{ event chat.Event }

type sendFinishedMsg struct {
	message *chat.Message
	err     error
}

type tuiModel struct {
	engine *service.Engine
	config *config.Manager

	viewport viewport.Model
	input    textinput.Model
	renderer *glamour.TermRenderer

	transcript []string
	streaming  strings.Builder
	busy       bool
	ready      bool

	ctx    context.Context
	logger *zap.Logger
}

// RunTUI starts the bubbletea front-end over the same engine the line
// REPL uses.
func RunTUI(ctx context.Context, engine *service.Engine, cfg *config.Manager, registry *models.Registry, logger *zap.Logger) error {
	m := &tuiModel{
		engine: engine,
		config: cfg,
		ctx:    ctx,
		logger: logger.With(zap.String("component", "tui")),
	}

	m.input = textinput.New()
	m.input.Placeholder = "Type a message..."
	m.input.Focus()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	engine.SetSink(func(ev chat.Event) {
		p.Send(engineEventMsg{event: ev})
	})
	defer engine.SetSink(nil)

	// Yolo mode still applies; without a modal prompt the TUI denies
	// unconfirmed calls rather than blocking the render loop.
	engine.SetConfirm(func(name, args string) bool { return false })

	_, err := p.Run()
	return err
}

func (m *tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.busy {
				m.engine.Cancel()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case engineEventMsg:
		m.applyEvent(msg.event)
		return m, nil

	case sendFinishedMsg:
		m.finishSend(msg)
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *tuiModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	m.input.Reset()
	m.busy = true
	m.transcript = append(m.transcript, userStyle.Render("You")+"\n"+text)
	m.refresh()

	engine := m.engine
	ctx := m.ctx
	return m, func() tea.Msg {
		msg, err := engine.Send(ctx, text)
		return sendFinishedMsg{message: msg, err: err}
	}
}

func (m *tuiModel) applyEvent(ev chat.Event) {
	switch ev.Type {
	case chat.EventChunk:
		m.streaming.WriteString(ev.Text)
	case chat.EventToolCall:
		m.transcript = append(m.transcript,
			toolStyle.Render(fmt.Sprintf("⚙ %s(%s)", ev.ToolCall.Name, clipResult(ev.ToolCall.Arguments))))
	case chat.EventToolResult:
		status := "ok"
		if !ev.Success {
			status = "failed"
		}
		m.transcript = append(m.transcript,
			toolStyle.Render(fmt.Sprintf("⚙ %s → %s (%s)", ev.ToolCall.Name, clipResult(ev.Output), status)))
	}
	m.refresh()
}

func (m *tuiModel) finishSend(msg sendFinishedMsg) {
	m.busy = false
	m.streaming.Reset()

	if msg.err != nil {
		m.transcript = append(m.transcript, errorStyle.Render("Error: "+msg.err.Error()))
	} else if msg.message != nil {
		m.transcript = append(m.transcript, m.renderMarkdown(msg.message.Content))
	}
	m.refresh()
}

func (m *tuiModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func (m *tuiModel) layout(width, height int) {
	headerHeight := 2
	inputHeight := 3
	if !m.ready {
		m.viewport = viewport.New(width, height-headerHeight-inputHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = height - headerHeight - inputHeight
	}
	m.input.Width = width - 4

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err == nil {
		m.renderer = renderer
	}
	m.refresh()
}

func (m *tuiModel) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	b.WriteString(strings.Join(m.transcript, "\n\n"))
	if m.streaming.Len() > 0 {
		b.WriteString("\n\n")
		b.WriteString(m.streaming.String())
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *tuiModel) View() string {
	if !m.ready {
		return "loading..."
	}
	cfg := m.config.Get()
	status := cfg.Model
	if m.busy {
		status += " · thinking..."
	}
	header := titleStyle.Render("hacka.re") + " " + statusStyle.Render(status)
	return header + "\n" + m.viewport.View() + "\n\n" + m.input.View()
}
