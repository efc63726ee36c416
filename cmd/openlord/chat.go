package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zaidmukaddam/openlord.ai/pkg/client"
	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/httplog"
)

func chatCmd() *cobra.Command {
	var serverURL, logFile string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the server in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// The screen belongs to the TUI, so logs go to a file.
			f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()
			setupLogging(f, cfg.LogLevel)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			c := client.New(serverURL, httplog.NewClient("chat", 0))
			ui := newChatModel(ctx, client.NewConversation(c), client.NewSettings())
			p := tea.NewProgram(ui, tea.WithAltScreen())
			ui.send.p = p
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running chat UI: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "chat server base URL")
	cmd.Flags().StringVar(&logFile, "log-file", "openlord-chat.log", "where to write logs")
	return cmd
}

// Messages delivered to the bubbletea loop.
type (
	updateMsg   []domain.Message
	turnDoneMsg struct{ err error }
)

// sender lets the turn goroutine reach the program created after the model.
type sender struct{ p *tea.Program }

func (s *sender) Send(msg tea.Msg) {
	if s.p != nil {
		s.p.Send(msg)
	}
}

type chatModel struct {
	ctx      context.Context
	conv     *client.Conversation
	settings *client.Settings
	send     *sender

	messages []domain.Message
	pending  []domain.Attachment
	busy     bool
	status   string
	err      error
	cancel   context.CancelFunc

	width, height int

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, conv *client.Conversation, settings *client.Settings) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Send a message... (/model, /temp, /attach, /clear, /exit)"
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Ask about the weather, the news, or anything else.")

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		ctx:      ctx,
		conv:     conv,
		settings: settings,
		send:     &sender{},
		viewport: vp,
		textarea: ta,
		spinner:  sp,
		renderer: newRenderer(80),
	}
}

// newRenderer uses a fixed style; auto detection queries the terminal and
// the replies leak into the input.
func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		slog.Warn("Failed to create markdown renderer", "error", err)
		return nil
	}
	return r
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if !isEnter(msg) {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}
	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0)
		m.textarea.SetWidth(msg.Width)
		m.renderer = newRenderer(msg.Width)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			m.err = nil
			return m.submit()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.busy {
			m.refresh()
		}

	case updateMsg:
		m.messages = msg
		m.refresh()

	case turnDoneMsg:
		m.busy = false
		m.cancel = nil
		m.messages = m.conv.Messages()
		m.refresh()
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
	}

	return m, tea.Batch(cmds...)
}

func isEnter(msg tea.Msg) bool {
	k, ok := msg.(tea.KeyMsg)
	return ok && k.Type == tea.KeyEnter
}

func (m *chatModel) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderMessages(m.messages, m.renderer, m.spinner.View()))
	if atBottom || m.busy {
		m.viewport.GotoBottom()
	}
}

// submit handles the input line: a slash command or a new turn.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	if strings.HasPrefix(v, "/") {
		m.textarea.Reset()
		return m.command(v)
	}
	if m.busy {
		m.err = client.ErrTurnInFlight
		return m, nil
	}

	m.textarea.Reset()
	attachments := m.pending
	m.pending = nil
	m.busy = true
	m.status = ""

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	cfg := m.settings.Config()
	conv, send := m.conv, m.send
	return m, func() tea.Msg {
		defer cancel()
		err := conv.Submit(ctx, cfg, v, attachments, func(msgs []domain.Message) {
			send.Send(updateMsg(msgs))
		})
		return turnDoneMsg{err: err}
	}
}

func (m chatModel) command(line string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case "/model":
		if arg == "" {
			m.status = fmt.Sprintf("model: %s (%s)", m.settings.Config().Model, m.settings.Config().Model.DisplayName())
			return m, nil
		}
		if err := m.settings.SetModel(domain.ModelID(arg)); err != nil {
			m.err = err
			return m, nil
		}
		m.status = "model set to " + domain.ModelID(arg).DisplayName()

	case "/temp":
		t, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			m.err = fmt.Errorf("invalid temperature %q", arg)
			return m, nil
		}
		m.status = fmt.Sprintf("temperature set to %.2f", m.settings.SetTemperature(t))

	case "/attach":
		if len(m.pending) >= client.MaxImages {
			m.err = client.ErrTooManyImages
			return m, nil
		}
		a, err := client.AttachmentFromFile(arg)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.pending = append(m.pending, a)
		m.status = fmt.Sprintf("%d image(s) attached to the next message", len(m.pending))

	case "/clear":
		if err := m.conv.Clear(); err != nil {
			m.err = err
			return m, nil
		}
		m.messages = nil
		m.pending = nil
		m.status = "conversation cleared"
		m.refresh()

	default:
		m.err = fmt.Errorf("unknown command %s", name)
	}
	return m, nil
}

func (m chatModel) View() string {
	cfg := m.settings.Config()
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("Openlord"),
		statusStyle.Render(fmt.Sprintf("  %s · temperature %.2f", cfg.Model.DisplayName(), cfg.Temperature)),
	)

	var footer []string
	if notice := m.conv.Notice(); notice != "" && !m.busy {
		footer = append(footer, errorStyle.Render(notice))
	}
	if m.err != nil {
		footer = append(footer, errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err)))
	}
	if m.busy {
		footer = append(footer, statusStyle.Render(m.spinner.View()+" generating..."))
	} else if m.status != "" {
		footer = append(footer, statusStyle.Render(m.status))
	}

	parts := []string{header, m.viewport.View()}
	parts = append(parts, footer...)
	parts = append(parts, m.textarea.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
