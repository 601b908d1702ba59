package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

const (
	statsInterval = 250 * time.Millisecond
	maxLines      = 200
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type lineKind int

const (
	lineInput lineKind = iota
	lineOutput
	lineResult
	lineError
)

type line struct {
	text string
	kind lineKind
}

type consoleModel struct {
	err     error
	session *session
	attach  func() []string
	input   textinput.Model
	lines   []line
	history []string
	stats   stats
	histIdx int
	height  int
	busy    bool
}

type outputMsg string

type evalMsg struct {
	err    error
	result string
}

type statsMsg stats

// programWriter forwards engine print output into the program. Output
// written before the program runs is held until attach.
type programWriter struct {
	p       *tea.Program
	pending []string
	mu      sync.Mutex
}

func (w *programWriter) Write(b []byte) (int, error) {
	text := strings.TrimRight(string(b), "\n")
	w.mu.Lock()
	p := w.p
	if p == nil {
		w.pending = append(w.pending, text)
	}
	w.mu.Unlock()
	if p != nil {
		p.Send(outputMsg(text))
	}
	return len(b), nil
}

// attach starts forwarding to p and returns the held output.
func (w *programWriter) attach(p *tea.Program) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.p = p
	held := w.pending
	w.pending = nil
	return held
}

func newConsoleModel(s *session) *consoleModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "lua"
	ti.Width = 80
	ti.Focus()
	return &consoleModel{session: s, input: ti, height: 24}
}

func (m *consoleModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.refreshStats()}
	if m.attach != nil {
		cmds = append(cmds, func() tea.Msg {
			return outputMsg(strings.Join(m.attach(), "\n"))
		})
	}
	return tea.Batch(cmds...)
}

func (m *consoleModel) refreshStats() tea.Cmd {
	return tea.Tick(statsInterval, func(time.Time) tea.Msg {
		return statsMsg(m.session.stats())
	})
}

func (m *consoleModel) evaluate(src string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.session.eval(src)
		return evalMsg{result: res, err: err}
	}
}

func (m *consoleModel) append(kind lineKind, text string) {
	for _, l := range strings.Split(text, "\n") {
		m.lines = append(m.lines, line{text: l, kind: kind})
	}
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			m.history = append(m.history, src)
			m.histIdx = len(m.history)
			m.append(lineInput, src)
			m.busy = true
			return m, m.evaluate(src)

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4

	case outputMsg:
		if msg != "" {
			m.append(lineOutput, string(msg))
		}
		return m, nil

	case evalMsg:
		m.busy = false
		if msg.err != nil {
			m.append(lineError, msg.err.Error())
		} else if msg.result != "" {
			m.append(lineResult, msg.result)
		}
		return m, nil

	case statsMsg:
		m.stats = stats(msg)
		return m, m.refreshStats()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+c to quit.", m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Lua Bridge"))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(m.stats.String()))
	b.WriteString("\n\n")

	visible := m.height - 5
	if visible < 1 {
		visible = 1
	}
	start := 0
	if len(m.lines) > visible {
		start = len(m.lines) - visible
	}
	for _, l := range m.lines[start:] {
		switch l.kind {
		case lineInput:
			b.WriteString(promptStyle.Render("> " + l.text))
		case lineOutput:
			b.WriteString(outputStyle.Render(l.text))
		case lineResult:
			b.WriteString(resultStyle.Render(l.text))
		case lineError:
			b.WriteString(errorStyle.Render(l.text))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • ctrl+c quit"))
	return b.String()
}

func runInteractive(ctx context.Context, cfg *Config, log *zap.Logger) error {
	w := &programWriter{}
	s, err := newSession(ctx, cfg, w, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			log.Warn("host stopped with error", zap.Error(cerr))
		}
	}()

	for _, path := range cfg.Scripts {
		if err := s.host.DoFile(path); err != nil {
			return err
		}
	}

	model := newConsoleModel(s)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	model.attach = func() []string { return w.attach(p) }
	_, err = p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
