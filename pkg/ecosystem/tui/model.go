// Package tui is a Bubble Tea front end that steps through an AT script one
// command at a time.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
)

// Run states.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Row is one resolved command.
type Row struct {
	Command   string
	Line      string
	Status    string // "success", "failed", "timeout"
	Alternate bool
	Duration  time.Duration
	Lines     []string
	Captured  []schema.Capture
}

// Model is the Bubble Tea model for the script stepper.
type Model struct {
	eng    *engine.Engine
	name   string
	rows   []Row
	queued []string

	selected int
	status   string
	busy     bool
	auto     bool
	quitting bool
	err      error

	width  int
	height int
	ctx    context.Context
	cancel context.CancelFunc
}

// NewModel creates a stepper for a script loaded into eng.
func NewModel(eng *engine.Engine, name string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		eng:    eng,
		name:   name,
		status: StatusIdle,
		ctx:    ctx,
		cancel: cancel,
	}
	m.refreshQueue()
	return m
}

// Rows returns the resolved commands so far.
func (m Model) Rows() []Row { return m.rows }

// Status returns the run state.
func (m Model) Status() string { return m.status }

// --- Messages ---

// stepMsg carries the outcome of one ExecNext call.
type stepMsg struct {
	resp *schema.Response
	err  error
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			if m.busy {
				// The engine is closed once the running command returns.
				m.quitting = true
				return m, nil
			}
			m.eng.Close()
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case "n", "enter", " ":
			return m.step()
		case "r":
			m.auto = true
			return m.step()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case stepMsg:
		m.busy = false
		m.apply(msg)
		if m.quitting {
			if !m.done() {
				m.eng.Close()
			}
			return m, tea.Quit
		}
		if m.auto && !m.done() {
			return m.step()
		}
	}

	return m, nil
}

// step sends the next command unless one is already running.
func (m Model) step() (tea.Model, tea.Cmd) {
	if m.busy || m.quitting || m.done() {
		return m, nil
	}
	m.busy = true
	m.status = StatusRunning
	eng, ctx := m.eng, m.ctx
	return m, func() tea.Msg {
		resp, err := eng.ExecNext(ctx)
		return stepMsg{resp: resp, err: err}
	}
}

func (m *Model) apply(msg stepMsg) {
	if msg.resp != nil {
		r := msg.resp
		row := Row{
			Command:   m.eng.Redact(r.Command),
			Line:      m.eng.Redact(r.Line),
			Alternate: r.Alternate,
			Duration:  r.Elapsed,
			Captured:  r.Captured,
			Status:    "success",
		}
		for _, l := range r.Lines {
			row.Lines = append(row.Lines, m.eng.Redact(l))
		}
		switch {
		case r.TimedOut:
			row.Status = "timeout"
		case !r.Succeeded:
			row.Status = "failed"
		}
		m.rows = append(m.rows, row)
		m.selected = len(m.rows) - 1
	}
	m.refreshQueue()

	switch {
	case msg.err != nil:
		m.err = msg.err
		m.status = StatusFailed
		m.auto = false
		m.eng.Close()
	case msg.resp == nil:
		m.status = StatusCompleted
		m.auto = false
		m.eng.Close()
	}
}

func (m Model) done() bool {
	return m.status == StatusCompleted || m.status == StatusFailed
}

func (m *Model) refreshQueue() {
	q := m.eng.Session()
	m.queued = nil
	for i := 0; i < q.Len(); i++ {
		m.queued = append(m.queued, q.Peek(i).Text)
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("  atrun: %s", m.name)))
	b.WriteString("\n\n")

	for i, r := range m.rows {
		line := fmt.Sprintf("%s %s", rowIcon(r.Status), r.Command)
		if r.Alternate {
			line += " (alternate)"
		}
		line += fmt.Sprintf("  %s  %s", r.Line, r.Duration.Truncate(time.Millisecond))
		if i == m.selected {
			b.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	for _, text := range m.queued {
		b.WriteString(dimStyle.Render("  ○ " + text))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch m.status {
	case StatusIdle:
		b.WriteString(dimStyle.Render("  Ready"))
	case StatusRunning:
		b.WriteString(dimStyle.Render("  Running..."))
	case StatusCompleted:
		b.WriteString(okStyle.Render(fmt.Sprintf("  ✓ completed (%d responses)", len(m.rows))))
	case StatusFailed:
		msg := ""
		if m.err != nil {
			msg = m.eng.Redact(m.err.Error())
		}
		var rerr *engine.RuntimeError
		if errors.As(m.err, &rerr) {
			msg = "aborted: " + msg
		}
		b.WriteString(failStyle.Render("  ✗ " + msg))
	}

	if m.selected < len(m.rows) {
		r := m.rows[m.selected]
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("  Reply:"))
		for _, l := range r.Lines {
			b.WriteString("\n    " + l)
		}
		for _, c := range r.Captured {
			b.WriteString(fmt.Sprintf("\n    ← %s = %s", c.Name, m.eng.Redact(c.Value.String())))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("  n: next  r: run all  ↑/↓: navigate  q: quit"))

	return b.String()
}

func rowIcon(status string) string {
	switch status {
	case "success":
		return "✓"
	case "failed":
		return "✗"
	case "timeout":
		return "⧗"
	default:
		return "?"
	}
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
	failStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)
