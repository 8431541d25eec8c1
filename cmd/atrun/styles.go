package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	glyphPassed  = "✓"
	glyphFailed  = "✗"
	glyphWarning = "⚠"
	glyphSkipped = "○"
)

var (
	passedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// isTerminal reports whether stdout is an interactive terminal. Reply lines
// are only echoed there; piped output keeps to the summary.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
