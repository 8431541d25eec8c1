package shell

import "github.com/charmbracelet/lipgloss"

// Reply glyphs convey the verdict without relying on color alone.
const (
	GlyphPassed   = "✓"
	GlyphFailed   = "✗"
	GlyphCaptured = "←"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var (
	passedStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	replyStyle   = lipgloss.NewStyle().Foreground(colorDim)
	captureStyle = lipgloss.NewStyle().Foreground(colorCyan)
	noticeStyle  = lipgloss.NewStyle().Foreground(colorYellow)
)
