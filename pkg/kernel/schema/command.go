package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/ormasoftchile/atrun/pkg/kernel/value"
)

// DefaultTimeout is the reply timeout of commands built with NewCommand.
const DefaultTimeout = 10 * time.Second

// Command is one protocol step. Commands are templates: the session never
// mutates them, substitution produces a new string.
type Command struct {
	// Text may contain ${name} substitution tokens.
	Text string `json:"text" yaml:"text"`
	// Expected is a regular expression a reply line must fully match.
	Expected string `json:"expected" yaml:"expected"`
	// Timeout bounds the reply time. Zero uses the session default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Delay is a pre-send wait honored by the transport.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Extractors are evaluated in order against every reply line.
	Extractors []string `json:"extractors,omitempty" yaml:"extractors,omitempty"`
	// Alternate is queued in front when the reply does not match.
	Alternate *Command `json:"alternate,omitempty" yaml:"alternate,omitempty"`
}

// Option customizes a Command built by NewCommand.
type Option func(*Command)

// WithTimeout sets the reply timeout.
func WithTimeout(d time.Duration) Option { return func(c *Command) { c.Timeout = d } }

// WithDelay sets the pre-send delay.
func WithDelay(d time.Duration) Option { return func(c *Command) { c.Delay = d } }

// WithExtractors sets the extraction templates.
func WithExtractors(x ...string) Option {
	return func(c *Command) { c.Extractors = append([]string(nil), x...) }
}

// WithAlternate sets the alternate command.
func WithAlternate(alt *Command) Option { return func(c *Command) { c.Alternate = alt } }

// NewCommand returns a command with the default timeout and no delay.
func NewCommand(text, expected string, opts ...Option) *Command {
	c := &Command{Text: text, Expected: expected, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture is one value written to the session store during validation.
type Capture struct {
	Name  string      `json:"name" yaml:"name"`
	Value value.Value `json:"value" yaml:"value"`
}

// Response is the outcome of validating one reply.
type Response struct {
	// Command is the concrete text that was sent.
	Command string `json:"command" yaml:"command"`
	// Lines is the reply exactly as received.
	Lines []string `json:"lines" yaml:"lines"`
	// Line is the significant line.
	Line      string        `json:"line" yaml:"line"`
	Succeeded bool          `json:"succeeded" yaml:"succeeded"`
	TimedOut  bool          `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
	Alternate bool          `json:"alternate,omitempty" yaml:"alternate,omitempty"`
	Captured  []Capture     `json:"captured,omitempty" yaml:"captured,omitempty"`
}

// FullResponse renders the raw reply on one line.
func (r *Response) FullResponse() string {
	return strings.Join(r.Lines, "; ")
}

// AnchorExpected wraps an expected pattern so it must match a whole line.
func AnchorExpected(expected string) string {
	return "^(?:" + expected + ")$"
}

// SelectSignificantLine returns the first line fully matching expected and
// true. Without a match it returns the last line (empty for an empty reply)
// and false. An expected pattern that does not compile matches nothing.
func SelectSignificantLine(expected string, lines []string) (string, bool) {
	re, err := regexp.Compile(AnchorExpected(expected))
	if err != nil {
		return lastLine(lines), false
	}
	return SelectWith(re, lines)
}

// SelectWith is SelectSignificantLine with a precompiled, anchored pattern.
func SelectWith(re *regexp.Regexp, lines []string) (string, bool) {
	for _, line := range lines {
		if re.MatchString(line) {
			return line, true
		}
	}
	return lastLine(lines), false
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
