package shell

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ormasoftchile/atrun/pkg/kernel/pattern"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/value"
)

type shellCommand struct {
	name string
	help string
}

var shellCommands = []shellCommand{
	{":expect", "Show or set the expected reply pattern: :expect <regex>"},
	{":collect", "Add an extractor (:collect <template>), list them, or clear with :collect -"},
	{":timeout", "Show or set the reply timeout: :timeout <duration>, 0 for the device default"},
	{":set", "Store a value: :set <name> <value>"},
	{":get", "Show a value: :get <name>"},
	{":vars", "Show all stored values"},
	{":help", "Show this help"},
	{":quit", "Exit the shell"},
}

// send runs one AT command with the current expectation and extractors.
func (s *Shell) send(ctx context.Context, text string) {
	cmd := schema.NewCommand(text, s.expected,
		schema.WithTimeout(s.timeout),
		schema.WithExtractors(s.collect...))

	resp, err := s.eng.Exec(ctx, cmd)
	if resp == nil {
		fmt.Fprintf(s.out, "%s\n", failedStyle.Render("Error: "+err.Error()))
		return
	}
	s.sent++

	for _, l := range resp.Lines {
		fmt.Fprintf(s.out, "  %s\n", replyStyle.Render(l))
	}
	elapsed := resp.Elapsed.Round(time.Millisecond)
	switch {
	case resp.Succeeded:
		fmt.Fprintf(s.out, "%s\n", passedStyle.Render(fmt.Sprintf("%s %s (%s)", GlyphPassed, resp.Line, elapsed)))
	case resp.TimedOut:
		fmt.Fprintf(s.out, "%s\n", failedStyle.Render(fmt.Sprintf("%s timed out after %s", GlyphFailed, elapsed)))
	default:
		fmt.Fprintf(s.out, "%s\n", failedStyle.Render(fmt.Sprintf("%s %q does not match %q", GlyphFailed, resp.Line, s.expected)))
	}
	for _, c := range resp.Captured {
		fmt.Fprintf(s.out, "  %s\n", captureStyle.Render(fmt.Sprintf("%s %s = %s", GlyphCaptured, c.Name, c.Value)))
	}
}

// handleCommand runs a ':' command. args[0] is the command name.
func (s *Shell) handleCommand(args []string) (quit bool) {
	if len(args) == 0 {
		s.handleHelp()
		return false
	}
	rest := args[1:]
	switch args[0] {
	case "expect", "e":
		s.handleExpect(rest)
	case "collect", "c":
		s.handleCollect(rest)
	case "timeout", "t":
		s.handleTimeout(rest)
	case "set":
		s.handleSet(rest)
	case "get":
		s.handleGet(rest)
	case "vars", "v":
		s.handleVars()
	case "help", "h", "?":
		s.handleHelp()
	case "quit", "q", "exit":
		fmt.Fprintln(s.out, "Bye.")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %q. Type :help for available commands.\n", ":"+args[0])
	}
	return false
}

func (s *Shell) handleExpect(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "  expect %q\n", s.expected)
		return
	}
	expr := strings.Join(args, " ")
	if _, err := regexp.Compile(schema.AnchorExpected(expr)); err != nil {
		fmt.Fprintf(s.out, "  Error: invalid pattern: %v\n", err)
		return
	}
	s.expected = expr
	fmt.Fprintf(s.out, "  expect %q\n", s.expected)
}

func (s *Shell) handleCollect(args []string) {
	switch {
	case len(args) == 0:
		if len(s.collect) == 0 {
			fmt.Fprintln(s.out, "  No extractors.")
			return
		}
		for i, c := range s.collect {
			fmt.Fprintf(s.out, "  [%d] %s\n", i, c)
		}
	case len(args) == 1 && args[0] == "-":
		s.collect = nil
		fmt.Fprintln(s.out, "  Extractors cleared.")
	default:
		tmpl := strings.Join(args, " ")
		if err := pattern.Check(tmpl); err != nil {
			fmt.Fprintf(s.out, "  Error: %v\n", err)
			return
		}
		s.collect = append(s.collect, tmpl)
		fmt.Fprintf(s.out, "  collect %s\n", tmpl)
	}
}

func (s *Shell) handleTimeout(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "  timeout %s\n", s.effectiveTimeout())
		return
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d < 0 {
		fmt.Fprintf(s.out, "  Error: invalid duration %q\n", args[0])
		return
	}
	s.timeout = d
	fmt.Fprintf(s.out, "  timeout %s\n", s.effectiveTimeout())
}

func (s *Shell) effectiveTimeout() time.Duration {
	return s.eng.Session().Timeout(schema.NewCommand("", "", schema.WithTimeout(s.timeout)))
}

func (s *Shell) handleSet(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "Usage: :set <name> <value>")
		return
	}
	name := args[0]
	if !pattern.ValidName(name) {
		fmt.Fprintf(s.out, "  Error: invalid name %q\n", name)
		return
	}
	v := value.Parse(strings.Join(args[1:], " "))
	s.eng.Session().SetValue(name, v)
	fmt.Fprintf(s.out, "  %s = %s\n", name, v)
}

func (s *Shell) handleGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: :get <name>")
		return
	}
	v, err := s.eng.Session().Value(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "  %s\n", noticeStyle.Render(err.Error()))
		return
	}
	fmt.Fprintf(s.out, "  %s = %s (%s)\n", args[0], v, v.Kind())
}

func (s *Shell) handleVars() {
	store := s.eng.Session().Values()
	names := store.Names()
	if len(names) == 0 {
		fmt.Fprintln(s.out, "  No values stored.")
		return
	}
	for _, name := range names {
		v, _ := store.Get(name)
		fmt.Fprintf(s.out, "  %s = %s\n", name, v)
	}
}

func (s *Shell) handleHelp() {
	fmt.Fprintln(s.out, "Type an AT command to send it. Shell commands:")
	for _, c := range shellCommands {
		fmt.Fprintf(s.out, "  %-10s %s\n", c.name, c.help)
	}
}
