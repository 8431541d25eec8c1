// Package shell implements the interactive AT shell: each typed line is sent
// to the modem as a command and its reply validated against the current
// expected pattern. Lines starting with ':' drive the shell itself.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
)

// DefaultExpected is the pattern replies must match until :expect changes it.
const DefaultExpected = "OK"

// Options configures a Shell.
type Options struct {
	In          io.Reader // defaults to os.Stdin
	Out         io.Writer // defaults to os.Stdout
	HistoryFile string
}

// Shell is an interactive session bound to one engine.
type Shell struct {
	eng         *engine.Engine
	in          io.Reader
	out         io.Writer
	historyFile string

	expected string
	collect  []string
	timeout  time.Duration
	sent     int
}

// New creates a shell driving eng. The engine's transport is opened on the
// first command.
func New(eng *engine.Engine, opts Options) *Shell {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Shell{
		eng:         eng,
		in:          opts.In,
		out:         opts.Out,
		historyFile: opts.HistoryFile,
		expected:    DefaultExpected,
	}
}

// Run reads lines until :quit or end of input. A terminal on stdin gets
// line editing and history; any other reader is consumed line by line.
func (s *Shell) Run(ctx context.Context) error {
	defer s.eng.Close()

	cfg := s.eng.TransportConfig().WithDefaults()
	fmt.Fprintf(s.out, "atrun shell on %s; type :help for commands.\n", deviceName(cfg.Device))

	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return s.runInteractive(ctx)
	}

	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Handle(ctx, scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Shell) runInteractive(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, c := range shellCommands {
		completer.Children = append(completer.Children, readline.PcItem(c.name))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     s.historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Handle(ctx, line) {
			return nil
		}
	}
}

// prompt renders as at[3]> with the number of commands sent so far.
func (s *Shell) prompt() string {
	return fmt.Sprintf("at[%d]> ", s.sent)
}

// Handle processes one input line and reports whether the shell should exit.
func (s *Shell) Handle(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || strings.HasPrefix(line, "#"):
		return false
	case strings.HasPrefix(line, ":"):
		return s.handleCommand(strings.Fields(line[1:]))
	default:
		s.send(ctx, line)
		return false
	}
}

func deviceName(d string) string {
	if d == "" {
		return "(no device)"
	}
	return d
}
