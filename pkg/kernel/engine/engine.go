// Package engine runs compiled AT scripts: it drives a session against a
// transport, applies setup keywords between commands and enforces
// abort-on-failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/session"
	"github.com/ormasoftchile/atrun/pkg/kernel/trace"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
	"github.com/ormasoftchile/atrun/pkg/kernel/value"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// ErrNoTransport is returned when a command needs a transport and the run
// has no factory.
var ErrNoTransport = errors.New("no transport configured")

// RunConfig configures a script execution.
type RunConfig struct {
	RunID   string
	Factory transport.Factory
	Trace   *trace.Writer
	Logger  *zap.Logger
	Stdout  io.Writer // for print; defaults to os.Stdout
	// Vars seed the session before the first command.
	Vars map[string]any
	// AbortOnFailure overrides the script setting when non-nil.
	AbortOnFailure *bool
	// Env resolves getenv; defaults to os.LookupEnv.
	Env func(string) (string, bool)
}

// RunResult is the outcome of executing a script.
type RunResult struct {
	Status    string // "completed", "failed", "error"
	Responses []*schema.Response
	// Failures counts responses that did not succeed.
	Failures int
	Duration time.Duration
	Error    error
}

// RuntimeError aborts a run: a command failed without recovery, or a setup
// keyword failed, while abort-on-failure is on.
type RuntimeError struct {
	Command  string
	Response string
	Setup    *schema.Setup
	Err      error
}

func (e *RuntimeError) Error() string {
	if e.Setup != nil {
		return fmt.Sprintf("setup %s failed: %v", e.Setup, e.Err)
	}
	return fmt.Sprintf("command %q got a bad response: %q (and has no alternate)", e.Command, e.Response)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// redactedError carries a message with secrets removed and keeps the
// original error reachable for errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func (e *Engine) redactError(err error) error {
	msg := e.Redact(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

// Engine executes atscript/v0 programs.
type Engine struct {
	cfg     RunConfig
	prog    *schema.Program
	session *session.Session
	trace   *trace.Writer
	log     *zap.Logger

	setups    []schema.Setup
	tcfg      transport.Config
	tr        transport.Transport
	aof       bool
	completed int // successful commands, indexes setups
}

// New creates an engine for the given program.
func New(prog *schema.Program, cfg RunConfig) *Engine {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Env == nil {
		cfg.Env = os.LookupEnv
	}

	s := session.New(prog.Commands...)
	for k, v := range cfg.Vars {
		s.SetValue(k, value.FromAny(v))
	}

	aof := prog.AbortOnFailure
	if cfg.AbortOnFailure != nil {
		aof = *cfg.AbortOnFailure
	}

	tcfg := transport.Config{
		Device:    prog.Device.Port,
		BaudRate:  prog.Device.BaudRate,
		Timeout:   prog.Device.Timeout.Std(),
		LineBreak: prog.Device.LineBreak,
	}
	s.SetDefaultTimeout(tcfg.WithDefaults().Timeout)

	e := &Engine{
		cfg:     cfg,
		prog:    prog,
		session: s,
		trace:   cfg.Trace,
		log:     cfg.Logger.With(zap.String("run_id", cfg.RunID)),
		setups:  append([]schema.Setup(nil), prog.Setups...),
		tcfg:    tcfg,
		aof:     aof,
	}
	e.trace.SetSecrets(prog.Secrets, s.Values().Lookup)
	return e
}

// Session returns the engine's session.
func (e *Engine) Session() *session.Session { return e.session }

// TransportConfig returns the live transport configuration.
func (e *Engine) TransportConfig() transport.Config { return e.tcfg }

// AbortOnFailure reports the current abort-on-failure flag.
func (e *Engine) AbortOnFailure() bool { return e.aof }

// Completed returns the number of commands that succeeded so far.
func (e *Engine) Completed() int { return e.completed }

// Run executes the program until the queue drains or a command aborts it.
// The transport is opened on first use and closed on return.
func (e *Engine) Run(ctx context.Context) *RunResult {
	start := time.Now()
	e.trace.EmitRunStart(e.prog.Name, e.session.Values().Snapshot())
	e.log.Info("run started", zap.String("script", e.prog.Name), zap.Int("commands", len(e.prog.Commands)))

	result := &RunResult{Status: StatusCompleted}
	for {
		resp, err := e.ExecNext(ctx)
		if resp != nil {
			result.Responses = append(result.Responses, resp)
			if !resp.Succeeded {
				result.Failures++
			}
		}
		if err != nil {
			result.Error = err
			result.Status = StatusError
			var rerr *RuntimeError
			if errors.As(err, &rerr) {
				result.Status = StatusFailed
			}
			break
		}
		if resp == nil {
			break
		}
	}

	if len(e.setups) > 0 && result.Error == nil {
		e.log.Warn("setup keywords not reached", zap.Int("count", len(e.setups)))
	}
	if err := e.Close(); err != nil && result.Error == nil {
		result.Error = err
		result.Status = StatusError
	}

	result.Duration = time.Since(start)
	e.trace.EmitRunComplete(result.Status, len(result.Responses), result.Duration)
	e.log.Info("run finished",
		zap.String("status", result.Status),
		zap.Int("responses", len(result.Responses)),
		zap.Int("failures", result.Failures),
		zap.Duration("duration", result.Duration))
	return result
}

// ExecNext applies the setup keywords due before the next command, then
// sends it. It returns nil, nil when the queue is empty.
func (e *Engine) ExecNext(ctx context.Context) (*schema.Response, error) {
	if err := e.applyDueSetups(ctx); err != nil {
		return nil, err
	}
	p, ok := e.session.Next()
	if !ok {
		return nil, nil
	}
	resp, err := e.send(ctx, p)
	if err != nil {
		return nil, err
	}
	if resp.Succeeded {
		e.completed++
		return resp, nil
	}
	return resp, e.checkAbort(p, resp)
}

// Exec clears the queue and runs cmd alone. Setup keywords are not applied.
func (e *Engine) Exec(ctx context.Context, cmd *schema.Command) (*schema.Response, error) {
	if cmd == nil {
		return nil, fmt.Errorf("exec: nil command")
	}
	e.session.Abandon()
	e.session.Clear()
	e.session.Append(cmd)
	p, _ := e.session.Next()
	resp, err := e.send(ctx, p)
	if err != nil {
		return nil, err
	}
	if resp.Succeeded {
		return resp, nil
	}
	return resp, e.checkAbort(p, resp)
}

// Close closes the transport if it is open.
func (e *Engine) Close() error {
	if e.tr == nil {
		return nil
	}
	tr := e.tr
	e.tr = nil
	e.trace.EmitTransportClosed(e.tcfg.Device)
	if err := tr.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (e *Engine) checkAbort(p *session.Pending, resp *schema.Response) error {
	recovering := p.Command.Alternate != nil && !p.Alternate
	if recovering || !e.aof {
		return nil
	}
	return &RuntimeError{Command: e.Redact(p.Text), Response: e.Redact(resp.FullResponse())}
}

func (e *Engine) open(ctx context.Context) error {
	if e.tr != nil {
		return nil
	}
	if e.cfg.Factory == nil {
		return ErrNoTransport
	}
	cfg := e.tcfg.WithDefaults()
	tr, err := e.cfg.Factory(cfg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := tr.Open(ctx); err != nil {
		return fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	e.tr = tr
	e.trace.EmitTransportOpened(cfg.Device, cfg.BaudRate)
	e.log.Debug("transport opened", zap.String("device", cfg.Device), zap.Int("baud_rate", cfg.BaudRate))
	return nil
}

// send performs one exchange for the in-flight command and validates it.
// A transport timeout is not an error: the partial reply is validated and
// fails on elapsed time.
func (e *Engine) send(ctx context.Context, p *session.Pending) (*schema.Response, error) {
	if err := e.open(ctx); err != nil {
		return nil, err
	}

	cmd := p.Command
	e.trace.EmitCommandSent(p.Text, p.Alternate)
	e.log.Debug("sending command", zap.String("command", e.Redact(p.Text)), zap.Bool("alternate", p.Alternate))

	reply, err := e.tr.Exec(ctx, transport.Request{
		Text:    p.Text,
		Delay:   cmd.Delay,
		Timeout: e.session.Timeout(cmd),
	})
	if err != nil && !errors.Is(err, transport.ErrTimeout) {
		return nil, fmt.Errorf("command %q: %w", e.Redact(p.Text), err)
	}
	if reply == nil {
		reply = &transport.Reply{}
	}

	resp, err := e.session.Validate(reply.Lines, reply.Elapsed)
	if err != nil {
		return nil, err
	}

	e.trace.EmitCommandResolved(resp.Command, resp.Lines, resp.Line, resp.Succeeded, resp.TimedOut, resp.Elapsed)
	for _, c := range resp.Captured {
		e.trace.EmitValueCaptured(c.Name, c.Value.Native())
	}
	if !resp.Succeeded && cmd.Alternate != nil && !p.Alternate {
		e.trace.EmitAlternateQueued(p.Text, cmd.Alternate.Text)
		e.log.Info("queued alternate command",
			zap.String("failed", e.Redact(p.Text)),
			zap.String("alternate", cmd.Alternate.Text))
	}
	if !resp.Succeeded {
		e.log.Warn("command failed",
			zap.String("command", e.Redact(p.Text)),
			zap.String("line", e.Redact(resp.Line)),
			zap.Bool("timed_out", resp.TimedOut))
	}
	return resp, nil
}

// Redact replaces the current values of the program's secrets in s.
func (e *Engine) Redact(s string) string {
	for _, name := range e.prog.Secrets {
		if val, ok := e.session.Values().Lookup(name); ok && val != "" {
			s = strings.ReplaceAll(s, val, trace.Redacted)
		}
	}
	return s
}
