package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/atrun/pkg/kernel/eval"
	"github.com/ormasoftchile/atrun/pkg/kernel/executor"
	"github.com/ormasoftchile/atrun/pkg/kernel/pattern"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/value"
)

// applyDueSetups runs, once each, the setups attached to the current
// success count.
func (e *Engine) applyDueSetups(ctx context.Context) error {
	var due, rest []schema.Setup
	for _, s := range e.setups {
		if s.Before == e.completed {
			due = append(due, s)
		} else {
			rest = append(rest, s)
		}
	}
	e.setups = rest

	for i := range due {
		s := due[i]
		if err := e.ApplySetup(ctx, s); err != nil {
			if e.aof {
				return &RuntimeError{Setup: &s, Err: err}
			}
			e.log.Warn("setup keyword failed", zap.String("setup", e.Redact(s.String())), zap.Error(err))
		}
	}
	return nil
}

// ApplySetup executes one setup keyword.
func (e *Engine) ApplySetup(ctx context.Context, s schema.Setup) error {
	detail, err := e.applySetup(ctx, s)
	if err != nil {
		return err
	}
	e.trace.EmitSetupApplied(string(s.Keyword), s.StepID, detail)
	e.log.Debug("setup applied", zap.String("keyword", string(s.Keyword)), zap.String("detail", e.Redact(detail)))
	return nil
}

func (e *Engine) applySetup(ctx context.Context, s schema.Setup) (string, error) {
	values := e.session.Values()

	switch s.Keyword {
	case schema.KeywordDevice:
		device, ok := s.Value.(string)
		if !ok || device == "" {
			return "", fmt.Errorf("device: want a non-empty string, got %v", s.Value)
		}
		if err := e.Close(); err != nil {
			return "", err
		}
		e.tcfg.Device = device
		return device, nil

	case schema.KeywordBaudRate:
		baud, ok := s.Value.(int)
		if !ok || baud <= 0 {
			return "", fmt.Errorf("baud_rate: want a positive integer, got %v", s.Value)
		}
		if err := e.Close(); err != nil {
			return "", err
		}
		e.tcfg.BaudRate = baud
		return fmt.Sprint(baud), nil

	case schema.KeywordTimeout:
		d, ok := s.Value.(time.Duration)
		if !ok || d <= 0 {
			return "", fmt.Errorf("default_timeout: want a positive duration, got %v", s.Value)
		}
		e.tcfg.Timeout = d
		e.session.SetDefaultTimeout(d)
		return d.String(), nil

	case schema.KeywordBreak:
		lb, ok := s.Value.(string)
		if !ok || lb == "" {
			return "", fmt.Errorf("break: want a non-empty string, got %v", s.Value)
		}
		// The line break is fixed per connection.
		if err := e.Close(); err != nil {
			return "", err
		}
		e.tcfg.LineBreak = lb
		return fmt.Sprintf("%q", lb), nil

	case schema.KeywordAbortOnFailure:
		aof, ok := s.Value.(bool)
		if !ok {
			return "", fmt.Errorf("abort_on_failure: want a bool, got %v", s.Value)
		}
		e.aof = aof
		return fmt.Sprint(aof), nil

	case schema.KeywordSet:
		if !pattern.ValidName(s.Name) {
			return "", fmt.Errorf("set: invalid name %q", s.Name)
		}
		v := value.FromAny(s.Value)
		values.Set(s.Name, v)
		return s.Name + "=" + v.String(), nil

	case schema.KeywordGetenv:
		name, _ := s.Value.(string)
		raw, ok := e.cfg.Env(name)
		if !ok {
			return "", fmt.Errorf("getenv: environment variable %q is not set", name)
		}
		values.Set(name, value.Parse(raw))
		return name, nil

	case schema.KeywordPrint:
		text, _ := s.Value.(string)
		out := pattern.Substitute(text, values)
		if _, err := fmt.Fprintln(e.cfg.Stdout, out); err != nil {
			return "", fmt.Errorf("print: %w", err)
		}
		return out, nil

	case schema.KeywordExec:
		command, _ := s.Value.(string)
		command = pattern.Substitute(command, values)
		res, err := executor.RunShell(ctx, command, nil)
		if err != nil {
			return "", e.redactError(err)
		}
		if !res.OK() {
			msg := strings.TrimSpace(res.Stderr)
			if msg == "" {
				msg = strings.TrimSpace(res.Stdout)
			}
			return "", e.redactError(fmt.Errorf("exec %q: exit code %d: %s", command, res.ExitCode, msg))
		}
		return command, nil

	case schema.KeywordAssert:
		expression, _ := s.Value.(string)
		ok, err := eval.EvalBool(expression, values.Snapshot())
		if err != nil {
			return "", fmt.Errorf("assert: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("assert: %q is false", expression)
		}
		return expression, nil

	default:
		return "", fmt.Errorf("unknown setup keyword %q", s.Keyword)
	}
}
