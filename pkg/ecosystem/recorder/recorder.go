// Package recorder captures live modem exchanges as replay scenarios.
package recorder

import (
	"context"
	"strings"
	"sync"

	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/trace"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
)

// Exchange records a single command and its reply.
type Exchange struct {
	Command string
	Reply   replay.CannedReply
}

// Recorder wraps a Transport and captures all replies.
type Recorder struct {
	inner transport.Transport

	mu        sync.Mutex
	Exchanges []Exchange
	secrets   []string
	lookup    func(string) (string, bool)
}

// New creates a recording wrapper around an existing transport.
func New(inner transport.Transport) *Recorder {
	return &Recorder{inner: inner}
}

// Wrap returns a factory whose transports are recorded into r. r follows
// the most recently built transport.
func (r *Recorder) Wrap(f transport.Factory) transport.Factory {
	return func(cfg transport.Config) (transport.Transport, error) {
		t, err := f(cfg)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.inner = t
		r.mu.Unlock()
		return r, nil
	}
}

// SetSecrets configures session value names whose values are redacted in
// captured output.
func (r *Recorder) SetSecrets(names []string, lookup func(string) (string, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = append([]string(nil), names...)
	r.lookup = lookup
}

func (r *Recorder) Open(ctx context.Context) error { return r.transport().Open(ctx) }

func (r *Recorder) Close() error { return r.transport().Close() }

// Exec delegates to the inner transport and records the reply. Timed out
// replies are recorded with what arrived.
func (r *Recorder) Exec(ctx context.Context, req transport.Request) (*transport.Reply, error) {
	reply, err := r.transport().Exec(ctx, req)
	if reply == nil {
		return reply, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(reply.Lines))
	for i, l := range reply.Lines {
		lines[i] = r.redact(l)
	}
	r.Exchanges = append(r.Exchanges, Exchange{
		Command: r.redact(req.Text),
		Reply:   replay.CannedReply{Lines: lines, Elapsed: schema.Duration(reply.Elapsed)},
	})
	return reply, err
}

// Scenario builds a replay scenario from the recorded exchanges.
func (r *Recorder) Scenario() *replay.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &replay.Scenario{Replies: make(map[string][]replay.CannedReply)}
	for _, ex := range r.Exchanges {
		s.Replies[ex.Command] = append(s.Replies[ex.Command], ex.Reply)
	}
	return s
}

// WriteScenario saves the recorded exchanges as a scenario file.
func (r *Recorder) WriteScenario(path string) error {
	return replay.WriteScenario(path, r.Scenario())
}

func (r *Recorder) transport() transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	if r.lookup == nil {
		return s
	}
	for _, name := range r.secrets {
		if val, ok := r.lookup(name); ok && val != "" {
			s = strings.ReplaceAll(s, val, trace.Redacted)
		}
	}
	return s
}
