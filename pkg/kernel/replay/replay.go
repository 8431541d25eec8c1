// Package replay provides scenario-based replay of modem conversations.
// A scenario contains canned replies keyed by command text, enabling
// deterministic re-execution of scripts without hardware.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/trace"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
	"gopkg.in/yaml.v3"
)

// Scenario is the top-level replay scenario document.
type Scenario struct {
	// Values seed the session before the script runs.
	Values map[string]any `yaml:"values,omitempty" json:"values,omitempty"`

	// Env overrides environment lookups made by getenv.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Replies maps the sent command text to canned replies, consumed in order.
	Replies map[string][]CannedReply `yaml:"replies,omitempty" json:"replies,omitempty"`

	// Default replies answer commands without a keyed entry, in order.
	Default []CannedReply `yaml:"default,omitempty" json:"default,omitempty"`
}

// CannedReply is a single recorded reply.
type CannedReply struct {
	Lines   []string        `yaml:"lines" json:"lines"`
	Elapsed schema.Duration `yaml:"elapsed,omitempty" json:"elapsed,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarioDir loads a scenario from a directory containing scenario.yaml.
func LoadScenarioDir(dir string) (*Scenario, error) {
	return LoadScenario(filepath.Join(dir, "scenario.yaml"))
}

// WriteScenario saves a scenario as YAML.
func WriteScenario(path string, s *Scenario) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scenario: %w", err)
	}
	return nil
}

// Transport implements transport.Transport using canned scenario replies.
// Replies are consumed in order (first-match, first-consumed).
type Transport struct {
	scenario *Scenario

	mu       sync.Mutex
	consumed map[string]int
	defaults int
	sent     []string
	open     bool
	secrets  []string
	lookup   func(string) (string, bool)
}

// NewTransport creates a replay transport from a scenario.
func NewTransport(s *Scenario) *Transport {
	return &Transport{
		scenario: s,
		consumed: make(map[string]int),
	}
}

// Factory returns a transport.Factory that always hands out t. The replay
// state survives reopening after a device change.
func (t *Transport) Factory() transport.Factory {
	return func(transport.Config) (transport.Transport, error) { return t, nil }
}

// SetSecrets lets commands match scenario keys recorded with redacted
// secrets.
func (t *Transport) SetSecrets(names []string, lookup func(string) (string, bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.secrets = append([]string(nil), names...)
	t.lookup = lookup
}

func (t *Transport) Open(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

// Exec returns the next canned reply for req.Text.
func (t *Transport) Exec(ctx context.Context, req transport.Request) (*transport.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil, transport.ErrNotOpen
	}
	t.sent = append(t.sent, req.Text)

	key := req.Text
	replies, ok := t.scenario.Replies[key]
	if !ok {
		key = t.redact(req.Text)
		replies, ok = t.scenario.Replies[key]
	}
	if ok {
		idx := t.consumed[key]
		if idx >= len(replies) {
			return nil, fmt.Errorf("replay: exhausted canned replies for %q (used %d): %w", key, len(replies), transport.ErrNoReply)
		}
		t.consumed[key] = idx + 1
		return toReply(replies[idx]), nil
	}

	if t.defaults < len(t.scenario.Default) {
		r := t.scenario.Default[t.defaults]
		t.defaults++
		return toReply(r), nil
	}
	return nil, fmt.Errorf("replay: no canned reply for %q: %w", req.Text, transport.ErrNoReply)
}

// Sent returns the command texts sent so far, in order.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *Transport) redact(s string) string {
	if t.lookup == nil {
		return s
	}
	for _, name := range t.secrets {
		if val, ok := t.lookup(name); ok && val != "" {
			s = strings.ReplaceAll(s, val, trace.Redacted)
		}
	}
	return s
}

func toReply(r CannedReply) *transport.Reply {
	return &transport.Reply{
		Lines:   append([]string(nil), r.Lines...),
		Elapsed: time.Duration(r.Elapsed),
	}
}
