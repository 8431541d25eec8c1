// Package trace implements the append-only JSONL audit trail of a run.
// Events are hash chained; run_complete carries the chain hash and, when a
// signing key is configured, an HMAC signature over it.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// SigningKeyEnv names the environment variable holding the HMAC key.
const SigningKeyEnv = "ATRUN_TRACE_SIGNING_KEY"

// Redacted replaces secret values in trace output.
const Redacted = "<REDACTED>"

var genesisHash = strings.Repeat("0", 64)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventRunComplete     EventType = "run_complete"
	EventCommandSent     EventType = "command_sent"
	EventCommandResolved EventType = "command_resolved"
	EventValueCaptured   EventType = "value_captured"
	EventAlternateQueued EventType = "alternate_queued"
	EventSetupApplied    EventType = "setup_applied"
	EventTransportOpened EventType = "transport_opened"
	EventTransportClosed EventType = "transport_closed"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// SecretLookup resolves the current value of a secret by name.
type SecretLookup func(name string) (string, bool)

// Writer writes trace events to an append-only JSONL stream. A nil *Writer
// discards every event.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	secrets  []string
	lookup   SecretLookup
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesisHash}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// SetSecrets configures the writer to redact the current values of the
// named session values. lookup is consulted at every emit so values set
// during the run are covered.
func (tw *Writer) SetSecrets(names []string, lookup SecretLookup) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = append([]string(nil), names...)
	tw.lookup = lookup
}

// RedactSecrets replaces secret values in a string with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	if tw == nil || tw.lookup == nil {
		return s
	}
	for _, name := range tw.secrets {
		if val, ok := tw.lookup(name); ok && val != "" {
			s = strings.ReplaceAll(s, val, Redacted)
		}
	}
	return s
}

func (tw *Writer) redact(v any) any {
	switch x := v.(type) {
	case string:
		return tw.RedactSecrets(x)
	case []string:
		out := make([]string, len(x))
		for i, s := range x {
			out[i] = tw.RedactSecrets(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = tw.redact(val)
		}
		return out
	default:
		return v
	}
}

// Emit writes a single trace event. String data is redacted.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if data != nil {
		data = tw.redact(data).(map[string]any)
	}
	if eventType == EventRunComplete {
		if data == nil {
			data = map[string]any{}
		}
		data["chain_hash"] = tw.prevHash
		if key := os.Getenv(SigningKeyEnv); key != "" {
			data["signature"] = sign(key, tw.prevHash)
		}
	}

	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])

	_, err = tw.w.Write(append(line, '\n'))
	return err
}

func sign(key, chainHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// EmitRunStart emits a run_start event with the script name and initial
// values. Secret values are replaced by name whatever their type.
func (tw *Writer) EmitRunStart(script string, values map[string]any) error {
	data := map[string]any{"script": script}
	if values != nil {
		snapshot := make(map[string]any, len(values))
		for name, v := range values {
			if tw != nil && tw.isSecret(name) {
				v = Redacted
			}
			snapshot[name] = v
		}
		data["values"] = snapshot
	}
	return tw.Emit(EventRunStart, data)
}

// EmitRunComplete emits a run_complete event.
func (tw *Writer) EmitRunComplete(status string, commands int, duration time.Duration) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"status":   status,
		"commands": commands,
		"duration": duration.String(),
	})
}

// EmitCommandSent emits a command_sent event.
func (tw *Writer) EmitCommandSent(text string, alternate bool) error {
	data := map[string]any{"command": text}
	if alternate {
		data["alternate"] = true
	}
	return tw.Emit(EventCommandSent, data)
}

// EmitCommandResolved emits a command_resolved event.
func (tw *Writer) EmitCommandResolved(text string, lines []string, line string, succeeded, timedOut bool, elapsed time.Duration) error {
	data := map[string]any{
		"command":   text,
		"lines":     lines,
		"line":      line,
		"succeeded": succeeded,
		"elapsed":   elapsed.String(),
	}
	if timedOut {
		data["timed_out"] = true
	}
	return tw.Emit(EventCommandResolved, data)
}

// EmitValueCaptured emits a value_captured event. Secret names are logged
// with a redacted value.
func (tw *Writer) EmitValueCaptured(name string, value any) error {
	if tw != nil && tw.isSecret(name) {
		value = Redacted
	}
	return tw.Emit(EventValueCaptured, map[string]any{
		"name":  name,
		"value": value,
	})
}

// EmitAlternateQueued emits an alternate_queued event.
func (tw *Writer) EmitAlternateQueued(failed, alternate string) error {
	return tw.Emit(EventAlternateQueued, map[string]any{
		"failed":    failed,
		"alternate": alternate,
	})
}

// EmitSetupApplied emits a setup_applied event.
func (tw *Writer) EmitSetupApplied(keyword, stepID, detail string) error {
	data := map[string]any{
		"keyword": keyword,
		"detail":  detail,
	}
	if stepID != "" {
		data["step_id"] = stepID
	}
	return tw.Emit(EventSetupApplied, data)
}

// EmitTransportOpened emits a transport_opened event.
func (tw *Writer) EmitTransportOpened(device string, baudRate int) error {
	return tw.Emit(EventTransportOpened, map[string]any{
		"device":    device,
		"baud_rate": baudRate,
	})
}

// EmitTransportClosed emits a transport_closed event.
func (tw *Writer) EmitTransportClosed(device string) error {
	return tw.Emit(EventTransportClosed, map[string]any{"device": device})
}

func (tw *Writer) isSecret(name string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	for _, s := range tw.secrets {
		if s == name {
			return true
		}
	}
	return false
}
