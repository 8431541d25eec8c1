// Package session implements the command queue of an AT conversation: one
// command in flight at a time, value substitution on send, reply validation
// with value extraction, and alternate-command recovery on failure.
//
// A Session performs no I/O and has no internal locking. The caller sends
// the text returned by Next and hands the reply lines to Validate.
package session

import (
	"errors"
	"time"

	"github.com/ormasoftchile/atrun/pkg/kernel/pattern"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/value"
)

// ErrNothingInFlight is returned by Validate when Next has not handed out a
// command since the last validation.
var ErrNothingInFlight = errors.New("no command in flight")

// Pending is a command handed out by Next and awaiting validation.
type Pending struct {
	Command *schema.Command
	// Text is Command.Text with ${name} tokens substituted.
	Text string
	// Alternate is true when the command was queued as a recovery step.
	Alternate bool
}

type entry struct {
	cmd       *schema.Command
	alternate bool
}

// Session is one AT conversation.
type Session struct {
	queue      []entry
	inFlight   *Pending
	values     *value.Store
	lastFailed bool
	cache      *pattern.Cache

	// defaultTimeout applies to commands whose own Timeout is zero.
	defaultTimeout time.Duration
}

// New returns a session with cmds queued in order. Nil commands are skipped.
func New(cmds ...*schema.Command) *Session {
	s := &Session{
		values: value.NewStore(),
		cache:  pattern.NewCache(pattern.DefaultCacheSize),
	}
	for _, c := range cmds {
		s.Append(c)
	}
	return s
}

// Append pushes cmd to the back of the queue.
func (s *Session) Append(cmd *schema.Command) bool {
	if cmd == nil {
		return false
	}
	s.queue = append(s.queue, entry{cmd: cmd})
	return true
}

// AppendNew builds a command with NewCommand and appends it. It reports
// false and leaves the queue untouched when text or expected is empty.
func (s *Session) AppendNew(text, expected string, opts ...schema.Option) bool {
	if text == "" || expected == "" {
		return false
	}
	return s.Append(schema.NewCommand(text, expected, opts...))
}

// Remove deletes the queued command at index i.
func (s *Session) Remove(i int) bool {
	if i < 0 || i >= len(s.queue) {
		return false
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	return true
}

// Peek returns the queued command at index i, or nil.
func (s *Session) Peek(i int) *schema.Command {
	if i < 0 || i >= len(s.queue) {
		return nil
	}
	return s.queue[i].cmd
}

// Len returns the number of queued commands. The in-flight command is not
// counted.
func (s *Session) Len() int { return len(s.queue) }

// Clear drops every queued command. Values and the in-flight slot are kept.
func (s *Session) Clear() { s.queue = nil }

// Reset returns the session to its empty state.
func (s *Session) Reset() {
	s.queue = nil
	s.inFlight = nil
	s.values = value.NewStore()
	s.lastFailed = false
}

// Next hands out the command to send. A command already in flight is
// returned again as is. Otherwise the front of the queue is popped and its
// text substituted from the current values. ok is false when nothing is in
// flight and the queue is empty.
func (s *Session) Next() (p *Pending, ok bool) {
	if s.inFlight != nil {
		return s.inFlight, true
	}
	if len(s.queue) == 0 {
		return nil, false
	}
	e := s.queue[0]
	s.queue[0] = entry{}
	s.queue = s.queue[1:]

	s.inFlight = &Pending{
		Command:   e.cmd,
		Text:      pattern.Substitute(e.cmd.Text, s.values),
		Alternate: e.alternate,
	}
	return s.inFlight, true
}

// SetDefaultTimeout sets the timeout used for commands without one. Zero
// leaves such commands unchecked.
func (s *Session) SetDefaultTimeout(d time.Duration) { s.defaultTimeout = d }

// Timeout returns the reply timeout Validate enforces for cmd.
func (s *Session) Timeout(cmd *schema.Command) time.Duration {
	if cmd.Timeout > 0 {
		return cmd.Timeout
	}
	return s.defaultTimeout
}

// InFlight returns the command awaiting validation, or nil.
func (s *Session) InFlight() *Pending { return s.inFlight }

// Abandon drops the in-flight command without validating it, for callers
// whose exchange broke off. It reports whether a command was in flight.
func (s *Session) Abandon() bool {
	had := s.inFlight != nil
	s.inFlight = nil
	return had
}

// Validate judges the reply to the in-flight command.
//
// Extractors run whether or not the reply matched. A failed command with an
// alternate has the alternate queued in front; alternates themselves never
// queue a further alternate. A reply slower than the command timeout fails
// even when a line matched.
func (s *Session) Validate(lines []string, elapsed time.Duration) (*schema.Response, error) {
	p := s.inFlight
	if p == nil {
		return &schema.Response{Lines: lines, Elapsed: elapsed}, ErrNothingInFlight
	}
	cmd := p.Command

	resp := &schema.Response{
		Command:   p.Text,
		Lines:     lines,
		Elapsed:   elapsed,
		Alternate: p.Alternate,
	}

	matched := false
	if re, err := s.cache.Compile(schema.AnchorExpected(cmd.Expected)); err == nil {
		resp.Line, matched = schema.SelectWith(re, lines)
	} else {
		resp.Line, matched = schema.SelectSignificantLine(cmd.Expected, lines)
	}

	resp.Captured = s.extract(cmd.Extractors, lines)

	timeout := s.Timeout(cmd)
	resp.TimedOut = timeout > 0 && elapsed > timeout
	resp.Succeeded = matched && !resp.TimedOut
	s.lastFailed = !resp.Succeeded

	if !resp.Succeeded && cmd.Alternate != nil && !p.Alternate {
		s.queue = append([]entry{{cmd: cmd.Alternate, alternate: true}}, s.queue...)
	}

	s.inFlight = nil
	return resp, nil
}

// extract runs each extractor against the reply. Templates are compiled
// against the live store so a later extractor sees what an earlier one
// captured.
func (s *Session) extract(templates []string, lines []string) []schema.Capture {
	var captured []schema.Capture
	for _, tmpl := range templates {
		x, err := s.cache.Extractor(tmpl, s.values)
		if err != nil {
			continue
		}
		got, ok := x.Extract(lines)
		if !ok {
			continue
		}
		for _, name := range x.Names() {
			raw, ok := got[name]
			if !ok {
				continue
			}
			v := value.Coerce(raw)
			s.values.Set(name, v)
			captured = append(captured, schema.Capture{Name: name, Value: v})
		}
	}
	return captured
}

// LastFailed reports whether the most recent validation failed.
func (s *Session) LastFailed() bool { return s.lastFailed }

// Values returns the session value store.
func (s *Session) Values() *value.Store { return s.values }

// Value returns the stored value for name. The error matches
// value.ErrNotFound when name was never set.
func (s *Session) Value(name string) (value.Value, error) {
	return s.values.Get(name)
}

// SetValue stores v under name.
func (s *Session) SetValue(name string, v value.Value) {
	s.values.Set(name, v)
}
