package value

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every *LookupError.
var ErrNotFound = errors.New("session value not found")

// LookupError reports a request for a name that was never set.
type LookupError struct {
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("session value %q is not set", e.Name)
}

func (e *LookupError) Is(target error) bool { return target == ErrNotFound }

// Store is an ordered name → Value mapping. Names keep the position of their
// first insertion; the last write for a name wins. Not safe for concurrent use.
type Store struct {
	names  []string
	values map[string]Value
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]Value)}
}

// Get returns the value for name or a *LookupError.
func (s *Store) Get(name string) (Value, error) {
	v, ok := s.values[name]
	if !ok {
		return Value{}, &LookupError{Name: name}
	}
	return v, nil
}

// Set upserts name.
func (s *Store) Set(name string, v Value) {
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = v
}

// Lookup returns the substitution text for name.
func (s *Store) Lookup(name string) (string, bool) {
	v, ok := s.values[name]
	if !ok {
		return "", false
	}
	return v.String(), true
}

// Has reports whether name is set.
func (s *Store) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns the set names in insertion order.
func (s *Store) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.names) }

// Snapshot returns the entries as native Go values (int64 or string).
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, len(s.names))
	for _, name := range s.names {
		out[name] = s.values[name].Native()
	}
	return out
}
