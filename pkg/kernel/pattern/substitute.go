package pattern

import "strings"

// Lookup resolves a value name to its substitution text.
type Lookup interface {
	Lookup(name string) (string, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(name string) (string, bool)

func (f LookupFunc) Lookup(name string) (string, bool) { return f(name) }

// MapLookup adapts a string map to Lookup.
type MapLookup map[string]string

func (m MapLookup) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Substitute replaces every ${name} token with its current value.
// Unknown names leave the token in place; the device is expected to reject
// the malformed command, which surfaces as a failed validation.
// Capture tokens are copied through unchanged.
func Substitute(tmpl string, lookup Lookup) string {
	if !strings.Contains(tmpl, "${") {
		return tmpl // fast path for literals
	}
	var b strings.Builder
	for _, tok := range Tokenize(tmpl) {
		b.WriteString(render(tok, lookup))
	}
	return b.String()
}

// References returns the names of all ${name} tokens in tmpl, in order of
// first appearance.
func References(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, tok := range Tokenize(tmpl) {
		if tok.Kind == TokenSubst && !seen[tok.Name] {
			seen[tok.Name] = true
			names = append(names, tok.Name)
		}
	}
	return names
}

// Captures returns the capture names declared by tmpl, in order.
func Captures(tmpl string) []string {
	var names []string
	for _, tok := range Tokenize(tmpl) {
		if tok.Kind == TokenCapture {
			names = append(names, tok.Name)
		}
	}
	return names
}

func render(tok Token, lookup Lookup) string {
	if tok.Kind != TokenSubst || lookup == nil {
		return tok.Text
	}
	if v, ok := lookup.Lookup(tok.Name); ok {
		return v
	}
	return tok.Text
}
