package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoCapture is returned for extractor templates without any ?{...} token.
var ErrNoCapture = errors.New("extractor has no capture")

// Extractor is a compiled extraction template.
type Extractor struct {
	// Source is the template as written.
	Source string
	// Expr is the generated regular expression.
	Expr string

	re    *regexp.Regexp
	names []string
}

// CompileExtractor substitutes ${name} tokens from lookup, then translates the
// template into a regular expression: literal text is escaped and every
// capture becomes a named group. Unset ${name} tokens stay as literal text.
func CompileExtractor(tmpl string, lookup Lookup) (*Extractor, error) {
	return compileExtractor(tmpl, lookup, nil)
}

// Check reports whether tmpl compiles as an extractor, without any values.
func Check(tmpl string) error {
	_, err := compileExtractor(tmpl, nil, nil)
	return err
}

func compileExtractor(tmpl string, lookup Lookup, cache *Cache) (*Extractor, error) {
	tokens := resolveLiterals(Tokenize(tmpl), lookup)

	var b strings.Builder
	var names []string
	seen := make(map[string]bool)

	for i, tok := range tokens {
		switch tok.Kind {
		case TokenLiteral:
			b.WriteString(regexp.QuoteMeta(tok.Text))
		case TokenCapture:
			if seen[tok.Name] {
				return nil, fmt.Errorf("extractor %q: duplicate capture %q", tmpl, tok.Name)
			}
			seen[tok.Name] = true
			names = append(names, tok.Name)

			expr := tok.Pattern
			if !tok.HasPattern {
				expr = defaultCapture(tokens, i)
			} else if expr == "" {
				return nil, fmt.Errorf("extractor %q: capture %q has an empty pattern", tmpl, tok.Name)
			}
			b.WriteString("(?P<" + tok.Name + ">" + expr + ")")
		}
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("extractor %q: %w", tmpl, ErrNoCapture)
	}

	expr := b.String()
	re, err := cache.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("extractor %q: %w", tmpl, err)
	}
	return &Extractor{Source: tmpl, Expr: expr, re: re, names: names}, nil
}

// Names returns the capture names in template order.
func (x *Extractor) Names() []string {
	out := make([]string, len(x.names))
	copy(out, x.names)
	return out
}

// Extract tests each line in order; the first matching line supplies the
// captures and later lines are not consulted. ok is false when no line
// matches.
func (x *Extractor) Extract(lines []string) (captures map[string]string, ok bool) {
	want := make(map[string]bool, len(x.names))
	for _, n := range x.names {
		want[n] = true
	}
	for _, line := range lines {
		m := x.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		captures = make(map[string]string, len(x.names))
		for i, name := range x.re.SubexpNames() {
			if want[name] && i < len(m) {
				if _, done := captures[name]; !done {
					captures[name] = m[i]
				}
			}
		}
		return captures, true
	}
	return nil, false
}

// resolveLiterals turns subst tokens into literal text and merges adjacent
// literals, so a capture's default pattern sees the real following character.
func resolveLiterals(tokens []Token, lookup Lookup) []Token {
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind == TokenSubst {
			tok = Token{Kind: TokenLiteral, Text: render(tok, lookup)}
		}
		if tok.Kind == TokenLiteral {
			if tok.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Kind == TokenLiteral {
				out[n-1].Text += tok.Text
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

// defaultCapture picks the permissive pattern for ?{name}: everything up to
// the next literal character, lazily up to an adjacent capture, or the rest
// of the line.
func defaultCapture(tokens []Token, i int) string {
	if i+1 >= len(tokens) {
		return ".+"
	}
	next := tokens[i+1]
	if next.Kind != TokenLiteral {
		return ".+?"
	}
	r := []rune(next.Text)[0]
	return "[^" + regexp.QuoteMeta(string(r)) + "]+"
}
