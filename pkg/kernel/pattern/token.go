// Package pattern implements the line-pattern mini-language shared by command
// substitution and reply extraction.
//
//	${name}            substitute the stored value of name
//	?{name}            capture a run of characters up to the next literal
//	?{name::pattern}   capture with an explicit regular expression
//
// Templates are tokenized once, then either rendered against a value store
// (Substitute) or compiled into a regular expression with one named group per
// capture (CompileExtractor).
package pattern

import (
	"regexp"
	"strings"
)

// TokenKind enumerates the template token types.
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenSubst
	TokenCapture
)

func (k TokenKind) String() string {
	switch k {
	case TokenSubst:
		return "subst"
	case TokenCapture:
		return "capture"
	default:
		return "literal"
	}
}

// Token is one lexical unit of a template.
type Token struct {
	Kind TokenKind
	// Text is the literal text, or the token's source form (e.g. "${rssi}").
	Text string
	// Name is set for subst and capture tokens.
	Name string
	// Pattern is the explicit capture expression, when HasPattern is set.
	Pattern    string
	HasPattern bool
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name can be used as a value or capture name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Tokenize splits a template into tokens. It never fails: an opener without
// a matching close brace, or with an invalid name, is kept as literal text.
// Capture bodies may contain balanced braces and backslash escapes, so
// ?{ber::[0-9]{1,2}} is a single token.
func Tokenize(tmpl string) []Token {
	var tokens []Token
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenLiteral, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if (c == '$' || c == '?') && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			if tok, end, ok := readToken(tmpl, i); ok {
				flush()
				tokens = append(tokens, tok)
				i = end
				continue
			}
		}
		lit.WriteByte(c)
		i++
	}
	flush()
	return tokens
}

// readToken parses the token opening at tmpl[start]. end is the index just
// past the closing brace.
func readToken(tmpl string, start int) (Token, int, bool) {
	closeIdx, ok := matchBrace(tmpl, start+2)
	if !ok {
		return Token{}, 0, false
	}
	body := tmpl[start+2 : closeIdx]
	source := tmpl[start : closeIdx+1]

	if tmpl[start] == '$' {
		if !ValidName(body) {
			return Token{}, 0, false
		}
		return Token{Kind: TokenSubst, Text: source, Name: body}, closeIdx + 1, true
	}

	name, pat, hasPattern := strings.Cut(body, "::")
	if !ValidName(name) {
		return Token{}, 0, false
	}
	return Token{
		Kind:       TokenCapture,
		Text:       source,
		Name:       name,
		Pattern:    pat,
		HasPattern: hasPattern,
	}, closeIdx + 1, true
}

// matchBrace returns the index of the brace closing a block whose body
// starts at from.
func matchBrace(s string, from int) (int, bool) {
	depth := 1
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}
