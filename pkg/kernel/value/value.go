// Package value implements the session value store: an ordered name → value
// mapping populated by reply extraction and consulted by substitution.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind distinguishes the two value variants.
type Kind int

const (
	KindText Kind = iota
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	default:
		return "text"
	}
}

// Value is either an integer or a text value. The zero Value is empty text.
type Value struct {
	kind Kind
	i    int64
	s    string
}

// Int returns an integer value.
func Int(n int64) Value {
	return Value{kind: KindInt, i: n}
}

// Text returns a text value.
func Text(s string) Value {
	return Value{kind: KindText, s: s}
}

// Coerce decides the variant of a captured string: a non-empty run of
// decimal digits becomes an integer, anything else stays text. Digit runs
// that overflow int64 stay text.
func Coerce(raw string) Value {
	if !isDigits(raw) {
		return Text(raw)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Text(raw)
	}
	return Int(n)
}

// Parse is Coerce for operator-supplied text (environment, flags): digit
// runs that would not print back identically, such as "0042", stay text.
func Parse(raw string) Value {
	v := Coerce(raw)
	if v.kind == KindInt && v.String() != raw {
		return Text(raw)
	}
	return v
}

// FromAny converts a decoded YAML/JSON scalar into a Value.
// Strings are taken verbatim (no coercion); integers stay integers;
// everything else is rendered as text.
func FromAny(v any) Value {
	switch n := v.(type) {
	case Value:
		return n
	case int:
		return Int(int64(n))
	case int64:
		return Int(n)
	case int32:
		return Int(int64(n))
	case uint:
		return fromUint(uint64(n))
	case uint64:
		return fromUint(n)
	case uint32:
		return Int(int64(n))
	case float64:
		if n == float64(int64(n)) {
			return Int(int64(n))
		}
		return Text(strconv.FormatFloat(n, 'f', -1, 64))
	case string:
		return Text(n)
	case nil:
		return Text("")
	default:
		return Text(fmt.Sprint(v))
	}
}

// fromUint keeps values beyond int64 as text.
func fromUint(n uint64) Value {
	if n > math.MaxInt64 {
		return Text(strconv.FormatUint(n, 10))
	}
	return Int(int64(n))
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer and true for integer values.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// String returns the textual form used by substitution.
func (v Value) String() string {
	if v.kind == KindInt {
		return strconv.FormatInt(v.i, 10)
	}
	return v.s
}

// AsInt returns the value as an integer, parsing text values made of
// decimal digits (optionally signed). Other text fails with *ConversionError.
func (v Value) AsInt() (int64, error) {
	if v.kind == KindInt {
		return v.i, nil
	}
	n, err := strconv.ParseInt(v.s, 10, 64)
	if err != nil {
		return 0, &ConversionError{Text: v.s, Err: err}
	}
	return n, nil
}

// Native returns the value as a plain Go value (int64 or string).
func (v Value) Native() any {
	if v.kind == KindInt {
		return v.i
	}
	return v.s
}

// Equal reports whether both kind and content match.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.i == o.i && v.s == o.s
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	return v.Native(), nil
}

// ConversionError reports a text value that was expected to be numeric.
type ConversionError struct {
	Text string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("value %q is not an integer", e.Text)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
