package value

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		raw      string
		wantKind Kind
		want     string
	}{
		{"31", KindInt, "31"},
		{"007782", KindInt, "7782"},
		{"123456789012345", KindInt, "123456789012345"},
		{"-1", KindText, "-1"},
		{"31a", KindText, "31a"},
		{"", KindText, ""},
		{"READY", KindText, "READY"},
		{"99999999999999999999999", KindText, "99999999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := Coerce(tt.raw)
			if v.Kind() != tt.wantKind {
				t.Errorf("Coerce(%q).Kind() = %v, want %v", tt.raw, v.Kind(), tt.wantKind)
			}
			if v.String() != tt.want {
				t.Errorf("Coerce(%q).String() = %q, want %q", tt.raw, v.String(), tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		wantKind Kind
	}{
		{"1234", KindInt},
		{"0", KindInt},
		{"0042", KindText},
		{"internet", KindText},
	}
	for _, tt := range tests {
		v := Parse(tt.raw)
		if v.Kind() != tt.wantKind || v.String() != tt.raw {
			t.Errorf("Parse(%q) = %s (%v), want %q (%v)", tt.raw, v, v.Kind(), tt.raw, tt.wantKind)
		}
	}
}

func TestAsInt(t *testing.T) {
	if n, err := Int(31).AsInt(); err != nil || n != 31 {
		t.Errorf("Int(31).AsInt() = %d, %v", n, err)
	}
	if n, err := Text("42").AsInt(); err != nil || n != 42 {
		t.Errorf("Text(42).AsInt() = %d, %v", n, err)
	}
	_, err := Text("SIM PIN").AsInt()
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *ConversionError, got %v", err)
	}
	if convErr.Text != "SIM PIN" {
		t.Errorf("Text = %q", convErr.Text)
	}
}

func TestFromAny(t *testing.T) {
	if v := FromAny(7782); !v.Equal(Int(7782)) {
		t.Errorf("FromAny(int) = %#v", v)
	}
	if v := FromAny("7782"); !v.Equal(Text("7782")) {
		t.Errorf("FromAny(string) = %#v", v)
	}
	if v := FromAny(float64(3)); !v.Equal(Int(3)) {
		t.Errorf("FromAny(3.0) = %#v", v)
	}
	if v := FromAny(1.5); !v.Equal(Text("1.5")) {
		t.Errorf("FromAny(1.5) = %#v", v)
	}
	if v := FromAny(true); !v.Equal(Text("true")) {
		t.Errorf("FromAny(true) = %#v", v)
	}
	if v := FromAny(uint(42)); !v.Equal(Int(42)) {
		t.Errorf("FromAny(uint) = %#v", v)
	}
	if v := FromAny(uint64(math.MaxUint64)); !v.Equal(Text("18446744073709551615")) {
		t.Errorf("FromAny(MaxUint64) = %#v", v)
	}
}

func TestValue_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Value{"rssi": Int(31), "op": Text("vodafone")})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"op":"vodafone","rssi":31}` {
		t.Errorf("got %s", data)
	}

	var v Value
	if err := json.Unmarshal([]byte(`12`), &v); err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Int(12)) {
		t.Errorf("unmarshal = %#v", v)
	}
}

func TestStore_GetUnset(t *testing.T) {
	s := NewStore()
	_, err := s.Get("foobar")
	if err == nil {
		t.Fatal("expected lookup error")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false for %v", err)
	}
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) || lookupErr.Name != "foobar" {
		t.Errorf("unexpected error %#v", err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore()
	s.Set("foo", Text("bar"))
	s.Set("SIM_PIN", Int(7782))

	got, err := s.Get("foo")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(Text("bar")) {
		t.Errorf("foo = %v", got)
	}
	pin, err := s.Get("SIM_PIN")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := pin.Int(); !ok || n != 7782 {
		t.Errorf("SIM_PIN = %v", pin)
	}
}

func TestStore_OrderAndOverwrite(t *testing.T) {
	s := NewStore()
	s.Set("b", Int(1))
	s.Set("a", Int(2))
	s.Set("b", Text("x"))

	names := s.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("names = %v", names)
	}
	if v, _ := s.Get("b"); !v.Equal(Text("x")) {
		t.Errorf("b = %v", v)
	}
	if text, ok := s.Lookup("a"); !ok || text != "2" {
		t.Errorf("Lookup(a) = %q, %v", text, ok)
	}
	if _, ok := s.Lookup("c"); ok {
		t.Error("Lookup(c) should miss")
	}
	snap := s.Snapshot()
	if snap["a"] != int64(2) || snap["b"] != "x" {
		t.Errorf("snapshot = %v", snap)
	}
}
