package pattern

import (
	"errors"
	"testing"
)

func TestTokenize(t *testing.T) {
	toks := Tokenize("AT+CSQ=${rssi},?{ber::[0-9]{1,2}}")
	if len(toks) != 4 {
		t.Fatalf("got %d tokens: %+v", len(toks), toks)
	}
	if toks[0].Kind != TokenLiteral || toks[0].Text != "AT+CSQ=" {
		t.Errorf("tok[0] = %+v", toks[0])
	}
	if toks[1].Kind != TokenSubst || toks[1].Name != "rssi" || toks[1].Text != "${rssi}" {
		t.Errorf("tok[1] = %+v", toks[1])
	}
	if toks[2].Kind != TokenLiteral || toks[2].Text != "," {
		t.Errorf("tok[2] = %+v", toks[2])
	}
	c := toks[3]
	if c.Kind != TokenCapture || c.Name != "ber" || !c.HasPattern || c.Pattern != "[0-9]{1,2}" {
		t.Errorf("tok[3] = %+v", c)
	}
}

func TestTokenize_MalformedStaysLiteral(t *testing.T) {
	tests := []string{
		"AT${",
		"AT${unterminated",
		"AT${}",
		"AT${1abc}",
		"?{::x}",
		"price $5 {ok}",
	}
	for _, tmpl := range tests {
		t.Run(tmpl, func(t *testing.T) {
			toks := Tokenize(tmpl)
			if len(toks) != 1 || toks[0].Kind != TokenLiteral || toks[0].Text != tmpl {
				t.Errorf("Tokenize(%q) = %+v", tmpl, toks)
			}
		})
	}
}

func TestTokenize_EscapedBrace(t *testing.T) {
	toks := Tokenize(`?{x::a\}b}`)
	if len(toks) != 1 || toks[0].Kind != TokenCapture || toks[0].Pattern != `a\}b` {
		t.Errorf("got %+v", toks)
	}
}

func TestSubstitute(t *testing.T) {
	vars := MapLookup{"SIM_PIN": "7782", "CONTEXT": "1"}
	tests := []struct {
		tmpl string
		want string
	}{
		{"AT", "AT"},
		{"AT+CPIN=${SIM_PIN}", "AT+CPIN=7782"},
		{"AT+CGDATA=${CONTEXT},${CONTEXT}", "AT+CGDATA=1,1"},
		{"AT+CGDATA=${MISSING}", "AT+CGDATA=${MISSING}"},
		{"AT+X=?{keep}", "AT+X=?{keep}"},
		{"AT${", "AT${"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			if got := Substitute(tt.tmpl, vars); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestSubstitute_NilLookup(t *testing.T) {
	if got := Substitute("AT+CPIN=${SIM_PIN}", nil); got != "AT+CPIN=${SIM_PIN}" {
		t.Errorf("got %q", got)
	}
}

func TestReferencesAndCaptures(t *testing.T) {
	tmpl := "${a}?{x},${b}${a}?{y::\\d+}"
	refs := References(tmpl)
	if len(refs) != 2 || refs[0] != "a" || refs[1] != "b" {
		t.Errorf("References = %v", refs)
	}
	caps := Captures(tmpl)
	if len(caps) != 2 || caps[0] != "x" || caps[1] != "y" {
		t.Errorf("Captures = %v", caps)
	}
}

func TestCompileExtractor_DefaultCapture(t *testing.T) {
	x, err := CompileExtractor("AT+CSQ=?{rssi},", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := x.Extract([]string{"AT+CSQ=31,1", "OK"})
	if !ok {
		t.Fatal("expected match")
	}
	if got["rssi"] != "31" {
		t.Errorf("rssi = %q", got["rssi"])
	}
}

func TestCompileExtractor_ExplicitPatternWithBraces(t *testing.T) {
	x, err := CompileExtractor("AT+CSQ=?{rssi::[0-9]{1,2}},", nil)
	if err != nil {
		t.Fatal(err)
	}
	if x.Expr != `AT\+CSQ=(?P<rssi>[0-9]{1,2}),` {
		t.Errorf("Expr = %s", x.Expr)
	}
	got, ok := x.Extract([]string{"AT+CSQ=31,2"})
	if !ok || got["rssi"] != "31" {
		t.Errorf("got %v, %v", got, ok)
	}
}

func TestCompileExtractor_SubstitutedLiteral(t *testing.T) {
	x, err := CompileExtractor("AT+CSQ=${rssi},?{ber::[0-9]{1,2}}", MapLookup{"rssi": "31"})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := x.Extract([]string{"AT+CSQ=31,2", "OK"})
	if !ok || got["ber"] != "2" {
		t.Errorf("got %v, %v", got, ok)
	}

	// A stale value no longer lines up with the reply.
	x, err = CompileExtractor("AT+CSQ=${rssi},?{ber::[0-9]{1,2}}", MapLookup{"rssi": "12"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Extract([]string{"AT+CSQ=31,2"}); ok {
		t.Error("expected no match for mismatched substituted value")
	}
}

func TestCompileExtractor_UnsetReferenceMatchesNothing(t *testing.T) {
	x, err := CompileExtractor("AT+CSQ=${RSSI},?{ber::[0-9]{1,2}}", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Extract([]string{"AT+CSQ=31,2", "AT+CSQDAFAQ"}); ok {
		t.Error("expected no match")
	}
}

func TestCompileExtractor_AnchoredPattern(t *testing.T) {
	x, err := CompileExtractor("?{IMEI::^[0-9]{15}$}", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := x.Extract([]string{"AT+CGSN", "123456789012345", "OK"})
	if !ok || got["IMEI"] != "123456789012345" {
		t.Errorf("got %v, %v", got, ok)
	}
}

func TestCompileExtractor_FirstMatchingLineWins(t *testing.T) {
	x, err := CompileExtractor("+COPS: ?{mode},", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := x.Extract([]string{"noise", "+COPS: 0,0", "+COPS: 1,0"})
	if !ok || got["mode"] != "0" {
		t.Errorf("got %v, %v", got, ok)
	}
}

func TestCompileExtractor_MetacharactersAreLiteral(t *testing.T) {
	x, err := CompileExtractor("a.b+(c)?=?{v}", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Extract([]string{"aXb+(c)?=1"}); ok {
		t.Error("'.' must not match any character")
	}
	got, ok := x.Extract([]string{"a.b+(c)?=1"})
	if !ok || got["v"] != "1" {
		t.Errorf("got %v, %v", got, ok)
	}
}

func TestCompileExtractor_AdjacentCaptures(t *testing.T) {
	x, err := CompileExtractor("?{a}?{b::[0-9]+}", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := x.Extract([]string{"ab12"})
	if !ok || got["a"] != "ab" || got["b"] != "12" {
		t.Errorf("got %v, %v", got, ok)
	}
}

func TestCompileExtractor_Errors(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
	}{
		{"no capture", "AT+CSQ"},
		{"duplicate", "?{a},?{a}"},
		{"empty pattern", "?{a::}"},
		{"bad regex", "?{a::[0-9}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileExtractor(tt.tmpl, nil); err == nil {
				t.Errorf("CompileExtractor(%q) should fail", tt.tmpl)
			}
		})
	}
	if err := Check("AT"); !errors.Is(err, ErrNoCapture) {
		t.Errorf("Check = %v, want ErrNoCapture", err)
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	re1, err := c.Compile("^OK$")
	if err != nil {
		t.Fatal(err)
	}
	re2, err := c.Compile("^OK$")
	if err != nil {
		t.Fatal(err)
	}
	if re1 != re2 {
		t.Error("expected cached expression to be reused")
	}
	if _, err := c.Compile("[bad"); err == nil {
		t.Error("expected compile error")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
	c.Compile("a")
	c.Compile("b")
	if c.Len() != 2 {
		t.Errorf("Len after eviction = %d", c.Len())
	}

	var nilCache *Cache
	if _, err := nilCache.Compile("x"); err != nil {
		t.Errorf("nil cache compile: %v", err)
	}

	x, err := c.Extractor("AT+CSQ=?{rssi},", nil)
	if err != nil {
		t.Fatal(err)
	}
	if names := x.Names(); len(names) != 1 || names[0] != "rssi" {
		t.Errorf("Names = %v", names)
	}
}
