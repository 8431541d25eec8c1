package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	for i, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("line %d: invalid JSON: %v (raw: %s)", i, err, line)
		}
		events = append(events, evt)
	}
	return events
}

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	if err := tw.EmitCommandSent("AT+CSQ", false); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	evt := decodeLines(t, &buf)[0]
	if evt.Type != EventCommandSent {
		t.Errorf("type = %q, want command_sent", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.Data["command"] != "AT+CSQ" {
		t.Errorf("command = %v", evt.Data["command"])
	}
	if _, ok := evt.Data["alternate"]; ok {
		t.Error("alternate should be omitted for primary commands")
	}
}

func TestWriter_CommandResolved(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitCommandResolved("AT+CPIN?", []string{"CPIN:SIM PIN", "OK"}, "OK", false, true, 2*time.Second)

	evt := decodeLines(t, &buf)[0]
	if evt.Data["succeeded"] != false || evt.Data["timed_out"] != true {
		t.Errorf("data = %v", evt.Data)
	}
	lines, _ := evt.Data["lines"].([]any)
	if len(lines) != 2 {
		t.Errorf("lines = %v", evt.Data["lines"])
	}
	if evt.Data["elapsed"] != "2s" {
		t.Errorf("elapsed = %v", evt.Data["elapsed"])
	}
}

func TestWriter_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	values := map[string]string{"SIM_PIN": "7782"}
	tw.SetSecrets([]string{"SIM_PIN"}, func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})

	tw.EmitCommandSent("AT+CPIN=7782", true)
	tw.EmitValueCaptured("SIM_PIN", 7782)
	tw.EmitCommandResolved("AT+CPIN=7782", []string{"AT+CPIN=7782", "OK"}, "OK", true, false, 0)

	out := buf.String()
	if strings.Contains(out, "7782") {
		t.Errorf("secret leaked into trace:\n%s", out)
	}
	events := decodeLines(t, &buf)
	if events[0].Data["command"] != "AT+CPIN="+Redacted {
		t.Errorf("command = %v", events[0].Data["command"])
	}
	if events[1].Data["value"] != Redacted {
		t.Errorf("value = %v", events[1].Data["value"])
	}
}

func TestWriter_RunStartRedactsIntSecret(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetSecrets([]string{"SIM_PIN"}, func(name string) (string, bool) {
		if name == "SIM_PIN" {
			return "7782", true
		}
		return "", false
	})

	tw.EmitRunStart("sim", map[string]any{"SIM_PIN": int64(7782), "APN": "internet"})

	if strings.Contains(buf.String(), "7782") {
		t.Fatalf("secret leaked into trace:\n%s", buf.String())
	}
	values, _ := decodeLines(t, &buf)[0].Data["values"].(map[string]any)
	if values["SIM_PIN"] != Redacted {
		t.Errorf("SIM_PIN = %v", values["SIM_PIN"])
	}
	if values["APN"] != "internet" {
		t.Errorf("APN = %v", values["APN"])
	}
}

func TestWriter_NilDiscards(t *testing.T) {
	var tw *Writer
	if err := tw.EmitRunStart("x", nil); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriter_HashChaining(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitRunStart("sim-setup", map[string]any{"APN": "internet"})
	tw.EmitCommandSent("AT", false)
	tw.EmitCommandResolved("AT", []string{"OK"}, "OK", true, false, time.Millisecond)

	events := decodeLines(t, &buf)
	if len(events) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(events))
	}
	if events[0].PrevHash != strings.Repeat("0", 64) {
		t.Errorf("first event prev_hash = %q, want 64 zeros", events[0].PrevHash)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash == events[i-1].PrevHash {
			t.Errorf("event %d repeats prev_hash", i)
		}
	}
}

func TestWriter_RunComplete_ChainHash(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitCommandSent("AT", false)
	tw.EmitRunComplete("completed", 1, time.Second)

	events := decodeLines(t, &buf)
	last := events[len(events)-1]
	chainHash, ok := last.Data["chain_hash"].(string)
	if !ok || len(chainHash) != 64 {
		t.Fatalf("chain_hash = %v", last.Data["chain_hash"])
	}
	if chainHash != last.PrevHash {
		t.Error("chain_hash should equal the prev_hash of run_complete")
	}
}

func TestVerify(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitRunStart("s", nil)
	tw.EmitSetupApplied("print", "", "hello")
	tw.EmitRunComplete("completed", 0, time.Millisecond)

	res, err := Verify(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EventCount != 3 || res.BrokenAt != -1 {
		t.Errorf("result = %+v", res)
	}
}

func TestVerify_Tampered(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitCommandSent("AT", false)
	tw.EmitCommandResolved("AT", []string{"ERROR"}, "ERROR", false, false, 0)
	tw.EmitRunComplete("failed", 1, 0)

	tampered := strings.Replace(buf.String(), `"ERROR"`, `"OK"`, 1)
	res, err := Verify(strings.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.BrokenAt != 3 {
		t.Errorf("result = %+v, want break at event 3", res)
	}
}

func TestVerify_Signature(t *testing.T) {
	t.Setenv(SigningKeyEnv, "k1")
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitCommandSent("AT", false)
	tw.EmitRunComplete("completed", 1, 0)

	res, err := Verify(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || !res.SignatureOK {
		t.Errorf("result = %+v", res)
	}
}
