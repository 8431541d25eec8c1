package testing

import (
	"errors"
	"testing"
)

func TestParseTestSpec(t *testing.T) {
	yaml := `
description: "SIM locked, PIN accepted"
expected_status: completed
expected_failures: 1
must_send:
  - AT+CPIN?
  - AT+CPIN=<REDACTED>
must_not_send:
  - AT+CFUN=0
expected_values:
  rssi: "/^[0-9]+$/"
`
	spec, err := ParseTestSpec([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if spec.ExpectedStatus != "completed" {
		t.Errorf("status = %q", spec.ExpectedStatus)
	}
	if spec.ExpectedFailures == nil || *spec.ExpectedFailures != 1 {
		t.Errorf("failures = %v", spec.ExpectedFailures)
	}
	if len(spec.MustSend) != 2 {
		t.Errorf("must_send = %d", len(spec.MustSend))
	}
	if len(spec.MustNotSend) != 1 {
		t.Errorf("must_not_send = %d", len(spec.MustNotSend))
	}
	if spec.ExpectedValues["rssi"] != "/^[0-9]+$/" {
		t.Errorf("expected_values = %v", spec.ExpectedValues)
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	one := 1
	spec := &TestSpec{
		ExpectedStatus:   "completed",
		ExpectedFailures: &one,
		MustSend:         []string{"AT+CPIN?", "AT+CSQ"},
		MustNotSend:      []string{"AT+CFUN=0"},
		ExpectedValues: map[string]string{
			"rssi": "31",
			"IMEI": "/^[0-9]{15}$/",
		},
	}

	run := &RunResult{
		Status:   "completed",
		Sent:     []string{"AT+CPIN?", "AT+CPIN=1234", "AT+CSQ"},
		Values:   map[string]any{"rssi": int64(31), "IMEI": "356938035643809"},
		Failures: 1,
	}

	results := Evaluate(spec, run)
	for _, r := range results {
		if !r.Passed {
			t.Errorf("unexpected failure: %s: %s", r.Type, r.Message)
		}
	}

	// status, failures, 2 must_send, 1 must_not_send, 2 values
	if len(results) != 7 {
		t.Errorf("expected 7 assertions, got %d", len(results))
	}
}

func TestEvaluate_StatusMismatch(t *testing.T) {
	spec := &TestSpec{ExpectedStatus: "completed"}
	run := &RunResult{Status: "failed"}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for status mismatch")
	}
}

func TestEvaluate_MustNotSendViolated(t *testing.T) {
	spec := &TestSpec{MustNotSend: []string{"AT+CFUN=0"}}
	run := &RunResult{Sent: []string{"AT", "AT+CFUN=0"}}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure")
	}
	if results[0].Actual != "sent" {
		t.Errorf("actual = %q", results[0].Actual)
	}
}

func TestEvaluate_MissingValue(t *testing.T) {
	// An unset value never matches, even a pattern that accepts "".
	spec := &TestSpec{ExpectedValues: map[string]string{"IMEI": "/.*/"}}
	run := &RunResult{Values: map[string]any{}}

	if !HasFailures(Evaluate(spec, run)) {
		t.Error("expected failure for missing value")
	}
}

func TestEvaluate_ExpectedError(t *testing.T) {
	spec := &TestSpec{ExpectedError: "/bad response/"}

	run := &RunResult{Status: "failed", Error: errors.New(`command "AT" got a bad response: "ERROR"`)}
	if HasFailures(Evaluate(spec, run)) {
		t.Error("error should match")
	}

	if !HasFailures(Evaluate(spec, &RunResult{Status: "completed"})) {
		t.Error("a run without error should fail expected_error")
	}
}

func TestCompareValue(t *testing.T) {
	tests := []struct {
		expected, actual string
		want             bool
	}{
		{"31", "31", true},
		{"31", "32", false},
		{"/^3[0-9]$/", "31", true},
		{"/^3[0-9]$/", "41", false},
		{"/[/", "[", false},
		{"//", "//", true},
	}
	for _, tt := range tests {
		if got := compareValue(tt.expected, tt.actual); got != tt.want {
			t.Errorf("compareValue(%q, %q) = %v, want %v", tt.expected, tt.actual, got, tt.want)
		}
	}
}
