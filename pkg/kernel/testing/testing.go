// Package testing implements the atscript/v0 scenario-based test harness.
// It replays scripts against canned modem replies and evaluates assertions
// on the run status, the commands sent and the captured values.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestSpec declares what to assert about a scenario replay result.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description      string            `yaml:"description,omitempty" json:"description,omitempty"`
	ExpectedStatus   string            `yaml:"expected_status,omitempty" json:"expected_status,omitempty"` // completed, failed, error
	ExpectedError    string            `yaml:"expected_error,omitempty" json:"expected_error,omitempty"`   // exact or /regex/
	ExpectedFailures *int              `yaml:"expected_failures,omitempty" json:"expected_failures,omitempty"`
	MustSend         []string          `yaml:"must_send,omitempty" json:"must_send,omitempty"`             // command texts that must be sent
	MustNotSend      []string          `yaml:"must_not_send,omitempty" json:"must_not_send,omitempty"`     // command texts that must NOT be sent
	ExpectedValues   map[string]string `yaml:"expected_values,omitempty" json:"expected_values,omitempty"` // name → expected value
	Tags             []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Run Result (input to assertion evaluator)
// ---------------------------------------------------------------------------

// RunResult captures execution data for assertion evaluation.
type RunResult struct {
	Status   string         // completed, failed, error
	Sent     []string       // command texts in send order
	Values   map[string]any // final session values
	Failures int
	Error    error
}

// ---------------------------------------------------------------------------
// Assertion Evaluation
// ---------------------------------------------------------------------------

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // expected_status, must_send, expected_value, etc.
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.ExpectedStatus != "" {
		results = append(results, AssertionResult{
			Type:     "expected_status",
			Expected: spec.ExpectedStatus,
			Actual:   run.Status,
			Passed:   run.Status == spec.ExpectedStatus,
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.ExpectedStatus, run.Status),
		})
	}

	if spec.ExpectedError != "" {
		actual := ""
		if run.Error != nil {
			actual = run.Error.Error()
		}
		results = append(results, AssertionResult{
			Type:     "expected_error",
			Expected: spec.ExpectedError,
			Actual:   actual,
			Passed:   run.Error != nil && compareValue(spec.ExpectedError, actual),
			Message:  fmt.Sprintf("error: expected %q, got %q", spec.ExpectedError, actual),
		})
	}

	if spec.ExpectedFailures != nil {
		want := *spec.ExpectedFailures
		results = append(results, AssertionResult{
			Type:     "expected_failures",
			Expected: fmt.Sprint(want),
			Actual:   fmt.Sprint(run.Failures),
			Passed:   run.Failures == want,
			Message:  fmt.Sprintf("failures: expected %d, got %d", want, run.Failures),
		})
	}

	sentSet := make(map[string]bool, len(run.Sent))
	for _, s := range run.Sent {
		sentSet[s] = true
	}

	for _, cmd := range spec.MustSend {
		passed := sentSet[cmd]
		results = append(results, AssertionResult{
			Type:     "must_send",
			Key:      cmd,
			Expected: "sent",
			Actual:   boolToSent(passed),
			Passed:   passed,
			Message:  fmt.Sprintf("must_send %q: %s", cmd, boolToSent(passed)),
		})
	}

	for _, cmd := range spec.MustNotSend {
		sent := sentSet[cmd]
		results = append(results, AssertionResult{
			Type:     "must_not_send",
			Key:      cmd,
			Expected: "not sent",
			Actual:   boolToSent(sent),
			Passed:   !sent,
			Message:  fmt.Sprintf("must_not_send %q: %s", cmd, boolToSent(sent)),
		})
	}

	for key, expected := range spec.ExpectedValues {
		actual := ""
		v, ok := run.Values[key]
		if ok {
			actual = fmt.Sprint(v)
		}
		results = append(results, AssertionResult{
			Type:     "expected_value",
			Key:      key,
			Expected: expected,
			Actual:   actual,
			Passed:   ok && compareValue(expected, actual),
			Message:  fmt.Sprintf("value %q: expected %q, got %q", key, expected, actual),
		})
	}

	return results
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") && len(expected) > 2 {
		re, err := regexp.Compile(expected[1 : len(expected)-1])
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}

func boolToSent(b bool) string {
	if b {
		return "sent"
	}
	return "not sent"
}
