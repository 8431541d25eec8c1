package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/validate"
)

// Scenario statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// TestResult is the result of running one scenario.
type TestResult struct {
	ScriptName   string            `json:"script_name"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Script    string       `json:"script"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner executes scenario-based tests against a script.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	Logger   *zap.Logger
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// DiscoverScenarios finds scenario directories for a script.
// Convention: scenarios are in a sibling `scenarios/<script-name>/` directory,
// each subdirectory containing a `scenario.yaml`.
func DiscoverScenarios(scriptPath string) ([]ScenarioInfo, error) {
	dir := scenariosDir(scriptPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(dir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(dir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

func scenariosDir(scriptPath string) string {
	dir := filepath.Dir(scriptPath)
	base := strings.TrimSuffix(filepath.Base(scriptPath), filepath.Ext(scriptPath))
	return filepath.Join(dir, "scenarios", base)
}

// RunAll discovers and runs all scenarios for a script.
func (r *Runner) RunAll(ctx context.Context, scriptPath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(scriptPath)
	if err != nil {
		return nil, err
	}
	prog, err := loadProgram(scriptPath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{Script: prog.Name}
	for _, si := range scenarios {
		result := r.runScenario(ctx, prog, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case StatusPassed:
			output.Summary.Passed++
		case StatusFailed:
			output.Summary.Failed++
		case StatusSkipped:
			output.Summary.Skipped++
		case StatusError:
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == StatusFailed || result.Status == StatusError) {
			break
		}
	}
	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, scriptPath, scenarioName string) (*TestResult, error) {
	prog, err := loadProgram(scriptPath)
	if err != nil {
		return nil, err
	}
	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(scenariosDir(scriptPath), scenarioName)}
	result := r.runScenario(ctx, prog, si)
	return &result, nil
}

func loadProgram(scriptPath string) (*schema.Program, error) {
	sc, valErrs := validate.ValidateFile(scriptPath)
	if errs := validate.Errors(valErrs); len(errs) > 0 {
		return nil, fmt.Errorf("script validation failed: %w", errs[0])
	}
	return schema.Compile(sc)
}

// runScenario executes a single scenario and evaluates its test spec.
func (r *Runner) runScenario(ctx context.Context, prog *schema.Program, si ScenarioInfo) TestResult {
	start := time.Now()
	result := TestResult{ScriptName: prog.Name, ScenarioName: si.Name}
	finish := func(status, msg string) TestResult {
		result.Status = status
		result.Error = msg
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	scenario, err := replay.LoadScenarioDir(si.Dir)
	if err != nil {
		return finish(StatusError, fmt.Sprintf("load scenario: %s", err))
	}

	// Load test spec (optional; without one the scenario is skipped)
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err != nil {
		return finish(StatusSkipped, "")
	}
	spec, err := LoadTestSpec(testSpecPath)
	if err != nil {
		return finish(StatusError, fmt.Sprintf("load test spec: %s", err))
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	tr := replay.NewTransport(scenario)
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eng := engine.New(prog, engine.RunConfig{
		RunID:   "test-" + si.Name,
		Factory: tr.Factory(),
		Logger:  logger.With(zap.String("scenario", si.Name)),
		Stdout:  io.Discard,
		Vars:    scenario.Values,
		Env: func(name string) (string, bool) {
			v, ok := scenario.Env[name]
			return v, ok
		},
	})
	tr.SetSecrets(prog.Secrets, eng.Session().Values().Lookup)

	engineResult := eng.Run(ctx)
	if errors.Is(engineResult.Error, context.DeadlineExceeded) {
		return finish(StatusError, "timeout")
	}

	run := &RunResult{
		Status:   engineResult.Status,
		Sent:     tr.Sent(),
		Values:   eng.Session().Values().Snapshot(),
		Failures: engineResult.Failures,
		Error:    engineResult.Error,
	}

	result.Assertions = Evaluate(spec, run)
	if HasFailures(result.Assertions) {
		return finish(StatusFailed, "")
	}
	return finish(StatusPassed, "")
}
