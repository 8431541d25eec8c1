package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	ktesting "github.com/ormasoftchile/atrun/pkg/kernel/testing"
)

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testTimeout  string
)

var testCmd = &cobra.Command{
	Use:   "test [script.yaml...]",
	Short: "Run scenario replay tests for AT scripts",
	Long: `Discover scenarios for each script, replay them, and compare against test.yaml assertions.

Scenarios are discovered by convention at:
  {script-dir}/scenarios/{script-name}/*/scenario.yaml

Only scenarios with a test.yaml file are asserted. Scenarios without
test.yaml are reported as skipped.

Exit codes:
  0 all asserted tests passed
  1 at least one asserted test failed
  2 script validation failed (no tests ran)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	timeout, err := parseTimeout(testTimeout)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	runner := &ktesting.Runner{Timeout: timeout, FailFast: testFailFast, Logger: logger}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	allPassed := true
	hasValidationError := false
	for _, path := range args {
		output, err := runTests(ctx, runner, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s %s: %v\n", failedStyle.Render(glyphFailed), path, err)
			hasValidationError = true
			continue
		}

		if testJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(output); err != nil {
				return err
			}
		} else {
			printTestOutput(os.Stdout, output)
		}

		if output.Summary.Failed > 0 || output.Summary.Errors > 0 {
			allPassed = false
		}
		if testFailFast && !allPassed {
			break
		}
	}

	switch {
	case hasValidationError:
		os.Exit(2)
	case !allPassed:
		os.Exit(1)
	}
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --timeout %q", s)
	}
	return d, nil
}

func runTests(ctx context.Context, runner *ktesting.Runner, path string) (*ktesting.TestOutput, error) {
	if testScenario == "" {
		return runner.RunAll(ctx, path)
	}
	result, err := runner.RunScenario(ctx, path, testScenario)
	if err != nil {
		return nil, err
	}
	output := &ktesting.TestOutput{
		Script:    result.ScriptName,
		Scenarios: []ktesting.TestResult{*result},
		Summary:   ktesting.TestSummary{Total: 1},
	}
	switch result.Status {
	case ktesting.StatusPassed:
		output.Summary.Passed = 1
	case ktesting.StatusFailed:
		output.Summary.Failed = 1
	case ktesting.StatusSkipped:
		output.Summary.Skipped = 1
	default:
		output.Summary.Errors = 1
	}
	return output, nil
}

func printTestOutput(w io.Writer, output *ktesting.TestOutput) {
	fmt.Fprintf(w, "\n  %s\n", headerStyle.Render(output.Script))
	for _, s := range output.Scenarios {
		switch s.Status {
		case ktesting.StatusPassed:
			fmt.Fprintf(w, "    %s %-30s %dms\n", passedStyle.Render(glyphPassed), s.ScenarioName, s.DurationMs)
		case ktesting.StatusFailed:
			fmt.Fprintf(w, "    %s %-30s %dms\n", failedStyle.Render(glyphFailed), s.ScenarioName, s.DurationMs)
			for _, a := range s.Assertions {
				if !a.Passed {
					fmt.Fprintf(w, "        %s: %s\n", a.Type, a.Message)
				}
			}
		case ktesting.StatusSkipped:
			fmt.Fprintf(w, "    %s %-30s (no test.yaml)\n", dimStyle.Render(glyphSkipped), s.ScenarioName)
		default:
			fmt.Fprintf(w, "    %s %-30s ERROR: %s\n", failedStyle.Render(glyphFailed), s.ScenarioName, s.Error)
		}
	}
	fmt.Fprintf(w, "\n  %d scenarios, %d passed, %d failed, %d skipped\n",
		output.Summary.Total, output.Summary.Passed, output.Summary.Failed, output.Summary.Skipped)
	if output.Summary.Errors > 0 {
		fmt.Fprintf(w, "  %d errors\n", output.Summary.Errors)
	}
}

func init() {
	testCmd.Flags().StringVar(&testScenario, "scenario", "", "Run only the named scenario (default: all)")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as structured JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop after first failure")
	testCmd.Flags().StringVar(&testTimeout, "timeout-per-scenario", "30s", "Per-scenario timeout (e.g. 30s, 1m)")

	rootCmd.AddCommand(testCmd)
}
