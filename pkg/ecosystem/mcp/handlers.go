package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	kschema "github.com/ormasoftchile/atrun/pkg/kernel/schema"
	ktesting "github.com/ormasoftchile/atrun/pkg/kernel/testing"
	"github.com/ormasoftchile/atrun/pkg/kernel/trace"
	kvalidate "github.com/ormasoftchile/atrun/pkg/kernel/validate"
)

// HandleValidate implements the atrun/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	sc, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", sc.Meta.Name, len(sc.Steps))
	for _, w := range errs {
		msg += fmt.Sprintf("\nwarning: %s", w)
	}
	return textResult(msg), nil
}

// HandleSchema implements the atrun/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := kschema.GenerateScriptJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleExec implements the atrun/exec MCP tool. Only replay transports are
// offered to agents.
func HandleExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	scenarioPath, _ := args["scenario"].(string)
	if scenarioPath == "" {
		return errorResult("scenario argument is required"), nil
	}

	// Validate
	sc, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	prog, err := kschema.Compile(sc)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	scenario, err := loadScenario(scenarioPath)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	vars := make(map[string]any, len(scenario.Values))
	for k, v := range scenario.Values {
		vars[k] = v
	}
	if rawVars, ok := args["vars"].(map[string]any); ok {
		for k, v := range rawVars {
			vars[k] = v
		}
	}

	// Execute
	var out bytes.Buffer
	tr := replay.NewTransport(scenario)
	eng := engine.New(prog, engine.RunConfig{
		RunID:   "mcp-run-1",
		Factory: tr.Factory(),
		Vars:    vars,
		Stdout:  &out,
		Env: func(name string) (string, bool) {
			v, ok := scenario.Env[name]
			return v, ok
		},
	})
	tr.SetSecrets(prog.Secrets, eng.Session().Values().Lookup)
	result := eng.Run(ctx)

	// Build response
	responses := make([]map[string]any, 0, len(result.Responses))
	for _, r := range result.Responses {
		responses = append(responses, map[string]any{
			"command":   eng.Redact(r.Command),
			"line":      r.Line,
			"succeeded": r.Succeeded,
			"alternate": r.Alternate,
		})
	}
	values := eng.Session().Values().Snapshot()
	for _, name := range prog.Secrets {
		if _, ok := values[name]; ok {
			values[name] = trace.Redacted
		}
	}
	response := map[string]any{
		"status":    result.Status,
		"duration":  result.Duration.String(),
		"responses": responses,
		"values":    values,
	}
	if result.Error != nil {
		response["error"] = result.Error.Error()
	}
	if out.Len() > 0 {
		response["output"] = out.String()
	}

	data, _ := json.MarshalIndent(response, "", "  ")

	isErr := result.Status == engine.StatusFailed || result.Status == engine.StatusError
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

// HandleTest implements the atrun/test MCP tool.
func HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	scenarioName, _ := args["scenario"].(string)

	runner := &ktesting.Runner{
		Timeout:  30 * time.Second,
		FailFast: false,
	}

	var output *ktesting.TestOutput
	var err error

	if scenarioName != "" {
		result, e := runner.RunScenario(ctx, path, scenarioName)
		if e != nil {
			return errorResult(fmt.Sprintf("run scenario: %s", e)), nil
		}
		output = &ktesting.TestOutput{
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
	} else {
		output, err = runner.RunAll(ctx, path)
		if err != nil {
			return errorResult(fmt.Sprintf("run tests: %s", err)), nil
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")

	isErr := output.Summary.Failed > 0 || output.Summary.Errors > 0
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

// loadScenario accepts a scenario directory or a scenario YAML file.
func loadScenario(path string) (*replay.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if info.IsDir() {
		return replay.LoadScenario(filepath.Join(path, "scenario.yaml"))
	}
	return replay.LoadScenario(path)
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	var msgs []string
	for _, e := range kvalidate.Errors(errs) {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
