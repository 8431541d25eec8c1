package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ormasoftchile/atrun/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/trace"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
	"github.com/ormasoftchile/atrun/pkg/kernel/validate"
	"github.com/ormasoftchile/atrun/pkg/kernel/value"
)

var (
	execReplay string
	execRecord string
	execTrace  string
	execRunID  string
	execVars   []string
	execAOF    bool
)

var execCmd = &cobra.Command{
	Use:   "exec [script.yaml]",
	Short: "Run an AT script against a device or a replay scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	if execReplay != "" && execRecord != "" {
		return fmt.Errorf("--record cannot be combined with --replay")
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	prog, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	applyDeviceOverrides(prog)

	vars, err := parseVars(execVars)
	if err != nil {
		return err
	}

	runID := execRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	cfg := engine.RunConfig{
		RunID:  runID,
		Logger: logger,
		Vars:   vars,
	}
	if cmd.Flags().Changed("abort-on-failure") {
		cfg.AbortOnFailure = &execAOF
	}

	// Transport: replay, or a live stream optionally recorded.
	var (
		rt  *replay.Transport
		rec *recorder.Recorder
	)
	switch {
	case execReplay != "":
		if rt, err = useReplay(&cfg, execReplay); err != nil {
			return err
		}
	case execRecord != "":
		rec = recorder.New(nil)
		cfg.Factory = rec.Wrap(transport.NewStreamFactory())
	default:
		cfg.Factory = transport.NewStreamFactory()
	}

	if execTrace != "" {
		tw, err := trace.NewFileWriter(execTrace, runID)
		if err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer tw.Close()
		cfg.Trace = tw
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng := engine.New(prog, cfg)
	lookup := eng.Session().Values().Lookup
	if rt != nil {
		rt.SetSecrets(prog.Secrets, lookup)
	}
	if rec != nil {
		rec.SetSecrets(prog.Secrets, lookup)
	}

	logger.Debug("executing", zap.String("script", prog.Name), zap.String("device", prog.Device.Port))
	result := eng.Run(ctx)
	printRun(os.Stdout, eng, result, isTerminal())

	if rec != nil {
		if err := os.MkdirAll(execRecord, 0o755); err != nil {
			return fmt.Errorf("create record dir: %w", err)
		}
		path := filepath.Join(execRecord, "scenario.yaml")
		if err := rec.WriteScenario(path); err != nil {
			return fmt.Errorf("write scenario: %w", err)
		}
		fmt.Printf("Scenario recorded to %s\n", path)
	}

	if result.Error != nil {
		// printRun already reported the redacted error.
		cmd.SilenceErrors = true
		return fmt.Errorf("run %s: %s", result.Status, eng.Redact(result.Error.Error()))
	}
	return nil
}

// loadProgram validates a script file and compiles it. Warnings are printed.
func loadProgram(path string) (*schema.Program, error) {
	sc, errs := validate.ValidateFile(path)
	printValidationWarnings(errs)
	if validate.HasErrors(errs) {
		for _, e := range validate.Errors(errs) {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		return nil, fmt.Errorf("validation failed")
	}
	return schema.Compile(sc)
}

// applyDeviceOverrides lets --device and --baud (or ATRUN_DEVICE,
// ATRUN_BAUD and the config file) replace the script's device block.
func applyDeviceOverrides(prog *schema.Program) {
	if d := viper.GetString("device"); d != "" {
		prog.Device.Port = d
	}
	if b := viper.GetInt("baud"); b > 0 {
		prog.Device.BaudRate = b
	}
	if t := viper.GetDuration("timeout"); t > 0 {
		prog.Device.Timeout = schema.Duration(t)
	}
}

// parseVars turns repeated name=value flags into session values.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: expected name=value", kv)
		}
		vars[name] = value.Parse(val)
	}
	return vars, nil
}

// loadScenario accepts a scenario directory or a scenario YAML file.
func loadScenario(path string) (*replay.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if info.IsDir() {
		return replay.LoadScenarioDir(path)
	}
	return replay.LoadScenario(path)
}

// useReplay points cfg at a replay scenario. Scenario values seed the
// session unless --var already set them.
func useReplay(cfg *engine.RunConfig, path string) (*replay.Transport, error) {
	scenario, err := loadScenario(path)
	if err != nil {
		return nil, err
	}
	if cfg.Vars == nil {
		cfg.Vars = make(map[string]any, len(scenario.Values))
	}
	for k, v := range scenario.Values {
		if _, set := cfg.Vars[k]; !set {
			cfg.Vars[k] = v
		}
	}
	cfg.Env = scenarioEnv(scenario)
	rt := replay.NewTransport(scenario)
	cfg.Factory = rt.Factory()
	return rt, nil
}

// scenarioEnv resolves getenv from the scenario first, then the process.
func scenarioEnv(s *replay.Scenario) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if v, ok := s.Env[name]; ok {
			return v, true
		}
		return os.LookupEnv(name)
	}
}

func printRun(w io.Writer, eng *engine.Engine, result *engine.RunResult, echo bool) {
	for _, r := range result.Responses {
		cmd := eng.Redact(r.Command)
		if r.Alternate {
			cmd += dimStyle.Render(" (alternate)")
		}
		elapsed := r.Elapsed.Round(time.Millisecond)
		switch {
		case r.Succeeded:
			fmt.Fprintf(w, "%s %s  %s\n", passedStyle.Render(glyphPassed), cmd, dimStyle.Render(fmt.Sprintf("%s (%s)", eng.Redact(r.Line), elapsed)))
		case r.TimedOut:
			fmt.Fprintf(w, "%s %s  %s\n", failedStyle.Render(glyphFailed), cmd, failedStyle.Render(fmt.Sprintf("timed out after %s", elapsed)))
		default:
			fmt.Fprintf(w, "%s %s  %s\n", failedStyle.Render(glyphFailed), cmd, failedStyle.Render(eng.Redact(r.Line)))
		}
		if echo {
			for _, l := range r.Lines {
				fmt.Fprintf(w, "    %s\n", dimStyle.Render(eng.Redact(l)))
			}
		}
		for _, c := range r.Captured {
			fmt.Fprintf(w, "    %s = %s\n", c.Name, eng.Redact(c.Value.String()))
		}
	}

	summary := fmt.Sprintf("%s: %d responses, %d failed, %s",
		result.Status, len(result.Responses), result.Failures, result.Duration.Round(time.Millisecond))
	switch result.Status {
	case engine.StatusCompleted:
		fmt.Fprintln(w, headerStyle.Render(summary))
	default:
		fmt.Fprintln(w, failedStyle.Render(summary))
		if result.Error != nil {
			fmt.Fprintf(w, "  %s\n", eng.Redact(result.Error.Error()))
		}
	}
}

func init() {
	execCmd.Flags().StringVar(&execReplay, "replay", "", "Replay a scenario file or directory instead of opening the device")
	execCmd.Flags().StringVar(&execRecord, "record", "", "Save the live exchange as a replay scenario in this directory")
	execCmd.Flags().StringVar(&execTrace, "trace", "", "Write a hash-chained JSONL trace to this file")
	execCmd.Flags().StringVar(&execRunID, "run-id", "", "Run identifier (default: random UUID)")
	execCmd.Flags().StringArrayVar(&execVars, "var", nil, "Set a value (name=value), repeatable")
	execCmd.Flags().BoolVar(&execAOF, "abort-on-failure", true, "Abort when a command fails without an alternate (overrides the script)")

	rootCmd.AddCommand(execCmd)
}
