package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
	"github.com/ormasoftchile/atrun/pkg/shell"
)

var (
	shellReplay string
	shellVars   []string
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Send AT commands interactively",
	Long: `Open the device and read AT commands from the terminal. Each reply is
validated against the current expected pattern (OK by default). Lines
starting with ':' configure the shell; type :help for the list.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	prog := &schema.Program{Name: "shell"}
	applyDeviceOverrides(prog)

	vars, err := parseVars(shellVars)
	if err != nil {
		return err
	}

	aof := false
	cfg := engine.RunConfig{
		RunID:          uuid.NewString(),
		Logger:         logger,
		Vars:           vars,
		AbortOnFailure: &aof,
		Factory:        transport.NewStreamFactory(),
	}
	if shellReplay != "" {
		if _, err := useReplay(&cfg, shellReplay); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".atrun_history")
	}
	sh := shell.New(engine.New(prog, cfg), shell.Options{HistoryFile: history})
	return sh.Run(ctx)
}

func init() {
	shellCmd.Flags().StringVar(&shellReplay, "replay", "", "Answer from a scenario file or directory instead of the device")
	shellCmd.Flags().StringArrayVar(&shellVars, "var", nil, "Set a value (name=value), repeatable")
	rootCmd.AddCommand(shellCmd)
}
