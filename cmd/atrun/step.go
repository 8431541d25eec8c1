package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/atrun/pkg/ecosystem/tui"
	"github.com/ormasoftchile/atrun/pkg/kernel/engine"
	"github.com/ormasoftchile/atrun/pkg/kernel/replay"
	"github.com/ormasoftchile/atrun/pkg/kernel/transport"
)

var (
	stepReplay string
	stepVars   []string
)

var stepCmd = &cobra.Command{
	Use:   "step [script.yaml]",
	Short: "Step through an AT script in a terminal UI",
	Args:  cobra.ExactArgs(1),
	RunE:  runStep,
}

func runStep(cmd *cobra.Command, args []string) error {
	prog, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	applyDeviceOverrides(prog)

	vars, err := parseVars(stepVars)
	if err != nil {
		return err
	}
	cfg := engine.RunConfig{
		RunID:   uuid.NewString(),
		Vars:    vars,
		Factory: transport.NewStreamFactory(),
	}

	var rt *replay.Transport
	if stepReplay != "" {
		if rt, err = useReplay(&cfg, stepReplay); err != nil {
			return err
		}
	}

	eng := engine.New(prog, cfg)
	if rt != nil {
		rt.SetSecrets(prog.Secrets, eng.Session().Values().Lookup)
	}
	defer eng.Close()

	p := tea.NewProgram(tui.NewModel(eng, prog.Name), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}

func init() {
	stepCmd.Flags().StringVar(&stepReplay, "replay", "", "Replay a scenario file or directory instead of opening the device")
	stepCmd.Flags().StringArrayVar(&stepVars, "var", nil, "Set a value (name=value), repeatable")
	rootCmd.AddCommand(stepCmd)
}
