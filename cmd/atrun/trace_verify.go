package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/atrun/pkg/kernel/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain + signature)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !result.Valid {
		fmt.Fprintln(out, failedStyle.Render(fmt.Sprintf("%s Chain broken at event %d", glyphFailed, result.BrokenAt)))
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}
	fmt.Fprintln(out, passedStyle.Render(fmt.Sprintf("%s Chain integrity: %d events, no breaks", glyphPassed, result.EventCount)))

	switch {
	case !result.Signed:
	case result.SignatureOK:
		fmt.Fprintln(out, passedStyle.Render(glyphPassed+" Signature valid"))
	case result.SignatureNoKey:
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("%s Signature present but no %s set to verify", glyphWarning, trace.SigningKeyEnv)))
	default:
		fmt.Fprintln(out, failedStyle.Render(glyphFailed+" Signature invalid"))
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
