package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
	"github.com/ormasoftchile/atrun/pkg/kernel/validate"
	"github.com/ormasoftchile/atrun/pkg/logging"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "atrun",
	Short:         "AT command script runner",
	Long:          "atrun sends scripted AT commands to a modem, validates the replies and collects values from them.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// initConfig reads the optional config file and ATRUN_* environment
// variables. Flags bound to viper keys take precedence over both.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".atrun")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}
	viper.SetEnvPrefix("ATRUN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger() (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level: viper.GetString("log-level"),
		JSON:  viper.GetBool("log-json"),
	})
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [script.yaml]",
	Short: "Validate an AT script against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	sc, errs := validate.ValidateFile(args[0])
	printValidationWarnings(errs)
	if validate.HasErrors(errs) {
		failures := validate.Errors(errs)
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(failures))
		for i, e := range failures {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(failures))
	}
	fmt.Println(passedStyle.Render(fmt.Sprintf("%s %s is valid (%d steps)", glyphPassed, sc.Meta.Name, len(sc.Steps))))
	return nil
}

func printValidationWarnings(errs []*validate.ValidationError) {
	for _, w := range errs {
		if w.Severity != validate.SeverityWarning {
			continue
		}
		fmt.Fprintf(os.Stderr, "  %s\n", warnStyle.Render(fmt.Sprintf("%s [%s] %s", glyphWarning, w.Phase, w.Message)))
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the AT script JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateScriptJSONSchema()
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}
		if schemaOut == "" {
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(schemaOut, data, 0o644); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
		fmt.Printf("Schema written to %s\n", schemaOut)
		return nil
	},
}

var schemaOut string

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("atrun %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .atrun.yaml in the working or home directory)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))

	// Device settings apply to exec and shell; they override the script.
	rootCmd.PersistentFlags().String("device", "", "Device path or tcp://host:port")
	rootCmd.PersistentFlags().Int("baud", 0, "Baud rate")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Default reply timeout")
	for _, name := range []string{"device", "baud", "timeout"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	schemaExportCmd.Flags().StringVar(&schemaOut, "out", "", "Write the schema to a file instead of stdout")
	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
