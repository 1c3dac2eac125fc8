// Package main implements the rodharness CLI: start, attach to and poke at the Chrome
// sessions used by rodharness test suites.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rodharness/internal/config"
	"rodharness/internal/logging"
)

var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rodharness",
	Short: "Browser sessions for rod-based Go test suites",
	Long: `rodharness manages the Chrome sessions used by test suites built on the
rodharness package.

Configuration comes from an optional YAML file (--config or RODHARNESS_CONFIG)
overridden by RODHARNESS_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = os.Getenv(config.EnvConfig)
		}
		c, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rodharness %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $RODHARNESS_CONFIG)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for browser startup and single operations")

	launchCmd.Flags().StringVar(&controlFile, "control-file", "", "Also write the control URL to this file")
	replCmd.Flags().StringVar(&controlURL, "control-url", "", "Attach to a running browser (default: $RODHARNESS_CONTROL_URL)")
	replCmd.Flags().StringVar(&startURL, "url", "", "Navigate here before the prompt starts")
	screenshotCmd.Flags().StringVar(&controlURL, "control-url", "", "Attach to a running browser (default: $RODHARNESS_CONTROL_URL)")
	screenshotCmd.Flags().StringVar(&startURL, "url", "", "Navigate here before taking the screenshot")
	screenshotCmd.Flags().StringVar(&shotDir, "dir", ".", "Directory the screenshot is saved in")

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(screenshotCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
