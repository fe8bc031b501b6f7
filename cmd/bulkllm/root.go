package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/bulkllm/pkg/cli"
	"mercator-hq/bulkllm/pkg/config"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "bulkllm",
	Short: "Rate-limited batch execution of LLM calls",
	Long: `bulkllm schedules batches of LLM calls so that each model stays within
its requests-per-window and tokens-per-window budgets.

Rules are read from the rate_limits section of the configuration file.
Identifiers that match no rule fall back to an unbounded default rule.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code derived from the
// returned error.
func Execute() {
	ctx, stop := cli.SetupSignalHandler(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and BULKLLM_* variables only when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the configuration named by --config and applies
// BULKLLM_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// printTable writes t to the command's output in the --output format.
func printTable(cmd *cobra.Command, t *cli.Table) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	return cli.NewFormatter(format, w).Format(w, t)
}
