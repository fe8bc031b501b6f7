package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/bulkllm/pkg/cli"
	"mercator-hq/bulkllm/pkg/limits"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration, apply BULKLLM_* overrides and defaults, and check
every field. Rule patterns are compiled as they would be at startup.`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limiter, err := limits.NewLimiterFromConfig(cfg.RateLimits)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %d rules, %s window, %s journal\n",
		len(limiter.Rules()), cfg.RateLimits.Window, cfg.Storage.Backend)
	return nil
}
