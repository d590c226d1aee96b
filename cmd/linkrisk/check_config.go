package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/linkrisk/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config <path>",
	Short: "Validate a config file",
	Long:  "Checks a config file against the config schema and the value constraints used by 'score'.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	t := cfg.Thresholds
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %s\n", args[0])
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Tiers: No risk <= %d < Low <= %d < Medium <= %d < Critical\n", t.NoRiskMax, t.LowMax, t.MediumMax)
	return nil
}
