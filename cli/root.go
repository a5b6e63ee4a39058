// Package cli implements the fitprogress command-line tool using Cobra.
// It inspects the level ladder and milestone catalogs, replays workout
// schedules through the reward engine without a server, seeds a running
// server with fake athletes and issues athlete tokens.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fitprogress/config"
	"fitprogress/core"
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "fitprogress",
		Short:         "Inspect and simulate workout progression",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("milestones", "", "TOML milestone catalog (defaults to the built-in one)")
	root.AddCommand(newLadderCmd(), newMilestonesCmd(), newSimulateCmd(), newSeedCmd(), newTokenCmd())
	return root
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func thresholdsFlag(cmd *cobra.Command) (core.Thresholds, error) {
	path, err := cmd.Flags().GetString("milestones")
	if err != nil {
		return core.Thresholds{}, err
	}
	return config.RewardsConfig{MilestonesFile: path}.Thresholds()
}
