package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Version information handed down from the build
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	rootCmd := newRootCommand(version, commit, date)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackmedic",
		Short: "StackMedic - provisioning and health-diagnostic orchestrator",
		Long: `StackMedic provisions and maintains a single-node service deployment:
the application container, its database and cache servers, the reverse
proxy in front, and the host monitoring agent.

Capabilities:
  - One-shot provisioning with verified, re-runnable steps
  - Parallel health probes with a worst-status verdict
  - Rule-driven remediation with per-service cooldowns
  - Daily, weekly, and monthly maintenance cadences
  - Host resource profiling and runtime sizing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/stackmedic/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newDiagnoseCommand())
	rootCmd.AddCommand(newMaintainCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
