package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/schedule"
)

func newMaintainCommand() *cobra.Command {
	var (
		cadenceName string
		daemon      bool
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run maintenance cycles",
		Long: `Run scheduled maintenance over the deployment.

One-shot mode runs every cadence that has come due plus the requested
one, most frequent first, and exits. The cron entries installed during
setup invoke this mode. Without --cadence the cycle runs on demand,
which also catches up any overdue daily, weekly, or monthly cycle.

Daemon mode stays resident, wakes on the configured interval, runs
whatever has come due, and reloads the configuration file when it
changes on disk.`,
		Example: `  # On-demand cycle, catching up anything overdue
  stackmedic maintain

  # The nightly cron entry
  stackmedic maintain --cadence daily

  # Resident scheduler with metrics exposition
  stackmedic maintain --daemon

  # Resident scheduler waking every thirty seconds
  stackmedic maintain --daemon --interval 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cadence, err := parseCadence(cadenceName)
			if err != nil {
				return err
			}
			if interval < 0 {
				return fmt.Errorf("invalid interval %s (must be positive)", interval)
			}

			var mutate func(*config.Config)
			if interval > 0 {
				mutate = func(cfg *config.Config) {
					cfg.Schedule.WakeInterval = config.Duration(interval)
				}
			}

			rt, err := newRuntime(ctx, daemon, mutate)
			if err != nil {
				return err
			}
			defer rt.Close()

			if daemon {
				return runMaintainDaemon(ctx, rt)
			}

			outcomes, runErr := rt.orch.Maintain(ctx, cadence)
			printOutcomes(cmd.OutOrStdout(), outcomes)
			return runErr
		},
	}

	cmd.Flags().StringVar(&cadenceName, "cadence", "", "cadence to run (daily, weekly, monthly; empty means on demand)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "stay resident and run cadences as they come due")
	cmd.Flags().DurationVar(&interval, "interval", 0, "daemon wake interval, overriding the configured value")

	return cmd
}

func parseCadence(name string) (schedule.Cadence, error) {
	switch name {
	case "":
		return "", nil
	case "daily":
		return schedule.CadenceDaily, nil
	case "weekly":
		return schedule.CadenceWeekly, nil
	case "monthly":
		return schedule.CadenceMonthly, nil
	case "on-demand", "on_demand":
		return schedule.CadenceOnDemand, nil
	default:
		return "", fmt.Errorf("invalid cadence %q (want daily, weekly, monthly, or on-demand)", name)
	}
}

func runMaintainDaemon(ctx context.Context, rt *appRuntime) error {
	if err := rt.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	watcher := config.NewWatcher(rt.tel.Logger.Zerolog(), configPath)
	if err := watcher.Watch(ctx, func(cfg *config.Config) {
		if err := rt.orch.UpdateConfig(cfg); err != nil {
			rt.tel.Logger.WithError(err).Error("Reloaded configuration rejected")
		}
	}); err != nil {
		rt.tel.Logger.WithError(err).Warn("Configuration watch unavailable, reload on restart only")
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	err := rt.orch.RunDaemon(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printOutcomes(w io.Writer, outcomes []schedule.CycleOutcome) {
	for _, oc := range outcomes {
		line := fmt.Sprintf("%-10s %s", oc.Cadence, oc.Status)
		if oc.Verdict != "" {
			line += fmt.Sprintf(" (verdict %s)", oc.Verdict)
		}
		if oc.Error != "" {
			line += ": " + oc.Error
		}
		fmt.Fprintln(w, line)
	}
}
