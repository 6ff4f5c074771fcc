package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/profile"
)

func newProfileCommand() *cobra.Command {
	var (
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show detected host resources and derived sizing",
		Long: `Query host resources and show the derived runtime sizing.

The profiler reads the CPU count, total memory, and free disk space on
the install volume, then maps them onto a sizing tier. When a resource
query fails the minimum profile is shown instead, flagged as a
fallback. Operator overrides from the configuration replace the
derived worker count and cache size, the same way setup sizes the
runtime environment file.`,
		Example: `  # Human-readable profile
  stackmedic profile

  # Machine-readable profile
  stackmedic profile --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			tel, err := buildTelemetry(cfg, false)
			if err != nil {
				return fmt.Errorf("failed to initialise telemetry: %w", err)
			}

			profiler := profile.NewProfiler(tel.Logger, nil)
			prof, err := profiler.Detect(ctx, cfg.InstallPath)
			if err != nil {
				tel.Logger.WithError(err).Warn("Host profile query failed, showing minimum profile")
			}
			prof.Sizing = prof.Sizing.WithOverrides(cfg.Profile.WorkerCount, cfg.Profile.CacheSizeMB)

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(prof)
			}

			printProfile(cmd.OutOrStdout(), prof)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")

	return cmd
}

func printProfile(w io.Writer, prof *profile.Profile) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Tier:\t%s\n", prof.Sizing.Tier)
	fmt.Fprintf(tw, "Workers:\t%d\n", prof.Sizing.WorkerCount)
	fmt.Fprintf(tw, "Cache size:\t%d MB\n", prof.Sizing.CacheSizeMB)
	if !prof.Fallback {
		fmt.Fprintf(tw, "CPU cores:\t%d\n", prof.Resources.CPUCores)
		fmt.Fprintf(tw, "Memory:\t%d MB\n", prof.Resources.MemTotalMB)
		fmt.Fprintf(tw, "Disk free:\t%d GB\n", prof.Resources.DiskFreeGB)
	}
	fmt.Fprintf(tw, "Collected:\t%s\n", prof.CollectedAt.Format("2006-01-02 15:04:05 MST"))
	_ = tw.Flush()

	if prof.Fallback {
		fmt.Fprintln(w, "\nResource query failed; sizing falls back to the minimum profile.")
	}
}
