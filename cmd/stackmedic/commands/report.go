package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/report"
	"github.com/stackmedic/stackmedic/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		runID      string
		format     string
		outputPath string
		list       int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show persisted diagnostic reports",
		Long: `Show diagnostic reports from the state store.

Without flags the latest report is rendered. A specific run's report
can be selected by run ID, and --list shows recent runs with their
verdicts instead of a full report.`,
		Example: `  # Latest report
  stackmedic report

  # Report for one run, as JSON
  stackmedic report --run 6f1aebc4-4477-4b52-9d0a-02c4f9470f1d --format json

  # The ten most recent runs
  stackmedic report --list 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open state store: %w", err)
			}
			defer store.Close()

			if list > 0 {
				runs, err := store.ListRuns(ctx, list, 0)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			}

			var stored *stores.Report
			if runID != "" {
				stored, err = store.GetReportByRun(ctx, runID)
			} else {
				stored, err = store.LatestReport(ctx)
			}
			if err != nil {
				return err
			}

			out, closeOut, err := openOutput(cmd, outputPath)
			if err != nil {
				return err
			}
			defer closeOut()

			// The stored payload is already the canonical JSON rendering.
			if format == "json" {
				_, err := io.WriteString(out, stored.Payload)
				return err
			}

			var rep report.Report
			if err := json.Unmarshal([]byte(stored.Payload), &rep); err != nil {
				return fmt.Errorf("failed to decode stored report %s: %w", stored.ID, err)
			}
			return renderReport(&rep, format, out)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the report for this run ID")
	cmd.Flags().StringVar(&format, "format", "text", "report format (text, json, html)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().IntVar(&list, "list", 0, "list this many recent runs instead of rendering a report")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tKIND\tCADENCE\tSTATUS\tVERDICT\tSTARTED")
	for _, r := range runs {
		cadence, verdict := "-", "-"
		if r.Cadence != nil && *r.Cadence != "" {
			cadence = *r.Cadence
		}
		if r.Verdict != nil && *r.Verdict != "" {
			verdict = *r.Verdict
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, cadence, r.Status, verdict, r.StartedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
