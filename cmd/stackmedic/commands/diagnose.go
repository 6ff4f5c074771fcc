package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stackmedic/stackmedic/pkg/orchestrator"
	"github.com/stackmedic/stackmedic/pkg/probe"
)

func newDiagnoseCommand() *cobra.Command {
	var (
		remediate  bool
		failFast   bool
		format     string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Probe every service and build a report",
		Long: `Run one diagnostic pass over the managed services.

The pass probes the database, cache, application, proxy, and
monitoring agent in parallel, derives an overall verdict from the
worst individual status, and persists the report. With --remediate,
mapped corrective actions are applied to degraded or unreachable
services and the report reflects the post-remediation state.`,
		Example: `  # Observe only
  stackmedic diagnose

  # Observe, remediate, and show the resulting report as JSON
  stackmedic diagnose --remediate --format json

  # Fail the invocation when the stack is not healthy
  stackmedic diagnose --fail-fast`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, false, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.orch.Diagnose(ctx, orchestrator.DiagnoseOptions{Remediate: remediate})
			if err != nil {
				return err
			}

			out, closeOut, err := openOutput(cmd, outputPath)
			if err != nil {
				return err
			}
			defer closeOut()

			if err := renderReport(rep, format, out); err != nil {
				return err
			}

			if failFast && rep.Verdict != probe.StatusHealthy {
				return fmt.Errorf("diagnostic verdict is %s", rep.Verdict)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remediate, "remediate", false, "apply corrective actions to unhealthy services")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "exit non-zero unless the verdict is healthy")
	cmd.Flags().StringVar(&format, "format", "text", "report format (text, json, html)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the report to a file instead of stdout")

	return cmd
}
