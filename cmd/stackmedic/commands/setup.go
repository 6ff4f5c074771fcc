package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackmedic/stackmedic/pkg/orchestrator"
	"github.com/stackmedic/stackmedic/pkg/sequence"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

func newSetupCommand() *cobra.Command {
	var (
		skipCerts bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the full service stack",
		Long: `Provision the deployment from the ground up.

The setup sequence:
  1. Sizes the runtime environment from detected host resources
  2. Provisions the TLS certificate (when TLS is enabled)
  3. Starts the database server
  4. Starts the cache server
  5. Builds and starts the application container
  6. Configures and reloads the reverse proxy
  7. Enables the host monitoring agent
  8. Registers the maintenance schedule in cron

Every step verifies its outcome before the sequence moves on. A failed
fatal step aborts the run and the remaining steps are skipped; setup is
safe to re-run after fixing the reported problem.`,
		Example: `  # Provision with the default config
  stackmedic setup

  # Provision without certificate issuance
  stackmedic setup --skip-certs

  # Provision from an explicit config file
  stackmedic setup --config /etc/stackmedic/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, false, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Echo step progress as it happens; the summary table below
			// covers the final state.
			errOut := cmd.ErrOrStderr()
			rt.tel.Events.Subscribe(func(ev telemetry.Event) {
				fmt.Fprintln(errOut, ev.Message)
			}, telemetry.FilterByType(
				telemetry.EventTypeStepStarted,
				telemetry.EventTypeStepCompleted,
				telemetry.EventTypeStepFailed,
				telemetry.EventTypeStepSkipped,
			))

			res, runErr := rt.orch.Setup(ctx, orchestrator.SetupOptions{SkipCerts: skipCerts})
			if res != nil {
				printSequence(cmd.OutOrStdout(), res)
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&skipCerts, "skip-certs", false, "skip certificate provisioning")

	return cmd
}

func printSequence(w io.Writer, res *sequence.SequenceResult) {
	total := len(res.Steps)
	for _, s := range res.Steps {
		line := fmt.Sprintf("[%d/%d] %-22s %s", s.Ordinal, total, s.StepID, s.Status)
		if s.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", s.Attempts)
		}
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(w, line)
	}

	if res.Aborted {
		fmt.Fprintf(w, "\nSetup aborted at step %s after %s\n",
			res.AbortStep, res.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "\nSetup finished in %s\n", res.Duration.Round(time.Millisecond))
}
