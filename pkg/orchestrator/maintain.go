package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/schedule"
	"github.com/stackmedic/stackmedic/pkg/stores"
)

// Maintain runs one maintenance pass. The named cadence is forced whether or
// not its boundary has passed; an empty cadence forces an on-demand cycle.
// Either way the pass also catches up any recurring cadence the host slept
// through. The error covers cycles that failed; deferred and completed
// cycles are reported through the outcomes alone.
func (o *Orchestrator) Maintain(ctx context.Context, cadence schedule.Cadence) ([]schedule.CycleOutcome, error) {
	ctx = o.tel.WithContext(ctx)

	forced := cadence
	if forced == "" {
		forced = schedule.CadenceOnDemand
	}

	outcomes, err := o.scheduler.RunDue(ctx, time.Now(), forced)
	if err != nil {
		return nil, fmt.Errorf("failed to compute due cadences: %w", err)
	}

	var failed int
	for _, out := range outcomes {
		if out.Status == schedule.CycleFailed {
			failed++
		}
	}
	if failed > 0 {
		return outcomes, fmt.Errorf("%d of %d maintenance cycles failed", failed, len(outcomes))
	}
	return outcomes, nil
}

// RunDaemon blocks, waking periodically to run due maintenance cycles, until
// the context ends.
func (o *Orchestrator) RunDaemon(ctx context.Context) error {
	o.mu.RLock()
	interval := o.cfg.Schedule.WakeInterval.Std()
	o.mu.RUnlock()

	ctx = o.tel.WithContext(ctx)
	go o.expireServiceGauges(ctx, interval)
	return o.scheduler.RunDaemon(ctx, interval)
}

// expireServiceGauges drops the service_up series of services whose last
// probe fell out of the staleness window, so the exposition between cycles
// reads unknown rather than the last value.
func (o *Orchestrator) expireServiceGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for service, r := range o.Snapshot() {
				if r.Status == probe.StatusUnknown {
					o.tel.Metrics.MarkServiceStale(service)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle executes one maintenance cycle for the scheduler: cadence chores
// first, then a diagnostic pass with remediation enabled per configuration.
// An escalated report fails the cycle when fail-fast is configured.
func (o *Orchestrator) RunCycle(ctx context.Context, cadence schedule.Cadence) (string, error) {
	o.mu.RLock()
	cfg := o.cfg
	o.mu.RUnlock()

	o.cadenceChores(ctx, cfg, cadence)

	rep, err := o.Diagnose(ctx, DiagnoseOptions{
		Remediate: cfg.Remediation.Enabled,
		kind:      stores.RunKindMaintenance,
		cadence:   cadence,
	})
	if err != nil {
		return "", err
	}

	if rep.Escalated && cfg.Escalation.FailFast {
		return string(rep.Verdict), fmt.Errorf("escalation raised: service unreachable past threshold, see report %s", rep.ID)
	}
	return string(rep.Verdict), nil
}

// cadenceChores runs the housekeeping attached to a cadence before its
// diagnostic pass. Chore failures are logged, never fatal; the health
// snapshot matters more than the housekeeping.
func (o *Orchestrator) cadenceChores(ctx context.Context, cfg *config.Config, cadence schedule.Cadence) {
	log := o.logger.WithCadence(string(cadence))

	switch cadence {
	case schedule.CadenceWeekly:
		if cfg.TLS.Enabled {
			if err := o.certs.Renew(ctx); err != nil {
				log.WithError(err).Warn("Certificate renewal failed")
			}
		}
	case schedule.CadenceMonthly:
		if cfg.Store.RetentionDays > 0 {
			olderThan := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
			pruned, err := o.store.Prune(ctx, olderThan)
			if err != nil {
				log.WithError(err).Warn("Run history prune failed")
			} else if pruned > 0 {
				log.WithField("pruned", pruned).Info("Pruned run history past retention")
			}
		}
	}
}
