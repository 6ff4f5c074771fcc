package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/profile"
	"github.com/stackmedic/stackmedic/pkg/remedy"
	"github.com/stackmedic/stackmedic/pkg/report"
	"github.com/stackmedic/stackmedic/pkg/schedule"
	"github.com/stackmedic/stackmedic/pkg/stores"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// DiagnoseOptions adjust a diagnostic pass.
type DiagnoseOptions struct {
	// Remediate applies corrective actions to degraded and unreachable
	// services instead of only reporting them.
	Remediate bool

	// kind and cadence are stamped by Maintain; plain diagnostics leave
	// them empty.
	kind    stores.RunKind
	cadence schedule.Cadence
}

// Diagnose takes one health snapshot: profile the host, probe every service
// in parallel, optionally remediate, and aggregate the report. The pass
// itself never fails on service health; the error covers only the
// orchestration machinery.
func (o *Orchestrator) Diagnose(ctx context.Context, opts DiagnoseOptions) (*report.Report, error) {
	o.mu.RLock()
	cfg := o.cfg
	probes := o.probes
	remedies := o.remedies
	o.mu.RUnlock()

	kind := opts.kind
	if kind == "" {
		kind = stores.RunKindDiagnostic
	}

	runID := uuid.NewString()
	ctx = o.tel.WithContext(ctx)
	ctx = telemetry.WithRunContext(ctx, runID, string(kind))

	log := o.logger.WithRunID(runID)
	started := time.Now()

	run := &stores.Run{
		ID:        runID,
		Kind:      kind,
		Status:    stores.RunStatusRunning,
		StartedAt: started,
	}
	if opts.cadence != "" {
		c := string(opts.cadence)
		run.Cadence = &c
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	// A failed resource query downgrades to the minimum profile; the
	// diagnostic keeps going either way.
	prof, perr := o.profiler.Detect(ctx, cfg.InstallPath)
	if perr != nil {
		log.WithError(perr).Warn("Host profile query failed, using minimum profile")
	}
	o.recordProfile(prof)

	results := probes.RunAll(ctx)
	for _, r := range results {
		telemetry.RecordProbeResult(ctx, runID, r.Service, string(r.Status), r.Latency)
	}

	// Read the container log tail before a remediation restart pushes the
	// failure out of view.
	if r, ok := results[config.ServiceApp]; ok && r.Status == probe.StatusUnreachable {
		o.captureAppLogs(ctx, log)
	}

	// Cancellation is honoured between the probe join and remediation,
	// never mid-action. Results already gathered still land in the report.
	var outcomes []remedy.Outcome
	if opts.Remediate && ctx.Err() == nil {
		outcomes = remedies.RemediateAll(ctx, runID, results)
	}

	final := finalResults(results, outcomes)
	o.persistProbeResults(ctx, runID, final)
	o.persistRemediations(ctx, runID, outcomes)

	rep := report.Build(final, outcomes, prof)
	rep.RunID = runID
	rep.Kind = string(kind)
	rep.Cadence = string(opts.cadence)
	rep.Duration = time.Since(started)

	o.checkEscalation(ctx, runID, cfg, rep)
	o.persistReport(ctx, rep)

	verdict := string(rep.Verdict)
	var summary *string
	if b, err := json.Marshal(rep.Summary()); err == nil {
		s := string(b)
		summary = &s
	}
	o.finishRun(ctx, runID, stores.RunStatusCompleted, &verdict, summary, nil)
	telemetry.EndRunContext(ctx, runID, string(kind), string(stores.RunStatusCompleted), nil)

	log.WithFields(map[string]interface{}{
		"verdict":  verdict,
		"services": len(rep.Services),
		"duration": rep.Duration.String(),
	}).Info("Diagnostic pass completed")

	return rep, nil
}

// finalResults overlays post-remediation re-probe results onto the probe
// pass, so the report and the persisted history show where each service
// landed, not where it started. Outcomes keep the trigger status.
func finalResults(results map[string]probe.Result, outcomes []remedy.Outcome) map[string]probe.Result {
	if len(outcomes) == 0 {
		return results
	}
	out := make(map[string]probe.Result, len(results))
	for service, r := range results {
		out[service] = r
	}
	for _, oc := range outcomes {
		if oc.After != nil {
			out[oc.Service] = *oc.After
		}
	}
	return out
}

// appLogTailLines bounds the container log excerpt attached to the
// diagnostic log when the application is unreachable.
const appLogTailLines = 40

// captureAppLogs pulls the application container's recent output into the
// diagnostic log. Collection is best-effort; a read failure is reported at
// debug only.
func (o *Orchestrator) captureAppLogs(ctx context.Context, log *telemetry.Logger) {
	o.mu.RLock()
	service := o.cfg.Services.App.ComposeService
	o.mu.RUnlock()

	tail, err := o.compose.LogsTail(ctx, service, appLogTailLines)
	if err != nil {
		log.WithError(err).Debug("Could not read application container logs")
		return
	}
	if tail = strings.TrimSpace(tail); tail != "" {
		log.WithField("logs", tail).Warn("Application container unreachable, captured recent container output")
	}
}

// checkEscalation flips the report's escalated flag when any service has
// been unreachable for at least the threshold number of consecutive runs.
// Threshold zero keeps diagnostics purely informational.
func (o *Orchestrator) checkEscalation(ctx context.Context, runID string, cfg *config.Config, rep *report.Report) {
	threshold := cfg.Escalation.Threshold
	tel := telemetry.FromTelemetryContext(ctx)

	for _, r := range rep.Services {
		if r.Status != probe.StatusUnreachable {
			if tel != nil {
				tel.Metrics.SetConsecutiveUnreachable(r.Service, 0)
			}
			continue
		}

		limit := threshold
		if limit <= 0 {
			// Gauge only; a short window keeps the scan cheap.
			limit = 10
		}
		streak, err := o.store.ConsecutiveUnreachable(ctx, r.Service, limit)
		if err != nil {
			o.logger.WithRunID(runID).WithService(r.Service).WithError(err).
				Error("Failed to read unreachable history")
			continue
		}
		if tel != nil {
			tel.Metrics.SetConsecutiveUnreachable(r.Service, float64(streak))
		}

		if threshold > 0 && streak >= threshold {
			rep.Escalated = true
			o.logger.WithRunID(runID).WithService(r.Service).WithFields(map[string]interface{}{
				"consecutive": streak,
				"threshold":   threshold,
			}).Warn("Service unreachable past escalation threshold")
			if tel != nil {
				_ = tel.Events.PublishEscalationRaised(r.Service, streak, threshold)
			}
		}
	}
}

// recordProfile exports the detected resources and sizing as gauges. A
// fallback profile carries no resource numbers, so only the sizing is
// exported for one.
func (o *Orchestrator) recordProfile(prof *profile.Profile) {
	if !prof.Fallback {
		o.tel.Metrics.SetHostResources(
			float64(prof.Resources.CPUCores),
			float64(prof.Resources.RAMGB()),
			float64(prof.Resources.DiskFreeGB))
	}
	o.tel.Metrics.SetProfileSizing(
		float64(prof.Sizing.WorkerCount),
		float64(prof.Sizing.CacheSizeMB))
}

func (o *Orchestrator) persistProbeResults(ctx context.Context, runID string, results map[string]probe.Result) {
	for _, r := range results {
		row := &stores.ProbeResult{
			RunID:     runID,
			Service:   r.Service,
			Status:    string(r.Status),
			LatencyMS: r.Latency.Milliseconds(),
			Message:   r.Message,
			CheckedAt: r.CheckedAt,
		}
		if err := o.store.CreateProbeResult(ctx, row); err != nil {
			o.logger.WithRunID(runID).WithService(r.Service).WithError(err).
				Error("Failed to persist probe result")
		}
	}
}

func (o *Orchestrator) persistRemediations(ctx context.Context, runID string, outcomes []remedy.Outcome) {
	for i := range outcomes {
		oc := &outcomes[i]
		row := &stores.Remediation{
			ID:         uuid.NewString(),
			RunID:      runID,
			Service:    oc.Service,
			Trigger:    string(oc.Trigger),
			Outcome:    string(oc.Kind),
			AppliedAt:  oc.StartedAt,
			DurationMS: oc.Duration.Milliseconds(),
		}
		if len(oc.Actions) > 0 {
			if b, err := json.Marshal(oc.Actions); err == nil {
				row.Actions = string(b)
			}
		}
		if detail := outcomeDetail(oc); detail != "" {
			row.Detail = &detail
		}

		if err := o.store.CreateRemediation(ctx, row); err != nil {
			o.logger.WithRunID(runID).WithService(oc.Service).WithError(err).
				Error("Failed to persist remediation")
		}
	}
}

// outcomeDetail condenses an outcome into one line for the audit trail.
func outcomeDetail(oc *remedy.Outcome) string {
	switch oc.Kind {
	case remedy.OutcomeFailed:
		return oc.Error
	case remedy.OutcomeSkippedCooldown:
		return fmt.Sprintf("cooldown active, %s remaining", oc.CooldownRemaining.Round(time.Second))
	case remedy.OutcomeApplied:
		if oc.After != nil {
			return fmt.Sprintf("service %s after remediation", oc.After.Status)
		}
	}
	return ""
}

func (o *Orchestrator) persistReport(ctx context.Context, rep *report.Report) {
	var payload strings.Builder
	if err := rep.WriteJSON(&payload); err != nil {
		o.logger.WithRunID(rep.RunID).WithError(err).Error("Failed to render report payload")
		return
	}

	row := &stores.Report{
		ID:          rep.ID,
		RunID:       rep.RunID,
		Verdict:     string(rep.Verdict),
		Escalated:   rep.Escalated,
		Payload:     payload.String(),
		GeneratedAt: rep.GeneratedAt,
	}
	if err := o.store.SaveReport(ctx, row); err != nil {
		o.logger.WithRunID(rep.RunID).WithError(err).Error("Failed to persist report")
	}
}
