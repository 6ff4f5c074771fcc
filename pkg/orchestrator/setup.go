package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackmedic/stackmedic/pkg/sequence"
	"github.com/stackmedic/stackmedic/pkg/stores"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// SetupOptions adjust a provisioning run.
type SetupOptions struct {
	// SkipCerts drops the certificate step for offline installs. The proxy
	// vhost is then rendered without a TLS server block.
	SkipCerts bool
}

// Setup provisions the deployment end to end: runtime sizing, certificate,
// database, cache, app container, proxy, monitoring, and the maintenance
// schedule. The returned trace lists every step; the error is non-nil only
// when a fatal step aborted the sequence.
func (o *Orchestrator) Setup(ctx context.Context, opts SetupOptions) (*sequence.SequenceResult, error) {
	o.mu.RLock()
	cfg := o.cfg
	seq := o.sequencer
	o.mu.RUnlock()

	runID := uuid.NewString()
	ctx = o.tel.WithContext(ctx)
	ctx = telemetry.WithRunContext(ctx, runID, string(stores.RunKindSetup))

	log := o.logger.WithRunID(runID)
	log.WithField("domain", cfg.Domain).Info("Starting setup run")

	if err := o.store.CreateRun(ctx, &stores.Run{
		ID:        runID,
		Kind:      stores.RunKindSetup,
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	steps, err := o.setupSteps(cfg, opts)
	if err != nil {
		o.finishRun(ctx, runID, stores.RunStatusFailed, nil, nil, err)
		telemetry.EndRunContext(ctx, runID, string(stores.RunKindSetup), string(stores.RunStatusFailed), err)
		return nil, err
	}

	result, runErr := seq.Run(ctx, runID, steps)
	if result != nil {
		o.persistStepResults(ctx, runID, result)
	}

	status := stores.RunStatusCompleted
	switch {
	case result != nil && result.Aborted:
		status = stores.RunStatusAborted
	case runErr != nil:
		status = stores.RunStatusFailed
	}

	o.finishRun(ctx, runID, status, nil, nil, runErr)
	telemetry.EndRunContext(ctx, runID, string(stores.RunKindSetup), string(status), runErr)

	if runErr != nil {
		log.WithError(runErr).Error("Setup run aborted")
	} else {
		log.Info("Setup run completed")
	}
	return result, runErr
}

// persistStepResults writes the step trace. Persistence failures are logged,
// never propagated; the trace is a record, not a dependency.
func (o *Orchestrator) persistStepResults(ctx context.Context, runID string, result *sequence.SequenceResult) {
	for _, sr := range result.Steps {
		row := &stores.StepResult{
			RunID:       runID,
			StepID:      sr.StepID,
			Ordinal:     sr.Ordinal,
			Criticality: string(sr.Criticality),
			Status:      string(sr.Status),
			Attempts:    sr.Attempts,
			DurationMS:  sr.Duration.Milliseconds(),
		}
		if sr.Error != "" {
			msg := sr.Error
			row.Error = &msg
		}
		if sr.Verification != nil {
			if b, err := json.Marshal(sr.Verification); err == nil {
				v := string(b)
				row.Verification = &v
			}
		}
		if !sr.StartedAt.IsZero() {
			t := sr.StartedAt
			row.StartedAt = &t
		}
		if !sr.CompletedAt.IsZero() {
			t := sr.CompletedAt
			row.CompletedAt = &t
		}

		if err := o.store.CreateStepResult(ctx, row); err != nil {
			o.logger.WithRunID(runID).WithStep(sr.StepID).WithError(err).
				Error("Failed to persist step result")
		}
	}
}

// finishRun stamps the run's terminal status.
func (o *Orchestrator) finishRun(ctx context.Context, runID string, status stores.RunStatus, verdict, summary *string, runErr error) {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := o.store.UpdateRunStatus(ctx, runID, status, verdict, summary, errMsg); err != nil {
		o.logger.WithRunID(runID).WithError(err).Error("Failed to update run status")
	}
}
