package sequence

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// Config tunes sequencer timing.
type Config struct {
	// VerifyTimeout bounds one verification probe check.
	VerifyTimeout time.Duration

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffCap is the upper bound on any retry delay.
	BackoffCap time.Duration
}

// DefaultConfig returns the default sequencer timing.
func DefaultConfig() Config {
	return Config{
		VerifyTimeout: 10 * time.Second,
		BackoffBase:   time.Second,
		BackoffCap:    time.Minute,
	}
}

// Sequencer runs steps in ordinal order with retry and verification.
type Sequencer struct {
	logger        *telemetry.Logger
	verifyTimeout time.Duration
	backoffBase   time.Duration
	backoffCap    time.Duration
}

// NewSequencer creates a sequencer. Zero config fields fall back to the
// defaults.
func NewSequencer(logger *telemetry.Logger, cfg Config) *Sequencer {
	def := DefaultConfig()
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	return &Sequencer{
		logger:        logger.NewComponentLogger("sequence"),
		verifyTimeout: cfg.VerifyTimeout,
		backoffBase:   cfg.BackoffBase,
		backoffCap:    cfg.BackoffCap,
	}
}

// Run executes the steps in ordinal order and returns the full trace. When a
// fatal step fails after its retries, the remaining steps are recorded as
// skipped and the returned error is the fatal step failure. Soft step
// failures appear in the trace but never produce an error.
func (s *Sequencer) Run(ctx context.Context, runID string, steps []Step) (*SequenceResult, error) {
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return nil, fault.NewInternal("invalid step list", err)
		}
	}

	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	result := &SequenceResult{
		RunID:     runID,
		Steps:     make([]StepResult, 0, len(ordered)),
		StartedAt: time.Now(),
	}

	var abortErr error
	for i := range ordered {
		step := &ordered[i]

		if result.Aborted {
			result.Steps = append(result.Steps, s.skipStep(ctx, runID, step, result.AbortStep))
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Steps = append(result.Steps, s.skipStep(ctx, runID, step, ""))
			abortErr = err
			continue
		}

		sr := s.executeStep(ctx, runID, step)
		result.Steps = append(result.Steps, sr)

		if sr.Status == StepStatusFailed && step.Criticality == CriticalityFatal {
			result.Aborted = true
			result.AbortStep = step.ID
			abortErr = fault.NewFatalStep(step.ID, sr.Error, nil)
			s.logger.WithRunID(runID).WithStep(step.ID).
				Error("Fatal step failed, aborting sequence")
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	return result, abortErr
}

// executeStep runs one step's attempt loop.
func (s *Sequencer) executeStep(ctx context.Context, runID string, step *Step) StepResult {
	stepCtx := telemetry.WithStepContext(ctx, runID, step.ID, step.Ordinal)
	log := s.logger.WithRunID(runID).WithStep(step.ID)

	log.WithFields(map[string]interface{}{
		"ordinal":     step.Ordinal,
		"criticality": string(step.Criticality),
	}).Info("Starting step")

	sr := StepResult{
		StepID:      step.ID,
		Ordinal:     step.Ordinal,
		Description: step.Description,
		Criticality: step.Criticality,
		StartedAt:   time.Now(),
	}

	var lastErr error
	for attempt := 0; attempt <= step.MaxRetries; attempt++ {
		sr.Attempts = attempt + 1
		lastErr = s.attempt(ctx, step, &sr)
		if lastErr == nil {
			break
		}
		if attempt >= step.MaxRetries {
			break
		}

		backoff := s.calculateBackoff(attempt)
		log.WithAttempt(attempt+1, step.MaxRetries+1).WithError(lastErr).
			Warnf("Step attempt failed, retrying in %s", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	sr.CompletedAt = time.Now()
	sr.Duration = sr.CompletedAt.Sub(sr.StartedAt)

	if lastErr != nil {
		sr.Status = StepStatusFailed
		sr.Error = lastErr.Error()
		log.WithField("attempts", sr.Attempts).WithError(lastErr).Error("Step failed")
		telemetry.EndStepContext(stepCtx, runID, step.ID, string(StepStatusFailed), lastErr)
		return sr
	}

	sr.Status = StepStatusSucceeded
	log.WithFields(map[string]interface{}{
		"attempts": sr.Attempts,
		"duration": sr.Duration.String(),
	}).Info("Step completed")
	telemetry.EndStepContext(stepCtx, runID, step.ID, string(StepStatusSucceeded), nil)
	return sr
}

// attempt applies the action once and verifies the outcome. The step
// succeeds only when its verification probe reports healthy.
func (s *Sequencer) attempt(ctx context.Context, step *Step, sr *StepResult) error {
	actionCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		actionCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	if err := step.Action.Apply(actionCtx); err != nil {
		return fmt.Errorf("action failed: %w", err)
	}

	if step.Verify == nil {
		return nil
	}

	v := probe.Run(ctx, step.Verify, s.verifyTimeout)
	sr.Verification = &v
	if v.Status != probe.StatusHealthy {
		return fault.NewTransientProbe(
			fmt.Sprintf("verification reported %s: %s", v.Status, v.Message), nil).
			WithService(v.Service).
			WithStep(step.ID)
	}
	return nil
}

// skipStep records a step the sequence never ran.
func (s *Sequencer) skipStep(ctx context.Context, runID string, step *Step, abortStep string) StepResult {
	reason := "run cancelled"
	if abortStep != "" {
		reason = fmt.Sprintf("skipped after fatal failure of step %s", abortStep)
	}

	s.logger.WithRunID(runID).WithStep(step.ID).WithField("reason", reason).
		Warn("Skipping step")

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishStepSkipped(runID, step.ID, reason)
		tel.Metrics.RecordStep(step.ID, string(StepStatusSkipped), 0)
	}

	return StepResult{
		StepID:      step.ID,
		Ordinal:     step.Ordinal,
		Description: step.Description,
		Criticality: step.Criticality,
		Status:      StepStatusSkipped,
		Error:       reason,
	}
}

// calculateBackoff returns the delay before the next attempt, doubling from
// the base and capped, with 25% jitter so parallel reruns do not retry in
// lockstep.
func (s *Sequencer) calculateBackoff(attempt int) time.Duration {
	delay := time.Duration(float64(s.backoffBase) * math.Pow(2, float64(attempt)))
	if delay > s.backoffCap {
		delay = s.backoffCap
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/2 + 1))
	return delay - delay/4 + jitter
}
