// Package sequence runs ordered provisioning steps with per-step retry,
// verification, and criticality handling.
//
// A step pairs an idempotent action with a verification probe. The sequencer
// runs the action, checks the probe, and retries failed attempts with
// exponential backoff. A fatal step that still fails after its retries halts
// the sequence; the remaining steps are recorded as skipped and nothing is
// rolled back. Because every action is idempotent, rerunning an aborted
// sequence resumes the work without damaging the steps that already
// succeeded. A soft step that fails is logged and the sequence moves on.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/stackmedic/stackmedic/pkg/probe"
)

// Criticality decides what a step failure does to the rest of the sequence.
type Criticality string

const (
	// CriticalityFatal halts the sequence when the step fails.
	CriticalityFatal Criticality = "fatal"

	// CriticalitySoft records the failure and lets the sequence continue.
	CriticalitySoft Criticality = "soft"
)

// Validate checks that the criticality is a known value.
func (c Criticality) Validate() error {
	switch c {
	case CriticalityFatal, CriticalitySoft:
		return nil
	default:
		return fmt.Errorf("invalid criticality: %s", c)
	}
}

// Action applies one provisioning change to the host. Implementations must
// be idempotent: applying the same action twice leaves the host in the same
// state as applying it once.
type Action interface {
	Apply(ctx context.Context) error
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context) error

// Apply calls f.
func (f ActionFunc) Apply(ctx context.Context) error {
	return f(ctx)
}

// Step is one ordered unit of provisioning work.
type Step struct {
	// ID identifies the step in logs, events, and results.
	ID string

	// Ordinal fixes the step's position in the sequence.
	Ordinal int

	// Description is a short human-readable summary of the step.
	Description string

	// Action is the idempotent change the step applies.
	Action Action

	// Verify reports whether the change took effect. A step succeeds only
	// when its verification reports healthy; degraded is not enough. A nil
	// Verify means the action's own error return decides.
	Verify probe.Prober

	// MaxRetries is how many extra attempts a failed step gets.
	MaxRetries int

	// Criticality decides whether a failure halts the sequence.
	Criticality Criticality

	// Timeout bounds a single action attempt. Zero means no attempt bound
	// beyond the caller's context.
	Timeout time.Duration
}

// Validate checks that the step is well formed.
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step ID is required")
	}
	if s.Action == nil {
		return fmt.Errorf("step %s has no action", s.ID)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("step %s has negative max retries", s.ID)
	}
	return s.Criticality.Validate()
}

// StepStatus is the terminal state of one step.
type StepStatus string

const (
	// StepStatusSucceeded means the action applied and verification passed.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed means every attempt failed.
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped means an earlier fatal failure halted the sequence
	// before this step ran.
	StepStatusSkipped StepStatus = "skipped"
)

// StepResult records what happened to one step.
type StepResult struct {
	StepID      string      `json:"step_id"`
	Ordinal     int         `json:"ordinal"`
	Description string      `json:"description,omitempty"`
	Criticality Criticality `json:"criticality"`
	Status      StepStatus  `json:"status"`

	// Attempts counts how many times the step ran. Skipped steps have zero.
	Attempts int `json:"attempts"`

	// Verification is the last verification probe result, when the step has
	// a verification probe and ran at least once.
	Verification *probe.Result `json:"verification,omitempty"`

	// Error describes the final failure for failed steps.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// SequenceResult is the full trace of one sequencer run.
type SequenceResult struct {
	RunID string       `json:"run_id"`
	Steps []StepResult `json:"steps"`

	// Aborted reports whether a fatal step halted the sequence.
	Aborted bool `json:"aborted"`

	// AbortStep names the fatal step that halted the sequence, when any.
	AbortStep string `json:"abort_step,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Succeeded reports whether every step that ran succeeded. Soft failures
// count as failures here even though they do not halt the sequence.
func (r *SequenceResult) Succeeded() bool {
	for _, s := range r.Steps {
		if s.Status != StepStatusSucceeded {
			return false
		}
	}
	return true
}

// Failed returns the steps that failed.
func (r *SequenceResult) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StepStatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// Skipped returns the steps that never ran because the sequence aborted.
func (r *SequenceResult) Skipped() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StepStatusSkipped {
			out = append(out, s)
		}
	}
	return out
}
