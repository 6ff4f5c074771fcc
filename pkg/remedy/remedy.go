// Package remedy maps observed service failures to corrective actions.
//
// A rule binds one (service, status) pair to an ordered action list and a
// cooldown. When a probe reports a service degraded or unreachable, the
// engine looks up the matching rule, runs its actions in order, and probes
// the service once more to record where it landed. A service with no rule
// for its status gets a no-action outcome. A service still inside its
// cooldown gets a skipped outcome rather than another round of actions, so
// a service that stays broken cannot be hammered every cycle.
//
// Remediations for the same service never overlap; different services may
// be remediated concurrently.
package remedy

import (
	"context"
	"fmt"
	"time"

	"github.com/stackmedic/stackmedic/pkg/probe"
)

// Action is one corrective command, such as restarting a container or
// flushing a cache.
type Action interface {
	// Name identifies the action in logs, events, and outcomes.
	Name() string

	// Run applies the action.
	Run(ctx context.Context) error
}

type funcAction struct {
	name string
	fn   func(ctx context.Context) error
}

// NewAction wraps a named function as an Action.
func NewAction(name string, fn func(ctx context.Context) error) Action {
	return &funcAction{name: name, fn: fn}
}

func (a *funcAction) Name() string {
	return a.name
}

func (a *funcAction) Run(ctx context.Context) error {
	return a.fn(ctx)
}

// Rule binds a service failure status to its corrective actions.
type Rule struct {
	// Service names the service the rule covers.
	Service string

	// Status is the probe status that triggers the rule. Only degraded and
	// unreachable can trigger remediation.
	Status probe.Status

	// Actions run in order when the rule fires.
	Actions []Action

	// Cooldown is how long the service rests after a remediation attempt
	// before another attempt is allowed.
	Cooldown time.Duration

	// Settle is how long to wait after the last action before the
	// confirmation re-probe, giving a restarted service time to listen.
	Settle time.Duration
}

// Validate checks that the rule is well formed.
func (r *Rule) Validate() error {
	if r.Service == "" {
		return fmt.Errorf("rule service is required")
	}
	if r.Status != probe.StatusDegraded && r.Status != probe.StatusUnreachable {
		return fmt.Errorf("rule for %s triggers on %s; only degraded and unreachable are remediable", r.Service, r.Status)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule for (%s, %s) has no actions", r.Service, r.Status)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule for (%s, %s) has negative cooldown", r.Service, r.Status)
	}
	if r.Settle < 0 {
		return fmt.Errorf("rule for (%s, %s) has negative settle delay", r.Service, r.Status)
	}
	return nil
}

// OutcomeKind is what a remediation attempt amounted to.
type OutcomeKind string

const (
	// OutcomeApplied means every action ran and the service was re-probed.
	OutcomeApplied OutcomeKind = "applied"

	// OutcomeFailed means an action returned an error. The failure is
	// recorded; it never halts the run.
	OutcomeFailed OutcomeKind = "failed"

	// OutcomeNoAction means no rule matches the service and status.
	OutcomeNoAction OutcomeKind = "no_action"

	// OutcomeSkippedCooldown means a recent attempt put the service inside
	// its cooldown window.
	OutcomeSkippedCooldown OutcomeKind = "skipped_cooldown"
)

// Outcome records one remediation decision for one service.
type Outcome struct {
	Service string       `json:"service"`
	Trigger probe.Status `json:"trigger"`
	Kind    OutcomeKind  `json:"kind"`

	// Actions lists the action names that ran, in order, up to and
	// including the one that failed.
	Actions []string `json:"actions,omitempty"`

	// FailedAction names the action that returned an error.
	FailedAction string `json:"failed_action,omitempty"`

	// Error describes the failure for failed outcomes.
	Error string `json:"error,omitempty"`

	// CooldownRemaining is how long the cooldown has left for skipped
	// outcomes.
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`

	// After is the probe result taken once after a successful application.
	After *probe.Result `json:"after,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
