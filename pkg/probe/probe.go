// Package probe defines health probes for the managed services and the
// engine that runs them. Probes classify a service as healthy, degraded,
// unreachable, or unknown; they fold every failure into the result instead
// of returning errors so a bad service can never abort a diagnostic pass.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Status is the health classification of a single service.
type Status string

const (
	// StatusHealthy means the service responded correctly within bounds.
	StatusHealthy Status = "healthy"

	// StatusDegraded means the service responded but slowly or partially.
	StatusDegraded Status = "degraded"

	// StatusUnreachable means the service did not respond at all.
	StatusUnreachable Status = "unreachable"

	// StatusUnknown means no fresh probe result exists for the service.
	StatusUnknown Status = "unknown"
)

// Validate checks if the status is a valid probe status.
func (s Status) Validate() error {
	switch s {
	case StatusHealthy, StatusDegraded, StatusUnreachable, StatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid probe status: %s", s)
	}
}

// Severity orders statuses for verdict aggregation. Unknown carries no
// severity and is excluded from worst-of comparisons.
func (s Status) Severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnreachable:
		return 2
	default:
		return -1
	}
}

// Worse returns the more severe of two statuses, ignoring unknown.
func Worse(a, b Status) Status {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Result is the outcome of a single probe check.
type Result struct {
	Service   string        `json:"service"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Prober checks the health of one managed service. Implementations must
// honor the context deadline and must not panic; failures of any kind are
// folded into the result status and message.
type Prober interface {
	// Service returns the name of the service this prober checks.
	Service() string

	// Check probes the service once. The context carries the per-probe
	// timeout.
	Check(ctx context.Context) Result
}

// unreachable builds an unreachable result, marking timeouts explicitly so
// report readers can tell a hang from a refusal.
func unreachable(service string, start time.Time, err error) Result {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		msg = "timed out waiting for response"
	}
	return Result{
		Service:   service,
		Status:    StatusUnreachable,
		Latency:   time.Since(start),
		Message:   msg,
		CheckedAt: start,
	}
}
