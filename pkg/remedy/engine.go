package remedy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

type ruleKey struct {
	service string
	status  probe.Status
}

// Engine holds the remediation rules and the per-service cooldown state.
type Engine struct {
	logger *telemetry.Logger
	probes *probe.Engine
	rules  map[ruleKey]*Rule

	mu          sync.Mutex
	lastAttempt map[string]time.Time
	serviceMu   map[string]*sync.Mutex
}

// NewEngine creates a remediation engine over the given rules. The probe
// engine supplies the single re-probe after a successful application.
func NewEngine(logger *telemetry.Logger, probes *probe.Engine, rules []Rule) (*Engine, error) {
	table := make(map[ruleKey]*Rule, len(rules))
	for i := range rules {
		r := rules[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		key := ruleKey{r.Service, r.Status}
		if _, exists := table[key]; exists {
			return nil, fmt.Errorf("duplicate rule for (%s, %s)", r.Service, r.Status)
		}
		table[key] = &r
	}

	return &Engine{
		logger:      logger.NewComponentLogger("remedy"),
		probes:      probes,
		rules:       table,
		lastAttempt: make(map[string]time.Time),
		serviceMu:   make(map[string]*sync.Mutex),
	}, nil
}

// Remediate handles one probe result. Healthy and unknown results need no
// remediation; unknown means the service was not observed, and acting on a
// service nobody has seen would be guesswork.
func (e *Engine) Remediate(ctx context.Context, runID string, r probe.Result) Outcome {
	out := Outcome{
		Service:   r.Service,
		Trigger:   r.Status,
		StartedAt: time.Now(),
	}
	log := e.logger.WithRunID(runID).WithService(r.Service)

	if r.Status == probe.StatusHealthy || r.Status == probe.StatusUnknown {
		out.Kind = OutcomeNoAction
		return e.finish(ctx, out)
	}

	rule, ok := e.rules[ruleKey{r.Service, r.Status}]
	if !ok {
		out.Kind = OutcomeNoAction
		log.WithField("status", string(r.Status)).Debug("No remediation rule for service status")
		return e.finish(ctx, out)
	}

	lock := e.serviceLock(r.Service)
	lock.Lock()
	defer lock.Unlock()

	if remaining := e.cooldownRemaining(r.Service, rule.Cooldown); remaining > 0 {
		out.Kind = OutcomeSkippedCooldown
		out.CooldownRemaining = remaining
		log.WithField("remaining", remaining.String()).Info("Remediation skipped, service inside cooldown")
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			_ = tel.Events.PublishRemediationSkipped(runID, r.Service, remaining)
		}
		return e.finish(ctx, out)
	}

	// The cooldown clock starts when the attempt starts, so a failing
	// action list cannot retrigger every cycle.
	e.markAttempt(r.Service)

	var span trace.Span
	ctx, span = e.startSpan(ctx, r)
	defer span.End()

	for _, action := range rule.Actions {
		out.Actions = append(out.Actions, action.Name())
		log.WithField("action", action.Name()).Info("Running remediation action")

		if err := action.Run(ctx); err != nil {
			rerr := fault.NewRemediation(fmt.Sprintf("action %s failed", action.Name()), err).
				WithService(r.Service)
			out.Kind = OutcomeFailed
			out.FailedAction = action.Name()
			out.Error = rerr.Error()

			log.WithError(rerr).Error("Remediation action failed")
			telemetry.RecordError(span, rerr)
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				_ = tel.Events.PublishRemediationFailed(runID, r.Service, action.Name(), err.Error())
				tel.Metrics.RecordError(string(fault.ClassRemediation))
			}
			return e.finish(ctx, out)
		}
	}

	out.Kind = OutcomeApplied

	if rule.Settle > 0 {
		select {
		case <-time.After(rule.Settle):
		case <-ctx.Done():
		}
	}

	// One re-probe records where the service landed; convergence is the
	// next cycle's problem.
	resultStatus := string(probe.StatusUnknown)
	if after, err := e.probes.Check(ctx, r.Service); err == nil {
		out.After = &after
		resultStatus = string(after.Status)
	}

	log.WithFields(map[string]interface{}{
		"actions": strings.Join(out.Actions, ","),
		"after":   resultStatus,
	}).Info("Remediation applied")
	telemetry.RecordSuccess(span)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishRemediationApplied(runID, r.Service, strings.Join(out.Actions, ","), resultStatus)
	}
	return e.finish(ctx, out)
}

// RemediateAll remediates every degraded or unreachable result, each service
// independently and in parallel. Outcomes come back ordered by service name.
func (e *Engine) RemediateAll(ctx context.Context, runID string, results map[string]probe.Result) []Outcome {
	var services []string
	for service, r := range results {
		if r.Status == probe.StatusDegraded || r.Status == probe.StatusUnreachable {
			services = append(services, service)
		}
	}
	sort.Strings(services)

	outcomes := make([]Outcome, len(services))
	g := new(errgroup.Group)
	for i, service := range services {
		g.Go(func() error {
			outcomes[i] = e.Remediate(ctx, runID, results[service])
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// finish stamps the outcome duration and records the metric.
func (e *Engine) finish(ctx context.Context, out Outcome) Outcome {
	out.Duration = time.Since(out.StartedAt)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordRemediation(out.Service, string(out.Kind), out.Duration)
	}
	return out
}

func (e *Engine) startSpan(ctx context.Context, r probe.Result) (context.Context, trace.Span) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		// SpanFromContext degrades to a non-recording span.
		return ctx, trace.SpanFromContext(ctx)
	}
	return tel.Tracer.StartRemediationSpan(ctx, r.Service, string(r.Status))
}

func (e *Engine) serviceLock(service string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.serviceMu[service]
	if !ok {
		lock = &sync.Mutex{}
		e.serviceMu[service] = lock
	}
	return lock
}

func (e *Engine) cooldownRemaining(service string, cooldown time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastAttempt[service]
	if !ok {
		return 0
	}
	remaining := cooldown - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Engine) markAttempt(service string) {
	e.mu.Lock()
	e.lastAttempt[service] = time.Now()
	e.mu.Unlock()
}
