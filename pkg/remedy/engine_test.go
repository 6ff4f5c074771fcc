package remedy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// recordingAction counts runs and optionally fails or sleeps.
type recordingAction struct {
	mu         sync.Mutex
	name       string
	calls      int
	err        error
	delay      time.Duration
	active     int
	overlapped bool
}

func (a *recordingAction) Name() string {
	return a.name
}

func (a *recordingAction) Run(ctx context.Context) error {
	a.mu.Lock()
	a.calls++
	a.active++
	if a.active > 1 {
		a.overlapped = true
	}
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	a.mu.Lock()
	a.active--
	a.mu.Unlock()
	return a.err
}

func (a *recordingAction) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type staticProbe struct {
	service string
	status  probe.Status
}

func (p *staticProbe) Service() string {
	return p.service
}

func (p *staticProbe) Check(ctx context.Context) probe.Result {
	return probe.Result{Service: p.service, Status: p.status, Message: "static"}
}

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func testProbeEngine(t *testing.T, statuses map[string]probe.Status) *probe.Engine {
	t.Helper()
	engine := probe.NewEngine(testLogger(t), time.Second, time.Minute)
	for service, status := range statuses {
		if err := engine.Register(&staticProbe{service: service, status: status}); err != nil {
			t.Fatalf("failed to register %s: %v", service, err)
		}
	}
	return engine
}

func unreachableResult(service string) probe.Result {
	return probe.Result{Service: service, Status: probe.StatusUnreachable, Message: "connection refused"}
}

func TestRemediate_AppliesRuleAndReprobes(t *testing.T) {
	restart := &recordingAction{name: "restart-database"}
	probes := testProbeEngine(t, map[string]probe.Status{"database": probe.StatusHealthy})

	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service:  "database",
		Status:   probe.StatusUnreachable,
		Actions:  []Action{restart},
		Cooldown: time.Hour,
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	out := engine.Remediate(context.Background(), "run-1", unreachableResult("database"))

	if out.Kind != OutcomeApplied {
		t.Fatalf("kind = %s, want applied", out.Kind)
	}
	if restart.callCount() != 1 {
		t.Errorf("action ran %d times, want 1", restart.callCount())
	}
	if len(out.Actions) != 1 || out.Actions[0] != "restart-database" {
		t.Errorf("actions = %v, want [restart-database]", out.Actions)
	}
	if out.After == nil || out.After.Status != probe.StatusHealthy {
		t.Error("expected a healthy re-probe result")
	}
}

func TestRemediate_SettleDelaysReprobe(t *testing.T) {
	restart := &recordingAction{name: "restart-cache"}
	probes := testProbeEngine(t, map[string]probe.Status{"cache": probe.StatusHealthy})
	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service:  "cache",
		Status:   probe.StatusUnreachable,
		Actions:  []Action{restart},
		Cooldown: time.Hour,
		Settle:   80 * time.Millisecond,
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	start := time.Now()
	out := engine.Remediate(context.Background(), "run-1", unreachableResult("cache"))
	elapsed := time.Since(start)

	if out.Kind != OutcomeApplied {
		t.Fatalf("kind = %s, want applied", out.Kind)
	}
	if elapsed < 80*time.Millisecond {
		t.Errorf("re-probe after %s, want the settle delay to pass first", elapsed)
	}
	if out.After == nil || out.After.Status != probe.StatusHealthy {
		t.Error("expected a healthy re-probe result after the settle delay")
	}
}

func TestRemediate_NoRuleIsNoAction(t *testing.T) {
	probes := testProbeEngine(t, map[string]probe.Status{"cache": probe.StatusDegraded})
	engine, err := NewEngine(testLogger(t), probes, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	out := engine.Remediate(context.Background(), "run-1", probe.Result{
		Service: "cache",
		Status:  probe.StatusDegraded,
	})

	if out.Kind != OutcomeNoAction {
		t.Errorf("kind = %s, want no_action", out.Kind)
	}
	if out.Error != "" {
		t.Errorf("no_action outcome carries error %q", out.Error)
	}
}

func TestRemediate_HealthyAndUnknownNeedNothing(t *testing.T) {
	restart := &recordingAction{name: "restart-cache"}
	probes := testProbeEngine(t, map[string]probe.Status{"cache": probe.StatusHealthy})
	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service:  "cache",
		Status:   probe.StatusDegraded,
		Actions:  []Action{restart},
		Cooldown: time.Minute,
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	for _, status := range []probe.Status{probe.StatusHealthy, probe.StatusUnknown} {
		out := engine.Remediate(context.Background(), "run-1", probe.Result{
			Service: "cache",
			Status:  status,
		})
		if out.Kind != OutcomeNoAction {
			t.Errorf("status %s: kind = %s, want no_action", status, out.Kind)
		}
	}
	if restart.callCount() != 0 {
		t.Error("no action should run for healthy or unknown results")
	}
}

func TestRemediate_CooldownSkipsSecondAttempt(t *testing.T) {
	restart := &recordingAction{name: "restart-cache"}
	probes := testProbeEngine(t, map[string]probe.Status{"cache": probe.StatusHealthy})
	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service:  "cache",
		Status:   probe.StatusUnreachable,
		Actions:  []Action{restart},
		Cooldown: time.Hour,
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	first := engine.Remediate(context.Background(), "run-1", unreachableResult("cache"))
	if first.Kind != OutcomeApplied {
		t.Fatalf("first kind = %s, want applied", first.Kind)
	}

	second := engine.Remediate(context.Background(), "run-1", unreachableResult("cache"))
	if second.Kind != OutcomeSkippedCooldown {
		t.Fatalf("second kind = %s, want skipped_cooldown", second.Kind)
	}
	if second.CooldownRemaining <= 0 {
		t.Error("skipped outcome must report remaining cooldown")
	}
	// The skip is an outcome, not a failure.
	if second.Error != "" {
		t.Errorf("skipped outcome carries error %q", second.Error)
	}
	if restart.callCount() != 1 {
		t.Errorf("action ran %d times, want 1", restart.callCount())
	}
}

func TestRemediate_ActionFailureRecorded(t *testing.T) {
	fix := &recordingAction{name: "flush-cache", err: errors.New("redis-cli not found")}
	follow := &recordingAction{name: "restart-cache"}
	probes := testProbeEngine(t, map[string]probe.Status{"cache": probe.StatusUnreachable})
	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service:  "cache",
		Status:   probe.StatusUnreachable,
		Actions:  []Action{fix, follow},
		Cooldown: time.Hour,
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	out := engine.Remediate(context.Background(), "run-1", unreachableResult("cache"))

	if out.Kind != OutcomeFailed {
		t.Fatalf("kind = %s, want failed", out.Kind)
	}
	if out.FailedAction != "flush-cache" {
		t.Errorf("failed action = %s, want flush-cache", out.FailedAction)
	}
	if follow.callCount() != 0 {
		t.Error("actions after the failure must not run")
	}
	if out.Error == "" {
		t.Error("failed outcome must carry the error")
	}
	if out.After != nil {
		t.Error("failed attempt must not re-probe")
	}

	// A failed attempt still starts the cooldown.
	again := engine.Remediate(context.Background(), "run-1", unreachableResult("cache"))
	if again.Kind != OutcomeSkippedCooldown {
		t.Errorf("retry kind = %s, want skipped_cooldown", again.Kind)
	}
}

func TestRemediateAll_OnlyUnhealthyServices(t *testing.T) {
	restart := &recordingAction{name: "restart-cache"}
	probes := testProbeEngine(t, map[string]probe.Status{
		"database": probe.StatusHealthy,
		"cache":    probe.StatusHealthy,
		"proxy":    probe.StatusHealthy,
	})
	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service:  "cache",
		Status:   probe.StatusDegraded,
		Actions:  []Action{restart},
		Cooldown: time.Hour,
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	results := map[string]probe.Result{
		"database": {Service: "database", Status: probe.StatusHealthy},
		"cache":    {Service: "cache", Status: probe.StatusDegraded},
		"proxy":    {Service: "proxy", Status: probe.StatusUnknown},
	}

	outcomes := engine.RemediateAll(context.Background(), "run-1", results)

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Service != "cache" || outcomes[0].Kind != OutcomeApplied {
		t.Errorf("outcome = %+v, want applied for cache", outcomes[0])
	}
}

func TestRemediateAll_ParallelAcrossServices(t *testing.T) {
	slowA := &recordingAction{name: "restart-database", delay: 100 * time.Millisecond}
	slowB := &recordingAction{name: "restart-cache", delay: 100 * time.Millisecond}
	probes := testProbeEngine(t, map[string]probe.Status{
		"database": probe.StatusHealthy,
		"cache":    probe.StatusHealthy,
	})
	engine, err := NewEngine(testLogger(t), probes, []Rule{
		{Service: "database", Status: probe.StatusUnreachable, Actions: []Action{slowA}, Cooldown: time.Hour},
		{Service: "cache", Status: probe.StatusUnreachable, Actions: []Action{slowB}, Cooldown: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	results := map[string]probe.Result{
		"database": unreachableResult("database"),
		"cache":    unreachableResult("cache"),
	}

	start := time.Now()
	outcomes := engine.RemediateAll(context.Background(), "run-1", results)
	elapsed := time.Since(start)

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	// Ordered by service name regardless of completion order.
	if outcomes[0].Service != "cache" || outcomes[1].Service != "database" {
		t.Errorf("outcome order = [%s %s], want [cache database]", outcomes[0].Service, outcomes[1].Service)
	}
	if elapsed > 180*time.Millisecond {
		t.Errorf("RemediateAll took %s, services did not remediate in parallel", elapsed)
	}
}

func TestRemediate_SameServiceSerialized(t *testing.T) {
	slow := &recordingAction{name: "restart-database", delay: 50 * time.Millisecond}
	probes := testProbeEngine(t, map[string]probe.Status{"database": probe.StatusHealthy})
	engine, err := NewEngine(testLogger(t), probes, []Rule{{
		Service: "database",
		Status:  probe.StatusUnreachable,
		Actions: []Action{slow},
	}})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Remediate(context.Background(), "run-1", unreachableResult("database"))
		}()
	}
	wg.Wait()

	slow.mu.Lock()
	overlapped := slow.overlapped
	slow.mu.Unlock()
	if overlapped {
		t.Error("remediations for the same service ran concurrently")
	}
}

func TestNewEngine_RejectsBadRules(t *testing.T) {
	probes := testProbeEngine(t, nil)
	act := &recordingAction{name: "restart"}

	tests := []struct {
		name  string
		rules []Rule
	}{
		{"healthy trigger", []Rule{{Service: "cache", Status: probe.StatusHealthy, Actions: []Action{act}}}},
		{"unknown trigger", []Rule{{Service: "cache", Status: probe.StatusUnknown, Actions: []Action{act}}}},
		{"no actions", []Rule{{Service: "cache", Status: probe.StatusDegraded}}},
		{"missing service", []Rule{{Status: probe.StatusDegraded, Actions: []Action{act}}}},
		{"duplicate", []Rule{
			{Service: "cache", Status: probe.StatusDegraded, Actions: []Action{act}},
			{Service: "cache", Status: probe.StatusDegraded, Actions: []Action{act}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(testLogger(t), probes, tt.rules); err == nil {
				t.Error("expected rule validation error")
			}
		})
	}
}
