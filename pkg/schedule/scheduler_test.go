package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

type fakeState struct {
	mu       sync.Mutex
	lastRun  map[Cadence]time.Time
	status   map[Cadence]string
	deferred map[Cadence]int
	err      error
}

func newFakeState() *fakeState {
	return &fakeState{
		lastRun:  make(map[Cadence]time.Time),
		status:   make(map[Cadence]string),
		deferred: make(map[Cadence]int),
	}
}

func (f *fakeState) LastRun(ctx context.Context, c Cadence) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	at, ok := f.lastRun[c]
	return at, ok, nil
}

func (f *fakeState) MarkRun(ctx context.Context, c Cadence, at time.Time, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRun[c] = at
	f.status[c] = status
	return nil
}

func (f *fakeState) MarkDeferred(ctx context.Context, c Cadence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred[c]++
	return nil
}

func (f *fakeState) deferredCount(c Cadence) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deferred[c]
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []Cadence
	active  map[Cadence]bool
	overlap bool
	verdict string
	err     error
	block   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{active: make(map[Cadence]bool), verdict: "healthy"}
}

func (r *fakeRunner) RunCycle(ctx context.Context, c Cadence) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	if r.active[c] {
		r.overlap = true
	}
	r.active[c] = true
	block := r.block
	r.mu.Unlock()

	if block != nil {
		<-block
	}

	r.mu.Lock()
	r.active[c] = false
	r.mu.Unlock()
	return r.verdict, r.err
}

func (r *fakeRunner) callOrder() []Cadence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cadence, len(r.calls))
	copy(out, r.calls)
	return out
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

func TestRunDue_OnlyMissedCadences(t *testing.T) {
	state := newFakeState()
	// Daily last completed before this morning's boundary; weekly and
	// monthly completed after theirs.
	state.lastRun[CadenceDaily] = time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC)
	state.lastRun[CadenceWeekly] = time.Date(2026, 8, 24, 5, 0, 0, 0, time.UTC)
	state.lastRun[CadenceMonthly] = time.Date(2026, 8, 2, 4, 0, 0, 0, time.UTC)
	runner := newFakeRunner()

	sched := NewScheduler(testLogger(t), state, runner, at)
	outcomes, err := sched.RunDue(context.Background(), tue)
	if err != nil {
		t.Fatalf("RunDue returned error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Cadence != CadenceDaily || outcomes[0].Status != CycleCompleted {
		t.Errorf("outcome = %+v, want completed daily", outcomes[0])
	}
	if got := runner.callOrder(); len(got) != 1 || got[0] != CadenceDaily {
		t.Errorf("runner calls = %v, want [daily]", got)
	}
	if state.status[CadenceDaily] != string(CycleCompleted) {
		t.Errorf("persisted status = %s, want completed", state.status[CadenceDaily])
	}
}

func TestRunDue_CoincidingCadencesRunInOrder(t *testing.T) {
	state := newFakeState()
	runner := newFakeRunner()

	sched := NewScheduler(testLogger(t), state, runner, at)
	outcomes, err := sched.RunDue(context.Background(), tue)
	if err != nil {
		t.Fatalf("RunDue returned error: %v", err)
	}

	want := []Cadence{CadenceDaily, CadenceWeekly, CadenceMonthly}
	if len(outcomes) != len(want) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(want))
	}
	got := runner.callOrder()
	for i, c := range want {
		if got[i] != c {
			t.Errorf("call[%d] = %s, want %s", i, got[i], c)
		}
	}
}

func TestRunDue_ForcedCadenceRunsWhenNotDue(t *testing.T) {
	state := newFakeState()
	now := time.Now()
	for _, c := range AllCadences() {
		state.lastRun[c] = now
	}
	runner := newFakeRunner()

	sched := NewScheduler(testLogger(t), state, runner, at)
	outcomes, err := sched.RunDue(context.Background(), now, CadenceWeekly)
	if err != nil {
		t.Fatalf("RunDue returned error: %v", err)
	}

	if len(outcomes) != 1 || outcomes[0].Cadence != CadenceWeekly {
		t.Errorf("outcomes = %+v, want only weekly", outcomes)
	}
}

func TestRunDue_SameCadenceOverlapDeferred(t *testing.T) {
	state := newFakeState()
	now := time.Now()
	for _, c := range AllCadences() {
		state.lastRun[c] = now
	}
	runner := newFakeRunner()
	runner.block = make(chan struct{})

	sched := NewScheduler(testLogger(t), state, runner, at)

	started := make(chan []CycleOutcome, 1)
	go func() {
		outcomes, _ := sched.RunDue(context.Background(), now, CadenceDaily)
		started <- outcomes
	}()

	// Wait for the first trigger to be inside the runner.
	deadline := time.After(2 * time.Second)
	for {
		if len(runner.callOrder()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	second, err := sched.RunDue(context.Background(), now, CadenceDaily)
	if err != nil {
		t.Fatalf("second RunDue returned error: %v", err)
	}
	if len(second) != 1 || second[0].Status != CycleDeferred {
		t.Fatalf("second outcome = %+v, want deferred", second)
	}
	if state.deferredCount(CadenceDaily) != 1 {
		t.Errorf("deferred count = %d, want 1", state.deferredCount(CadenceDaily))
	}

	close(runner.block)
	first := <-started
	if first[0].Status != CycleCompleted {
		t.Errorf("first outcome = %+v, want completed", first[0])
	}

	if runner.overlap {
		t.Error("the same cadence ran concurrently")
	}
	if got := runner.callOrder(); len(got) != 1 {
		t.Errorf("runner ran %d times, want 1", len(got))
	}
}

func TestRunDue_FailedCycleStillMarked(t *testing.T) {
	state := newFakeState()
	runner := newFakeRunner()
	runner.err = errors.New("escalation threshold crossed")

	sched := NewScheduler(testLogger(t), state, runner, at)
	outcomes, err := sched.RunDue(context.Background(), tue, CadenceDaily)
	if err != nil {
		t.Fatalf("RunDue returned error: %v", err)
	}

	for _, out := range outcomes {
		if out.Status != CycleFailed {
			t.Errorf("%s status = %s, want failed", out.Cadence, out.Status)
		}
		if out.Error == "" {
			t.Errorf("%s outcome has no error", out.Cadence)
		}
	}
	if _, ok := state.lastRun[CadenceDaily]; !ok {
		t.Error("failed cycle must still be marked as run")
	}
	if state.status[CadenceDaily] != string(CycleFailed) {
		t.Errorf("persisted status = %s, want failed", state.status[CadenceDaily])
	}
}

func TestRunDue_StateErrorPropagates(t *testing.T) {
	state := newFakeState()
	state.err = errors.New("database locked")
	runner := newFakeRunner()

	sched := NewScheduler(testLogger(t), state, runner, at)
	if _, err := sched.RunDue(context.Background(), tue); err == nil {
		t.Fatal("expected state store error")
	}
	if len(runner.callOrder()) != 0 {
		t.Error("no cycle should run when state is unreadable")
	}
}

func TestRunDaemon_CatchesUpOnStartAndStops(t *testing.T) {
	state := newFakeState()
	runner := newFakeRunner()

	sched := NewScheduler(testLogger(t), state, runner, at)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.RunDaemon(ctx, 10*time.Millisecond)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if len(runner.callOrder()) >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("daemon never caught up the missed cadences")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("daemon returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancellation")
	}
}
