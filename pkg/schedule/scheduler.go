package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// StateStore persists per-cadence completion state across restarts.
type StateStore interface {
	// LastRun returns when the cadence last completed. ok is false when it
	// never ran.
	LastRun(ctx context.Context, cadence Cadence) (at time.Time, ok bool, err error)

	// MarkRun records a completed cycle and clears any deferred flag.
	MarkRun(ctx context.Context, cadence Cadence, at time.Time, status string) error

	// MarkDeferred records that a trigger was deferred because the cadence
	// was already running.
	MarkDeferred(ctx context.Context, cadence Cadence) error
}

// Runner executes one maintenance cycle for a cadence.
type Runner interface {
	RunCycle(ctx context.Context, cadence Cadence) (verdict string, err error)
}

// CycleStatus is the terminal state of one triggered cycle.
type CycleStatus string

const (
	// CycleCompleted means the cycle ran to the end.
	CycleCompleted CycleStatus = "completed"

	// CycleFailed means the runner returned an error.
	CycleFailed CycleStatus = "failed"

	// CycleDeferred means the cadence was already running; the trigger was
	// recorded and the work waits for the next due time.
	CycleDeferred CycleStatus = "deferred"
)

// CycleOutcome records one triggered cycle.
type CycleOutcome struct {
	Cadence   Cadence       `json:"cadence"`
	Status    CycleStatus   `json:"status"`
	Verdict   string        `json:"verdict,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler computes due cadences from persisted state and runs them through
// the runner, one at a time, with a per-cadence in-flight guard.
type Scheduler struct {
	logger *telemetry.Logger
	state  StateStore
	runner Runner
	at     TimeOfDay

	mu       sync.Mutex
	inFlight map[Cadence]bool
}

// NewScheduler creates a scheduler. at is the wall-clock time cadence
// boundaries fall on.
func NewScheduler(logger *telemetry.Logger, state StateStore, runner Runner, at TimeOfDay) *Scheduler {
	return &Scheduler{
		logger:   logger.NewComponentLogger("schedule"),
		state:    state,
		runner:   runner,
		at:       at,
		inFlight: make(map[Cadence]bool),
	}
}

// DueCadences returns the cadences whose last completed run predates their
// most recent boundary, in execution order.
func (s *Scheduler) DueCadences(ctx context.Context, now time.Time) ([]Cadence, error) {
	var due []Cadence
	for _, c := range AllCadences() {
		last, _, err := s.state.LastRun(ctx, c)
		if err != nil {
			return nil, err
		}
		if c.Due(last, now, s.at) {
			due = append(due, c)
		}
	}
	return due, nil
}

// RunDue executes every cadence due at now, plus the forced cadences,
// serially in cadence order. Forced cadences run whether due or not; cron
// invocations pass their own cadence as forced so the call also catches up
// any other cadence the host slept through.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time, forced ...Cadence) ([]CycleOutcome, error) {
	due, err := s.DueCadences(ctx, now)
	if err != nil {
		return nil, err
	}

	run := make(map[Cadence]bool, len(due)+len(forced))
	for _, c := range due {
		run[c] = true
	}
	for _, c := range forced {
		run[c] = true
	}

	ordered := make([]Cadence, 0, len(run))
	for c := range run {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return cadenceOrder[ordered[i]] < cadenceOrder[ordered[j]]
	})

	outcomes := make([]CycleOutcome, 0, len(ordered))
	for _, c := range ordered {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, s.runCycle(ctx, c))
	}
	return outcomes, nil
}

// runCycle runs one cadence under the in-flight guard.
func (s *Scheduler) runCycle(ctx context.Context, c Cadence) CycleOutcome {
	log := s.logger.WithCadence(string(c))

	if !s.begin(c) {
		log.Warn("Cycle already running, trigger deferred")
		if err := s.state.MarkDeferred(ctx, c); err != nil {
			log.WithError(err).Error("Failed to persist deferred trigger")
		}
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			tel.Metrics.RecordDeferredTrigger(string(c))
			_ = tel.Events.PublishCycleDeferred(string(c))
		}
		return CycleOutcome{Cadence: c, Status: CycleDeferred, StartedAt: time.Now()}
	}
	defer s.end(c)

	out := CycleOutcome{Cadence: c, StartedAt: time.Now()}
	log.Info("Starting maintenance cycle")

	cycleCtx := ctx
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		spanCtx, span := tel.Tracer.StartCycleSpan(ctx, string(c))
		defer span.End()
		cycleCtx = spanCtx
	}

	verdict, err := s.runner.RunCycle(cycleCtx, c)
	out.Duration = time.Since(out.StartedAt)
	out.Verdict = verdict

	status := string(CycleCompleted)
	if err != nil {
		out.Status = CycleFailed
		out.Error = err.Error()
		status = string(CycleFailed)
		log.WithError(err).Error("Maintenance cycle failed")
	} else {
		out.Status = CycleCompleted
		log.WithFields(map[string]interface{}{
			"verdict":  verdict,
			"duration": out.Duration.String(),
		}).Info("Maintenance cycle completed")
	}

	// A failed cycle still counts as run; catch-up is for windows the host
	// slept through, not for retrying bad cycles every wake.
	if err := s.state.MarkRun(ctx, c, out.StartedAt, status); err != nil {
		log.WithError(err).Error("Failed to persist cycle state")
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordCycle(string(c), verdict, out.Duration)
	}
	return out
}

// RunDaemon wakes every interval, runs due cadences, and returns when the
// context ends. Each wake runs in its own goroutine so a long cycle cannot
// stall the ticker; the in-flight guard turns overlapping wakes into
// deferred triggers.
func (s *Scheduler) RunDaemon(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	s.logger.WithFields(map[string]interface{}{
		"interval": interval.String(),
		"at":       s.at.String(),
	}).Info("Maintenance daemon started")

	var wg sync.WaitGroup
	wake := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunDue(ctx, time.Now()); err != nil {
				s.logger.WithError(err).Error("Wake failed to compute due cadences")
			}
		}()
	}

	// Catch up on anything the host slept through before the first tick.
	wake()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wake()
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("Maintenance daemon stopped")
			return ctx.Err()
		}
	}
}

func (s *Scheduler) begin(c Cadence) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[c] {
		return false
	}
	s.inFlight[c] = true
	return true
}

func (s *Scheduler) end(c Cadence) {
	s.mu.Lock()
	delete(s.inFlight, c)
	s.mu.Unlock()
}
