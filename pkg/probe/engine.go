package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// Engine owns the probe set. It runs probes independently and in parallel,
// bounds each check with the configured timeout, and keeps the last result
// per service so callers can read a recent view without re-probing.
type Engine struct {
	logger    *telemetry.Logger
	timeout   time.Duration
	staleness time.Duration

	mu      sync.RWMutex
	probers map[string]Prober
	order   []string
	last    map[string]Result
}

// NewEngine creates a probe engine. Timeout bounds each individual check;
// staleness bounds how old a cached result may be before Snapshot reports
// the service as unknown.
func NewEngine(logger *telemetry.Logger, timeout, staleness time.Duration) *Engine {
	return &Engine{
		logger:    logger.NewComponentLogger("probe"),
		timeout:   timeout,
		staleness: staleness,
		probers:   make(map[string]Prober),
		last:      make(map[string]Result),
	}
}

// Register adds a prober for its service. Registering the same service twice
// is an error.
func (e *Engine) Register(p Prober) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	service := p.Service()
	if _, exists := e.probers[service]; exists {
		return fmt.Errorf("prober already registered for service %s", service)
	}
	e.probers[service] = p
	e.order = append(e.order, service)
	return nil
}

// Services returns the registered service names in registration order.
func (e *Engine) Services() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Check probes a single service and records the result. It returns an error
// only when no prober is registered for the service.
func (e *Engine) Check(ctx context.Context, service string) (Result, error) {
	e.mu.RLock()
	p, ok := e.probers[service]
	e.mu.RUnlock()
	if !ok {
		return Result{}, fault.NewInternal(fmt.Sprintf("no prober registered for service %s", service), nil)
	}

	result := e.runProbe(ctx, p)

	e.mu.Lock()
	e.last[service] = result
	e.mu.Unlock()

	return result, nil
}

// RunAll probes every registered service in parallel and returns the results
// keyed by service. The call returns when the slowest probe finishes, which
// the per-probe timeout bounds.
func (e *Engine) RunAll(ctx context.Context) map[string]Result {
	e.mu.RLock()
	probers := make([]Prober, 0, len(e.order))
	for _, service := range e.order {
		probers = append(probers, e.probers[service])
	}
	e.mu.RUnlock()

	results := make([]Result, len(probers))
	g := new(errgroup.Group)
	for i, p := range probers {
		g.Go(func() error {
			results[i] = e.runProbe(ctx, p)
			return nil
		})
	}
	// Probes never return errors; Wait only joins the goroutines.
	_ = g.Wait()

	out := make(map[string]Result, len(results))
	e.mu.Lock()
	for _, r := range results {
		out[r.Service] = r
		e.last[r.Service] = r
	}
	e.mu.Unlock()

	return out
}

// Snapshot returns the last known result per service. Results older than the
// staleness window are downgraded to unknown rather than served as current.
func (e *Engine) Snapshot() map[string]Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	out := make(map[string]Result, len(e.last))
	for service, r := range e.last {
		age := now.Sub(r.CheckedAt)
		if age > e.staleness {
			out[service] = Result{
				Service:   service,
				Status:    StatusUnknown,
				Message:   fmt.Sprintf("last probe %s ago exceeds staleness window of %s", age.Round(time.Second), e.staleness),
				CheckedAt: r.CheckedAt,
			}
			continue
		}
		out[service] = r
	}
	return out
}

// runProbe executes one check under the engine timeout and logs the result.
func (e *Engine) runProbe(ctx context.Context, p Prober) Result {
	result := Run(ctx, p, e.timeout)

	e.logger.WithService(result.Service).WithFields(map[string]interface{}{
		"status":  string(result.Status),
		"latency": result.Latency.String(),
	}).Debug("Probe completed")

	return result
}

// Run executes one check bounded by the given timeout. The check runs in
// its own goroutine so even a prober that ignores its context cannot stall
// the caller past the timeout; a panicking prober is reported as unreachable.
func Run(ctx context.Context, p Prober, timeout time.Duration) Result {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{
					Service:   p.Service(),
					Status:    StatusUnreachable,
					Latency:   time.Since(start),
					Message:   fmt.Sprintf("probe panicked: %v", r),
					CheckedAt: start,
				}
			}
		}()
		done <- p.Check(cctx)
	}()

	var result Result
	select {
	case result = <-done:
	case <-cctx.Done():
		msg := fmt.Sprintf("timed out after %s", timeout)
		if cctx.Err() == context.Canceled {
			msg = "probe cancelled"
		}
		result = Result{
			Service:   p.Service(),
			Status:    StatusUnreachable,
			Latency:   time.Since(start),
			Message:   msg,
			CheckedAt: start,
		}
	}

	if result.Service == "" {
		result.Service = p.Service()
	}
	if result.CheckedAt.IsZero() {
		result.CheckedAt = start
	}
	if result.Latency == 0 {
		result.Latency = time.Since(start)
	}

	return result
}
