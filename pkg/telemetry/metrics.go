package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Provisioning step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Probe metrics
	probesRun     *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	serviceUp     *prometheus.GaugeVec

	// Remediation metrics
	remediations        *prometheus.CounterVec
	remediationDuration *prometheus.HistogramVec

	// Maintenance cycle metrics
	cyclesRun        *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	deferredTriggers *prometheus.CounterVec

	// Escalation metrics
	consecutiveUnreachable *prometheus.GaugeVec

	// Host profile metrics
	hostResources *prometheus.GaugeVec
	profileSizing *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of orchestrator runs started",
			},
			[]string{"kind"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of orchestrator runs completed",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of orchestrator runs in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		// Provisioning step metrics
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of provisioning steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of provisioning step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		// Probe metrics
		probesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_run_total",
				Help:      "Total number of health probes run",
			},
			[]string{"service", "status"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of health probes in seconds",
				Buckets:   buckets,
			},
			[]string{"service"},
		),
		serviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_up",
				Help:      "Last observed health of a service (1=healthy, 0=not healthy)",
			},
			[]string{"service"},
		),

		// Remediation metrics
		remediations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediations_total",
				Help:      "Total number of remediation attempts by outcome",
			},
			[]string{"service", "outcome"},
		),
		remediationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remediation_duration_seconds",
				Help:      "Duration of remediation attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"service"},
		),

		// Maintenance cycle metrics
		cyclesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_cycles_total",
				Help:      "Total number of maintenance cycles by verdict",
			},
			[]string{"cadence", "verdict"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_cycle_duration_seconds",
				Help:      "Duration of maintenance cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"cadence"},
		),
		deferredTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deferred_triggers_total",
				Help:      "Total number of maintenance triggers deferred due to an in-flight cycle",
			},
			[]string{"cadence"},
		),

		// Escalation metrics
		consecutiveUnreachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consecutive_unreachable_cycles",
				Help:      "Current count of consecutive cycles in which a service was unreachable",
			},
			[]string{"service"},
		),

		// Host profile metrics
		hostResources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "host_resources",
				Help:      "Detected host resources (cpu_cores, ram_gb, disk_free_gb)",
			},
			[]string{"resource"},
		),
		profileSizing: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "profile_sizing",
				Help:      "Sizing parameters derived from the host profile (worker_count, cache_size_mb)",
			},
			[]string{"parameter"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active orchestrator runs",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.probesRun,
		m.probeDuration,
		m.serviceUp,
		m.remediations,
		m.remediationDuration,
		m.cyclesRun,
		m.cycleDuration,
		m.deferredTriggers,
		m.consecutiveUnreachable,
		m.hostResources,
		m.profileSizing,
		m.errorsByClass,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(kind string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(kind, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Step Metrics

// RecordStep records the execution of a provisioning step.
func (m *Metrics) RecordStep(stepID, status string, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(stepID, status).Inc()
	m.stepDuration.WithLabelValues(stepID).Observe(duration.Seconds())
}

// Probe Metrics

// RecordProbe records a health probe result for a service.
func (m *Metrics) RecordProbe(service, status string, duration time.Duration) {
	if m.probesRun == nil {
		return
	}
	m.probesRun.WithLabelValues(service, status).Inc()
	m.probeDuration.WithLabelValues(service).Observe(duration.Seconds())
	up := 0.0
	if status == "healthy" {
		up = 1.0
	}
	m.serviceUp.WithLabelValues(service).Set(up)
}

// MarkServiceStale drops the service_up series for a service whose last
// observation fell out of the staleness window, so scrapes see absence
// instead of an outdated value.
func (m *Metrics) MarkServiceStale(service string) {
	if m.serviceUp == nil {
		return
	}
	m.serviceUp.DeleteLabelValues(service)
}

// Remediation Metrics

// RecordRemediation records a remediation attempt with its outcome.
func (m *Metrics) RecordRemediation(service, outcome string, duration time.Duration) {
	if m.remediations == nil {
		return
	}
	m.remediations.WithLabelValues(service, outcome).Inc()
	m.remediationDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// Maintenance Metrics

// RecordCycle records a completed maintenance cycle with its verdict.
func (m *Metrics) RecordCycle(cadence, verdict string, duration time.Duration) {
	if m.cyclesRun == nil {
		return
	}
	m.cyclesRun.WithLabelValues(cadence, verdict).Inc()
	m.cycleDuration.WithLabelValues(cadence).Observe(duration.Seconds())
}

// RecordDeferredTrigger records a maintenance trigger deferred because a
// cycle of the same cadence was still in flight.
func (m *Metrics) RecordDeferredTrigger(cadence string) {
	if m.deferredTriggers == nil {
		return
	}
	m.deferredTriggers.WithLabelValues(cadence).Inc()
}

// Escalation Metrics

// SetConsecutiveUnreachable sets the consecutive-unreachable count for a service.
func (m *Metrics) SetConsecutiveUnreachable(service string, count float64) {
	if m.consecutiveUnreachable == nil {
		return
	}
	m.consecutiveUnreachable.WithLabelValues(service).Set(count)
}

// Profile Metrics

// SetHostResources records the detected host resources.
func (m *Metrics) SetHostResources(cpuCores, ramGB, diskFreeGB float64) {
	if m.hostResources == nil {
		return
	}
	m.hostResources.WithLabelValues("cpu_cores").Set(cpuCores)
	m.hostResources.WithLabelValues("ram_gb").Set(ramGB)
	m.hostResources.WithLabelValues("disk_free_gb").Set(diskFreeGB)
}

// SetProfileSizing records the sizing parameters derived from the profile.
func (m *Metrics) SetProfileSizing(workerCount, cacheSizeMB float64) {
	if m.profileSizing == nil {
		return
	}
	m.profileSizing.WithLabelValues("worker_count").Set(workerCount)
	m.profileSizing.WithLabelValues("cache_size_mb").Set(cacheSizeMB)
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
