// Package telemetry provides observability instrumentation for the stackmedic
// orchestrator.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring provisioning runs, health probes, remediations,
// and maintenance cycles.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stackmedic"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("sequencer")
//	logger = logger.WithRunID("run-123").WithStep("database")
//	logger.Info("Starting provisioning step")
//	logger.WithError(err).Error("Step failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and probe latency:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    telemetry.AttrService.String("database"),
//	    telemetry.AttrProbeStatus.String("healthy"),
//	)
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track orchestrator behavior and service health:
//
//	// Record run execution
//	tel.Metrics.RecordRunStarted("setup")
//	tel.Metrics.RecordRunCompleted("setup", "succeeded", duration)
//
//	// Record probes and remediations
//	tel.Metrics.RecordProbe("cache", "degraded", latency)
//	tel.Metrics.RecordRemediation("cache", "applied", duration)
//
//	// Record errors
//	tel.Metrics.RecordError("transient_probe")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishRunStarted(runID, "diagnostic")
//	tel.Events.PublishProbeCompleted(runID, "proxy", "unreachable", latency)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByService
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "report.build",
//	    telemetry.AttrRunID.String(runID))
//	defer ic.End(err)
//
//	ic.Logger.Info("Building diagnostic report")
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, runID, "setup")
//	defer telemetry.EndRunContext(ctx, runID, "setup", status, err)
//
//	// Step context
//	ctx = telemetry.WithStepContext(ctx, runID, stepID, ordinal)
//	defer telemetry.EndStepContext(ctx, runID, stepID, status, err)
//
//	// System-level operation
//	err := telemetry.RecordSystemOperation(ctx, "systemd", "restart", func() error {
//	    return services.Restart(ctx, unit)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Maintenance daemon (JSON logs, metrics on, 10% sampling)
//	cfg := telemetry.DaemonConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "stackmedic",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//  - All buffered events are published
//  - All pending traces are exported
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - stackmedic_runs_started_total{kind}
//  - stackmedic_runs_completed_total{kind,status}
//  - stackmedic_run_duration_seconds{kind}
//  - stackmedic_steps_executed_total{step,status}
//  - stackmedic_probes_run_total{service,status}
//  - stackmedic_probe_duration_seconds{service}
//  - stackmedic_service_up{service}
//  - stackmedic_remediations_total{service,outcome}
//  - stackmedic_maintenance_cycles_total{cadence,verdict}
//  - stackmedic_deferred_triggers_total{cadence}
//  - stackmedic_consecutive_unreachable_cycles{service}
//  - stackmedic_host_resources{resource}
//  - stackmedic_profile_sizing{parameter}
//  - stackmedic_errors_by_class_total{class}
//  - stackmedic_active_runs
//
// # Security Considerations
//
//  - Never log sensitive data (credentials, keys, tokens)
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
package telemetry
