package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/orchestrator"
	"github.com/stackmedic/stackmedic/pkg/report"
	"github.com/stackmedic/stackmedic/pkg/stores"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// appRuntime bundles the wired subsystems behind one Close.
type appRuntime struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store stores.Store
	orch  *orchestrator.Orchestrator
}

// newRuntime loads the configuration and wires telemetry, the state store,
// and the orchestrator. Daemon mode starts telemetry from the daemon
// profile. A non-nil mutate hook adjusts the loaded configuration before
// anything is wired, for flags that override file settings.
func newRuntime(ctx context.Context, daemon bool, mutate func(*config.Config)) (*appRuntime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	tel, err := buildTelemetry(cfg, daemon)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	orch, err := orchestrator.New(cfg, tel, store, &orchestrator.Options{
		ConfigPath: configPath,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &appRuntime{cfg: cfg, tel: tel, store: store, orch: orch}, nil
}

// Close releases the orchestrator, the store, and telemetry, in that order.
func (rt *appRuntime) Close() {
	_ = rt.orch.Close()
	_ = rt.store.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rt.tel.Shutdown(shutdownCtx)
}

// buildTelemetry maps the operator-facing telemetry settings onto the full
// telemetry configuration. The configuration file wins where it speaks; the
// daemon profile contributes the rest (JSON-friendly timestamps, sampling,
// metrics exposition).
func buildTelemetry(cfg *config.Config, daemon bool) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	if daemon {
		tc = telemetry.DaemonConfig()
	} else {
		// One-shot commands subscribe for a live step trace; deliver
		// events as they happen instead of batching.
		tc.Events.EnableAsync = false
	}
	tc.ServiceVersion = buildVersion

	if cfg.Telemetry.LogLevel != "" {
		tc.Logging.Level = cfg.Telemetry.LogLevel
	}
	if verbose {
		tc.Logging.Level = "debug"
	}
	if cfg.Telemetry.LogFormat != "" {
		tc.Logging.Format = cfg.Telemetry.LogFormat
	}

	tc.Metrics.Enabled = cfg.Telemetry.MetricsEnabled || daemon
	if cfg.Telemetry.MetricsAddr != "" {
		tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddr
	}

	tc.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingExporter != "" {
		tc.Tracing.Exporter = cfg.Telemetry.TracingExporter
	}
	if cfg.Telemetry.TracingEndpoint != "" {
		tc.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	}

	return telemetry.NewTelemetry(tc)
}

// openStore opens, initialises, and migrates the state database, creating
// the parent directory on first run.
func openStore(ctx context.Context, cfg *config.Config) (stores.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openOutput resolves the report destination: stdout, or a file when a path
// is given.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// renderReport writes a report in the requested format.
func renderReport(rep *report.Report, format string, w io.Writer) error {
	switch format {
	case "json":
		return rep.WriteJSON(w)
	case "html":
		return rep.WriteHTML(w)
	case "text", "":
		return rep.WriteText(w)
	default:
		return fmt.Errorf("unknown format %q (want text, json, or html)", format)
	}
}
