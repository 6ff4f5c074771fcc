package orchestrator

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/profile"
	"github.com/stackmedic/stackmedic/pkg/sequence"
	"github.com/stackmedic/stackmedic/pkg/system"
)

//go:embed proxy.conf.tmpl
var proxyConfTmpl string

var proxyTemplate = template.Must(template.New("proxy.conf").Parse(proxyConfTmpl))

// setupSteps builds the provisioning sequence from the configuration. Every
// action is idempotent, so rerunning an aborted setup resumes the work.
func (o *Orchestrator) setupSteps(cfg *config.Config, opts SetupOptions) ([]sequence.Step, error) {
	retries := cfg.Sequence.MaxRetries

	steps := []sequence.Step{
		{
			ID:          "render-runtime-env",
			Ordinal:     1,
			Description: "Detect host resources and render the runtime environment file",
			Action:      sequence.ActionFunc(o.renderRuntimeEnv(cfg)),
			Criticality: sequence.CriticalityFatal,
		},
	}

	if cfg.TLS.Enabled && !opts.SkipCerts {
		steps = append(steps, sequence.Step{
			ID:          "provision-certificate",
			Ordinal:     2,
			Description: fmt.Sprintf("Provision the TLS certificate for %s", cfg.Domain),
			Action: sequence.ActionFunc(func(ctx context.Context) error {
				return o.certs.Provision(ctx, cfg.Domain, cfg.TLS.ACMEEmail)
			}),
			Criticality: sequence.CriticalityFatal,
			Timeout:     5 * time.Minute,
		})
	}

	steps = append(steps,
		sequence.Step{
			ID:          "start-database",
			Ordinal:     3,
			Description: "Enable and start the database unit",
			Action:      o.enableAndStart(cfg.Services.Database.Unit),
			Verify:      o.proberFor(config.ServiceDatabase),
			MaxRetries:  retries,
			Criticality: sequence.CriticalityFatal,
		},
		sequence.Step{
			ID:          "start-cache",
			Ordinal:     4,
			Description: "Enable and start the cache unit",
			Action:      o.enableAndStart(cfg.Services.Cache.Unit),
			Verify:      o.proberFor(config.ServiceCache),
			MaxRetries:  retries,
			Criticality: sequence.CriticalityFatal,
		},
		sequence.Step{
			ID:          "start-app",
			Ordinal:     5,
			Description: "Build and start the application container",
			Action: sequence.ActionFunc(func(ctx context.Context) error {
				if err := o.compose.Build(ctx); err != nil {
					return err
				}
				return o.compose.Up(ctx)
			}),
			Verify:      o.proberFor(config.ServiceApp),
			MaxRetries:  retries,
			Criticality: sequence.CriticalityFatal,
			Timeout:     10 * time.Minute,
		},
		sequence.Step{
			ID:          "configure-proxy",
			Ordinal:     6,
			Description: "Render the proxy site configuration and reload the proxy",
			Action:      sequence.ActionFunc(o.configureProxy(cfg, opts)),
			Verify:      o.proberFor(config.ServiceProxy),
			MaxRetries:  retries,
			Criticality: sequence.CriticalityFatal,
		},
		sequence.Step{
			ID:          "enable-monitoring",
			Ordinal:     7,
			Description: "Enable and start the monitoring unit",
			Action:      o.enableAndStart(cfg.Services.Monitoring.Unit),
			Verify:      o.proberFor(config.ServiceMonitoring),
			MaxRetries:  retries,
			Criticality: sequence.CriticalitySoft,
		},
	)

	entries, err := o.cronEntries(cfg)
	if err != nil {
		return nil, err
	}
	steps = append(steps, sequence.Step{
		ID:          "register-schedule",
		Ordinal:     8,
		Description: "Register the maintenance schedule in the crontab",
		Action: sequence.ActionFunc(func(ctx context.Context) error {
			return o.cron.Install(ctx, entries)
		}),
		Criticality: sequence.CriticalitySoft,
	})

	return steps, nil
}

// renderRuntimeEnv profiles the host and writes the sized environment file.
// A failed resource query downgrades to the minimum profile instead of
// failing the step.
func (o *Orchestrator) renderRuntimeEnv(cfg *config.Config) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		prof, err := o.profiler.Detect(ctx, cfg.InstallPath)
		if err != nil {
			if !fault.IsProfileQuery(err) {
				return err
			}
			o.logger.WithError(err).Warn("Continuing with minimum profile")
		}
		prof.Sizing = prof.Sizing.WithOverrides(cfg.Profile.WorkerCount, cfg.Profile.CacheSizeMB)
		o.recordProfile(prof)
		return profile.WriteEnvFile(cfg.EnvFilePath(), prof)
	}
}

// configureProxy renders the vhost file when one is managed, then reloads
// the proxy. A proxy that is not yet running gets enabled and started
// instead, since reload needs a live process.
func (o *Orchestrator) configureProxy(cfg *config.Config, opts SetupOptions) func(ctx context.Context) error {
	unit := cfg.Services.Proxy.Unit
	return func(ctx context.Context) error {
		if cfg.Services.Proxy.SiteConfig != "" {
			if err := o.renderProxyConfig(cfg, opts); err != nil {
				return err
			}
		}

		state, err := o.services.ActiveState(ctx, unit)
		if err == nil && state == "active" {
			return o.services.Reload(ctx, unit)
		}
		if err := o.services.Enable(ctx, unit); err != nil {
			return err
		}
		return o.services.Start(ctx, unit)
	}
}

// renderProxyConfig writes the reverse-proxy vhost for the domain.
func (o *Orchestrator) renderProxyConfig(cfg *config.Config, opts SetupOptions) error {
	upstream, err := upstreamOrigin(cfg.Services.App.HealthURL)
	if err != nil {
		return err
	}

	data := struct {
		Domain   string
		Upstream string
		TLS      bool
		CertDir  string
	}{
		Domain:   cfg.Domain,
		Upstream: upstream,
		TLS:      cfg.TLS.Enabled && !opts.SkipCerts,
		CertDir:  filepath.Join(o.certs.LiveDir(), cfg.Domain),
	}

	var b strings.Builder
	if err := proxyTemplate.Execute(&b, data); err != nil {
		return fmt.Errorf("failed to render proxy config: %w", err)
	}

	path := cfg.Services.Proxy.SiteConfig
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}
	return nil
}

// upstreamOrigin reduces the app health URL to its origin, which is what the
// proxy forwards to.
func upstreamOrigin(healthURL string) (string, error) {
	u, err := url.Parse(healthURL)
	if err != nil {
		return "", fmt.Errorf("invalid app health url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// enableAndStart enables a unit for boot and starts it. Both calls are
// no-ops when the unit is already in the requested state.
func (o *Orchestrator) enableAndStart(unit string) sequence.ActionFunc {
	return func(ctx context.Context) error {
		if err := o.services.Enable(ctx, unit); err != nil {
			return err
		}
		return o.services.Start(ctx, unit)
	}
}

// proberFor returns the registered prober for a service, for use as a step
// verification.
func (o *Orchestrator) proberFor(service string) probe.Prober {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.probers[service]
}

// cronEntries builds one crontab line per cadence, each invoking the
// maintain entry point.
func (o *Orchestrator) cronEntries(cfg *config.Config) ([]system.CronEntry, error) {
	binary := o.binaryPath
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("cannot locate executable for cron entries: %w", err)
		}
		binary = exe
	}

	command := func(cadence string) string {
		cmd := fmt.Sprintf("%s maintain --cadence %s", binary, cadence)
		if o.configPath != "" {
			cmd += " --config " + o.configPath
		}
		return cmd
	}

	// Wall-clock fields were validated with the configuration.
	dailyHour, dailyMin, _ := config.ParseWallClock(cfg.Schedule.DailyAt)
	weeklyHour, weeklyMin, _ := config.ParseWallClock(cfg.Schedule.WeeklyAt)
	monthlyHour, monthlyMin, _ := config.ParseWallClock(cfg.Schedule.MonthlyAt)

	weekday := time.Monday
	if cfg.Schedule.WeeklyOn != "" {
		weekday, _ = config.ParseWeekday(cfg.Schedule.WeeklyOn)
	}

	monthDay := cfg.Schedule.MonthlyOn
	if monthDay <= 0 {
		monthDay = 1
	}

	return []system.CronEntry{
		{
			Schedule: fmt.Sprintf("%d %d * * *", dailyMin, dailyHour),
			Command:  command("daily"),
		},
		{
			Schedule: fmt.Sprintf("%d %d * * %d", weeklyMin, weeklyHour, int(weekday)),
			Command:  command("weekly"),
		},
		{
			Schedule: fmt.Sprintf("%d %d %d * *", monthlyMin, monthlyHour, monthDay),
			Command:  command("monthly"),
		},
	}, nil
}
