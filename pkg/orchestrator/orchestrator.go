package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/profile"
	"github.com/stackmedic/stackmedic/pkg/remedy"
	"github.com/stackmedic/stackmedic/pkg/schedule"
	"github.com/stackmedic/stackmedic/pkg/sequence"
	"github.com/stackmedic/stackmedic/pkg/stores"
	"github.com/stackmedic/stackmedic/pkg/system"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// Orchestrator owns the component graph for one deployment. The tunable
// collaborators (probe engine, sequencer, remediation rules) are rebuilt on
// configuration reload; service identities and the store stay fixed.
type Orchestrator struct {
	tel    *telemetry.Telemetry
	store  stores.Store
	logger *telemetry.Logger

	services *system.ServiceManager
	compose  *system.ComposeRunner
	certs    *system.CertProvisioner
	cron     *system.CronScheduler
	profiler *profile.Profiler

	scheduler *schedule.Scheduler

	binaryPath string
	configPath string

	mu        sync.RWMutex
	cfg       *config.Config
	probes    *probe.Engine
	probers   map[string]probe.Prober
	sequencer *sequence.Sequencer
	remedies  *remedy.Engine

	// injected by tests; nil means derive from configuration
	customProbers []probe.Prober
	customRules   []remedy.Rule
}

// Options override collaborator construction. The zero value wires the real
// host collaborators; tests swap in fakes.
type Options struct {
	// Runner executes host commands. Nil selects the real executor.
	Runner system.Runner

	// Querier answers host resource queries. Nil selects the local querier.
	Querier profile.Querier

	// Probers replaces the probe set derived from the configuration.
	Probers []probe.Prober

	// Rules replaces the default remediation rule table.
	Rules []remedy.Rule

	// BinaryPath is the executable the cron entries invoke. Empty means the
	// running executable.
	BinaryPath string

	// ConfigPath is the configuration file the cron entries pass along.
	ConfigPath string

	// CertLiveDir overrides where issued certificates are looked up.
	CertLiveDir string
}

// New creates an orchestrator over a validated configuration.
func New(cfg *config.Config, tel *telemetry.Telemetry, store stores.Store, opts *Options) (*Orchestrator, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &Orchestrator{
		tel:           tel,
		store:         store,
		logger:        tel.Logger.NewComponentLogger("orchestrator"),
		services:      system.NewServiceManager(tel.Logger, opts.Runner),
		compose:       system.NewComposeRunner(tel.Logger, opts.Runner, cfg.InstallPath),
		certs:         system.NewCertProvisioner(tel.Logger, opts.Runner, opts.CertLiveDir),
		cron:          system.NewCronScheduler(tel.Logger, opts.Runner),
		profiler:      profile.NewProfiler(tel.Logger, opts.Querier),
		binaryPath:    opts.BinaryPath,
		configPath:    opts.ConfigPath,
		customProbers: opts.Probers,
		customRules:   opts.Rules,
	}

	if err := o.applyConfig(cfg); err != nil {
		return nil, err
	}

	// Validated above, so the wall-clock parse cannot fail here.
	hour, minute, _ := config.ParseWallClock(cfg.Schedule.DailyAt)
	o.scheduler = schedule.NewScheduler(tel.Logger, newScheduleState(store), o,
		schedule.TimeOfDay{Hour: hour, Minute: minute})

	return o, nil
}

// applyConfig rebuilds the config-derived collaborators. Callers must not
// hold o.mu.
func (o *Orchestrator) applyConfig(cfg *config.Config) error {
	probers := o.customProbers
	if probers == nil {
		built, err := o.buildProbers(cfg)
		if err != nil {
			return err
		}
		probers = built
	}

	probes := probe.NewEngine(o.tel.Logger, cfg.Probes.Timeout.Std(), cfg.Probes.Staleness.Std())
	byService := make(map[string]probe.Prober, len(probers))
	for _, p := range probers {
		if err := probes.Register(p); err != nil {
			return err
		}
		byService[p.Service()] = p
	}

	rules := o.customRules
	if rules == nil {
		rules = defaultRules(cfg, o.services, o.compose)
	}
	remedies, err := remedy.NewEngine(o.tel.Logger, probes, rules)
	if err != nil {
		return err
	}

	sequencer := sequence.NewSequencer(o.tel.Logger, sequence.Config{
		VerifyTimeout: cfg.Probes.Timeout.Std(),
		BackoffBase:   cfg.Sequence.BaseDelay.Std(),
		BackoffCap:    cfg.Sequence.MaxDelay.Std(),
	})

	o.mu.Lock()
	old := o.probers
	o.cfg = cfg
	o.probes = probes
	o.probers = byService
	o.sequencer = sequencer
	o.remedies = remedies
	o.mu.Unlock()

	closeProbers(old, byService)
	return nil
}

// buildProbers derives the standard probe set from the configuration, in
// report order: database, cache, app, proxy, monitoring.
func (o *Orchestrator) buildProbers(cfg *config.Config) ([]probe.Prober, error) {
	dbPassword, err := config.ReadSecretFile(cfg.Credentials.DatabasePasswordFile)
	if err != nil {
		return nil, fmt.Errorf("database password: %w", err)
	}
	cachePassword, err := config.ReadSecretFile(cfg.Credentials.CachePasswordFile)
	if err != nil {
		return nil, fmt.Errorf("cache password: %w", err)
	}

	return []probe.Prober{
		probe.NewDatabaseProbe(config.ServiceDatabase,
			cfg.Services.Database.User,
			dbPassword,
			cfg.Services.Database.Addr(),
			cfg.Services.Database.Name,
			cfg.Probes.DatabaseDegradedAfter.Std()),
		probe.NewCacheProbe(config.ServiceCache,
			cfg.Services.Cache.Addr,
			cachePassword,
			cfg.Services.Cache.DB,
			cfg.Probes.CacheDegradedAfter.Std()),
		probe.NewAppProbe(config.ServiceApp, cfg.Services.App.HealthURL),
		probe.NewProxyProbe(config.ServiceProxy, cfg.Services.Proxy.URL),
		probe.NewUnitProbe(config.ServiceMonitoring, cfg.Services.Monitoring.Unit, o.services),
	}, nil
}

// UpdateConfig applies a reloaded configuration: probe tuning, sequence
// backoff, remediation rules, and escalation knobs take effect immediately.
// The maintenance schedule boundaries stay as constructed.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := o.applyConfig(cfg); err != nil {
		return err
	}
	o.logger.Info("Configuration applied")
	return nil
}

// Profile detects host resources and derives sizing. No side effects; a
// failed resource query returns the minimum profile alongside the error.
func (o *Orchestrator) Profile(ctx context.Context) (*profile.Profile, error) {
	o.mu.RLock()
	installPath := o.cfg.InstallPath
	o.mu.RUnlock()
	return o.profiler.Detect(ctx, installPath)
}

// Snapshot returns the last known probe result per service, with stale
// entries downgraded to unknown.
func (o *Orchestrator) Snapshot() map[string]probe.Result {
	o.mu.RLock()
	probes := o.probes
	o.mu.RUnlock()
	return probes.Snapshot()
}

// Close releases probe connections.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	probers := o.probers
	o.probers = nil
	o.mu.Unlock()

	closeProbers(probers, nil)
	return nil
}

// closeProbers closes every prober in old that does not also appear in next.
// Reload keeps injected probers alive by registering the same instances.
func closeProbers(old, next map[string]probe.Prober) {
	for service, p := range old {
		if next != nil && next[service] == p {
			continue
		}
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
