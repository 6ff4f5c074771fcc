// Package config loads and validates the stackmedic orchestrator
// configuration. Configuration is a single YAML document describing the
// deployment (domain, install path, the five managed services), probe and
// remediation tuning, the maintenance schedule, and telemetry settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Service names used across probes, remediation rules, and reports.
const (
	ServiceApp        = "app"
	ServiceDatabase   = "database"
	ServiceCache      = "cache"
	ServiceProxy      = "proxy"
	ServiceMonitoring = "monitoring"
)

// ServiceNames lists all managed services in report order.
var ServiceNames = []string{
	ServiceDatabase,
	ServiceCache,
	ServiceApp,
	ServiceProxy,
	ServiceMonitoring,
}

// Duration wraps time.Duration so YAML values can be written as "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root orchestrator configuration.
type Config struct {
	// Domain is the public domain the deployment serves.
	Domain string `yaml:"domain" validate:"required,hostname_rfc1123"`

	// InstallPath is the root directory of the deployed application.
	InstallPath string `yaml:"install_path" validate:"required"`

	TLS         TLSConfig         `yaml:"tls"`
	Services    ServicesConfig    `yaml:"services"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Profile     ProfileConfig     `yaml:"profile"`
	Probes      ProbesConfig      `yaml:"probes"`
	Sequence    SequenceConfig    `yaml:"sequence"`
	Remediation RemediationConfig `yaml:"remediation"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Escalation  EscalationConfig  `yaml:"escalation"`
	Store       StoreConfig       `yaml:"store"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// TLSConfig controls certificate provisioning during setup.
type TLSConfig struct {
	// Enabled controls whether the certificate step runs at all.
	Enabled bool `yaml:"enabled"`

	// ACMEEmail is the registration email passed to the ACME client.
	ACMEEmail string `yaml:"acme_email" validate:"omitempty,email"`
}

// ServicesConfig identifies the five managed services.
type ServicesConfig struct {
	App        AppService      `yaml:"app"`
	Database   DatabaseService `yaml:"database"`
	Cache      CacheService    `yaml:"cache"`
	Proxy      ProxyService    `yaml:"proxy"`
	Monitoring UnitService     `yaml:"monitoring"`
}

// AppService describes the containerised application process.
type AppService struct {
	// ComposeFile is the docker compose file driving the app container.
	ComposeFile string `yaml:"compose_file" validate:"required"`

	// ComposeService is the compose service name for the app.
	ComposeService string `yaml:"compose_service" validate:"required"`

	// HealthURL is the application health endpoint (expects 200 + JSON).
	HealthURL string `yaml:"health_url" validate:"required,url"`
}

// DatabaseService describes the relational store.
type DatabaseService struct {
	// Unit is the systemd unit name for the database server.
	Unit string `yaml:"unit" validate:"required"`

	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`

	// Name is the schema the application uses.
	Name string `yaml:"name" validate:"required"`

	// User is the database account the probe connects as.
	User string `yaml:"user" validate:"required"`
}

// Addr returns the host:port address of the database server.
func (d DatabaseService) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// CacheService describes the cache server.
type CacheService struct {
	// Unit is the systemd unit name for the cache server.
	Unit string `yaml:"unit" validate:"required"`

	// Addr is the host:port address of the cache server.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// DB is the logical database index.
	DB int `yaml:"db" validate:"min=0"`
}

// ProxyService describes the reverse proxy.
type ProxyService struct {
	// Unit is the systemd unit name for the proxy.
	Unit string `yaml:"unit" validate:"required"`

	// URL is probed with a bounded GET; 2xx/3xx means the proxy answers.
	URL string `yaml:"url" validate:"required,url"`

	// SiteConfig is the vhost file rendered during setup, if managed.
	SiteConfig string `yaml:"site_config"`
}

// UnitService describes a service managed purely as a systemd unit.
type UnitService struct {
	Unit string `yaml:"unit" validate:"required"`
}

// CredentialsConfig points at secret material on disk. Secrets are never
// stored in the configuration document itself.
type CredentialsConfig struct {
	// AppTokenFile holds the application API token.
	AppTokenFile string `yaml:"app_token_file" validate:"required"`

	// DatabasePasswordFile holds the password for Services.Database.User.
	DatabasePasswordFile string `yaml:"database_password_file" validate:"required"`

	// CachePasswordFile holds the cache AUTH password, if any.
	CachePasswordFile string `yaml:"cache_password_file"`
}

// ProfileConfig carries operator overrides for the resource profiler.
// Zero values mean "derive from detected host resources".
type ProfileConfig struct {
	WorkerCount int `yaml:"worker_count" validate:"min=0"`
	CacheSizeMB int `yaml:"cache_size_mb" validate:"min=0"`

	// EnvFile is where the sized runtime environment is written during
	// setup. Defaults to <install_path>/runtime.env.
	EnvFile string `yaml:"env_file"`
}

// ProbesConfig tunes the service probe set.
type ProbesConfig struct {
	// Timeout bounds every individual probe call.
	Timeout Duration `yaml:"timeout"`

	// Staleness is how long a probe result stays usable before consumers
	// treat it as unknown.
	Staleness Duration `yaml:"staleness"`

	// DatabaseDegradedAfter marks the database degraded when a round trip
	// exceeds this latency while still succeeding.
	DatabaseDegradedAfter Duration `yaml:"database_degraded_after"`

	// CacheDegradedAfter marks the cache degraded past this latency.
	CacheDegradedAfter Duration `yaml:"cache_degraded_after"`
}

// SequenceConfig tunes provisioning step verification.
type SequenceConfig struct {
	// MaxRetries is the default verification retry budget per step.
	MaxRetries int `yaml:"max_retries" validate:"min=0"`

	// BaseDelay seeds the exponential backoff between verification attempts.
	BaseDelay Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff.
	MaxDelay Duration `yaml:"max_delay"`
}

// RemediationConfig tunes the remediation engine.
type RemediationConfig struct {
	// Enabled controls whether maintenance cycles apply corrective actions.
	Enabled bool `yaml:"enabled"`

	// Cooldown is the minimum interval between remediations of the same
	// (service, status) pair.
	Cooldown Duration `yaml:"cooldown"`

	// SettleDelay is how long to wait after the last action before the
	// confirmation re-probe.
	SettleDelay Duration `yaml:"settle_delay"`
}

// ScheduleConfig positions the maintenance cadences on the clock.
type ScheduleConfig struct {
	// DailyAt is the daily wall-clock trigger, "HH:MM".
	DailyAt string `yaml:"daily_at"`

	// WeeklyOn names the weekday for the weekly cadence.
	WeeklyOn string `yaml:"weekly_on"`

	// WeeklyAt is the weekly wall-clock trigger, "HH:MM".
	WeeklyAt string `yaml:"weekly_at"`

	// MonthlyOn is the day of month (1-28) for the monthly cadence.
	MonthlyOn int `yaml:"monthly_on" validate:"min=0,max=28"`

	// MonthlyAt is the monthly wall-clock trigger, "HH:MM".
	MonthlyAt string `yaml:"monthly_at"`

	// WakeInterval is the daemon-mode tick between due-time checks.
	WakeInterval Duration `yaml:"wake_interval"`
}

// EscalationConfig controls the consecutive-unreachable escalation knob.
// Threshold 0 disables escalation entirely: diagnostics stay informational.
type EscalationConfig struct {
	// Threshold is the number of consecutive maintenance cycles a service
	// may be unreachable before the report is flagged as escalated.
	Threshold int `yaml:"threshold" validate:"min=0"`

	// FailFast makes the maintenance entry point exit non-zero once
	// escalated. Without it escalation only marks the report.
	FailFast bool `yaml:"fail_fast"`
}

// StoreConfig locates the state database.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required"`

	// RetentionDays bounds how long probe and remediation history is kept.
	RetentionDays int `yaml:"retention_days" validate:"min=1"`
}

// TelemetryConfig is the operator-facing slice of telemetry settings.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

var validate = validator.New()

// Default returns the configuration defaults applied before YAML decoding.
func Default() *Config {
	return &Config{
		InstallPath: "/opt/app",
		TLS: TLSConfig{
			Enabled: true,
		},
		Services: ServicesConfig{
			App: AppService{
				ComposeFile:    "docker-compose.yml",
				ComposeService: "app",
				HealthURL:      "http://127.0.0.1:8080/health",
			},
			Database: DatabaseService{
				Unit: "mariadb.service",
				Host: "127.0.0.1",
				Port: 3306,
				Name: "app",
				User: "app",
			},
			Cache: CacheService{
				Unit: "redis-server.service",
				Addr: "127.0.0.1:6379",
				DB:   0,
			},
			Proxy: ProxyService{
				Unit: "nginx.service",
				URL:  "http://127.0.0.1/",
			},
			Monitoring: UnitService{
				Unit: "node_exporter.service",
			},
		},
		Probes: ProbesConfig{
			Timeout:               Duration(5 * time.Second),
			Staleness:             Duration(5 * time.Minute),
			DatabaseDegradedAfter: Duration(500 * time.Millisecond),
			CacheDegradedAfter:    Duration(250 * time.Millisecond),
		},
		Sequence: SequenceConfig{
			MaxRetries: 3,
			BaseDelay:  Duration(2 * time.Second),
			MaxDelay:   Duration(30 * time.Second),
		},
		Remediation: RemediationConfig{
			Enabled:     true,
			Cooldown:    Duration(10 * time.Minute),
			SettleDelay: Duration(3 * time.Second),
		},
		Schedule: ScheduleConfig{
			DailyAt:      "03:30",
			WeeklyOn:     "monday",
			WeeklyAt:     "04:00",
			MonthlyOn:    1,
			MonthlyAt:    "04:30",
			WakeInterval: Duration(time.Minute),
		},
		Escalation: EscalationConfig{
			Threshold: 0,
			FailFast:  false,
		},
		Store: StoreConfig{
			Path:          "/var/lib/stackmedic/stackmedic.db",
			RetentionDays: 30,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsEnabled:  false,
			MetricsAddr:     ":9090",
			TracingEnabled:  false,
			TracingExporter: "none",
		},
	}
}

// Load reads, decodes, and validates a configuration file. Fields absent
// from the document keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks structural tags plus the constraints tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.TLS.Enabled && c.TLS.ACMEEmail == "" {
		return fmt.Errorf("tls.acme_email is required when tls.enabled is true")
	}

	for name, at := range map[string]string{
		"schedule.daily_at":   c.Schedule.DailyAt,
		"schedule.weekly_at":  c.Schedule.WeeklyAt,
		"schedule.monthly_at": c.Schedule.MonthlyAt,
	} {
		if at == "" {
			continue
		}
		if _, _, err := ParseWallClock(at); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Schedule.WeeklyOn != "" {
		if _, err := ParseWeekday(c.Schedule.WeeklyOn); err != nil {
			return fmt.Errorf("schedule.weekly_on: %w", err)
		}
	}

	if c.Probes.Timeout <= 0 {
		return fmt.Errorf("probes.timeout must be positive")
	}
	if c.Probes.Staleness <= 0 {
		return fmt.Errorf("probes.staleness must be positive")
	}
	if c.Sequence.BaseDelay <= 0 || c.Sequence.MaxDelay < c.Sequence.BaseDelay {
		return fmt.Errorf("sequence backoff delays must be positive with max_delay >= base_delay")
	}
	if c.Remediation.Cooldown <= 0 {
		return fmt.Errorf("remediation.cooldown must be positive")
	}
	if c.Schedule.WakeInterval <= 0 {
		return fmt.Errorf("schedule.wake_interval must be positive")
	}

	return nil
}

// EnvFilePath returns the runtime env file location, applying the
// install-path default when unset.
func (c *Config) EnvFilePath() string {
	if c.Profile.EnvFile != "" {
		return c.Profile.EnvFile
	}
	return c.InstallPath + "/runtime.env"
}

// ParseWallClock parses an "HH:MM" wall-clock string.
func ParseWallClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid wall-clock time %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseWeekday parses a lowercase or capitalised English weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
}

// ReadSecretFile reads a one-line secret file, trimming trailing whitespace.
func ReadSecretFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
