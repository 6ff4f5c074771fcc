package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/stores"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

type call struct {
	name  string
	args  []string
	input string
}

// fakeRunner records every command and answers from a scripted table keyed
// by the full command line. Unscripted commands succeed with empty output.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]string
	errors  map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: map[string]string{},
		errors:  map[string]error{},
	}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	return f.record("", name, args)
}

func (f *fakeRunner) RunInput(_ context.Context, input, name string, args ...string) (string, error) {
	return f.record(input, name, args)
}

func (f *fakeRunner) record(input, name string, args []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args, input: input})
	key := commandLine(name, args)
	return f.outputs[key], f.errors[key]
}

func (f *fakeRunner) commandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, c := range f.calls {
		lines[i] = commandLine(c.name, c.args)
	}
	return lines
}

func (f *fakeRunner) ran(line string) bool {
	for _, l := range f.commandLines() {
		if l == line {
			return true
		}
	}
	return false
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

// fakeQuerier returns canned host resources.
type fakeQuerier struct {
	cores  int
	memMB  int64
	diskGB int64
}

func (f *fakeQuerier) CPUCores() (int, error) {
	return f.cores, nil
}

func (f *fakeQuerier) MemoryTotalMB() (int64, error) {
	return f.memMB, nil
}

func (f *fakeQuerier) DiskFreeGB(path string) (int64, error) {
	return f.diskGB, nil
}

// scriptedProber reports a settable status, standing in for a real service
// prober in both probe passes and step verification.
type scriptedProber struct {
	mu      sync.Mutex
	service string
	status  probe.Status
}

func (p *scriptedProber) Service() string {
	return p.service
}

func (p *scriptedProber) Check(ctx context.Context) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return probe.Result{Service: p.service, Status: p.status, Message: "scripted"}
}

func (p *scriptedProber) set(status probe.Status) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

// healthyProbers builds one scripted prober per managed service, all healthy.
func healthyProbers() map[string]*scriptedProber {
	probers := make(map[string]*scriptedProber, len(config.ServiceNames))
	for _, service := range config.ServiceNames {
		probers[service] = &scriptedProber{service: service, status: probe.StatusHealthy}
	}
	return probers
}

func proberList(probers map[string]*scriptedProber) []probe.Prober {
	out := make([]probe.Prober, 0, len(probers))
	for _, service := range config.ServiceNames {
		out = append(out, probers[service])
	}
	return out
}

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	cfg.Events.Enabled = false
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	return tel
}

func testStore(t *testing.T) stores.Store {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeSecret(t *testing.T, dir, name, value string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value+"\n"), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// testConfig returns a valid configuration rooted in a temp directory, with
// short delays so retry and backoff paths run fast.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Domain = "bot.example.com"
	cfg.InstallPath = dir
	cfg.TLS.Enabled = false
	cfg.Credentials.AppTokenFile = writeSecret(t, dir, "app_token", "token-123")
	cfg.Credentials.DatabasePasswordFile = writeSecret(t, dir, "db_password", "hunter2")
	cfg.Store.Path = filepath.Join(dir, "state.db")
	cfg.Probes.Timeout = config.Duration(500 * time.Millisecond)
	cfg.Sequence.MaxRetries = 0
	cfg.Sequence.BaseDelay = config.Duration(time.Millisecond)
	cfg.Sequence.MaxDelay = config.Duration(2 * time.Millisecond)
	cfg.Remediation.SettleDelay = 0
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, store stores.Store, runner *fakeRunner, probers map[string]*scriptedProber) *Orchestrator {
	t.Helper()
	orc, err := New(cfg, testTelemetry(t), store, &Options{
		Runner:     runner,
		Querier:    &fakeQuerier{cores: 4, memMB: 8192, diskGB: 50},
		Probers:    proberList(probers),
		BinaryPath: "/usr/local/bin/stackmedic",
		ConfigPath: "/etc/stackmedic/config.yaml",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return orc
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Domain = ""

	_, err := New(cfg, testTelemetry(t), testStore(t), nil)
	if err == nil {
		t.Fatal("expected an error for a config without a domain")
	}
}

func TestUpdateConfig_KeepsInjectedProbers(t *testing.T) {
	cfg := testConfig(t)
	probers := healthyProbers()
	orc := newTestOrchestrator(t, cfg, testStore(t), newFakeRunner(), probers)

	updated := testConfig(t)
	updated.Escalation.Threshold = 5
	if err := orc.UpdateConfig(updated); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	// The rebuilt engine must still see the same prober instances.
	probers["cache"].set(probe.StatusDegraded)
	rep, err := orc.Diagnose(context.Background(), DiagnoseOptions{})
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if rep.Verdict != probe.StatusDegraded {
		t.Errorf("verdict = %s, want degraded", rep.Verdict)
	}
}

func TestUpdateConfig_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	orc := newTestOrchestrator(t, cfg, testStore(t), newFakeRunner(), healthyProbers())

	bad := testConfig(t)
	bad.Probes.Timeout = 0
	if err := orc.UpdateConfig(bad); err == nil {
		t.Fatal("expected an error for a zero probe timeout")
	}
}

func TestProfile_DetectsHighTier(t *testing.T) {
	cfg := testConfig(t)
	orc := newTestOrchestrator(t, cfg, testStore(t), newFakeRunner(), healthyProbers())

	prof, err := orc.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if prof.Sizing.WorkerCount != 8 || prof.Sizing.CacheSizeMB != 4096 {
		t.Errorf("sizing = %+v, want the high tier for an 8 GB host", prof.Sizing)
	}
}

func TestSnapshot_ReflectsLastProbePass(t *testing.T) {
	cfg := testConfig(t)
	probers := healthyProbers()
	probers["cache"].set(probe.StatusDegraded)
	orc := newTestOrchestrator(t, cfg, testStore(t), newFakeRunner(), probers)

	if _, err := orc.Diagnose(context.Background(), DiagnoseOptions{}); err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}

	snap := orc.Snapshot()
	if len(snap) != len(config.ServiceNames) {
		t.Fatalf("snapshot has %d services, want %d", len(snap), len(config.ServiceNames))
	}
	if snap["cache"].Status != probe.StatusDegraded {
		t.Errorf("cache = %s, want the observed degraded state", snap["cache"].Status)
	}
	if snap["app"].Status != probe.StatusHealthy {
		t.Errorf("app = %s, want healthy", snap["app"].Status)
	}
}
