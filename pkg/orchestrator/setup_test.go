package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/sequence"
	"github.com/stackmedic/stackmedic/pkg/stores"
)

func TestSetup_ProvisionsHealthyStack(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	runner := newFakeRunner()
	orc := newTestOrchestrator(t, cfg, store, runner, healthyProbers())

	result, err := orc.Setup(context.Background(), SetupOptions{})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected every step to succeed, got %+v", result.Failed())
	}
	if len(result.Steps) != 7 {
		t.Errorf("steps = %d, want 7 with TLS disabled", len(result.Steps))
	}

	// The sized runtime env must exist for an 8 GB host.
	data, err := os.ReadFile(cfg.EnvFilePath())
	if err != nil {
		t.Fatalf("runtime env not written: %v", err)
	}
	if !strings.Contains(string(data), "WORKER_COUNT=8") {
		t.Errorf("runtime env missing high-tier worker count:\n%s", data)
	}

	for _, line := range []string{
		"systemctl enable mariadb.service",
		"systemctl start mariadb.service",
		"systemctl enable redis-server.service",
		"docker compose --project-directory " + cfg.InstallPath + " build",
		"docker compose --project-directory " + cfg.InstallPath + " up -d --remove-orphans",
		"crontab -",
	} {
		if !runner.ran(line) {
			t.Errorf("expected command %q, got %v", line, runner.commandLines())
		}
	}

	run, err := store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", run.Status)
	}

	rows, err := store.ListStepResultsByRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("ListStepResultsByRun() error = %v", err)
	}
	if len(rows) != 7 {
		t.Errorf("persisted %d step rows, want 7", len(rows))
	}
}

func TestSetup_FatalStepAbortsAndSkipsRest(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	runner := newFakeRunner()
	probers := healthyProbers()
	probers["database"].set(probe.StatusUnreachable)
	orc := newTestOrchestrator(t, cfg, store, runner, probers)

	result, err := orc.Setup(context.Background(), SetupOptions{})
	if err == nil {
		t.Fatal("expected an error when a fatal step fails verification")
	}
	if !fault.IsFatalStep(err) {
		t.Errorf("error = %v, want a fatal step fault", err)
	}
	if !result.Aborted || result.AbortStep != "start-database" {
		t.Fatalf("abort = %v at %q, want abort at start-database", result.Aborted, result.AbortStep)
	}

	// Nothing past the fatal step may run.
	for _, line := range runner.commandLines() {
		if strings.HasPrefix(line, "docker compose") {
			t.Errorf("app container started after a fatal database failure: %s", line)
		}
	}
	for _, sr := range result.Steps {
		if sr.Ordinal > 3 && sr.Status != sequence.StepStatusSkipped {
			t.Errorf("step %s status = %s, want skipped", sr.StepID, sr.Status)
		}
	}

	run, err := store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusAborted {
		t.Errorf("run status = %s, want aborted", run.Status)
	}
}

func TestSetup_RerunResumesAfterAbort(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	runner := newFakeRunner()
	probers := healthyProbers()
	probers["database"].set(probe.StatusUnreachable)
	orc := newTestOrchestrator(t, cfg, store, runner, probers)

	if _, err := orc.Setup(context.Background(), SetupOptions{}); err == nil {
		t.Fatal("expected the first run to abort")
	}

	probers["database"].set(probe.StatusHealthy)
	result, err := orc.Setup(context.Background(), SetupOptions{})
	if err != nil {
		t.Fatalf("rerun error = %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected the rerun to succeed, got %+v", result.Failed())
	}
}

func TestSetup_RendersProxyVhost(t *testing.T) {
	cfg := testConfig(t)
	cfg.Services.Proxy.SiteConfig = filepath.Join(cfg.InstallPath, "nginx", "site.conf")
	store := testStore(t)
	runner := newFakeRunner()
	orc := newTestOrchestrator(t, cfg, store, runner, healthyProbers())

	if _, err := orc.Setup(context.Background(), SetupOptions{}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	data, err := os.ReadFile(cfg.Services.Proxy.SiteConfig)
	if err != nil {
		t.Fatalf("vhost not written: %v", err)
	}
	vhost := string(data)
	if !strings.Contains(vhost, "server_name bot.example.com;") {
		t.Errorf("vhost missing server_name:\n%s", vhost)
	}
	if !strings.Contains(vhost, "proxy_pass http://127.0.0.1:8080;") {
		t.Errorf("vhost missing upstream:\n%s", vhost)
	}
	if strings.Contains(vhost, "listen 443") {
		t.Errorf("vhost has a TLS block with TLS disabled:\n%s", vhost)
	}
}

func TestSetup_SoftStepFailureDoesNotAbort(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	runner := newFakeRunner()
	probers := healthyProbers()
	probers["monitoring"].set(probe.StatusUnreachable)
	orc := newTestOrchestrator(t, cfg, store, runner, probers)

	result, err := orc.Setup(context.Background(), SetupOptions{})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if result.Aborted {
		t.Fatal("a soft step failure must not abort the sequence")
	}

	var monitoring, schedule sequence.StepResult
	for _, sr := range result.Steps {
		switch sr.StepID {
		case "enable-monitoring":
			monitoring = sr
		case "register-schedule":
			schedule = sr
		}
	}
	if monitoring.Status != sequence.StepStatusFailed {
		t.Errorf("enable-monitoring status = %s, want failed", monitoring.Status)
	}
	if schedule.Status != sequence.StepStatusSucceeded {
		t.Errorf("register-schedule status = %s, want succeeded", schedule.Status)
	}
}
