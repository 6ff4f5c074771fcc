package system

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCertProvisioner_SkipsExistingCertificate(t *testing.T) {
	liveDir := t.TempDir()
	domainDir := filepath.Join(liveDir, "bot.example.com")
	if err := os.MkdirAll(domainDir, 0o755); err != nil {
		t.Fatalf("failed to create live dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(domainDir, "fullchain.pem"), []byte("cert"), 0o644); err != nil {
		t.Fatalf("failed to write cert: %v", err)
	}

	runner := newFakeRunner()
	prov := NewCertProvisioner(testLogger(t), runner, liveDir)

	if err := prov.Provision(context.Background(), "bot.example.com", "ops@example.com"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(runner.commandLines()) != 0 {
		t.Errorf("expected no certbot call, got %v", runner.commandLines())
	}
}

func TestCertProvisioner_ProvisionRunsCertbot(t *testing.T) {
	runner := newFakeRunner()
	prov := NewCertProvisioner(testLogger(t), runner, t.TempDir())

	if err := prov.Provision(context.Background(), "bot.example.com", "ops@example.com"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	lines := runner.commandLines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 certbot call, got %v", lines)
	}
	for _, fragment := range []string{"certbot certonly", "--standalone", "-d bot.example.com", "-m ops@example.com"} {
		if !strings.Contains(lines[0], fragment) {
			t.Errorf("expected command to contain %q, got %q", fragment, lines[0])
		}
	}
}

func TestCertProvisioner_ProvisionWithoutEmail(t *testing.T) {
	runner := newFakeRunner()
	prov := NewCertProvisioner(testLogger(t), runner, t.TempDir())

	if err := prov.Provision(context.Background(), "bot.example.com", ""); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	lines := runner.commandLines()
	if len(lines) != 1 || !strings.Contains(lines[0], "--register-unsafely-without-email") {
		t.Errorf("expected unsafe registration flag, got %v", lines)
	}
}

func TestCertProvisioner_RequiresDomain(t *testing.T) {
	prov := NewCertProvisioner(testLogger(t), newFakeRunner(), t.TempDir())
	if err := prov.Provision(context.Background(), "", "ops@example.com"); err == nil {
		t.Fatal("expected error for empty domain")
	}
}

func TestCertProvisioner_Renew(t *testing.T) {
	runner := newFakeRunner()
	prov := NewCertProvisioner(testLogger(t), runner, t.TempDir())

	if err := prov.Renew(context.Background()); err != nil {
		t.Fatalf("Renew() error = %v", err)
	}

	lines := runner.commandLines()
	if len(lines) != 1 || lines[0] != "certbot renew --quiet" {
		t.Errorf("expected certbot renew --quiet, got %v", lines)
	}
}
