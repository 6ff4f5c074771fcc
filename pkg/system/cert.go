package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// DefaultCertLiveDir is where certbot keeps issued certificates.
const DefaultCertLiveDir = "/etc/letsencrypt/live"

// CertProvisioner obtains and renews TLS certificates through certbot.
type CertProvisioner struct {
	logger  *telemetry.Logger
	runner  Runner
	liveDir string
}

// NewCertProvisioner creates a certbot wrapper. A nil runner uses the
// host ExecRunner, an empty liveDir the certbot default.
func NewCertProvisioner(logger *telemetry.Logger, runner Runner, liveDir string) *CertProvisioner {
	if runner == nil {
		runner = ExecRunner{}
	}
	if liveDir == "" {
		liveDir = DefaultCertLiveDir
	}
	return &CertProvisioner{
		logger:  logger.NewComponentLogger("system"),
		runner:  runner,
		liveDir: liveDir,
	}
}

// LiveDir returns the directory issued certificates live under.
func (p *CertProvisioner) LiveDir() string {
	return p.liveDir
}

// HasCertificate reports whether a live certificate exists for the domain.
func (p *CertProvisioner) HasCertificate(domain string) bool {
	_, err := os.Stat(filepath.Join(p.liveDir, domain, "fullchain.pem"))
	return err == nil
}

// Provision obtains a certificate for the domain in standalone mode. A
// domain that already has a live certificate is left alone.
func (p *CertProvisioner) Provision(ctx context.Context, domain, email string) error {
	if domain == "" {
		return fmt.Errorf("domain is required")
	}
	if p.HasCertificate(domain) {
		p.logger.WithField("domain", domain).Info("Certificate already present")
		return nil
	}

	args := []string{
		"certonly",
		"--standalone",
		"--non-interactive",
		"--agree-tos",
		"-d", domain,
	}
	if email != "" {
		args = append(args, "-m", email)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}

	if _, err := p.runner.Run(ctx, "certbot", args...); err != nil {
		return fmt.Errorf("failed to provision certificate for %s: %w", domain, err)
	}
	p.logger.WithField("domain", domain).Info("Certificate provisioned")
	return nil
}

// Renew renews any certificates close to expiry.
func (p *CertProvisioner) Renew(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, "certbot", "renew", "--quiet"); err != nil {
		return fmt.Errorf("failed to renew certificates: %w", err)
	}
	p.logger.Info("Certificates renewed")
	return nil
}
