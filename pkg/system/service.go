package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// ServiceManager manages systemd units. Start, Stop, and Enable check the
// current state first so re-running them is a no-op.
type ServiceManager struct {
	logger *telemetry.Logger
	runner Runner
}

// NewServiceManager creates a systemd service manager. A nil runner uses
// the host ExecRunner.
func NewServiceManager(logger *telemetry.Logger, runner Runner) *ServiceManager {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ServiceManager{
		logger: logger.NewComponentLogger("system"),
		runner: runner,
	}
}

// Start starts a unit unless it is already active.
func (m *ServiceManager) Start(ctx context.Context, unit string) error {
	if m.isActive(ctx, unit) {
		m.logger.WithField("unit", unit).Debug("Unit already active")
		return nil
	}

	if _, err := m.runner.Run(ctx, "systemctl", "start", unit); err != nil {
		return fmt.Errorf("failed to start %s: %w", unit, err)
	}
	m.logger.WithField("unit", unit).Info("Unit started")
	return nil
}

// Stop stops a unit unless it is already inactive.
func (m *ServiceManager) Stop(ctx context.Context, unit string) error {
	if !m.isActive(ctx, unit) {
		m.logger.WithField("unit", unit).Debug("Unit already stopped")
		return nil
	}

	if _, err := m.runner.Run(ctx, "systemctl", "stop", unit); err != nil {
		return fmt.Errorf("failed to stop %s: %w", unit, err)
	}
	m.logger.WithField("unit", unit).Info("Unit stopped")
	return nil
}

// Restart restarts a unit.
func (m *ServiceManager) Restart(ctx context.Context, unit string) error {
	if _, err := m.runner.Run(ctx, "systemctl", "restart", unit); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, err)
	}
	m.logger.WithField("unit", unit).Info("Unit restarted")
	return nil
}

// Reload reloads a unit's configuration.
func (m *ServiceManager) Reload(ctx context.Context, unit string) error {
	if _, err := m.runner.Run(ctx, "systemctl", "reload", unit); err != nil {
		return fmt.Errorf("failed to reload %s: %w", unit, err)
	}
	m.logger.WithField("unit", unit).Info("Unit reloaded")
	return nil
}

// Enable enables a unit at boot unless it is already enabled.
func (m *ServiceManager) Enable(ctx context.Context, unit string) error {
	out, _ := m.runner.Run(ctx, "systemctl", "is-enabled", unit)
	if strings.TrimSpace(out) == "enabled" {
		m.logger.WithField("unit", unit).Debug("Unit already enabled")
		return nil
	}

	if _, err := m.runner.Run(ctx, "systemctl", "enable", unit); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unit, err)
	}
	m.logger.WithField("unit", unit).Info("Unit enabled")
	return nil
}

// ActiveState reports a unit's systemd ActiveState (active, activating,
// inactive, failed, ...).
func (m *ServiceManager) ActiveState(ctx context.Context, unit string) (string, error) {
	out, err := m.runner.Run(ctx, "systemctl", "show", unit, "--property=ActiveState", "--value")
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", unit, err)
	}
	state := strings.TrimSpace(out)
	if state == "" {
		return "", fmt.Errorf("no state reported for %s", unit)
	}
	return state, nil
}

func (m *ServiceManager) isActive(ctx context.Context, unit string) bool {
	// is-active exits non-zero for anything but active, so the error is
	// part of the answer here
	out, _ := m.runner.Run(ctx, "systemctl", "is-active", unit)
	return strings.TrimSpace(out) == "active"
}
