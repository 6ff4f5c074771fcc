package system

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// ComposeRunner drives the docker compose project that hosts the
// application container.
type ComposeRunner struct {
	logger     *telemetry.Logger
	runner     Runner
	projectDir string
}

// NewComposeRunner creates a compose runner rooted at the project
// directory holding the compose file. A nil runner uses the host
// ExecRunner.
func NewComposeRunner(logger *telemetry.Logger, runner Runner, projectDir string) *ComposeRunner {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ComposeRunner{
		logger:     logger.NewComponentLogger("system"),
		runner:     runner,
		projectDir: projectDir,
	}
}

// Build builds the project images.
func (c *ComposeRunner) Build(ctx context.Context) error {
	if _, err := c.compose(ctx, "build"); err != nil {
		return fmt.Errorf("failed to build project: %w", err)
	}
	c.logger.WithField("project", c.projectDir).Info("Project images built")
	return nil
}

// Up starts the project in the background. Running it again converges an
// already-started project instead of failing.
func (c *ComposeRunner) Up(ctx context.Context) error {
	if _, err := c.compose(ctx, "up", "-d", "--remove-orphans"); err != nil {
		return fmt.Errorf("failed to start project: %w", err)
	}
	c.logger.WithField("project", c.projectDir).Info("Project started")
	return nil
}

// Down stops the project and removes its containers.
func (c *ComposeRunner) Down(ctx context.Context) error {
	if _, err := c.compose(ctx, "down"); err != nil {
		return fmt.Errorf("failed to stop project: %w", err)
	}
	c.logger.WithField("project", c.projectDir).Info("Project stopped")
	return nil
}

// Restart restarts one compose service.
func (c *ComposeRunner) Restart(ctx context.Context, service string) error {
	if _, err := c.compose(ctx, "restart", service); err != nil {
		return fmt.Errorf("failed to restart %s: %w", service, err)
	}
	c.logger.WithField("service", service).Info("Compose service restarted")
	return nil
}

// Exec runs a command inside a running compose service and returns its
// output. The pseudo-tty is disabled so output comes back clean.
func (c *ComposeRunner) Exec(ctx context.Context, service string, command ...string) (string, error) {
	args := append([]string{"exec", "-T", service}, command...)
	out, err := c.compose(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to exec in %s: %w", service, err)
	}
	return out, nil
}

// LogsTail returns the last lines logged by a compose service.
func (c *ComposeRunner) LogsTail(ctx context.Context, service string, lines int) (string, error) {
	out, err := c.compose(ctx, "logs", "--no-color", "--tail", strconv.Itoa(lines), service)
	if err != nil {
		return "", fmt.Errorf("failed to read logs for %s: %w", service, err)
	}
	return out, nil
}

// ContainerState reports the docker state (running, restarting, exited,
// dead, ...) of a container by name.
func (c *ComposeRunner) ContainerState(ctx context.Context, name string) (string, error) {
	out, err := c.runner.Run(ctx, "docker", "inspect", "--format", "{{.State.Status}}", name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	state := strings.TrimSpace(out)
	if state == "" {
		return "", fmt.Errorf("no state reported for %s", name)
	}
	return state, nil
}

func (c *ComposeRunner) compose(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"compose", "--project-directory", c.projectDir}, args...)
	return c.runner.Run(ctx, "docker", full...)
}
