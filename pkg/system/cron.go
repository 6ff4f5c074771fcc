package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

const (
	cronBeginMarker = "# BEGIN stackmedic maintenance"
	cronEndMarker   = "# END stackmedic maintenance"
)

// CronEntry is one crontab line managed under the stackmedic markers.
type CronEntry struct {
	Schedule string // five-field cron expression
	Command  string
}

// CronScheduler owns a marker-delimited block of the user's crontab.
// Installing replaces the previous block and leaves every line outside
// the markers untouched.
type CronScheduler struct {
	logger *telemetry.Logger
	runner Runner
}

// NewCronScheduler creates a crontab manager. A nil runner uses the host
// ExecRunner.
func NewCronScheduler(logger *telemetry.Logger, runner Runner) *CronScheduler {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CronScheduler{
		logger: logger.NewComponentLogger("system"),
		runner: runner,
	}
}

// Install writes the managed block with the given entries.
func (c *CronScheduler) Install(ctx context.Context, entries []CronEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("no cron entries to install")
	}

	// crontab -l exits non-zero when the user has no crontab yet
	existing, _ := c.runner.Run(ctx, "crontab", "-l")

	block := make([]string, 0, len(entries)+2)
	block = append(block, cronBeginMarker)
	for _, entry := range entries {
		block = append(block, fmt.Sprintf("%s %s", entry.Schedule, entry.Command))
	}
	block = append(block, cronEndMarker)

	updated := append(stripManagedBlock(existing), block...)
	content := strings.Join(updated, "\n") + "\n"

	if _, err := c.runner.RunInput(ctx, content, "crontab", "-"); err != nil {
		return fmt.Errorf("failed to install crontab: %w", err)
	}
	c.logger.WithField("entries", len(entries)).Info("Cron entries installed")
	return nil
}

// stripManagedBlock returns the crontab lines outside the marker block.
func stripManagedBlock(crontab string) []string {
	kept := []string{}
	inBlock := false
	for _, line := range strings.Split(crontab, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == cronBeginMarker:
			inBlock = true
		case trimmed == cronEndMarker:
			inBlock = false
		case !inBlock && trimmed != "":
			kept = append(kept, line)
		}
	}
	return kept
}
