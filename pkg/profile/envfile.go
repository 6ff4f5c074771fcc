package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// envHeader marks the file as generated so operators know edits will be lost
// on the next setup run.
const envHeader = "# Managed by stackmedic. Regenerated on every setup run."

// RenderEnv renders the sizing parameters as a shell environment file
// consumed by the app container and the cache unit.
func RenderEnv(p *Profile) string {
	var b strings.Builder
	b.WriteString(envHeader + "\n")
	fmt.Fprintf(&b, "RESOURCE_TIER=%s\n", p.Sizing.Tier)
	fmt.Fprintf(&b, "WORKER_COUNT=%d\n", p.Sizing.WorkerCount)
	fmt.Fprintf(&b, "CACHE_SIZE_MB=%d\n", p.Sizing.CacheSizeMB)
	return b.String()
}

// WriteEnvFile atomically writes the rendered environment file. Rewriting an
// unchanged profile produces identical content, so re-running the
// provisioning step is safe.
func WriteEnvFile(path string, p *Profile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".runtime-env-*")
	if err != nil {
		return fmt.Errorf("failed to create temp env file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(RenderEnv(p)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write env file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close env file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move env file into place: %w", err)
	}
	return nil
}
