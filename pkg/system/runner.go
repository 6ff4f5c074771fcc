package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands.
type Runner interface {
	// Run executes a command and returns its trimmed stdout. A non-zero
	// exit returns the captured stdout along with an error carrying the
	// exit code and stderr.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// RunInput is Run with the given string piped to stdin.
	RunInput(ctx context.Context, input, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

// Run executes a command and captures its output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return run(ctx, "", name, args...)
}

// RunInput executes a command with input piped to stdin.
func (ExecRunner) RunInput(ctx context.Context, input, name string, args ...string) (string, error) {
	return run(ctx, input, name, args...)
}

func run(ctx context.Context, input, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != "" {
		cmd.Stdin = bytes.NewBufferString(input)
	}

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = out
			}
			return out, fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), detail)
		}
		return out, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	return out, nil
}
