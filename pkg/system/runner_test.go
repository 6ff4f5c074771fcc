package system

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

type call struct {
	name  string
	args  []string
	input string
}

// fakeRunner records every command and answers from a scripted table
// keyed by the full command line.
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

func (f *fakeRunner) lastInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1].input
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func TestExecRunner_TrimsOutput(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

func TestExecRunner_NonZeroExitCarriesStderr(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "code 3") {
		t.Errorf("error = %q, want exit code mention", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %q, want stderr detail", err)
	}
}

func TestExecRunner_PipesInput(t *testing.T) {
	out, err := ExecRunner{}.RunInput(context.Background(), "piped\n", "cat")
	if err != nil {
		t.Fatalf("RunInput() error = %v", err)
	}
	if out != "piped" {
		t.Errorf("output = %q, want %q", out, "piped")
	}
}
