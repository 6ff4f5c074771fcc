package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// fakeQuerier returns canned resources, optionally failing a single query.
type fakeQuerier struct {
	cores   int
	memMB   int64
	diskGB  int64
	cpuErr  error
	memErr  error
	diskErr error
}

func (f *fakeQuerier) CPUCores() (int, error) {
	if f.cpuErr != nil {
		return 0, f.cpuErr
	}
	return f.cores, nil
}

func (f *fakeQuerier) MemoryTotalMB() (int64, error) {
	if f.memErr != nil {
		return 0, f.memErr
	}
	return f.memMB, nil
}

func (f *fakeQuerier) DiskFreeGB(path string) (int64, error) {
	if f.diskErr != nil {
		return 0, f.diskErr
	}
	return f.diskGB, nil
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

func TestDetect_TierLookup(t *testing.T) {
	tests := []struct {
		name        string
		cores       int
		memMB       int64
		diskGB      int64
		wantTier    Tier
		wantWorkers int
		wantCacheMB int
	}{
		{"eight gb host", 4, 8192, 50, TierHigh, 8, 4096},
		{"three gb host", 4, 3072, 50, TierLow, 2, 1024},
		{"four gb host", 4, 4096, 50, TierMedium, 4, 2048},
		{"just under eight gb rounds up", 4, 8000, 50, TierHigh, 8, 4096},
		{"sixteen gb host", 8, 16384, 200, TierHigh, 8, 4096},
		{"single core caps to low", 1, 16384, 50, TierLow, 2, 1024},
		{"thin disk caps to low", 8, 16384, 2, TierLow, 2, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiler := NewProfiler(testLogger(t), &fakeQuerier{
				cores:  tt.cores,
				memMB:  tt.memMB,
				diskGB: tt.diskGB,
			})

			profile, err := profiler.Detect(context.Background(), "/opt/app")
			if err != nil {
				t.Fatalf("Detect returned error: %v", err)
			}
			if profile.Fallback {
				t.Error("expected non-fallback profile")
			}
			if profile.Sizing.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", profile.Sizing.Tier, tt.wantTier)
			}
			if profile.Sizing.WorkerCount != tt.wantWorkers {
				t.Errorf("worker count = %d, want %d", profile.Sizing.WorkerCount, tt.wantWorkers)
			}
			if profile.Sizing.CacheSizeMB != tt.wantCacheMB {
				t.Errorf("cache size = %d, want %d", profile.Sizing.CacheSizeMB, tt.wantCacheMB)
			}
		})
	}
}

func TestDetect_MonotonicInRAM(t *testing.T) {
	logger := testLogger(t)

	prevWorkers := 0
	prevCache := 0
	for memMB := int64(1024); memMB <= 16384; memMB += 256 {
		profiler := NewProfiler(logger, &fakeQuerier{cores: 4, memMB: memMB, diskGB: 100})
		profile, err := profiler.Detect(context.Background(), "/opt/app")
		if err != nil {
			t.Fatalf("Detect(%d MB) returned error: %v", memMB, err)
		}

		if profile.Sizing.WorkerCount < prevWorkers {
			t.Fatalf("worker count decreased at %d MB: %d < %d", memMB, profile.Sizing.WorkerCount, prevWorkers)
		}
		if profile.Sizing.CacheSizeMB < prevCache {
			t.Fatalf("cache size decreased at %d MB: %d < %d", memMB, profile.Sizing.CacheSizeMB, prevCache)
		}
		prevWorkers = profile.Sizing.WorkerCount
		prevCache = profile.Sizing.CacheSizeMB
	}
}

func TestDetect_QueryFailureFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		querier *fakeQuerier
	}{
		{"cpu query fails", &fakeQuerier{cpuErr: errors.New("proc unavailable")}},
		{"memory query fails", &fakeQuerier{cores: 4, memErr: errors.New("proc unavailable")}},
		{"disk query fails", &fakeQuerier{cores: 4, memMB: 8192, diskErr: errors.New("statfs failed")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiler := NewProfiler(testLogger(t), tt.querier)

			profile, err := profiler.Detect(context.Background(), "/opt/app")
			if err == nil {
				t.Fatal("expected error from failed query")
			}
			if !fault.IsProfileQuery(err) {
				t.Errorf("expected profile query fault, got %v", err)
			}
			if !profile.Fallback {
				t.Error("expected fallback profile")
			}
			if profile.Sizing.Tier != TierLow {
				t.Errorf("fallback tier = %s, want %s", profile.Sizing.Tier, TierLow)
			}
			if profile.Sizing.WorkerCount != 2 || profile.Sizing.CacheSizeMB != 1024 {
				t.Errorf("fallback sizing = %+v, want minimum", profile.Sizing)
			}
		})
	}
}

func TestSizing_WithOverrides(t *testing.T) {
	base := sizingTable[TierMedium]

	overridden := base.WithOverrides(16, 8192)
	if overridden.WorkerCount != 16 {
		t.Errorf("worker count = %d, want 16", overridden.WorkerCount)
	}
	if overridden.CacheSizeMB != 8192 {
		t.Errorf("cache size = %d, want 8192", overridden.CacheSizeMB)
	}
	if overridden.Tier != TierMedium {
		t.Errorf("tier changed to %s", overridden.Tier)
	}

	untouched := base.WithOverrides(0, 0)
	if untouched != base {
		t.Errorf("zero overrides changed sizing: %+v", untouched)
	}

	clamped := base.WithOverrides(1, 512)
	if clamped.WorkerCount != 2 {
		t.Errorf("worker count = %d, want low-tier floor 2", clamped.WorkerCount)
	}
	if clamped.CacheSizeMB != 1024 {
		t.Errorf("cache size = %d, want low-tier floor 1024", clamped.CacheSizeMB)
	}
}

func TestSystemQuerier_Proc(t *testing.T) {
	dir := t.TempDir()

	cpuinfo := "processor\t: 0\nmodel name\t: Test CPU\nprocessor\t: 1\n"
	if err := os.WriteFile(filepath.Join(dir, "cpuinfo"), []byte(cpuinfo), 0644); err != nil {
		t.Fatalf("failed to write cpuinfo: %v", err)
	}

	meminfo := "MemTotal:        8167848 kB\nMemFree:          189308 kB\n"
	if err := os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0644); err != nil {
		t.Fatalf("failed to write meminfo: %v", err)
	}

	q := &systemQuerier{procPath: dir}

	cores, err := q.CPUCores()
	if err != nil {
		t.Fatalf("CPUCores returned error: %v", err)
	}
	if cores != 2 {
		t.Errorf("cores = %d, want 2", cores)
	}

	memMB, err := q.MemoryTotalMB()
	if err != nil {
		t.Fatalf("MemoryTotalMB returned error: %v", err)
	}
	if memMB != 8167848/1024 {
		t.Errorf("memMB = %d, want %d", memMB, 8167848/1024)
	}
}

func TestSystemQuerier_DiskFreeWalksToExistingParent(t *testing.T) {
	dir := t.TempDir()
	q := &systemQuerier{procPath: "/proc"}

	free, err := q.DiskFreeGB(filepath.Join(dir, "not", "created", "yet"))
	if err != nil {
		t.Fatalf("DiskFreeGB returned error: %v", err)
	}
	if free < 0 {
		t.Errorf("free = %d, want non-negative", free)
	}
}

func TestWriteEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.env")

	profile := &Profile{Sizing: sizingTable[TierHigh]}
	if err := WriteEnvFile(path, profile); err != nil {
		t.Fatalf("WriteEnvFile returned error: %v", err)
	}

	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read env file: %v", err)
	}

	content := string(first)
	for _, want := range []string{"RESOURCE_TIER=high", "WORKER_COUNT=8", "CACHE_SIZE_MB=4096"} {
		if !strings.Contains(content, want) {
			t.Errorf("env file missing %q:\n%s", want, content)
		}
	}

	// Rewriting the same profile must produce identical content.
	if err := WriteEnvFile(path, profile); err != nil {
		t.Fatalf("second WriteEnvFile returned error: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to re-read env file: %v", err)
	}
	if string(first) != string(second) {
		t.Error("env file content changed on identical rewrite")
	}
}
