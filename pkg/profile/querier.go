package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Querier answers the resource questions the profiler asks. Tests substitute
// a fake to drive the tier lookup.
type Querier interface {
	CPUCores() (int, error)
	MemoryTotalMB() (int64, error)
	DiskFreeGB(path string) (int64, error)
}

// systemQuerier reads /proc and statfs on the local host.
type systemQuerier struct {
	procPath string
}

// NewSystemQuerier creates a querier for the local host.
func NewSystemQuerier() Querier {
	return &systemQuerier{procPath: "/proc"}
}

// CPUCores counts processor entries in /proc/cpuinfo.
func (q *systemQuerier) CPUCores() (int, error) {
	data, err := os.ReadFile(filepath.Join(q.procPath, "cpuinfo"))
	if err != nil {
		return 0, fmt.Errorf("failed to read cpuinfo: %w", err)
	}

	cores := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "processor") {
			cores++
		}
	}
	if cores == 0 {
		return 0, fmt.Errorf("no processor entries in cpuinfo")
	}
	return cores, nil
}

// MemoryTotalMB reads MemTotal from /proc/meminfo.
func (q *systemQuerier) MemoryTotalMB() (int64, error) {
	data, err := os.ReadFile(filepath.Join(q.procPath, "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("failed to read meminfo: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "MemTotal:" {
			kb, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("failed to parse MemTotal %q: %w", fields[1], err)
			}
			return kb / 1024, nil
		}
	}
	return 0, fmt.Errorf("MemTotal not present in meminfo")
}

// DiskFreeGB reports the space available to unprivileged users on the
// filesystem holding path. It walks up to the nearest existing parent so a
// not-yet-created install path can still be sized.
func (q *systemQuerier) DiskFreeGB(path string) (int64, error) {
	target := path
	for {
		if _, err := os.Stat(target); err == nil {
			break
		}
		parent := filepath.Dir(target)
		if parent == target {
			break
		}
		target = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", target, err)
	}

	// Bavail counts blocks available to unprivileged users, which is what
	// the deployed services actually get.
	free := int64(st.Bavail) * st.Bsize
	return free / (1024 * 1024 * 1024), nil
}
