// Package profile detects host resources and derives sizing parameters for
// the managed services. Detection reads /proc and statfs on the local host;
// the tier lookup is a fixed-threshold table so identical hosts always size
// identically.
package profile

import (
	"context"
	"time"

	"github.com/stackmedic/stackmedic/pkg/fault"
	"github.com/stackmedic/stackmedic/pkg/telemetry"
)

// Tier classifies a host into one of three fixed capability bands.
type Tier string

const (
	// TierLow is the conservative minimum, also used as the fallback when
	// resource queries fail.
	TierLow Tier = "low"

	// TierMedium fits hosts with 4 to 8 GB of RAM.
	TierMedium Tier = "medium"

	// TierHigh fits hosts with 8 GB of RAM or more.
	TierHigh Tier = "high"
)

// Fixed thresholds for the tier lookup.
const (
	mediumRAMGB = 4
	highRAMGB   = 8

	// Hosts below these floors are forced to the low tier regardless of RAM.
	minCPUCores   = 2
	minDiskFreeGB = 5
)

// sizingTable maps each tier to its derived parameters.
var sizingTable = map[Tier]Sizing{
	TierLow:    {Tier: TierLow, WorkerCount: 2, CacheSizeMB: 1024},
	TierMedium: {Tier: TierMedium, WorkerCount: 4, CacheSizeMB: 2048},
	TierHigh:   {Tier: TierHigh, WorkerCount: 8, CacheSizeMB: 4096},
}

// HostResources contains the detected host resources.
type HostResources struct {
	CPUCores   int   `json:"cpu_cores"`
	MemTotalMB int64 `json:"mem_total_mb"`
	DiskFreeGB int64 `json:"disk_free_gb"`
}

// RAMGB returns total memory rounded to the nearest gigabyte. Physical 8 GB
// hosts report slightly less than 8192 MB after kernel reservations, so the
// tier lookup uses the rounded value.
func (r HostResources) RAMGB() int64 {
	return (r.MemTotalMB + 512) / 1024
}

// Sizing contains the parameters derived from a tier.
type Sizing struct {
	Tier        Tier `json:"tier"`
	WorkerCount int  `json:"worker_count"`
	CacheSizeMB int  `json:"cache_size_mb"`
}

// WithOverrides returns a copy of the sizing with explicit operator overrides
// applied. Zero values leave the derived parameters untouched; overrides below
// the low-tier floor are raised to it.
func (s Sizing) WithOverrides(workerCount, cacheSizeMB int) Sizing {
	low := sizingTable[TierLow]
	if workerCount > 0 {
		s.WorkerCount = max(workerCount, low.WorkerCount)
	}
	if cacheSizeMB > 0 {
		s.CacheSizeMB = max(cacheSizeMB, low.CacheSizeMB)
	}
	return s
}

// Profile is the result of a detection pass.
type Profile struct {
	Resources   HostResources `json:"resources"`
	Sizing      Sizing        `json:"sizing"`
	Fallback    bool          `json:"fallback,omitempty"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Profiler detects host resources and sizes the deployment.
type Profiler struct {
	querier Querier
	logger  *telemetry.Logger
}

// NewProfiler creates a profiler backed by the given querier. A nil querier
// selects the local-host querier.
func NewProfiler(logger *telemetry.Logger, querier Querier) *Profiler {
	if querier == nil {
		querier = NewSystemQuerier()
	}
	return &Profiler{
		querier: querier,
		logger:  logger.NewComponentLogger("profile"),
	}
}

// Detect queries the host and derives sizing parameters. It always returns a
// usable profile: when a resource query fails the profile falls back to the
// low-tier minimum and the returned error reports why.
func (p *Profiler) Detect(ctx context.Context, installPath string) (*Profile, error) {
	cores, err := p.querier.CPUCores()
	if err != nil {
		return p.fallback(), fault.NewProfileQuery("cpu core count unavailable", err)
	}

	memMB, err := p.querier.MemoryTotalMB()
	if err != nil {
		return p.fallback(), fault.NewProfileQuery("total memory unavailable", err)
	}

	diskGB, err := p.querier.DiskFreeGB(installPath)
	if err != nil {
		return p.fallback(), fault.NewProfileQuery("free disk space unavailable", err)
	}

	res := HostResources{
		CPUCores:   cores,
		MemTotalMB: memMB,
		DiskFreeGB: diskGB,
	}

	tier := tierForRAM(res.RAMGB())
	tier = capTier(tier, res.CPUCores, res.DiskFreeGB)

	p.logger.WithFields(map[string]interface{}{
		"cpu_cores":    res.CPUCores,
		"ram_gb":       res.RAMGB(),
		"disk_free_gb": res.DiskFreeGB,
		"tier":         string(tier),
	}).Info("Host profile detected")

	return &Profile{
		Resources:   res,
		Sizing:      sizingTable[tier],
		CollectedAt: time.Now(),
	}, nil
}

// fallback returns the conservative minimum profile.
func (p *Profiler) fallback() *Profile {
	p.logger.Warn("Resource query failed, falling back to minimum sizing")
	return &Profile{
		Sizing:      sizingTable[TierLow],
		Fallback:    true,
		CollectedAt: time.Now(),
	}
}

// tierForRAM performs the fixed-threshold lookup on rounded RAM.
func tierForRAM(ramGB int64) Tier {
	switch {
	case ramGB >= highRAMGB:
		return TierHigh
	case ramGB >= mediumRAMGB:
		return TierMedium
	default:
		return TierLow
	}
}

// capTier forces hosts below the CPU or disk floor down to the low tier.
// Floors only ever lower the tier, never raise it.
func capTier(tier Tier, cpuCores int, diskFreeGB int64) Tier {
	if cpuCores < minCPUCores || diskFreeGB < minDiskFreeGB {
		return TierLow
	}
	return tier
}
