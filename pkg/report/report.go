// Package report aggregates probe results and remediation outcomes into an
// operator-facing diagnostic report and renders it as JSON, HTML, or text.
package report

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/profile"
	"github.com/stackmedic/stackmedic/pkg/remedy"
)

// Report is the operator-facing record of one diagnostic pass.
type Report struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Cadence string `json:"cadence,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`

	// Verdict is the worst status observed across all services.
	Verdict probe.Status `json:"verdict"`

	// Escalated is set when a service has been unreachable for more
	// consecutive cycles than the configured threshold allows.
	Escalated bool `json:"escalated,omitempty"`

	// Services holds the probe results ordered by service name.
	Services []probe.Result `json:"services"`

	// Remediations holds the remediation outcomes from this pass.
	Remediations []remedy.Outcome `json:"remediations,omitempty"`

	// Profile is the host resource profile snapshot, when one was taken.
	Profile *profile.Profile `json:"profile,omitempty"`

	Duration time.Duration `json:"duration,omitempty"`
}

// Build assembles a report from one diagnostic pass. It only rearranges what
// it is given; nothing is probed or remediated here. Run metadata such as the
// run ID and cadence is attached by the caller.
func Build(results map[string]probe.Result, outcomes []remedy.Outcome, prof *profile.Profile) *Report {
	services := make([]probe.Result, 0, len(results))
	for _, r := range results {
		services = append(services, r)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Service < services[j].Service
	})

	return &Report{
		ID:           uuid.NewString(),
		GeneratedAt:  time.Now(),
		Verdict:      Verdict(results),
		Services:     services,
		Remediations: outcomes,
		Profile:      prof,
	}
}

// Verdict returns the worst observed status, with unreachable worse than
// degraded worse than healthy. Unknown results carry no evidence and are
// excluded; a pass with only unknown results has verdict unknown.
func Verdict(results map[string]probe.Result) probe.Status {
	verdict := probe.StatusUnknown
	for _, r := range results {
		if r.Status == probe.StatusUnknown {
			continue
		}
		if verdict == probe.StatusUnknown {
			verdict = r.Status
			continue
		}
		verdict = probe.Worse(verdict, r.Status)
	}
	return verdict
}

// Summary is the per-status service count.
type Summary struct {
	Healthy     int `json:"healthy"`
	Degraded    int `json:"degraded"`
	Unreachable int `json:"unreachable"`
	Unknown     int `json:"unknown"`
}

// Summary counts services by status.
func (r *Report) Summary() Summary {
	var s Summary
	for _, res := range r.Services {
		switch res.Status {
		case probe.StatusHealthy:
			s.Healthy++
		case probe.StatusDegraded:
			s.Degraded++
		case probe.StatusUnreachable:
			s.Unreachable++
		default:
			s.Unknown++
		}
	}
	return s
}

// Healthy reports whether every service with evidence is healthy.
func (r *Report) Healthy() bool {
	return r.Verdict == probe.StatusHealthy
}
