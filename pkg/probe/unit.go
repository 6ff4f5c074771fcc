package probe

import (
	"context"
	"fmt"
	"time"
)

// UnitStater reports the systemd activation state of a unit. Implemented by
// the service manager in pkg/system.
type UnitStater interface {
	ActiveState(ctx context.Context, unit string) (string, error)
}

// UnitProbe checks that a systemd unit is active. Transitional states
// (activating, reloading) count as degraded; inactive and failed count as
// unreachable.
type UnitProbe struct {
	service string
	unit    string
	stater  UnitStater
}

// NewUnitProbe creates a probe for a systemd unit.
func NewUnitProbe(service, unit string, stater UnitStater) *UnitProbe {
	return &UnitProbe{
		service: service,
		unit:    unit,
		stater:  stater,
	}
}

// Service returns the service name this probe checks.
func (p *UnitProbe) Service() string {
	return p.service
}

// Check queries the unit activation state.
func (p *UnitProbe) Check(ctx context.Context) Result {
	start := time.Now()

	state, err := p.stater.ActiveState(ctx, p.unit)
	if err != nil {
		return unreachable(p.service, start, err)
	}

	var status Status
	switch state {
	case "active":
		status = StatusHealthy
	case "activating", "reloading":
		status = StatusDegraded
	default:
		status = StatusUnreachable
	}

	return Result{
		Service:   p.service,
		Status:    status,
		Latency:   time.Since(start),
		Message:   fmt.Sprintf("unit %s is %s", p.unit, state),
		CheckedAt: start,
	}
}

// ContainerStater reports the runtime state of a compose-managed container.
// Implemented by the compose runtime in pkg/system.
type ContainerStater interface {
	ContainerState(ctx context.Context, service string) (string, error)
}

// ContainerProbe checks that a compose service's container is running.
type ContainerProbe struct {
	service string
	target  string
	stater  ContainerStater
}

// NewContainerProbe creates a probe for a compose service. Target is the
// compose service name, which may differ from the managed service name.
func NewContainerProbe(service, target string, stater ContainerStater) *ContainerProbe {
	return &ContainerProbe{
		service: service,
		target:  target,
		stater:  stater,
	}
}

// Service returns the service name this probe checks.
func (p *ContainerProbe) Service() string {
	return p.service
}

// Check inspects the container state.
func (p *ContainerProbe) Check(ctx context.Context) Result {
	start := time.Now()

	state, err := p.stater.ContainerState(ctx, p.target)
	if err != nil {
		return unreachable(p.service, start, err)
	}

	var status Status
	switch state {
	case "running":
		status = StatusHealthy
	case "restarting":
		status = StatusDegraded
	default:
		status = StatusUnreachable
	}

	return Result{
		Service:   p.service,
		Status:    status,
		Latency:   time.Since(start),
		Message:   fmt.Sprintf("container %s is %s", p.target, state),
		CheckedAt: start,
	}
}
