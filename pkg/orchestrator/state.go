package orchestrator

import (
	"context"
	"time"

	"github.com/stackmedic/stackmedic/pkg/schedule"
	"github.com/stackmedic/stackmedic/pkg/stores"
)

// scheduleState adapts the persistence layer to the scheduler's state
// interface. On-demand cycles have no boundary to track, so marking them is
// a no-op.
type scheduleState struct {
	store stores.Store
}

func newScheduleState(store stores.Store) *scheduleState {
	return &scheduleState{store: store}
}

func (s *scheduleState) LastRun(ctx context.Context, cadence schedule.Cadence) (time.Time, bool, error) {
	state, err := s.store.GetScheduleState(ctx, string(cadence))
	if err != nil {
		return time.Time{}, false, err
	}
	if state == nil || state.LastRunAt == nil {
		return time.Time{}, false, nil
	}
	return *state.LastRunAt, true, nil
}

func (s *scheduleState) MarkRun(ctx context.Context, cadence schedule.Cadence, at time.Time, status string) error {
	if cadence == schedule.CadenceOnDemand {
		return nil
	}
	return s.store.MarkScheduleRun(ctx, string(cadence), at, status)
}

func (s *scheduleState) MarkDeferred(ctx context.Context, cadence schedule.Cadence) error {
	if cadence == schedule.CadenceOnDemand {
		return nil
	}
	return s.store.MarkScheduleDeferred(ctx, string(cadence))
}
