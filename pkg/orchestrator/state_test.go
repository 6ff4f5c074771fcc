package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stackmedic/stackmedic/pkg/schedule"
)

func TestScheduleState_RoundTrip(t *testing.T) {
	store := testStore(t)
	state := newScheduleState(store)
	ctx := context.Background()

	if _, ok, err := state.LastRun(ctx, schedule.CadenceDaily); err != nil || ok {
		t.Fatalf("LastRun on a fresh store = ok=%v err=%v, want never ran", ok, err)
	}

	at := time.Date(2026, 3, 14, 3, 30, 0, 0, time.UTC)
	if err := state.MarkRun(ctx, schedule.CadenceDaily, at, "completed"); err != nil {
		t.Fatalf("MarkRun() error = %v", err)
	}

	got, ok, err := state.LastRun(ctx, schedule.CadenceDaily)
	if err != nil {
		t.Fatalf("LastRun() error = %v", err)
	}
	if !ok {
		t.Fatal("expected a recorded run")
	}
	if got.Unix() != at.Unix() {
		t.Errorf("last run = %v, want %v", got, at)
	}

	// Other cadences stay untouched.
	if _, ok, err := state.LastRun(ctx, schedule.CadenceWeekly); err != nil || ok {
		t.Errorf("weekly state = ok=%v err=%v, want never ran", ok, err)
	}
}

func TestScheduleState_DeferredOnlyFlagsCadence(t *testing.T) {
	store := testStore(t)
	state := newScheduleState(store)
	ctx := context.Background()

	if err := state.MarkDeferred(ctx, schedule.CadenceWeekly); err != nil {
		t.Fatalf("MarkDeferred() error = %v", err)
	}

	// Deferral carries no completion time.
	if _, ok, err := state.LastRun(ctx, schedule.CadenceWeekly); err != nil || ok {
		t.Errorf("deferred cadence = ok=%v err=%v, want no completed run", ok, err)
	}

	row, err := store.GetScheduleState(ctx, "weekly")
	if err != nil {
		t.Fatalf("GetScheduleState() error = %v", err)
	}
	if row == nil || !row.Deferred {
		t.Errorf("row = %+v, want the deferred flag set", row)
	}
}

func TestScheduleState_OnDemandIsNotTracked(t *testing.T) {
	store := testStore(t)
	state := newScheduleState(store)
	ctx := context.Background()

	if err := state.MarkRun(ctx, schedule.CadenceOnDemand, time.Now(), "completed"); err != nil {
		t.Fatalf("MarkRun(on_demand) error = %v", err)
	}
	if err := state.MarkDeferred(ctx, schedule.CadenceOnDemand); err != nil {
		t.Fatalf("MarkDeferred(on_demand) error = %v", err)
	}

	row, err := store.GetScheduleState(ctx, "on_demand")
	if err != nil {
		t.Fatalf("GetScheduleState() error = %v", err)
	}
	if row != nil {
		t.Errorf("row = %+v, want no bookkeeping for on-demand cycles", row)
	}
}
