package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stackmedic/stackmedic/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateRun demonstrates recording a diagnostic run.
func ExampleSQLiteStore_CreateRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Create a new run
	run := &stores.Run{
		ID:        "run-001",
		Kind:      stores.RunKindDiagnostic,
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	}

	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	// Mark it completed with the cycle verdict
	verdict := "healthy"
	if err := store.UpdateRunStatus(ctx, run.ID, stores.RunStatusCompleted, &verdict, nil, nil); err != nil {
		log.Fatal(err)
	}

	// Retrieve the run
	retrieved, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run ID: %s, Status: %s, Verdict: %s\n", retrieved.ID, retrieved.Status, *retrieved.Verdict)
	// Output: Run ID: run-001, Status: completed, Verdict: healthy
}

// ExampleSQLiteStore_ConsecutiveUnreachable demonstrates the escalation streak.
func ExampleSQLiteStore_ConsecutiveUnreachable() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	run := &stores.Run{
		ID:        "run-002",
		Kind:      stores.RunKindMaintenance,
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	}
	_ = store.CreateRun(ctx, run)

	// Record three cycles of observations for the database service
	for _, status := range []string{"healthy", "unreachable", "unreachable"} {
		probe := &stores.ProbeResult{
			RunID:   run.ID,
			Service: "database",
			Status:  status,
			Message: "tcp connect",
		}
		if err := store.CreateProbeResult(ctx, probe); err != nil {
			log.Fatal(err)
		}
	}

	streak, err := store.ConsecutiveUnreachable(ctx, "database", 10)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Consecutive unreachable cycles: %d\n", streak)
	// Output: Consecutive unreachable cycles: 2
}

// ExampleSQLiteStore_MarkScheduleRun demonstrates cadence bookkeeping.
func ExampleSQLiteStore_MarkScheduleRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	at := time.Date(2026, 8, 25, 3, 30, 0, 0, time.UTC)
	if err := store.MarkScheduleRun(ctx, "daily", at, "completed"); err != nil {
		log.Fatal(err)
	}

	state, err := store.GetScheduleState(ctx, "daily")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Cadence %s last ran at %s (%s)\n",
		state.Cadence, state.LastRunAt.Format("2006-01-02 15:04"), *state.LastStatus)
	// Output: Cadence daily last ran at 2026-08-25 03:30 (completed)
}
