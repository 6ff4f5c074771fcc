package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	query := `
		INSERT INTO runs (id, kind, cadence, status, verdict, summary, error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Cadence,
		run.Status,
		run.Verdict,
		run.Summary,
		run.Error,
		fmtTime(run.StartedAt),
		fmtTimePtr(run.CompletedAt),
		fmtTime(run.CreatedAt),
		fmtTime(run.UpdatedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, kind, cadence, status, verdict, summary, error, started_at, completed_at, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Kind,
		&run.Cadence,
		&run.Status,
		&run.Verdict,
		&run.Summary,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run. Terminal statuses stamp the
// completion time. Verdict, summary, and error overwrite the stored values.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, verdict, summary, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, verdict = ?, summary = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusAborted {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, verdict, summary, errMsg, fmtTimePtr(completedAt), fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, cadence, status, verdict, summary, error, started_at, completed_at, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Kind,
			&run.Cadence,
			&run.Status,
			&run.Verdict,
			&run.Summary,
			&run.Error,
			&run.StartedAt,
			&run.CompletedAt,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// LatestRun returns the most recent run, optionally filtered by kind
func (s *SQLiteStore) LatestRun(ctx context.Context, kind *RunKind) (*Run, error) {
	query := `
		SELECT id, kind, cadence, status, verdict, summary, error, started_at, completed_at, created_at, updated_at
		FROM runs
		WHERE (? IS NULL OR kind = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, kind, kind).Scan(
		&run.ID,
		&run.Kind,
		&run.Cadence,
		&run.Status,
		&run.Verdict,
		&run.Summary,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no runs recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return run, nil
}

// CreateStepResult appends a step trace record to a run
func (s *SQLiteStore) CreateStepResult(ctx context.Context, step *StepResult) error {
	query := `
		INSERT INTO step_results (run_id, step_id, ordinal, criticality, status, attempts, verification, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		step.RunID,
		step.StepID,
		step.Ordinal,
		step.Criticality,
		step.Status,
		step.Attempts,
		step.Verification,
		step.Error,
		fmtTimePtr(step.StartedAt),
		fmtTimePtr(step.CompletedAt),
		step.DurationMS,
	)

	if err != nil {
		return fmt.Errorf("failed to create step result: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get step result ID: %w", err)
	}

	step.ID = id
	return nil
}

// ListStepResultsByRun lists the step trace of a run in execution order
func (s *SQLiteStore) ListStepResultsByRun(ctx context.Context, runID string) ([]*StepResult, error) {
	query := `
		SELECT id, run_id, step_id, ordinal, criticality, status, attempts, verification, error, started_at, completed_at, duration_ms
		FROM step_results
		WHERE run_id = ?
		ORDER BY ordinal ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	steps := []*StepResult{}
	for rows.Next() {
		step := &StepResult{}
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.StepID,
			&step.Ordinal,
			&step.Criticality,
			&step.Status,
			&step.Attempts,
			&step.Verification,
			&step.Error,
			&step.StartedAt,
			&step.CompletedAt,
			&step.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step results: %w", err)
	}

	return steps, nil
}

// CreateProbeResult appends a probe observation to the history
func (s *SQLiteStore) CreateProbeResult(ctx context.Context, probe *ProbeResult) error {
	if probe.CheckedAt.IsZero() {
		probe.CheckedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO probe_results (run_id, service, status, latency_ms, message, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		probe.RunID,
		probe.Service,
		probe.Status,
		probe.LatencyMS,
		probe.Message,
		fmtTime(probe.CheckedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to create probe result: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get probe result ID: %w", err)
	}

	probe.ID = id
	return nil
}

// ListProbeResults lists the most recent observations for a service, newest first
func (s *SQLiteStore) ListProbeResults(ctx context.Context, service string, limit int) ([]*ProbeResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, run_id, service, status, latency_ms, message, checked_at
		FROM probe_results
		WHERE service = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list probe results: %w", err)
	}
	defer rows.Close()

	probes := []*ProbeResult{}
	for rows.Next() {
		probe := &ProbeResult{}
		err := rows.Scan(
			&probe.ID,
			&probe.RunID,
			&probe.Service,
			&probe.Status,
			&probe.LatencyMS,
			&probe.Message,
			&probe.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan probe result: %w", err)
		}
		probes = append(probes, probe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating probe results: %w", err)
	}

	return probes, nil
}

// ConsecutiveUnreachable counts the unbroken streak of unreachable
// observations at the head of a service's history, inspecting at most
// limit rows.
func (s *SQLiteStore) ConsecutiveUnreachable(ctx context.Context, service string, limit int) (int, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT status
		FROM probe_results
		WHERE service = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, service, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to query probe history: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, fmt.Errorf("failed to scan probe status: %w", err)
		}
		if status != "unreachable" {
			break
		}
		count++
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating probe history: %w", err)
	}

	return count, nil
}

// CreateRemediation records a remediation outcome
func (s *SQLiteStore) CreateRemediation(ctx context.Context, rem *Remediation) error {
	if rem.AppliedAt.IsZero() {
		rem.AppliedAt = time.Now().UTC()
	}
	if rem.Actions == "" {
		rem.Actions = "[]"
	}

	query := `
		INSERT INTO remediations (id, run_id, service, trigger_status, outcome, actions, detail, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rem.ID,
		rem.RunID,
		rem.Service,
		rem.Trigger,
		rem.Outcome,
		rem.Actions,
		rem.Detail,
		fmtTime(rem.AppliedAt),
		rem.DurationMS,
	)

	if err != nil {
		return fmt.Errorf("failed to create remediation: %w", err)
	}

	return nil
}

// ListRemediationsByRun lists the remediation outcomes of a run in the
// order they were recorded
func (s *SQLiteStore) ListRemediationsByRun(ctx context.Context, runID string) ([]*Remediation, error) {
	query := `
		SELECT id, run_id, service, trigger_status, outcome, actions, detail, applied_at, duration_ms
		FROM remediations
		WHERE run_id = ?
		ORDER BY rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list remediations: %w", err)
	}
	defer rows.Close()

	rems := []*Remediation{}
	for rows.Next() {
		rem := &Remediation{}
		err := rows.Scan(
			&rem.ID,
			&rem.RunID,
			&rem.Service,
			&rem.Trigger,
			&rem.Outcome,
			&rem.Actions,
			&rem.Detail,
			&rem.AppliedAt,
			&rem.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remediation: %w", err)
		}
		rems = append(rems, rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remediations: %w", err)
	}

	return rems, nil
}

// SaveReport persists a rendered report payload
func (s *SQLiteStore) SaveReport(ctx context.Context, report *Report) error {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO reports (id, run_id, verdict, escalated, payload, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		report.ID,
		report.RunID,
		report.Verdict,
		report.Escalated,
		report.Payload,
		fmtTime(report.GeneratedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	return nil
}

// GetReport retrieves a report by ID
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*Report, error) {
	query := `
		SELECT id, run_id, verdict, escalated, payload, generated_at
		FROM reports
		WHERE id = ?
	`

	report := &Report{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&report.ID,
		&report.RunID,
		&report.Verdict,
		&report.Escalated,
		&report.Payload,
		&report.GeneratedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return report, nil
}

// GetReportByRun retrieves the most recent report generated for a run
func (s *SQLiteStore) GetReportByRun(ctx context.Context, runID string) (*Report, error) {
	query := `
		SELECT id, run_id, verdict, escalated, payload, generated_at
		FROM reports
		WHERE run_id = ?
		ORDER BY rowid DESC
		LIMIT 1
	`

	report := &Report{}
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&report.ID,
		&report.RunID,
		&report.Verdict,
		&report.Escalated,
		&report.Payload,
		&report.GeneratedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no report for run: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return report, nil
}

// LatestReport returns the most recently saved report
func (s *SQLiteStore) LatestReport(ctx context.Context) (*Report, error) {
	query := `
		SELECT id, run_id, verdict, escalated, payload, generated_at
		FROM reports
		ORDER BY rowid DESC
		LIMIT 1
	`

	report := &Report{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&report.ID,
		&report.RunID,
		&report.Verdict,
		&report.Escalated,
		&report.Payload,
		&report.GeneratedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no reports recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	return report, nil
}

// GetScheduleState returns the bookkeeping row for a cadence, or nil if
// the cadence has never been recorded.
func (s *SQLiteStore) GetScheduleState(ctx context.Context, cadence string) (*ScheduleState, error) {
	query := `
		SELECT cadence, last_run_at, last_status, deferred, updated_at
		FROM schedule_state
		WHERE cadence = ?
	`

	state := &ScheduleState{}
	err := s.db.QueryRowContext(ctx, query, cadence).Scan(
		&state.Cadence,
		&state.LastRunAt,
		&state.LastStatus,
		&state.Deferred,
		&state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule state: %w", err)
	}

	return state, nil
}

// MarkScheduleRun records a completed or failed cycle for a cadence and
// clears any deferred flag.
func (s *SQLiteStore) MarkScheduleRun(ctx context.Context, cadence string, at time.Time, status string) error {
	query := `
		INSERT INTO schedule_state (cadence, last_run_at, last_status, deferred, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(cadence) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_status = excluded.last_status,
			deferred = 0,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, cadence, fmtTime(at), status, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}

	return nil
}

// MarkScheduleDeferred flags a cadence whose trigger fired while a cycle
// of the same cadence was still in flight.
func (s *SQLiteStore) MarkScheduleDeferred(ctx context.Context, cadence string) error {
	query := `
		INSERT INTO schedule_state (cadence, last_run_at, last_status, deferred, updated_at)
		VALUES (?, NULL, NULL, 1, ?)
		ON CONFLICT(cadence) DO UPDATE SET
			deferred = 1,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, cadence, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to mark schedule deferred: %w", err)
	}

	return nil
}

// Prune deletes runs that started before the retention window. Dependent
// step, probe, remediation, and report rows cascade. Returns the number
// of runs removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `DELETE FROM runs WHERE datetime(started_at) < datetime(?)`

	result, err := s.db.ExecContext(ctx, query, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// fmtTime formats a timestamp as a SQLite-compatible datetime string so
// SQL date functions and lexicographic ordering both work on the column
func fmtTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := fmtTime(*t)
	return &formatted
}
