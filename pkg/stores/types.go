package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunKind distinguishes the three ways a run is started.
type RunKind string

const (
	RunKindSetup       RunKind = "setup"
	RunKindDiagnostic  RunKind = "diagnostic"
	RunKindMaintenance RunKind = "maintenance"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// Run represents one setup, diagnostic, or maintenance execution.
type Run struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	Cadence     *string    `json:"cadence,omitempty"`
	Status      RunStatus  `json:"status"`
	Verdict     *string    `json:"verdict,omitempty"`
	Summary     *string    `json:"summary,omitempty"` // JSON blob
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepResult is the persisted trace of one setup step.
type StepResult struct {
	ID           int64      `json:"id"`
	RunID        string     `json:"run_id"`
	StepID       string     `json:"step_id"`
	Ordinal      int        `json:"ordinal"`
	Criticality  string     `json:"criticality"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	Verification *string    `json:"verification,omitempty"` // JSON blob
	Error        *string    `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
}

// ProbeResult is one persisted service health observation. One row per
// service per run, recording the run's final view of the service.
type ProbeResult struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// Remediation is one persisted remediation outcome.
type Remediation struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Service    string    `json:"service"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Actions    string    `json:"actions"` // JSON array of action names
	Detail     *string   `json:"detail,omitempty"`
	AppliedAt  time.Time `json:"applied_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Report is a persisted rendered diagnostic report.
type Report struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Verdict     string    `json:"verdict"`
	Escalated   bool      `json:"escalated"`
	Payload     string    `json:"payload"` // report JSON
	GeneratedAt time.Time `json:"generated_at"`
}

// ScheduleState is the persisted per-cadence bookkeeping that backs
// catch-up and overlap deferral across restarts.
type ScheduleState struct {
	Cadence    string     `json:"cadence"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus *string    `json:"last_status,omitempty"`
	Deferred   bool       `json:"deferred"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, verdict, summary, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	LatestRun(ctx context.Context, kind *RunKind) (*Run, error)

	// Step trace operations
	CreateStepResult(ctx context.Context, step *StepResult) error
	ListStepResultsByRun(ctx context.Context, runID string) ([]*StepResult, error)

	// Probe history operations
	CreateProbeResult(ctx context.Context, probe *ProbeResult) error
	ListProbeResults(ctx context.Context, service string, limit int) ([]*ProbeResult, error)
	ConsecutiveUnreachable(ctx context.Context, service string, limit int) (int, error)

	// Remediation operations
	CreateRemediation(ctx context.Context, rem *Remediation) error
	ListRemediationsByRun(ctx context.Context, runID string) ([]*Remediation, error)

	// Report operations
	SaveReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	GetReportByRun(ctx context.Context, runID string) (*Report, error)
	LatestReport(ctx context.Context) (*Report, error)

	// Schedule state operations
	GetScheduleState(ctx context.Context, cadence string) (*ScheduleState, error)
	MarkScheduleRun(ctx context.Context, cadence string, at time.Time, status string) error
	MarkScheduleDeferred(ctx context.Context, cadence string) error

	// Retention
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
