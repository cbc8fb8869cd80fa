package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("stats record not found")

// RunState mirrors the run_stats status column.
type RunState string

// Run states persisted in run_stats.status.
const (
	RunRunning RunState = "running"
	RunSuccess RunState = "success"
	RunError   RunState = "error"
)

// RunStats models the run_stats table for API responses.
type RunStats struct {
	// RunID is the logical run identifier shared with workers.
	RunID uuid.UUID
	// Model is the model ID the run executed.
	Model string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunState
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Tables counts result tables from the run's evaluation.
	Tables int64
	// Cells counts workbook cells evaluated.
	Cells int64
	// FormulaErrors counts formula evaluation failures.
	FormulaErrors int64
}

// StatsRepository persists incremental run telemetry.
type StatsRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, model string, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunState, errMsg *string) error
	// UpsertEvalStats applies table/cell/error deltas per run.
	UpsertEvalStats(
		ctx context.Context,
		runID uuid.UUID,
		model string,
		deltaTables int64,
		deltaCells int64,
		deltaErrors int64,
		at time.Time,
	) error

	// GetRun loads a single run's stats or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunStats, error)
	// ListRuns returns run stats filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunState, limit, offset int) ([]RunStats, error)
}
