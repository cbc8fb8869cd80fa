package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epiworldlab/epirunner/internal/store"
)

// StatsStore implements the store.StatsRepository interface using Postgres.
type StatsStore struct {
	pool pgxPool
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(ctx context.Context, dsn string) (*StatsStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &StatsStore{pool: pool}, nil
}

// NewStatsStoreWithPool constructs a StatsStore from an existing pool (primarily for testing).
func NewStatsStoreWithPool(pool pgxPool) (*StatsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StatsStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *StatsStore) Close() {
	s.pool.Close()
}

// UpsertRunStart inserts or updates a run's start time.
func (s *StatsStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, model string, startedAt time.Time) error {
	query := `
		INSERT INTO run_stats (run_id, model, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status, model = EXCLUDED.model
		WHERE run_stats.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, runID, model, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as completed with a status and optional error message.
func (s *StatsStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunState,
	errMsg *string,
) error {
	query := `
		UPDATE run_stats
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpsertEvalStats applies evaluation counter deltas for a run.
func (s *StatsStore) UpsertEvalStats(
	ctx context.Context,
	runID uuid.UUID,
	model string,
	deltaTables int64,
	deltaCells int64,
	deltaErrors int64,
	at time.Time,
) error {
	query := `
		UPDATE run_stats
		SET tables = tables + $1,
			cells = cells + $2,
			formula_errors = formula_errors + $3,
			last_update = $4
		WHERE run_id = $5;
	`
	res, err := s.pool.Exec(ctx, query, deltaTables, deltaCells, deltaErrors, at, runID)
	if err != nil {
		return fmt.Errorf("failed to update eval stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		query = `
			INSERT INTO run_stats (run_id, model, started_at, status, last_update, tables, cells, formula_errors)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id) DO NOTHING;
		`
		_, err = s.pool.Exec(
			ctx,
			query,
			runID,
			model,
			at,
			store.RunRunning,
			at,
			deltaTables,
			deltaCells,
			deltaErrors,
		)
		if err != nil {
			return fmt.Errorf("failed to insert eval stats: %w", err)
		}
	}
	return nil
}

// GetRun retrieves stats for a single run by its ID.
func (s *StatsStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunStats, error) {
	query := `
		SELECT run_id, model, started_at, finished_at, status, error_message, tables, cells, formula_errors
		FROM run_stats
		WHERE run_id = $1;
	`
	var stats store.RunStats
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&stats.RunID,
		&stats.Model,
		&stats.StartedAt,
		&stats.FinishedAt,
		&stats.Status,
		&stats.ErrorMessage,
		&stats.Tables,
		&stats.Cells,
		&stats.FormulaErrors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunStats{}, store.ErrNotFound
		}
		return store.RunStats{}, fmt.Errorf("failed to get run stats: %w", err)
	}
	return stats, nil
}

// ListRuns retrieves run stats, with optional status filtering.
func (s *StatsStore) ListRuns(
	ctx context.Context,
	status *store.RunState,
	limit,
	offset int,
) ([]store.RunStats, error) {
	query := `
		SELECT run_id, model, started_at, finished_at, status, error_message, tables, cells, formula_errors
		FROM run_stats
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run stats: %w", err)
	}
	defer rows.Close()

	var out []store.RunStats
	for rows.Next() {
		var stats store.RunStats
		err := rows.Scan(
			&stats.RunID,
			&stats.Model,
			&stats.StartedAt,
			&stats.FinishedAt,
			&stats.Status,
			&stats.ErrorMessage,
			&stats.Tables,
			&stats.Cells,
			&stats.FormulaErrors,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run stats row: %w", err)
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run stats rows: %w", err)
	}
	return out, nil
}
