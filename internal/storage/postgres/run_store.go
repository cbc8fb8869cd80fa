// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epiworldlab/epirunner/internal/model"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore persists run metadata and result records in Postgres.
type RunStore struct {
	pool         pgxPool
	table        string
	resultsTable string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRunStoreWithPool(pool, cfg.Table)
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool pgxPool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{
		pool:         pool,
		table:        table,
		resultsTable: table + "_results",
	}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run model.Run) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	paramsJSON, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("marshal run parameters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	model_id,
	status,
	submitted_at,
	started_at,
	finished_at,
	error_text,
	parameters,
	tables_built,
	cells_evaluated,
	formula_errors
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		run.ID,
		run.Parameters.ModelID,
		run.Status,
		run.Submitted,
		run.Started,
		run.Finished,
		run.ErrorText,
		paramsJSON,
		run.Counters.TablesBuilt,
		run.Counters.CellsEvaluated,
		run.Counters.FormulaErrors,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus transitions a run and persists its counters. Running sets
// started_at once; terminal statuses set finished_at.
func (s *RunStore) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status model.RunStatus,
	errText string,
	counters model.RunCounters,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1,
	error_text = $2,
	tables_built = $3,
	cells_evaluated = $4,
	formula_errors = $5,
	started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, $6) ELSE started_at END,
	finished_at = CASE WHEN $1 IN ('succeeded','failed','canceled') THEN $6 ELSE finished_at END
WHERE id = $7 AND status NOT IN ('succeeded','failed','canceled')`, s.table)

	tag, err := s.pool.Exec(
		ctx,
		query,
		status,
		errText,
		counters.TablesBuilt,
		counters.CellsEvaluated,
		counters.FormulaErrors,
		time.Now().UTC(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the run does not exist or it already reached a
		// terminal state; tell the two apart for callers.
		check := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
		var current model.RunStatus
		if err := s.pool.QueryRow(ctx, check, runID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrRunNotFound
			}
			return fmt.Errorf("check run status: %w", err)
		}
		return model.ErrRunFinished
	}
	return nil
}

// RecordResult stores the result payload for a finished run.
func (s *RunStore) RecordResult(ctx context.Context, rec model.ResultRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, result, artifact_uri, content_hash, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (run_id) DO UPDATE SET
	result = EXCLUDED.result,
	artifact_uri = EXCLUDED.artifact_uri,
	content_hash = EXCLUDED.content_hash,
	created_at = EXCLUDED.created_at`, s.resultsTable)

	args := []any{rec.RunID, resultJSON, rec.ArtifactURI, rec.ContentHash, rec.CreatedAt}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetRun fetches a single run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (model.Run, error) {
	if s == nil || s.pool == nil {
		return model.Run{}, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters,
	tables_built, cells_evaluated, formula_errors
FROM %s WHERE id = $1`, s.table)

	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, model.ErrRunNotFound
		}
		return model.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// GetResult fetches the stored result record for a run.
func (s *RunStore) GetResult(ctx context.Context, runID string) (model.ResultRecord, error) {
	if s == nil || s.pool == nil {
		return model.ResultRecord{}, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
SELECT run_id, result, artifact_uri, content_hash, created_at
FROM %s WHERE run_id = $1`, s.resultsTable)

	var rec model.ResultRecord
	var resultJSON []byte
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&rec.RunID,
		&resultJSON,
		&rec.ArtifactURI,
		&rec.ContentHash,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ResultRecord{}, model.ErrResultNotFound
		}
		return model.ResultRecord{}, fmt.Errorf("get result: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return model.ResultRecord{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return rec, nil
}

// ListRuns returns runs ordered by submission time, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]model.Run, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("run store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters,
	tables_built, cells_evaluated, formula_errors
FROM %s
ORDER BY submitted_at DESC
LIMIT $1 OFFSET $2`, s.table)

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (model.Run, error) {
	var run model.Run
	var paramsJSON []byte
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&paramsJSON,
		&run.Counters.TablesBuilt,
		&run.Counters.CellsEvaluated,
		&run.Counters.FormulaErrors,
	)
	if err != nil {
		return model.Run{}, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &run.Parameters); err != nil {
			return model.Run{}, fmt.Errorf("unmarshal run parameters: %w", err)
		}
	}
	return run, nil
}
