package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/epiworldlab/epirunner/internal/model"
)

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	run := model.Run{
		ID:        "0192a-uuid-v7",
		Status:    model.RunStatusQueued,
		Submitted: now,
		Parameters: model.RunParameters{
			ModelID:   "measles_outbreak",
			Overrides: map[string]string{"Number of cases": "100"},
		},
	}
	paramsJSON, err := json.Marshal(run.Parameters)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
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
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunStatusNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	mock.ExpectExec("UPDATE runs SET").
		WithArgs(
			model.RunStatusRunning,
			"",
			0,
			0,
			0,
			pgxmock.AnyArg(),
			"missing",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM runs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err = store.UpdateRunStatus(context.Background(), "missing", model.RunStatusRunning, "", model.RunCounters{})
	require.ErrorIs(t, err, model.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunStatusRefusesTerminalRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	// The canceled row is excluded by the status guard, so the update
	// touches nothing and the status check reports the terminal state.
	mock.ExpectExec("UPDATE runs SET").
		WithArgs(
			model.RunStatusRunning,
			"",
			0,
			0,
			0,
			pgxmock.AnyArg(),
			"run-1",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM runs").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(model.RunStatusCanceled))

	err = store.UpdateRunStatus(context.Background(), "run-1", model.RunStatusRunning, "", model.RunCounters{})
	require.ErrorIs(t, err, model.ErrRunFinished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordResultUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := model.ResultRecord{
		RunID: "run-1",
		Result: model.Result{
			Title: "Measles Outbreak",
			Sections: []model.Section{
				{Title: "Results", Blocks: []model.Block{{Text: "done"}}},
			},
		},
		ArtifactURI: "gs://bucket/runs/run-1/result.json",
		ContentHash: "abc123",
		CreatedAt:   now,
	}
	resultJSON, err := json.Marshal(rec.Result)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs_results").
		WithArgs(rec.RunID, resultJSON, rec.ArtifactURI, rec.ContentHash, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordResult(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansParameters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	paramsJSON := []byte(`{"model_id":"tb_isolation","params":{"Number of individuals exposed":"50"}}`)

	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted_at", "started_at", "finished_at", "error_text",
		"parameters", "tables_built", "cells_evaluated", "formula_errors",
	}).AddRow(
		"run-1", model.RunStatusSucceeded, now, &now, &now, "",
		paramsJSON, 2, 64, 0,
	)
	mock.ExpectQuery("SELECT id, status, submitted_at").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "tb_isolation", run.Parameters.ModelID)
	require.Equal(t, "50", run.Parameters.Overrides["Number of individuals exposed"])
	require.Equal(t, 2, run.Counters.TablesBuilt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, status, submitted_at").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "submitted_at", "started_at", "finished_at", "error_text",
			"parameters", "tables_built", "cells_evaluated", "formula_errors",
		}))

	_, err = store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrRunNotFound)
}

func TestNewRunStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE runs")
	require.Error(t, err)

	_, err = NewRunStoreWithPool(nil, "runs")
	require.Error(t, err)
}
