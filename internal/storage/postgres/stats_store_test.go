package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/epiworldlab/epirunner/internal/store"
)

func TestUpsertRunStart(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stats, err := NewStatsStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO run_stats").
		WithArgs(runID, "measles_outbreak", now, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, stats.UpsertRunStart(context.Background(), runID, "measles_outbreak", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEvalStatsFallsBackToInsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stats, err := NewStatsStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE run_stats").
		WithArgs(int64(1), int64(40), int64(2), now, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO run_stats").
		WithArgs(runID, "tb_isolation", now, store.RunRunning, now, int64(1), int64(40), int64(2)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, stats.UpsertEvalStats(context.Background(), runID, "tb_isolation", 1, 40, 2, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stats, err := NewStatsStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	mock.ExpectQuery("SELECT run_id, model, started_at").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows([]string{
			"run_id", "model", "started_at", "finished_at", "status",
			"error_message", "tables", "cells", "formula_errors",
		}))

	_, err = stats.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
