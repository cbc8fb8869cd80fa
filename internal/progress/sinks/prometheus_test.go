package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/epiworldlab/epirunner/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Model: "measles_outbreak"},
		{
			RunID:  runID,
			TS:     time.Now().Add(10 * time.Second),
			Stage:  progress.StageEvalDone,
			Model:  "measles_outbreak",
			Tables: 1,
			Cells:  42,
			Errors: 2,
			Dur:    200 * time.Millisecond,
		},
		{RunID: runID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.evalTables.WithLabelValues("measles_outbreak")), 1e-9)
	require.InDelta(t, 42.0, testutil.ToFloat64(sink.evalCells.WithLabelValues("measles_outbreak")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.evalErrors.WithLabelValues("measles_outbreak")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.evalDuration, "epirunner_progress_eval_duration_seconds"))
}

// TestPrometheusSinkTracksRunningGauge covers the gauge across error completions too.
func TestPrometheusSinkTracksRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: first, TS: now, Stage: progress.StageRunStart},
		{RunID: second, TS: now, Stage: progress.StageRunStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: first, TS: now.Add(time.Second), Stage: progress.StageRunError, Dur: time.Second},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}
