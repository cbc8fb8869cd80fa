package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/progress"
	"github.com/epiworldlab/epirunner/internal/store"
)

// StoreSink persists progress deltas via a store.StatsRepository. It batches
// evaluation counters to reduce write amplification.
type StoreSink struct {
	repo   store.StatsRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.StatsRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses evaluation deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageEvalDone:
			s.recordEvalStats(stats, runID, evt)
		}
	}

	for key, delta := range stats {
		if delta.tables == 0 && delta.cells == 0 && delta.errors == 0 {
			continue
		}
		if err := s.repo.UpsertEvalStats(
			ctx,
			key.runID,
			key.model,
			delta.tables,
			delta.cells,
			delta.errors,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert eval stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.Model, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordEvalStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	key := statsKey{runID: runID, model: evt.Model}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.tables += evt.Tables
	stat.cells += evt.Cells
	stat.errors += evt.Errors
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID uuid.UUID
	model string
}

type statsDelta struct {
	tables int64
	cells  int64
	errors int64
	at     time.Time
}
