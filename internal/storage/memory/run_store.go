package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/epiworldlab/epirunner/internal/model"
)

// RunStore provides an in-memory implementation for development/testing.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]model.Run
	results map[string]model.ResultRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]model.Run),
		results: make(map[string]model.ResultRecord),
	}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and counters for a run.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status model.RunStatus,
	errText string,
	counters model.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return model.ErrRunNotFound
	}
	if run.Status.Terminal() {
		return model.ErrRunFinished
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := time.Now().UTC()
	if status == model.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// RecordResult stores the result record for a run.
func (s *RunStore) RecordResult(_ context.Context, rec model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[rec.RunID] = rec
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return model.Run{}, model.ErrRunNotFound
	}
	return run, nil
}

// GetResult fetches a run's result record.
func (s *RunStore) GetResult(_ context.Context, runID string) (model.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.results[runID]
	if !ok {
		return model.ResultRecord{}, model.ErrResultNotFound
	}
	return rec, nil
}

// ListRuns returns runs ordered by submission time, newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Submitted.Equal(runs[j].Submitted) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].Submitted.After(runs[j].Submitted)
	})
	if offset >= len(runs) {
		return []model.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	out := make([]model.Run, len(runs))
	copy(out, runs)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
