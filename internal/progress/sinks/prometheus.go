package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/epiworldlab/epirunner/internal/progress"
)

// PrometheusSink exports run progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-model evaluation
// counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	evalTables   *prometheus.CounterVec
	evalCells    *prometheus.CounterVec
	evalErrors   *prometheus.CounterVec
	evalDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epirunner_progress_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epirunner_progress_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epirunner_progress_runs_running",
			Help: "Current number of running model runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epirunner_progress_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		evalTables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epirunner_progress_eval_tables_total",
			Help: "Result tables produced partitioned by model.",
		}, []string{"model"}),
		evalCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epirunner_progress_eval_cells_total",
			Help: "Workbook cells evaluated per model.",
		}, []string{"model"}),
		evalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epirunner_progress_eval_errors_total",
			Help: "Formula evaluation failures per model.",
		}, []string{"model"}),
		evalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epirunner_progress_eval_duration_seconds",
			Help:    "Evaluation duration partitioned by model.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"model"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.evalTables,
		s.evalCells,
		s.evalErrors,
		s.evalDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageEvalDone:
		s.handleEvalEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleEvalEvent(evt progress.Event) {
	model := evt.Model
	if model == "" {
		model = "unknown"
	}
	if evt.Tables > 0 {
		s.evalTables.WithLabelValues(model).Add(float64(evt.Tables))
	}
	if evt.Cells > 0 {
		s.evalCells.WithLabelValues(model).Add(float64(evt.Cells))
	}
	if evt.Errors > 0 {
		s.evalErrors.WithLabelValues(model).Add(float64(evt.Errors))
	}
	if evt.Dur > 0 {
		s.evalDuration.WithLabelValues(model).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
