// Package metrics exposes Prometheus collectors for the model runner.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	cellsEvaluatedTotal        *prometheus.CounterVec
	formulaErrorsTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	throttleDelaysSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epirunner_runs_total",
				Help: "Total number of model runs, labeled by model and status.",
			},
			[]string{"model", "status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "epirunner_run_duration_seconds",
				Help:    "Histogram of model run wall times, labeled by model.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"model"},
		)

		cellsEvaluatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epirunner_cells_evaluated_total",
				Help: "Total workbook cells evaluated, labeled by model.",
			},
			[]string{"model"},
		)

		formulaErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epirunner_formula_errors_total",
				Help: "Total formula evaluation failures, labeled by model.",
			},
			[]string{"model"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "epirunner_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		throttleDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "epirunner_throttle_delays_seconds",
				Help:    "Histogram of run admission wait durations, labeled by model.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"model"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one finished run with its wall time.
func ObserveRun(modelID, status string, duration time.Duration) {
	runsTotal.WithLabelValues(modelID, status).Inc()
	runDurationSeconds.WithLabelValues(modelID).Observe(duration.Seconds())
}

// ObserveEvaluation adds workbook evaluation counters for a run.
func ObserveEvaluation(modelID string, cells, errors int64) {
	if cells > 0 {
		cellsEvaluatedTotal.WithLabelValues(modelID).Add(float64(cells))
	}
	if errors > 0 {
		formulaErrorsTotal.WithLabelValues(modelID).Add(float64(errors))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveThrottleDelay records the duration of a run admission wait.
func ObserveThrottleDelay(modelID string, duration time.Duration) {
	throttleDelaysSeconds.WithLabelValues(modelID).Observe(duration.Seconds())
}
