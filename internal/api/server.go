// Package api exposes the HTTP interface for the model runner service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/config"
	"github.com/epiworldlab/epirunner/internal/dispatcher"
	"github.com/epiworldlab/epirunner/internal/metrics"
	"github.com/epiworldlab/epirunner/internal/model"
	"github.com/epiworldlab/epirunner/internal/render"
)

// Server wires HTTP handlers to the dispatcher, registry, and stores.
type Server struct {
	router     chi.Router
	registry   *model.Registry
	runStore   model.RunStore
	dispatcher *dispatcher.Dispatcher
	idGen      model.IDGenerator
	clock      model.Clock
	sheets     model.SheetFactory
	renderer   *render.Renderer
	stats      *StatsHandler
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry *model.Registry,
	runStore model.RunStore,
	dispatch *dispatcher.Dispatcher,
	idGen model.IDGenerator,
	clock model.Clock,
	sheets model.SheetFactory,
	stats *StatsHandler,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:   registry,
		runStore:   runStore,
		dispatcher: dispatch,
		idGen:      idGen,
		clock:      clock,
		sheets:     sheets,
		renderer:   render.NewRenderer(),
		stats:      stats,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/models", s.listModels)
		r.Get("/models/{model_id}", s.getModel)
		r.Post("/workbooks", s.uploadWorkbook)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Get("/", s.listRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/result", s.getRunResult)
				r.Post("/cancel", s.cancelRun)
			})
		})
		if s.stats != nil {
			r.Get("/stats/runs", s.stats.ListRuns)
			r.Get("/stats/runs/{run_id}", s.stats.GetRun)
		}
	})

	// Browser-facing pages mirroring the original parameter form workflow.
	r.Get("/", s.indexPage)
	r.Get("/models/{model_id}/form", s.modelFormPage)
	r.Post("/models/{model_id}/run", s.submitFormRun)
	r.Get("/runs/{run_id}/report", s.runReportPage)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; in future check downstreams.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	models := s.registry.List()
	out := make([]modelDTO, 0, len(models))
	for _, m := range models {
		out = append(out, toModelDTO(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	mdl, ok := s.registry.Get(chi.URLParam(r, "model_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	params, err := mdl.Defaults(r.Context())
	if err != nil {
		s.logger.Error("model defaults failed", zap.String("model", mdl.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load model defaults")
		return
	}
	payload := map[string]any{
		"model":  toModelDTO(mdl),
		"params": params.Items(),
	}
	if headers, err := scenarioHeaders(mdl); err == nil && len(headers) > 0 {
		payload["scenario_headers"] = headers
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	runID, err := s.enqueueRun(r.Context(), model.RunParameters{
		ModelID:        req.ModelID,
		Overrides:      req.Params,
		LabelOverrides: req.LabelOverrides,
		TimeoutSeconds: req.TimeoutSeconds,
		Tags:           req.Tags,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errUnknownModel):
			status = http.StatusNotFound
		case errors.Is(err, errMissingModelID):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.runStore.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runStore.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	rec, err := s.runStore.GetResult(r.Context(), runID)
	if err != nil {
		if errors.Is(err, model.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "run result not available")
			return
		}
		s.logger.Error("get run result failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run result")
		return
	}
	writeJSON(w, http.StatusOK, model.RunResult{Run: run, Result: rec.Result})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.runStore.UpdateRunStatus(
		r.Context(),
		runID,
		model.RunStatusCanceled,
		"canceled via API",
		model.RunCounters{},
	); err != nil {
		if errors.Is(err, model.ErrRunFinished) {
			writeError(w, http.StatusConflict, "run already finished")
			return
		}
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(model.RunStatusCanceled)})
}

var (
	errUnknownModel   = errors.New("unknown model")
	errMissingModelID = errors.New("model_id is required")
)

func (s *Server) enqueueRun(ctx context.Context, params model.RunParameters) (string, error) {
	if params.ModelID == "" {
		return "", errMissingModelID
	}
	if _, ok := s.registry.Get(params.ModelID); !ok {
		return "", fmt.Errorf("%w: %q", errUnknownModel, params.ModelID)
	}
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := model.Run{
		ID:         runID,
		Status:     model.RunStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.runStore.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := model.QueueItem{
		RunID:     runID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return runID, nil
}

type runRequest struct {
	ModelID        string            `json:"model_id"`
	Params         map[string]string `json:"params"`
	LabelOverrides map[string]string `json:"label_overrides"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Tags           map[string]string `json:"tags"`
}

type modelDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

func toModelDTO(m model.Model) modelDTO {
	return modelDTO{
		ID:          m.ID(),
		Title:       m.Title(),
		Description: m.Description(),
		Kind:        m.Kind(),
	}
}

// scenarioLabeler is implemented by models whose result columns can be
// renamed per run.
type scenarioLabeler interface {
	ScenarioHeaders() (map[string]string, error)
}

func scenarioHeaders(m model.Model) (map[string]string, error) {
	labeler, ok := m.(scenarioLabeler)
	if !ok {
		return nil, nil
	}
	return labeler.ScenarioHeaders()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
