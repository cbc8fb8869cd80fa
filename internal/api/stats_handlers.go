package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	statsTimeout    = 3 * time.Second
)

// StatsHandler exposes read-only run telemetry endpoints.
type StatsHandler struct {
	repo    store.StatsRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatsHandler wires the repository and logger.
func NewStatsHandler(repo store.StatsRepository, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{
		repo:    repo,
		timeout: statsTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /api/v1/stats/runs?status=&limit=&offset=. It returns a
// JSON object {"runs": [...]} on success, 400 for invalid filters, 503 when the
// repo is unavailable, or 500 if the repository call fails.
func (h *StatsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "stats repository unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
	var status *store.RunState
	if statusParam != "" {
		statusVal, parseErr := parseStatsStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list run stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": toRunStatsDTOs(runs),
	})
}

// GetRun handles GET /api/v1/stats/runs/{run_id}. It returns {"run": {...}}
// on success, 400 for malformed IDs, 404 when the repository reports
// store.ErrNotFound, 503 if the repo is not initialized, or 500 otherwise.
func (h *StatsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "stats repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunStatsDTO(run)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	runIDStr := chi.URLParam(r, "run_id")
	if runIDStr == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatsStatus(input string) (store.RunState, error) {
	switch strings.ToLower(input) {
	case "", "running":
		return store.RunRunning, nil
	case "success", "succeeded":
		return store.RunSuccess, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunStatsDTOs(in []store.RunStats) []runStatsDTO {
	out := make([]runStatsDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunStatsDTO(run))
	}
	return out
}

func toRunStatsDTO(run store.RunStats) runStatsDTO {
	dto := runStatsDTO{
		RunID:         run.RunID.String(),
		Model:         run.Model,
		StartedAt:     run.StartedAt,
		Status:        string(run.Status),
		Error:         run.ErrorMessage,
		Tables:        run.Tables,
		Cells:         run.Cells,
		FormulaErrors: run.FormulaErrors,
	}
	if run.FinishedAt != nil {
		dto.FinishedAt = run.FinishedAt
	}
	return dto
}

type runStatsDTO struct {
	RunID         string     `json:"run_id"`
	Model         string     `json:"model"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        string     `json:"status"`
	Error         *string    `json:"error,omitempty"`
	Tables        int64      `json:"tables"`
	Cells         int64      `json:"cells"`
	FormulaErrors int64      `json:"formula_errors"`
}
