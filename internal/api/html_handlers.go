package api

import (
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/model"
	"github.com/epiworldlab/epirunner/internal/render"
)

func (s *Server) indexPage(w http.ResponseWriter, _ *http.Request) {
	models := s.registry.List()
	infos := make([]render.ModelInfo, 0, len(models))
	for _, m := range models {
		infos = append(infos, toModelInfo(m))
	}
	title := s.cfg.App.Name
	if title == "" {
		title = "Model Runner"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Index(w, title, infos); err != nil {
		s.logger.Error("render index failed", zap.Error(err))
	}
}

func (s *Server) modelFormPage(w http.ResponseWriter, r *http.Request) {
	mdl, ok := s.registry.Get(chi.URLParam(r, "model_id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	params, err := mdl.Defaults(r.Context())
	if err != nil {
		s.logger.Error("model defaults failed", zap.String("model", mdl.ID()), zap.Error(err))
		http.Error(w, "failed to load model defaults", http.StatusInternalServerError)
		return
	}
	data := render.FormData{
		Model:  toModelInfo(mdl),
		Params: params.Items(),
	}
	if headers, err := scenarioHeaders(mdl); err == nil && len(headers) > 0 {
		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		data.ScenarioKeys = keys
		data.ScenarioHeaders = headers
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Form(w, data); err != nil {
		s.logger.Error("render form failed", zap.String("model", mdl.ID()), zap.Error(err))
	}
}

func (s *Server) submitFormRun(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model_id")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	overrides := map[string]string{}
	labels := map[string]string{}
	for key, values := range r.PostForm {
		if len(values) == 0 {
			continue
		}
		value := strings.TrimSpace(values[0])
		switch {
		case strings.HasPrefix(key, "param:"):
			overrides[strings.TrimPrefix(key, "param:")] = value
		case strings.HasPrefix(key, "label:"):
			labels[strings.TrimPrefix(key, "label:")] = value
		}
	}
	runID, err := s.enqueueRun(r.Context(), model.RunParameters{
		ModelID:        modelID,
		Overrides:      overrides,
		LabelOverrides: labels,
	})
	if err != nil {
		s.logger.Error("form run submit failed", zap.String("model", modelID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/runs/%s/report", runID), http.StatusSeeOther)
}

const pendingPageTmpl = `<!DOCTYPE html>
<html><head><title>Run %s</title>
<meta http-equiv="refresh" content="2">
<style>body { background-color: #111; color: #f0f0f0; font-family: sans-serif; margin: 2rem; }</style>
</head>
<body><h1>Run %s</h1><p>Status: %s. This page refreshes automatically.</p>
<p><a href="/">Back to models</a></p></body></html>
`

const failedPageTmpl = `<!DOCTYPE html>
<html><head><title>Run %s</title>
<style>body { background-color: #111; color: #f0f0f0; font-family: sans-serif; margin: 2rem; }</style>
</head>
<body><h1>Run %s failed</h1><p>%s</p>
<p><a href="/">Back to models</a></p></body></html>
`

func (s *Server) runReportPage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch run.Status {
	case model.RunStatusQueued, model.RunStatusRunning:
		fmt.Fprintf(w, pendingPageTmpl,
			template.HTMLEscapeString(runID),
			template.HTMLEscapeString(runID),
			template.HTMLEscapeString(string(run.Status)))
		return
	case model.RunStatusFailed, model.RunStatusCanceled:
		fmt.Fprintf(w, failedPageTmpl,
			template.HTMLEscapeString(runID),
			template.HTMLEscapeString(runID),
			template.HTMLEscapeString(run.ErrorText))
		return
	}
	rec, err := s.runStore.GetResult(r.Context(), runID)
	if err != nil {
		http.Error(w, "run result not available", http.StatusNotFound)
		return
	}
	mdl, ok := s.registry.Get(run.Parameters.ModelID)
	info := render.ModelInfo{ID: run.Parameters.ModelID}
	if ok {
		info = toModelInfo(mdl)
	}
	data := render.ReportData{Model: info, Run: run, Result: rec.Result}
	if err := s.renderer.Report(w, data); err != nil {
		s.logger.Error("render report failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func toModelInfo(m model.Model) render.ModelInfo {
	return render.ModelInfo{
		ID:          m.ID(),
		Title:       m.Title(),
		Description: m.Description(),
		Kind:        m.Kind(),
	}
}
