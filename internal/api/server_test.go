package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/config"
	"github.com/epiworldlab/epirunner/internal/dispatcher"
	"github.com/epiworldlab/epirunner/internal/metrics"
	"github.com/epiworldlab/epirunner/internal/model"
	queueMemory "github.com/epiworldlab/epirunner/internal/queue/memory"
	storageMemory "github.com/epiworldlab/epirunner/internal/storage/memory"
)

const testModelID = "measles_outbreak"

type stubAPIModel struct{}

func (stubAPIModel) ID() string          { return testModelID }
func (stubAPIModel) Title() string       { return "Measles Outbreak" }
func (stubAPIModel) Description() string { return "Cost model for a measles outbreak." }
func (stubAPIModel) Kind() string        { return model.KindBuiltin }

func (stubAPIModel) Defaults(_ context.Context) (model.Params, error) {
	return model.NewParams(
		model.Param{Label: "Outbreak", Section: true},
		model.Param{Label: "Number of cases", Value: "22", Indent: 1},
	), nil
}

func (stubAPIModel) Run(_ context.Context, _ model.Params, _ map[string]string) (model.Result, error) {
	return model.Result{Title: "Measles Outbreak"}, nil
}

// ScenarioHeaders lets the form tests exercise the label inputs.
func (stubAPIModel) ScenarioHeaders() (map[string]string, error) {
	return map[string]string{"22_cases": "22 Cases"}, nil
}

// uploadedModel stands in for a parsed workbook model.
type uploadedModel struct {
	id string
}

func (m uploadedModel) ID() string          { return m.id }
func (m uploadedModel) Title() string       { return m.id }
func (m uploadedModel) Description() string { return "" }
func (m uploadedModel) Kind() string        { return model.KindSheet }

func (m uploadedModel) Defaults(_ context.Context) (model.Params, error) {
	return model.NewParams(), nil
}

func (m uploadedModel) Run(_ context.Context, _ model.Params, _ map[string]string) (model.Result, error) {
	return model.Result{Title: m.id}, nil
}

func stubSheetFactory(path string) (model.Model, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "corrupt" {
		return nil, errors.New("corrupt workbook")
	}
	return uploadedModel{id: stem}, nil
}

type fakeIDGen struct {
	ids []string
}

func (g *fakeIDGen) NewID() (string, error) {
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type serverFixture struct {
	server   *Server
	queue    *queueMemory.Queue
	runStore *storageMemory.RunStore
}

func newServerFixture(t *testing.T, cfg config.Config) *serverFixture {
	t.Helper()
	metrics.Init()

	registry := model.NewRegistry()
	require.NoError(t, registry.Register(stubAPIModel{}))
	runStore := storageMemory.NewRunStore()
	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, nil)
	idGen := &fakeIDGen{ids: []string{"run-1", "run-2"}}
	clock := &fakeClock{now: time.Unix(100, 0)}

	server := NewServer(registry, runStore, dispatch, idGen, clock, stubSheetFactory, nil, cfg, zap.NewNop())
	return &serverFixture{server: server, queue: q, runStore: runStore}
}

func TestServer_SubmitRun_Succeeds(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	reqBody := []byte(`{"model_id":"measles_outbreak","params":{"Number of cases":"100"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "run-1")

	item, err := fx.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", item.RunID)
	require.Equal(t, testModelID, item.Params.ModelID)
	require.Equal(t, "100", item.Params.Overrides["Number of cases"])

	run, err := fx.runStore.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusQueued, run.Status)
}

func TestServer_SubmitRun_UnknownModel(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	reqBody := []byte(`{"model_id":"no_such_model"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SubmitRun_InvalidJSON(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListModels(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Models []modelDTO `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Models, 1)
	require.Equal(t, testModelID, payload.Models[0].ID)
	require.Equal(t, model.KindBuiltin, payload.Models[0].Kind)
}

func TestServer_GetModel_IncludesDefaultsAndHeaders(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models/"+testModelID, nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Number of cases")
	require.Contains(t, rec.Body.String(), "22 Cases")
}

func TestServer_GetRunAndResult(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	run := model.Run{
		ID:        "run-done",
		Status:    model.RunStatusSucceeded,
		Submitted: time.Unix(50, 0),
		Parameters: model.RunParameters{
			ModelID: testModelID,
		},
	}
	require.NoError(t, fx.runStore.CreateRun(ctx, run))
	require.NoError(t, fx.runStore.RecordResult(ctx, model.ResultRecord{
		RunID: "run-done",
		Result: model.Result{
			Title: "Measles Outbreak",
			Sections: []model.Section{
				{Title: "Costs", Blocks: []model.Block{{Table: &model.Table{
					Columns: []string{"Item", "22 Cases"},
					Rows:    [][]string{{"Total", "12345"}},
				}}}},
			},
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-done", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"succeeded"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-done/result", nil)
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Measles Outbreak")
	require.Contains(t, rec.Body.String(), "12345")
}

func TestServer_GetRunResult_NotReady(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.runStore.CreateRun(ctx, model.Run{
		ID:        "run-pending",
		Status:    model.RunStatusQueued,
		Submitted: time.Unix(50, 0),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-pending/result", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "not available")
}

func TestServer_CancelRun(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.runStore.CreateRun(ctx, model.Run{
		ID:        "run-cancel",
		Status:    model.RunStatusQueued,
		Submitted: time.Unix(50, 0),
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-cancel/cancel", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	run, err := fx.runStore.GetRun(ctx, "run-cancel")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCanceled, run.Status)
}

func TestServer_CancelRun_FinishedRunConflicts(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.runStore.CreateRun(ctx, model.Run{
		ID:        "run-done",
		Status:    model.RunStatusQueued,
		Submitted: time.Unix(50, 0),
	}))
	require.NoError(t, fx.runStore.UpdateRunStatus(ctx, "run-done", model.RunStatusSucceeded, "", model.RunCounters{}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-done/cancel", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	run, err := fx.runStore.GetRun(ctx, "run-done")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusSucceeded, run.Status)
}

func TestServer_APIKey_Enforced(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	fx := newServerFixture(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes and pages stay open even with auth enabled.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_IndexPage_ListsModels(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{App: config.AppConfig{Name: "epirunner"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "epirunner")
	require.Contains(t, rec.Body.String(), "/models/measles_outbreak/form")
}

func TestServer_FormPage_RendersParams(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/models/"+testModelID+"/form", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `name="param:Number of cases"`)
	require.Contains(t, body, `name="label:22_cases"`)
	require.Contains(t, body, `action="/models/measles_outbreak/run"`)
}

func TestServer_FormSubmit_EnqueuesAndRedirects(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})

	form := "param%3ANumber+of+cases=500&label%3A22_cases=Big+Outbreak"
	req := httptest.NewRequest(http.MethodPost, "/models/"+testModelID+"/run", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/runs/run-1/report", rec.Header().Get("Location"))

	item, err := fx.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "500", item.Params.Overrides["Number of cases"])
	require.Equal(t, "Big Outbreak", item.Params.LabelOverrides["22_cases"])
}

func TestServer_ReportPage_PendingThenDone(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.runStore.CreateRun(ctx, model.Run{
		ID:         "run-report",
		Status:     model.RunStatusRunning,
		Submitted:  time.Unix(50, 0),
		Parameters: model.RunParameters{ModelID: testModelID},
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs/run-report/report", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `http-equiv="refresh"`)

	require.NoError(t, fx.runStore.UpdateRunStatus(ctx, "run-report", model.RunStatusSucceeded, "", model.RunCounters{}))
	require.NoError(t, fx.runStore.RecordResult(ctx, model.ResultRecord{
		RunID:  "run-report",
		Result: model.Result{Title: "Measles Outbreak"},
	}))

	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-report/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Measles Outbreak")
	require.NotContains(t, rec.Body.String(), `http-equiv="refresh"`)
}

func TestServer_ReportPage_Failed(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.runStore.CreateRun(ctx, model.Run{
		ID:        "run-broken",
		Status:    model.RunStatusQueued,
		Submitted: time.Unix(50, 0),
	}))
	require.NoError(t, fx.runStore.UpdateRunStatus(ctx, "run-broken", model.RunStatusFailed, "workbook missing", model.RunCounters{}))

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-broken/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "workbook missing")
}

func uploadRequest(t *testing.T, filename string, contents []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("workbook", filename)
	require.NoError(t, err)
	_, err = part.Write(contents)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workbooks", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_UploadWorkbook_RegistersModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fx := newServerFixture(t, config.Config{Models: config.ModelsConfig{Dir: dir}})

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, uploadRequest(t, "clinic_costs.xlsx", []byte("workbook bytes")))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "clinic_costs", resp["model_id"])

	_, err := os.Stat(filepath.Join(dir, "clinic_costs.xlsx"))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models/clinic_costs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_UploadWorkbook_RejectsNonXLSX(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, config.Config{Models: config.ModelsConfig{Dir: t.TempDir()}})

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, uploadRequest(t, "notes.txt", []byte("not a workbook")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UploadWorkbook_RemovesFileOnParseFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fx := newServerFixture(t, config.Config{Models: config.ModelsConfig{Dir: dir}})

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, uploadRequest(t, "corrupt.xlsx", []byte("garbage")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := os.Stat(filepath.Join(dir, "corrupt.xlsx"))
	require.True(t, os.IsNotExist(err))
}

func TestServer_UploadWorkbook_DuplicateModelConflicts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fx := newServerFixture(t, config.Config{Models: config.ModelsConfig{Dir: dir}})

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, uploadRequest(t, testModelID+".xlsx", []byte("workbook bytes")))
	require.Equal(t, http.StatusConflict, rec.Code)

	// The conflict is detected before anything touches the disk.
	_, err := os.Stat(filepath.Join(dir, testModelID+".xlsx"))
	require.True(t, os.IsNotExist(err))
}

func TestServer_UploadWorkbook_RepeatKeepsOriginalFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fx := newServerFixture(t, config.Config{Models: config.ModelsConfig{Dir: dir}})

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, uploadRequest(t, "clinic_costs.xlsx", []byte("original contents")))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, uploadRequest(t, "clinic_costs.xlsx", []byte("replacement contents")))
	require.Equal(t, http.StatusConflict, rec.Code)

	data, err := os.ReadFile(filepath.Join(dir, "clinic_costs.xlsx"))
	require.NoError(t, err)
	require.Equal(t, "original contents", string(data))
}
