package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type liveSet struct{ ids []id.WorkflowID }

func (l *liveSet) WorkflowIDs(context.Context, string) ([]id.WorkflowID, error) { return l.ids, nil }

type fixture struct {
	eng  *engine.Engine
	e    *echo.Echo
	live *liveSet
}

func setup(t *testing.T) *fixture {
	t.Helper()
	cat, err := workflow.NewCatalog(workflow.NewDefinition("ingest", "copy_files", "index_files"))
	require.NoError(t, err)

	c, err := conductor.New(
		conductor.WithStore(memory.New()),
		conductor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	live := &liveSet{}
	eng, err := engine.Build(c, engine.WithCatalog(cat), engine.WithLiveSource(live))
	require.NoError(t, err)
	eng.RegisterFunc("copy_files", func(_ context.Context, args []any, _ map[string]any) (task.Result, error) {
		return task.Result{args[0], nil}, nil
	})
	eng.RegisterFunc("index_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return task.Result{"indexed", nil}, nil
	})

	return &fixture{eng: eng, e: api.New(eng).Handler(), live: live}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) create(t *testing.T, start bool) api.CreateWorkflowResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/workflows", api.CreateWorkflowRequest{
		Definition:  "ingest",
		InitialArgs: []any{"ds-1"},
		OwnerTag:    "app-1",
		Start:       start,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.CreateWorkflowResponse](t, rec)
}

// ──────────────────────────────────────────────────
// Workflows
// ──────────────────────────────────────────────────

func TestAPI_CreateAndGet(t *testing.T) {
	f := setup(t)
	created := f.create(t, false)
	wfID := created.Workflow.ID.String()
	assert.True(t, created.TaskID.IsNil())

	rec := f.do(t, http.MethodGet, "/v1/workflows/"+wfID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[workflow.EmbellishedWorkflow](t, rec)
	assert.Equal(t, "ingest", view.DefinitionName)
	assert.Equal(t, task.StatusPending, view.Status)
	require.Len(t, view.Steps, 2)

	rec = f.do(t, http.MethodGet, "/v1/workflows/"+wfID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", decode[api.StatusResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/v1/workflows?owner_tag=app-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*workflow.Instance](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/v1/definitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ingest"}, decode[api.ListDefinitionsResponse](t, rec).Names)
}

func TestAPI_CreateAndStart(t *testing.T) {
	f := setup(t)
	created := f.create(t, true)
	require.False(t, created.TaskID.IsNil())

	rec := f.do(t, http.MethodGet, "/v1/tasks/"+created.TaskID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tk := decode[task.Task](t, rec)
	assert.Equal(t, "copy_files", tk.Name)
	assert.Equal(t, task.StatusPending, tk.Status)

	rec = f.do(t, http.MethodGet, "/v1/workflows/"+created.Workflow.ID.String()+"?last_task_run=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[workflow.EmbellishedWorkflow](t, rec)
	require.NotNil(t, view.Steps[0].LastTaskRun)
	assert.Equal(t, created.TaskID, view.Steps[0].LastTaskRun.ID)

	// Starting twice is a state conflict.
	rec = f.do(t, http.MethodPost, "/v1/workflows/"+created.Workflow.ID.String()+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_CreateErrors(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/v1/workflows", api.CreateWorkflowRequest{OwnerTag: "app-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/workflows", api.CreateWorkflowRequest{Definition: "missing", OwnerTag: "app-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Error, "unknown workflow definition")
}

func TestAPI_NotFoundAndBadID(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/v1/workflows/"+id.NewWorkflowID().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/workflows/nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/tasks/"+id.NewTaskID().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RequestID(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/v1/definitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(echo.HeaderXRequestID))
	assert.NoError(t, err, "request id should be a generated uuid")

	req := httptest.NewRequest(http.MethodGet, "/v1/definitions", nil)
	req.Header.Set(echo.HeaderXRequestID, "caller-supplied")
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get(echo.HeaderXRequestID))
}

func TestAPI_PauseResume(t *testing.T) {
	f := setup(t)
	created := f.create(t, true)
	base := "/v1/workflows/" + created.Workflow.ID.String()

	rec := f.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	paused := decode[workflow.PauseResult](t, rec)
	assert.True(t, paused.Paused)
	assert.Equal(t, "copy_files", paused.RevokedStep)

	rec = f.do(t, http.MethodGet, base+"/status", nil)
	assert.Equal(t, "REVOKED", decode[api.StatusResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, base+"/resume", api.ResumeWorkflowRequest{Args: []any{"ds-override"}})
	require.Equal(t, http.StatusOK, rec.Code)
	resumed := decode[workflow.ResumeResult](t, rec)
	require.True(t, resumed.Resumed)

	tk, err := f.eng.Store().GetTask(context.Background(), resumed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, []any{"ds-override"}, tk.Args)

	// The resubmitted step is queued, so only a forced resume acts.
	rec = f.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[workflow.ResumeResult](t, rec).Resumed)

	rec = f.do(t, http.MethodPost, base+"/resume?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[workflow.ResumeResult](t, rec).Resumed)
}

func TestAPI_Delete(t *testing.T) {
	f := setup(t)
	created := f.create(t, true)
	base := "/v1/workflows/" + created.Workflow.ID.String()

	rec := f.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/tasks/"+created.TaskID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ──────────────────────────────────────────────────
// Tasks, purge, stats
// ──────────────────────────────────────────────────

func TestAPI_TaskCountsAndRevoke(t *testing.T) {
	f := setup(t)
	created := f.create(t, true)

	rec := f.do(t, http.MethodGet, "/v1/tasks/counts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decode[api.TaskCountsResponse](t, rec)
	assert.Equal(t, int64(1), counts["PENDING"])

	rec = f.do(t, http.MethodPost, "/v1/tasks/"+created.TaskID.String()+"/revoke?terminate=true", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/tasks/counts", nil)
	counts = decode[api.TaskCountsResponse](t, rec)
	assert.Equal(t, int64(0), counts["PENDING"])
	assert.Equal(t, int64(1), counts["REVOKED"])
}

func TestAPI_Purge(t *testing.T) {
	f := setup(t)
	orphan := f.create(t, true)
	kept := f.create(t, false)
	f.live.ids = []id.WorkflowID{kept.Workflow.ID}

	rec := f.do(t, http.MethodPost, "/v1/purge", api.PurgeRequest{OwnerTag: "app-1", MaxPurgeCount: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[workflow.PurgeReport](t, rec)
	assert.Equal(t, int64(1), report.Deleted)
	assert.Equal(t, int64(1), report.TasksDeleted)
	assert.Equal(t, []id.WorkflowID{orphan.Workflow.ID}, report.IDs)

	rec = f.do(t, http.MethodPost, "/v1/purge", api.PurgeRequest{OwnerTag: "app-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/purge", api.PurgeRequest{OwnerTag: "app-1", MaxPurgeCount: 1, OlderThan: "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Stats(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.eng.SchedulePurge("@every 1h", workflow.PurgeRequest{OwnerTag: "app-1", MaxPurgeCount: 10}))
	f.create(t, true)

	rec := f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[api.StatsResponse](t, rec)
	assert.Equal(t, int64(1), stats.Tasks["PENDING"])

	var names []string
	for _, s := range stats.Schedules {
		names = append(names, s.Name)
		_, err := time.Parse(time.RFC3339, s.NextRunAt)
		assert.NoError(t, err)
	}
	assert.Contains(t, names, "purge:app-1")
}
