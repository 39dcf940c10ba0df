package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/metrics"
	"pipeline-proxy/internal/services"
	"pipeline-proxy/internal/testutil"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

type testAPI struct {
	e      *echo.Echo
	store  *testutil.MockStore
	engine *testutil.MockWorkflowClient
	blobs  *testutil.MemoryBlobStore
	org    string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{
		e:      echo.New(),
		store:  &testutil.MockStore{},
		engine: &testutil.MockWorkflowClient{},
		blobs:  testutil.NewMemoryBlobStore(),
		org:    identity.Mint(),
	}
	deps := services.Dependencies{
		Store:   a.store,
		Engine:  a.engine,
		Blobs:   a.blobs,
		Logger:  logging.Discard(),
		Metrics: metrics.New(),
	}
	a.e.HTTPErrorHandler = ErrorHandler(logging.Discard())
	srv := NewServer(
		services.NewPipelineReconciler(deps),
		services.NewRunReconciler(deps),
		services.NewInputFileService(deps),
		services.NewArtifactService(deps),
		logging.Discard(),
		WithMaxUploadBytes(16),
	)
	srv.RegisterRoutes(a.e.Group("/v1/organizations/:organization_uuid"))
	return a
}

func (a *testAPI) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/organizations/"+a.org+path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) postJSON(path, body string) *httptest.ResponseRecorder {
	return a.do(http.MethodPost, path, echo.MIMEApplicationJSON, strings.NewReader(body))
}

func TestCreatePipelineReturnsLocalUUID(t *testing.T) {
	a := newTestAPI(t)
	a.engine.On("CreatePipeline", mock.Anything, mock.Anything).
		Return(testutil.EnginePipeline(t, `{"uuid":"5f0c9d2e8a7b4c3d9e1f2a3b4c5d6e7f","name":"p1"}`), nil)
	a.store.On("CreatePipeline", mock.Anything, mock.Anything).Return(nil)

	rec := a.postJSON("/pipelines", `{"name":"p1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEqual(t, "5f0c9d2e8a7b4c3d9e1f2a3b4c5d6e7f", got["uuid"])
	assert.True(t, identity.Valid(got["uuid"].(string)))
	assert.Equal(t, "p1", got["name"])
}

func TestCreatePipelineEngineUnavailable(t *testing.T) {
	a := newTestAPI(t)
	a.engine.On("CreatePipeline", mock.Anything, mock.Anything).
		Return(nil, apperr.Unavailable("workflow.CreatePipeline", errors.New("status 500")))

	rec := a.postJSON("/pipelines", `{"name":"p1"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"message":"workflow engine is unavailable"}`, rec.Body.String())
	a.store.AssertNotCalled(t, "CreatePipeline", mock.Anything, mock.Anything)
}

func TestCreatePipelineRejectedIsRelayedVerbatim(t *testing.T) {
	a := newTestAPI(t)
	body := `{"errors":{"name":["has already been taken"]},"message":"Unable to create pipeline"}`
	a.engine.On("CreatePipeline", mock.Anything, mock.Anything).
		Return(nil, apperr.Rejected("workflow.CreatePipeline", http.StatusBadRequest, []byte(body)))

	rec := a.postJSON("/pipelines", `{"name":"p1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, body, rec.Body.String())
	a.store.AssertNotCalled(t, "CreatePipeline", mock.Anything, mock.Anything)
}

func TestCreatePipelineValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.postJSON("/pipelines", `{"description":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"The given data was invalid.","errors":{"name":["name is required"]}}`, rec.Body.String())

	rec = a.postJSON("/pipelines", `[1,2`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.postJSON("/pipelines", `{"name":"`+strings.Repeat("n", 256)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"The given data was invalid.","errors":{"name":["name must be at most 255 characters"]}}`, rec.Body.String())
	a.engine.AssertNotCalled(t, "CreatePipeline", mock.Anything, mock.Anything)
}

func TestListPipelinesQuery(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/pipelines?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.store.On("ListPipelines", mock.Anything, a.org, models.PipelineFilter{Name: "rna", Limit: 5}).Return(nil, nil)
	a.engine.On("SearchPipelines", mock.Anything, []string{}).Return([]*workflow.Pipeline{}, nil)
	rec = a.do(http.MethodGet, "/pipelines?name=rna&limit=5", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListPipelinesEngineDownWithoutPipelines(t *testing.T) {
	a := newTestAPI(t)
	a.store.On("ListPipelines", mock.Anything, a.org, models.PipelineFilter{}).Return(nil, nil)
	a.engine.On("SearchPipelines", mock.Anything, []string{}).
		Return(nil, apperr.Unavailable("workflow.SearchPipelines", errors.New("connection refused")))

	rec := a.do(http.MethodGet, "/pipelines", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"message":"workflow engine is unavailable"}`, rec.Body.String())
}

func TestDeletePipeline(t *testing.T) {
	a := newTestAPI(t)
	p := testutil.NewPipeline(a.org, 1)
	a.store.On("GetPipeline", mock.Anything, a.org, p.UUID).Return(p, nil)
	a.engine.On("DeletePipeline", mock.Anything, p.PipelineUUID).Return(nil)
	a.store.On("ListInputFiles", mock.Anything, p.ID).Return(nil, nil)
	a.store.On("DeletePipeline", mock.Anything, p.ID).Return(nil)

	rec := a.do(http.MethodDelete, "/pipelines/"+p.UUID, "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUnknownPipelineIsNotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/pipelines/not-a-uuid/runs", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunErrors(t *testing.T) {
	a := newTestAPI(t)
	p := testutil.NewPipeline(a.org, 1)
	unbound := &models.PipelineRun{ID: 2, UUID: identity.Mint(), PipelineID: p.ID}
	bound := testutil.NewRun(p, 3)
	a.store.On("GetPipeline", mock.Anything, a.org, p.UUID).Return(p, nil)
	a.store.On("GetRun", mock.Anything, p.ID, unbound.UUID).Return(unbound, nil)
	a.store.On("GetRun", mock.Anything, p.ID, bound.UUID).Return(bound, nil)
	a.engine.On("DeleteRun", mock.Anything, p.PipelineUUID, bound.PipelineRunUUID).
		Return(apperr.Unavailable("workflow.DeleteRun", errors.New("connection refused")))

	rec := a.do(http.MethodGet, "/pipelines/"+p.UUID+"/runs/"+unbound.UUID, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodDelete, "/pipelines/"+p.UUID+"/runs/"+bound.UUID, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	a.store.AssertNotCalled(t, "SoftDeleteRun", mock.Anything, mock.Anything)
}

func TestAdvancePostProcessingConflict(t *testing.T) {
	a := newTestAPI(t)
	p := testutil.NewPipeline(a.org, 1)
	r := testutil.NewRun(p, 2)
	a.store.On("GetPipeline", mock.Anything, a.org, p.UUID).Return(p, nil)
	a.store.On("GetRun", mock.Anything, p.ID, r.UUID).Return(r, nil)
	a.store.On("CurrentPostProcessing", mock.Anything, r.ID).
		Return(&models.PostProcessingState{State: models.PostProcessingComplete}, nil)

	rec := a.do(http.MethodPut, "/pipelines/"+p.UUID+"/runs/"+r.UUID+"/post_processing",
		echo.MIMEApplicationJSON, strings.NewReader(`{"state":"in_progress"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"message":"cannot move post-processing from complete to in_progress"}`, rec.Body.String())
}

func TestUploadAndDownloadInputFile(t *testing.T) {
	a := newTestAPI(t)
	p := testutil.NewPipeline(a.org, 1)
	a.store.On("GetPipeline", mock.Anything, a.org, p.UUID).Return(p, nil)
	var stored *models.InputFile
	a.store.On("CreateInputFile", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.InputFile) }).
		Return(nil)

	rec := a.do(http.MethodPost, "/pipelines/"+p.UUID+"/input_files?name=sample.csv",
		echo.MIMEOctetStream, strings.NewReader("a,b\n1,2\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, stored)
	assert.NotContains(t, rec.Body.String(), "storage_key")

	a.store.On("GetInputFile", mock.Anything, p.ID, stored.UUID).Return(stored, nil)
	rec = a.do(http.MethodGet, "/pipelines/"+p.UUID+"/input_files/"+stored.UUID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a,b\n1,2\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), `filename="sample.csv"`)
}

func TestUploadInputFileRejections(t *testing.T) {
	a := newTestAPI(t)
	p := identity.Mint()

	rec := a.do(http.MethodPost, "/pipelines/"+p+"/input_files", echo.MIMEOctetStream, strings.NewReader("data"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name"`)

	rec = a.do(http.MethodPost, "/pipelines/"+p+"/input_files?name=big.bin", echo.MIMEOctetStream,
		strings.NewReader(strings.Repeat("x", 17)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Zero(t, a.blobs.Len())
	a.store.AssertNotCalled(t, "CreateInputFile", mock.Anything, mock.Anything)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h := NewHealth("test", map[string]HealthCheck{
		"database":  func(context.Context) error { return nil },
		"blobstore": func(context.Context) error { return errors.New("nats: connection closed") },
	})
	e.GET("/health", h.HandleHealth)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "ok", status.Checks["database"])
	assert.Equal(t, "nats: connection closed", status.Checks["blobstore"])
}
