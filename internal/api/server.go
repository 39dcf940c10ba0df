package api

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/services"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// PipelineService is the pipeline reconciler as the handlers use it.
type PipelineService interface {
	Create(ctx context.Context, org string, req *workflow.PipelineRequest) (*workflow.Pipeline, error)
	Update(ctx context.Context, org, pipelineUUID string, req *workflow.PipelineRequest) (*workflow.Pipeline, error)
	Delete(ctx context.Context, org, pipelineUUID string) error
	List(ctx context.Context, org string, filter models.PipelineFilter) ([]*workflow.Pipeline, error)
}

// RunService is the run reconciler as the handlers use it.
type RunService interface {
	Create(ctx context.Context, org, pipelineUUID string, req *workflow.RunRequest) (*workflow.Run, error)
	List(ctx context.Context, org, pipelineUUID string) ([]*workflow.Run, error)
	Get(ctx context.Context, org, pipelineUUID, runUUID string) (*workflow.Run, error)
	Delete(ctx context.Context, org, pipelineUUID, runUUID string) error
	PostProcessing(ctx context.Context, org, pipelineUUID, runUUID string) (*models.PostProcessingView, error)
	AdvancePostProcessing(ctx context.Context, org, pipelineUUID, runUUID string, req services.PostProcessingRequest) (*models.PostProcessingView, error)
}

// InputFileService stores and serves pipeline input files.
type InputFileService interface {
	Upload(ctx context.Context, org, pipelineUUID, name string, body io.Reader) (*models.InputFile, error)
	List(ctx context.Context, org, pipelineUUID string) ([]*models.InputFile, error)
	Open(ctx context.Context, org, pipelineUUID, fileUUID string) (*models.InputFile, io.ReadCloser, error)
}

// ChartService manages artifact charts of runs.
type ChartService interface {
	CreateChart(ctx context.Context, org, pipelineUUID, runUUID string, req services.ChartRequest) (*models.ArtifactChart, error)
	ListCharts(ctx context.Context, org, pipelineUUID, runUUID string) ([]*models.ArtifactChart, error)
	DeleteChart(ctx context.Context, org, pipelineUUID, runUUID, chartUUID string) error
}

var (
	_ PipelineService  = (*services.PipelineReconciler)(nil)
	_ RunService       = (*services.RunReconciler)(nil)
	_ InputFileService = (*services.InputFileService)(nil)
	_ ChartService     = (*services.ArtifactService)(nil)
)

// Server holds the dependencies for the API server.
type Server struct {
	pipelines PipelineService
	runs      RunService
	files     InputFileService
	charts    ChartService
	logger    *logging.Logger

	maxUploadBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps the size of an uploaded input file.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// NewServer creates a new Server.
func NewServer(pipelines PipelineService, runs RunService, files InputFileService, charts ChartService, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		pipelines: pipelines,
		runs:      runs,
		files:     files,
		charts:    charts,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the organization-scoped API on g, which is expected
// to be rooted at /v1/organizations/:organization_uuid.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/pipelines", s.ListPipelines)
	g.POST("/pipelines", s.CreatePipeline)
	g.PUT("/pipelines/:pipeline_uuid", s.UpdatePipeline)
	g.DELETE("/pipelines/:pipeline_uuid", s.DeletePipeline)

	g.POST("/pipelines/:pipeline_uuid/input_files", s.UploadInputFile)
	g.GET("/pipelines/:pipeline_uuid/input_files", s.ListInputFiles)
	g.GET("/pipelines/:pipeline_uuid/input_files/:file_uuid", s.DownloadInputFile)

	g.POST("/pipelines/:pipeline_uuid/runs", s.CreateRun)
	g.GET("/pipelines/:pipeline_uuid/runs", s.ListRuns)
	g.GET("/pipelines/:pipeline_uuid/runs/:run_uuid", s.GetRun)
	g.DELETE("/pipelines/:pipeline_uuid/runs/:run_uuid", s.DeleteRun)
	g.GET("/pipelines/:pipeline_uuid/runs/:run_uuid/post_processing", s.GetPostProcessing)
	g.PUT("/pipelines/:pipeline_uuid/runs/:run_uuid/post_processing", s.AdvancePostProcessing)

	g.POST("/pipelines/:pipeline_uuid/runs/:run_uuid/charts", s.CreateChart)
	g.GET("/pipelines/:pipeline_uuid/runs/:run_uuid/charts", s.ListCharts)
	g.DELETE("/pipelines/:pipeline_uuid/runs/:run_uuid/charts/:chart_uuid", s.DeleteChart)
}

func org(c echo.Context) string {
	return strings.ToLower(c.Param("organization_uuid"))
}

// bindJSON decodes the request body into v.
func bindJSON(c echo.Context, v any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		return apperr.Validation("body", "request body must be a JSON object")
	}
	return nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, name+" must be a non-negative integer")
	}
	return n, nil
}
