package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/pkg/models"
)

// ChartRequest describes an artifact chart to create.
type ChartRequest struct {
	Name          string          `json:"name"`
	ArtifactUUID  string          `json:"artifact_uuid"`
	ChartTypeCode string          `json:"chart_type_code"`
	ChartConfig   json.RawMessage `json:"chart_config,omitempty"`
}

func (r ChartRequest) validate() (models.ChartType, error) {
	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		return "", apperr.Validation("name", "name is required")
	case utf8.RuneCountInString(name) > models.MaxChartNameLength:
		return "", apperr.Validation("name", fmt.Sprintf("name must be at most %d characters", models.MaxChartNameLength))
	case !identity.Valid(r.ArtifactUUID):
		return "", apperr.Validation("artifact_uuid", "must be a 32 character hex identifier")
	}
	chartType, ok := models.ParseChartType(r.ChartTypeCode)
	if !ok {
		return "", apperr.Validation("chart_type_code", fmt.Sprintf("unknown chart type %q", r.ChartTypeCode))
	}
	if len(r.ChartConfig) > 0 && !json.Valid(r.ChartConfig) {
		return "", apperr.Validation("chart_config", "chart_config must be valid JSON")
	}
	return chartType, nil
}

// ArtifactService binds charts of run artifacts to their run.
type ArtifactService struct {
	store  repository.Store
	logger *logging.Logger
}

// NewArtifactService creates an ArtifactService.
func NewArtifactService(deps Dependencies) *ArtifactService {
	return &ArtifactService{store: deps.Store, logger: deps.logger("artifacts")}
}

// CreateChart records a chart for an artifact of a visible run.
func (s *ArtifactService) CreateChart(ctx context.Context, org, pipelineUUID, runUUID string, req ChartRequest) (*models.ArtifactChart, error) {
	const op = "services.CreateChart"
	chartType, err := req.validate()
	if err != nil {
		return nil, apperr.WithOp(err, op)
	}
	_, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return nil, err
	}

	chart := &models.ArtifactChart{
		UUID:         identity.Mint(),
		Name:         strings.TrimSpace(req.Name),
		RunID:        run.ID,
		ArtifactUUID: req.ArtifactUUID,
		ChartType:    chartType,
		ChartConfig:  req.ChartConfig,
	}
	if err := s.store.CreateChart(ctx, chart); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("chart created", "run_uuid", run.UUID, "chart_uuid", chart.UUID, "chart_type", chartType)
	return chart, nil
}

// ListCharts returns the visible charts of a run.
func (s *ArtifactService) ListCharts(ctx context.Context, org, pipelineUUID, runUUID string) ([]*models.ArtifactChart, error) {
	const op = "services.ListCharts"
	_, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return nil, err
	}
	charts, err := s.store.ListCharts(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if charts == nil {
		charts = []*models.ArtifactChart{}
	}
	return charts, nil
}

// DeleteChart soft-deletes a chart.
func (s *ArtifactService) DeleteChart(ctx context.Context, org, pipelineUUID, runUUID, chartUUID string) error {
	const op = "services.DeleteChart"
	_, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return err
	}
	if !identity.Valid(chartUUID) {
		return apperr.WithOp(apperr.NotFound("chart", chartUUID), op)
	}
	chart, err := s.store.GetChart(ctx, run.ID, chartUUID)
	if err != nil {
		return storeError(op, err, "chart", chartUUID)
	}
	if err := s.store.SoftDeleteChart(ctx, chart.ID); err != nil {
		return storeError(op, err, "chart", chartUUID)
	}
	return nil
}
