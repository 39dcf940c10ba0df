package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/pkg/models"
)

func TestCreateChart(t *testing.T) {
	deps, store, _, _ := newDeps()
	svc := NewArtifactService(deps)
	org, p, r := runFixture(store)
	artifact := identity.Mint()

	store.On("CreateChart", mock.Anything, mock.AnythingOfType("*models.ArtifactChart")).Return(nil)

	chart, err := svc.CreateChart(context.Background(), org, p.UUID, r.UUID, ChartRequest{
		Name:          " coverage ",
		ArtifactUUID:  artifact,
		ChartTypeCode: "line",
		ChartConfig:   json.RawMessage(`{"x":"position"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "coverage", chart.Name)
	assert.Equal(t, models.ChartTypeLine, chart.ChartType)
	assert.Equal(t, r.ID, chart.RunID)
	assert.Equal(t, artifact, chart.ArtifactUUID)
	assert.True(t, identity.Valid(chart.UUID))
}

func TestCreateChartValidation(t *testing.T) {
	valid := ChartRequest{Name: "c", ArtifactUUID: identity.Mint(), ChartTypeCode: "BAR"}
	tests := []struct {
		name  string
		edit  func(*ChartRequest)
		field string
	}{
		{"missing name", func(r *ChartRequest) { r.Name = "" }, "name"},
		{"long name", func(r *ChartRequest) { r.Name = strings.Repeat("n", models.MaxChartNameLength+1) }, "name"},
		{"bad artifact", func(r *ChartRequest) { r.ArtifactUUID = "artifact" }, "artifact_uuid"},
		{"unknown type", func(r *ChartRequest) { r.ChartTypeCode = "PIE" }, "chart_type_code"},
		{"bad config", func(r *ChartRequest) { r.ChartConfig = json.RawMessage(`{`) }, "chart_config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, store, _, _ := newDeps()
			svc := NewArtifactService(deps)
			req := valid
			tt.edit(&req)

			_, err := svc.CreateChart(context.Background(), identity.Mint(), identity.Mint(), identity.Mint(), req)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
			store.AssertNotCalled(t, "CreateChart", mock.Anything, mock.Anything)
		})
	}
}

func TestDeleteChart(t *testing.T) {
	deps, store, _, _ := newDeps()
	svc := NewArtifactService(deps)
	org, p, r := runFixture(store)
	chart := &models.ArtifactChart{ID: 21, UUID: identity.Mint(), RunID: r.ID}

	store.On("GetChart", mock.Anything, r.ID, chart.UUID).Return(chart, nil)
	store.On("SoftDeleteChart", mock.Anything, chart.ID).Return(nil)
	require.NoError(t, svc.DeleteChart(context.Background(), org, p.UUID, r.UUID, chart.UUID))

	missing := identity.Mint()
	store.On("GetChart", mock.Anything, r.ID, missing).Return(nil, repository.ErrNotFound)
	err := svc.DeleteChart(context.Background(), org, p.UUID, r.UUID, missing)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListChartsOfHiddenRun(t *testing.T) {
	deps, store, _, _ := newDeps()
	svc := NewArtifactService(deps)
	org := identity.Mint()
	p := &models.Pipeline{ID: 1, UUID: identity.Mint(), OrganizationUUID: org}
	hidden := identity.Mint()

	store.On("GetPipeline", mock.Anything, org, p.UUID).Return(p, nil)
	store.On("GetRun", mock.Anything, p.ID, hidden).Return(nil, repository.ErrNotFound)

	_, err := svc.ListCharts(context.Background(), org, p.UUID, hidden)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	store.AssertNotCalled(t, "ListCharts", mock.Anything, mock.Anything)
}
