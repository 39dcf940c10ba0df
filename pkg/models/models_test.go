package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostProcessingTransitions(t *testing.T) {
	allowed := map[[2]PostProcessingStatus]bool{
		{PostProcessingPending, PostProcessingInProgress}:  true,
		{PostProcessingPending, PostProcessingFailed}:      true,
		{PostProcessingInProgress, PostProcessingComplete}: true,
		{PostProcessingInProgress, PostProcessingFailed}:   true,
		{PostProcessingFailed, PostProcessingPending}:      true,
	}
	for _, from := range PostProcessingStatuses {
		for _, to := range PostProcessingStatuses {
			want := allowed[[2]PostProcessingStatus{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestParsePostProcessingStatus(t *testing.T) {
	st, err := ParsePostProcessingStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, PostProcessingInProgress, st)

	_, err = ParsePostProcessingStatus("done")
	assert.Error(t, err)
}

func TestParseChartType(t *testing.T) {
	ct, ok := ParseChartType(" line ")
	assert.True(t, ok)
	assert.Equal(t, ChartTypeLine, ct)

	_, ok = ParseChartType("PIE")
	assert.False(t, ok)
}

func TestCorrelations(t *testing.T) {
	p := &Pipeline{UUID: "local", PipelineUUID: "remote"}
	assert.True(t, p.Correlation().Materialized())

	r := &PipelineRun{UUID: "local"}
	assert.False(t, r.Correlation().Materialized())
}
