package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// EnginePipeline decodes an engine pipeline document.
func EnginePipeline(t testing.TB, doc string) *workflow.Pipeline {
	t.Helper()
	var p workflow.Pipeline
	require.NoError(t, json.Unmarshal([]byte(doc), &p))
	return &p
}

// EngineRun decodes an engine run document.
func EngineRun(t testing.TB, doc string) *workflow.Run {
	t.Helper()
	var r workflow.Run
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	return &r
}

// NewPipeline returns a persisted-looking pipeline row of org.
func NewPipeline(org string, id int64) *models.Pipeline {
	return &models.Pipeline{
		ID:               id,
		UUID:             identity.Mint(),
		OrganizationUUID: org,
		PipelineUUID:     identity.Mint(),
		Name:             "pipeline",
	}
}

// NewRun returns a persisted-looking run row bound to a fresh remote id.
func NewRun(p *models.Pipeline, id int64) *models.PipelineRun {
	return &models.PipelineRun{
		ID:              id,
		UUID:            identity.Mint(),
		PipelineID:      p.ID,
		PipelineRunUUID: identity.Mint(),
	}
}
