package repository

import (
	"context"
	"errors"

	"pipeline-proxy/internal/identity"
	"pipeline-proxy/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist or is soft-deleted.
	ErrNotFound = errors.New("record not found")
	// ErrStaleState is returned when a post-processing transition was computed
	// from a state that is no longer current.
	ErrStaleState = errors.New("post-processing state changed concurrently")
)

// PipelineStore persists organization pipelines.
type PipelineStore interface {
	// CreatePipeline inserts a pipeline already bound to its remote id.
	CreatePipeline(ctx context.Context, p *models.Pipeline) error
	// GetPipeline loads a pipeline by local id within an organization.
	GetPipeline(ctx context.Context, organizationUUID, uuid string) (*models.Pipeline, error)
	ListPipelines(ctx context.Context, organizationUUID string, filter models.PipelineFilter) ([]*models.Pipeline, error)
	// UpdatePipeline stores the name and refreshes updated_at.
	UpdatePipeline(ctx context.Context, p *models.Pipeline) error
	// DeletePipeline removes the pipeline and, by cascade, everything it owns.
	DeletePipeline(ctx context.Context, id int64) error
}

// RunStore persists pipeline runs. Soft-deleted runs are invisible to every
// lookup except GetRunByUUID with includeDeleted.
type RunStore interface {
	// CreateRun inserts the run and its initial pending post-processing entry
	// in one transaction.
	CreateRun(ctx context.Context, r *models.PipelineRun) error
	GetRun(ctx context.Context, pipelineID int64, uuid string) (*models.PipelineRun, error)
	GetRunByUUID(ctx context.Context, uuid string, includeDeleted bool) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, pipelineID int64) ([]*models.PipelineRun, error)
	SoftDeleteRun(ctx context.Context, id int64) error
	// BindRunRemote sets the remote id of a run that has none. A different
	// existing binding fails with identity.ErrAlreadyBound.
	BindRunRemote(ctx context.Context, id int64, remote string) error
}

// PostProcessingStore persists the append-only post-processing history.
type PostProcessingStore interface {
	// CurrentPostProcessing returns the latest history entry of a run.
	CurrentPostProcessing(ctx context.Context, runID int64) (*models.PostProcessingState, error)
	// PostProcessingHistory returns every entry, oldest first.
	PostProcessingHistory(ctx context.Context, runID int64) ([]*models.PostProcessingState, error)
	// AppendPostProcessing appends entry if the current state still equals
	// entry.FromState, otherwise it fails with ErrStaleState. Appends to the
	// same run are serialized.
	AppendPostProcessing(ctx context.Context, entry *models.PostProcessingState) error
}

// InputFileStore persists the records of uploaded input files.
type InputFileStore interface {
	CreateInputFile(ctx context.Context, f *models.InputFile) error
	ListInputFiles(ctx context.Context, pipelineID int64) ([]*models.InputFile, error)
	GetInputFile(ctx context.Context, pipelineID int64, uuid string) (*models.InputFile, error)
}

// ChartStore persists artifact charts.
type ChartStore interface {
	CreateChart(ctx context.Context, c *models.ArtifactChart) error
	ListCharts(ctx context.Context, runID int64) ([]*models.ArtifactChart, error)
	GetChart(ctx context.Context, runID int64, uuid string) (*models.ArtifactChart, error)
	SoftDeleteChart(ctx context.Context, id int64) error
}

// Store is everything the services need from the database.
type Store interface {
	PipelineStore
	RunStore
	PostProcessingStore
	InputFileStore
	ChartStore
	identity.Resolver
}
