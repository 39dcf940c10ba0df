package services

import (
	"context"
	"io"

	"pipeline-proxy/internal/workflow"
)

// WorkflowClient is the remote workflow engine as seen by the reconcilers.
// Errors are classified as apperr BackendUnavailable or BackendRejected.
type WorkflowClient interface {
	CreatePipeline(ctx context.Context, req *workflow.PipelineRequest) (*workflow.Pipeline, error)
	UpdatePipeline(ctx context.Context, pipelineUUID string, req *workflow.PipelineRequest) (*workflow.Pipeline, error)
	DeletePipeline(ctx context.Context, pipelineUUID string) error
	SearchPipelines(ctx context.Context, uuids []string) ([]*workflow.Pipeline, error)
	CreateRun(ctx context.Context, pipelineUUID string, req *workflow.RunRequest) (*workflow.Run, error)
	ListRuns(ctx context.Context, pipelineUUID string) ([]*workflow.Run, error)
	GetRun(ctx context.Context, pipelineUUID, runUUID string) (*workflow.Run, error)
	DeleteRun(ctx context.Context, pipelineUUID, runUUID string) error
}

// BlobStore holds the contents of uploaded input files.
type BlobStore interface {
	// Put streams r under key and returns the stored size.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns the object under key; a missing object wraps blobstore.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object under key; a missing object wraps blobstore.ErrNotFound.
	Delete(ctx context.Context, key string) error
}
