// Package services holds the reconcilers that keep local records consistent
// with the remote workflow engine, and the services that bind uploaded files
// and artifact charts to pipelines and runs.
//
// Every mutating operation calls the engine first and touches the database
// only after the engine confirmed the change.
package services

import (
	"context"
	"errors"
	"fmt"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/metrics"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/pkg/models"
)

// Dependencies bundles the collaborators shared by every service.
type Dependencies struct {
	Store   repository.Store
	Engine  WorkflowClient
	Blobs   BlobStore
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

func (d Dependencies) logger(component string) *logging.Logger {
	if d.Logger == nil {
		return logging.Discard()
	}
	return d.Logger.With("component", component)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func validateOrganization(org string) error {
	if !identity.Valid(org) {
		return apperr.Validation("organization_uuid", "must be a 32 character hex identifier")
	}
	return nil
}

// storeError classifies a repository failure.
func storeError(op string, err error, what, id string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, identity.ErrUnknown):
		return apperr.WithOp(apperr.NotFound(what, id), op)
	case errors.Is(err, repository.ErrStaleState):
		return apperr.WithOp(apperr.Conflict(err.Error()), op)
	case errors.Is(err, identity.ErrAlreadyBound):
		return apperr.WithOp(apperr.Conflict(err.Error()), op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// loadPipeline resolves a local pipeline id within an organization.
func loadPipeline(ctx context.Context, store repository.PipelineStore, op, org, pipelineUUID string) (*models.Pipeline, error) {
	if err := validateOrganization(org); err != nil {
		return nil, apperr.WithOp(err, op)
	}
	if !identity.Valid(pipelineUUID) {
		return nil, apperr.WithOp(apperr.NotFound("pipeline", pipelineUUID), op)
	}
	p, err := store.GetPipeline(ctx, org, pipelineUUID)
	if err != nil {
		return nil, storeError(op, err, "pipeline", pipelineUUID)
	}
	return p, nil
}

// loadRun resolves a visible local run of a pipeline.
func loadRun(ctx context.Context, store repository.Store, op, org, pipelineUUID, runUUID string) (*models.Pipeline, *models.PipelineRun, error) {
	p, err := loadPipeline(ctx, store, op, org, pipelineUUID)
	if err != nil {
		return nil, nil, err
	}
	if !identity.Valid(runUUID) {
		return nil, nil, apperr.WithOp(apperr.NotFound("run", runUUID), op)
	}
	r, err := store.GetRun(ctx, p.ID, runUUID)
	if err != nil {
		return nil, nil, storeError(op, err, "run", runUUID)
	}
	return p, r, nil
}
