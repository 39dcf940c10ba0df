package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/blobstore"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/metrics"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/internal/tracing"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// PipelineReconciler creates, updates, deletes and lists an organization's
// pipelines in step with the workflow engine.
type PipelineReconciler struct {
	store   repository.Store
	engine  WorkflowClient
	blobs   BlobStore
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewPipelineReconciler creates a PipelineReconciler.
func NewPipelineReconciler(deps Dependencies) *PipelineReconciler {
	return &PipelineReconciler{
		store:   deps.Store,
		engine:  deps.Engine,
		blobs:   deps.Blobs,
		logger:  deps.logger("pipelines"),
		metrics: deps.Metrics,
	}
}

func validatePipelineRequest(req *workflow.PipelineRequest) error {
	if req == nil {
		return apperr.Validation("body", "request body is required")
	}
	errs := req.Validate()
	if len(errs) == 0 {
		return nil
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return apperr.Validation(fields[0], errs[fields[0]])
}

// Create creates the pipeline remotely, then records it under a fresh local id.
// The engine's payload is returned with the local id in place of the remote one.
func (s *PipelineReconciler) Create(ctx context.Context, org string, req *workflow.PipelineRequest) (_ *workflow.Pipeline, err error) {
	const op = "services.CreatePipeline"
	ctx, span := tracing.StartSpan(ctx, "pipelines.Create", tracing.Org(org))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("pipeline", "create", outcome(err))
	}()

	if err := validateOrganization(org); err != nil {
		return nil, apperr.WithOp(err, op)
	}
	if err := validatePipelineRequest(req); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	remote, err := s.engine.CreatePipeline(ctx, req)
	if err != nil {
		return nil, err
	}

	corr := identity.Correlation{Kind: identity.KindPipeline, Local: identity.Mint()}
	if err := corr.Bind(remote.UUID); err != nil {
		if errors.Is(err, identity.ErrMalformed) {
			s.orphaned(ctx, "create", identity.Correlation{Kind: corr.Kind, Local: corr.Local, Remote: remote.UUID}, err)
		}
		return nil, apperr.Unavailable(op, fmt.Errorf("engine response: %w", err))
	}

	name := remote.Name
	if name == "" {
		name = req.Name
	}
	row := &models.Pipeline{
		UUID:             corr.Local,
		OrganizationUUID: org,
		PipelineUUID:     corr.Remote,
		Name:             name,
	}
	if err := s.store.CreatePipeline(ctx, row); err != nil {
		s.orphaned(ctx, "create", corr, err)
		return nil, storeError(op, err, "pipeline", row.UUID)
	}

	s.logger.Info("pipeline created", "organization_uuid", org, "pipeline_uuid", row.UUID)
	return remote.WithUUID(row.UUID), nil
}

// Update forwards the new definition to the engine, then stores the new name.
func (s *PipelineReconciler) Update(ctx context.Context, org, pipelineUUID string, req *workflow.PipelineRequest) (_ *workflow.Pipeline, err error) {
	const op = "services.UpdatePipeline"
	ctx, span := tracing.StartSpan(ctx, "pipelines.Update", tracing.Org(org), tracing.Pipeline(pipelineUUID))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("pipeline", "update", outcome(err))
	}()

	if err := validatePipelineRequest(req); err != nil {
		return nil, apperr.WithOp(err, op)
	}
	row, err := loadPipeline(ctx, s.store, op, org, pipelineUUID)
	if err != nil {
		return nil, err
	}

	remote, err := s.engine.UpdatePipeline(ctx, row.PipelineUUID, req)
	if err != nil {
		return nil, err
	}

	row.Name = req.Name
	if remote.Name != "" {
		row.Name = remote.Name
	}
	if err := s.store.UpdatePipeline(ctx, row); err != nil {
		s.logger.Error("pipeline updated remotely but not locally",
			"organization_uuid", org, "pipeline_uuid", row.UUID, "remote_uuid", row.PipelineUUID, "error", err)
		return nil, storeError(op, err, "pipeline", row.UUID)
	}
	return remote.WithUUID(row.UUID), nil
}

// Delete removes the pipeline from the engine, then deletes the local row and
// everything it owns. Input file contents are removed last; a blob that cannot
// be removed is logged and left behind.
func (s *PipelineReconciler) Delete(ctx context.Context, org, pipelineUUID string) (err error) {
	const op = "services.DeletePipeline"
	ctx, span := tracing.StartSpan(ctx, "pipelines.Delete", tracing.Org(org), tracing.Pipeline(pipelineUUID))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("pipeline", "delete", outcome(err))
	}()

	row, err := loadPipeline(ctx, s.store, op, org, pipelineUUID)
	if err != nil {
		return err
	}
	if err := s.engine.DeletePipeline(ctx, row.PipelineUUID); err != nil {
		return err
	}

	files, err := s.store.ListInputFiles(ctx, row.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "could not list input files of deleted pipeline",
			"pipeline_uuid", row.UUID, "error", err)
		files = nil
	}

	if err := s.store.DeletePipeline(ctx, row.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// deleted concurrently; the end state is what the caller asked for
			return nil
		}
		s.orphaned(ctx, "delete", row.Correlation(), err)
		return storeError(op, err, "pipeline", row.UUID)
	}

	s.removeBlobs(ctx, row.UUID, files)
	s.logger.Info("pipeline deleted", "organization_uuid", org, "pipeline_uuid", row.UUID)
	return nil
}

func (s *PipelineReconciler) removeBlobs(ctx context.Context, pipelineUUID string, files []*models.InputFile) {
	if s.blobs == nil {
		return
	}
	for _, f := range files {
		err := s.blobs.Delete(ctx, f.StorageKey)
		if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.WarnContext(ctx, "input file contents left behind",
				"pipeline_uuid", pipelineUUID, "storage_key", f.StorageKey, "error", err)
		}
	}
}

// List returns the engine's view of the organization's pipelines, each
// rewritten to its local id. Engine entries with no local row are dropped.
// An organization without pipelines still sends an empty search.
func (s *PipelineReconciler) List(ctx context.Context, org string, filter models.PipelineFilter) (_ []*workflow.Pipeline, err error) {
	const op = "services.ListPipelines"
	ctx, span := tracing.StartSpan(ctx, "pipelines.List", tracing.Org(org))
	defer func() { tracing.End(span, err) }()

	if err := validateOrganization(org); err != nil {
		return nil, apperr.WithOp(err, op)
	}
	rows, err := s.store.ListPipelines(ctx, org, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := []*workflow.Pipeline{}

	// searched even when nothing is recorded locally
	correlations := make([]identity.Correlation, 0, len(rows))
	for _, row := range rows {
		correlations = append(correlations, row.Correlation())
	}
	table := identity.NewTable(correlations...)

	remote, err := s.engine.SearchPipelines(ctx, table.Remotes())
	if err != nil {
		return nil, err
	}
	for _, p := range remote {
		if p == nil {
			continue
		}
		local, ok := table.Local(p.UUID)
		if !ok {
			continue
		}
		out = append(out, p.WithUUID(local))
	}
	return out, nil
}

// orphaned records a remote change whose local commit failed. Nothing
// compensates it; operators reconcile from the log and the counter.
func (s *PipelineReconciler) orphaned(ctx context.Context, action string, corr identity.Correlation, err error) {
	s.metrics.Orphaned("pipeline")
	s.logger.ErrorContext(ctx, "pipeline changed remotely but local commit failed",
		"action", action, "local_uuid", corr.Local, "remote_uuid", corr.Remote, "error", err)
}
