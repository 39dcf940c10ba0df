package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/metrics"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/internal/tracing"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// RunReconciler manages pipeline runs in step with the workflow engine and
// owns their local post-processing lifecycle.
type RunReconciler struct {
	store   repository.Store
	engine  WorkflowClient
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewRunReconciler creates a RunReconciler.
func NewRunReconciler(deps Dependencies) *RunReconciler {
	return &RunReconciler{
		store:   deps.Store,
		engine:  deps.Engine,
		logger:  deps.logger("runs"),
		metrics: deps.Metrics,
	}
}

// Create starts a run in the engine and records it, together with a pending
// post-processing entry, under a fresh local id.
func (s *RunReconciler) Create(ctx context.Context, org, pipelineUUID string, req *workflow.RunRequest) (_ *workflow.Run, err error) {
	const op = "services.CreateRun"
	ctx, span := tracing.StartSpan(ctx, "runs.Create", tracing.Org(org), tracing.Pipeline(pipelineUUID))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("run", "create", outcome(err))
	}()

	if req == nil {
		return nil, apperr.WithOp(apperr.Validation("body", "request body is required"), op)
	}
	p, err := loadPipeline(ctx, s.store, op, org, pipelineUUID)
	if err != nil {
		return nil, err
	}

	remote, err := s.engine.CreateRun(ctx, p.PipelineUUID, req)
	if err != nil {
		return nil, err
	}

	corr := identity.Correlation{Kind: identity.KindRun, Local: identity.Mint()}
	if err := corr.Bind(remote.UUID); err != nil {
		if errors.Is(err, identity.ErrMalformed) {
			s.orphaned(ctx, "create", identity.Correlation{Kind: corr.Kind, Local: corr.Local, Remote: remote.UUID}, err)
		}
		return nil, apperr.Unavailable(op, fmt.Errorf("engine response: %w", err))
	}

	run := &models.PipelineRun{UUID: corr.Local, PipelineID: p.ID, PipelineRunUUID: corr.Remote}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.orphaned(ctx, "create", corr, err)
		return nil, storeError(op, err, "run", run.UUID)
	}

	s.logger.Info("run created", "pipeline_uuid", p.UUID, "run_uuid", run.UUID)
	return remote.WithUUIDs(run.UUID, p.UUID), nil
}

// List returns the engine's runs of a pipeline rewritten to local ids. Runs
// that are soft-deleted or unknown locally are left out whatever the engine
// reports.
func (s *RunReconciler) List(ctx context.Context, org, pipelineUUID string) (_ []*workflow.Run, err error) {
	const op = "services.ListRuns"
	ctx, span := tracing.StartSpan(ctx, "runs.List", tracing.Org(org), tracing.Pipeline(pipelineUUID))
	defer func() { tracing.End(span, err) }()

	p, err := loadPipeline(ctx, s.store, op, org, pipelineUUID)
	if err != nil {
		return nil, err
	}

	remote, err := s.engine.ListRuns(ctx, p.PipelineUUID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListRuns(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	correlations := make([]identity.Correlation, 0, len(rows))
	for _, r := range rows {
		correlations = append(correlations, r.Correlation())
	}
	table := identity.NewTable(correlations...)

	out := make([]*workflow.Run, 0, len(remote))
	for _, r := range remote {
		if r == nil {
			continue
		}
		local, ok := table.Local(r.UUID)
		if !ok {
			continue
		}
		out = append(out, r.WithUUIDs(local, p.UUID))
	}
	return out, nil
}

// Get fetches a run from the engine. Soft-deleted runs are NotFound; runs
// without a remote id are NotMaterialized and never reach the engine.
func (s *RunReconciler) Get(ctx context.Context, org, pipelineUUID, runUUID string) (_ *workflow.Run, err error) {
	const op = "services.GetRun"
	ctx, span := tracing.StartSpan(ctx, "runs.Get", tracing.Org(org), tracing.Pipeline(pipelineUUID), tracing.Run(runUUID))
	defer func() { tracing.End(span, err) }()

	p, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return nil, err
	}
	if !run.Correlation().Materialized() {
		return nil, apperr.WithOp(apperr.NotMaterialized("run", run.UUID), op)
	}

	remote, err := s.engine.GetRun(ctx, p.PipelineUUID, run.PipelineRunUUID)
	if err != nil {
		return nil, err
	}
	return remote.WithUUIDs(run.UUID, p.UUID), nil
}

// Delete removes the run from the engine and then soft-deletes it locally. A
// run that never reached the engine is soft-deleted without a remote call.
func (s *RunReconciler) Delete(ctx context.Context, org, pipelineUUID, runUUID string) (err error) {
	const op = "services.DeleteRun"
	ctx, span := tracing.StartSpan(ctx, "runs.Delete", tracing.Org(org), tracing.Pipeline(pipelineUUID), tracing.Run(runUUID))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("run", "delete", outcome(err))
	}()

	p, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return err
	}

	corr := run.Correlation()
	if corr.Materialized() {
		if err := s.engine.DeleteRun(ctx, p.PipelineUUID, run.PipelineRunUUID); err != nil {
			return err
		}
	}

	if err := s.store.SoftDeleteRun(ctx, run.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if corr.Materialized() {
			s.orphaned(ctx, "delete", corr, err)
		}
		return storeError(op, err, "run", run.UUID)
	}

	s.logger.Info("run deleted", "pipeline_uuid", p.UUID, "run_uuid", run.UUID)
	return nil
}

// PostProcessing returns the current post-processing state of a run and its history.
func (s *RunReconciler) PostProcessing(ctx context.Context, org, pipelineUUID, runUUID string) (*models.PostProcessingView, error) {
	const op = "services.PostProcessing"
	_, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return nil, err
	}
	return s.postProcessingView(ctx, op, run)
}

// AdvancePostProcessing moves a run to a new post-processing state.
func (s *RunReconciler) AdvancePostProcessing(ctx context.Context, org, pipelineUUID, runUUID string, req PostProcessingRequest) (_ *models.PostProcessingView, err error) {
	const op = "services.AdvancePostProcessing"
	ctx, span := tracing.StartSpan(ctx, "runs.AdvancePostProcessing", tracing.Org(org), tracing.Run(runUUID))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("post_processing", "advance", outcome(err))
	}()

	to, err := req.validate()
	if err != nil {
		return nil, apperr.WithOp(err, op)
	}
	_, run, err := loadRun(ctx, s.store, op, org, pipelineUUID, runUUID)
	if err != nil {
		return nil, err
	}
	return s.advance(ctx, op, run, to, req)
}

// AdvanceRunPostProcessing is AdvancePostProcessing addressed by run id alone,
// for workers that do not know the owning organization.
func (s *RunReconciler) AdvanceRunPostProcessing(ctx context.Context, runUUID string, req PostProcessingRequest) (*models.PostProcessingView, error) {
	const op = "services.AdvanceRunPostProcessing"
	to, err := req.validate()
	if err != nil {
		return nil, apperr.WithOp(err, op)
	}
	run, err := s.store.GetRunByUUID(ctx, runUUID, false)
	if err != nil {
		return nil, storeError(op, err, "run", runUUID)
	}
	return s.advance(ctx, op, run, to, req)
}

// BindRemote materializes a legacy run that has no remote id. Binding the
// id it already has is a no-op; binding a different one is a Conflict.
func (s *RunReconciler) BindRemote(ctx context.Context, runUUID, remoteUUID string) error {
	const op = "services.BindRemote"
	if !identity.Valid(remoteUUID) {
		return apperr.WithOp(apperr.Validation("remote_uuid", "must be a 32 character hex identifier"), op)
	}
	run, err := s.store.GetRunByUUID(ctx, runUUID, false)
	if err != nil {
		return storeError(op, err, "run", runUUID)
	}
	corr := run.Correlation()
	if err := corr.Bind(remoteUUID); err != nil {
		return storeError(op, err, "run", runUUID)
	}
	if err := s.store.BindRunRemote(ctx, run.ID, remoteUUID); err != nil {
		return storeError(op, err, "run", runUUID)
	}
	s.logger.Info("run bound to remote", "run_uuid", run.UUID, "remote_uuid", remoteUUID)
	return nil
}

func (s *RunReconciler) advance(ctx context.Context, op string, run *models.PipelineRun, to models.PostProcessingStatus, req PostProcessingRequest) (*models.PostProcessingView, error) {
	current, err := s.store.CurrentPostProcessing(ctx, run.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	from := models.PostProcessingStatus("")
	if current != nil {
		from = current.State
	}
	// a run without history starts out pending
	if !effective(from).CanTransition(to) {
		return nil, apperr.WithOp(apperr.Conflict(fmt.Sprintf("cannot move post-processing from %s to %s", effective(from), to)), op)
	}

	entry := &models.PostProcessingState{
		RunID:     run.ID,
		FromState: from,
		State:     to,
		Message:   req.Message,
		Metadata:  req.Metadata,
	}
	if err := s.store.AppendPostProcessing(ctx, entry); err != nil {
		return nil, storeError(op, err, "run", run.UUID)
	}
	s.logger.Info("post-processing advanced", "run_uuid", run.UUID, "from", effective(from), "to", to)
	return s.postProcessingView(ctx, op, run)
}

func effective(s models.PostProcessingStatus) models.PostProcessingStatus {
	if s == "" {
		return models.PostProcessingPending
	}
	return s
}

func (s *RunReconciler) postProcessingView(ctx context.Context, op string, run *models.PipelineRun) (*models.PostProcessingView, error) {
	history, err := s.store.PostProcessingHistory(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	view := &models.PostProcessingView{State: models.PostProcessingPending, History: history}
	if view.History == nil {
		view.History = []*models.PostProcessingState{}
	}
	if n := len(history); n > 0 {
		view.State = history[n-1].State
	}
	return view, nil
}

func (s *RunReconciler) orphaned(ctx context.Context, action string, corr identity.Correlation, err error) {
	s.metrics.Orphaned("run")
	s.logger.ErrorContext(ctx, "run changed remotely but local commit failed",
		"action", action, "local_uuid", corr.Local, "remote_uuid", corr.Remote, "error", err)
}

// PostProcessingRequest asks for a post-processing transition.
type PostProcessingRequest struct {
	State    string          `json:"state"`
	Message  string          `json:"message,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (r PostProcessingRequest) validate() (models.PostProcessingStatus, error) {
	to, err := models.ParsePostProcessingStatus(r.State)
	if err != nil {
		return "", apperr.Validation("state", err.Error())
	}
	if len(r.Metadata) > 0 && !json.Valid(r.Metadata) {
		return "", apperr.Validation("metadata", "metadata must be valid JSON")
	}
	return to, nil
}
