package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/blobstore"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/metrics"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/internal/tracing"
	"pipeline-proxy/pkg/models"
)

// InputFileService stores files uploaded for a pipeline.
type InputFileService struct {
	store   repository.Store
	blobs   BlobStore
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewInputFileService creates an InputFileService.
func NewInputFileService(deps Dependencies) *InputFileService {
	return &InputFileService{
		store:   deps.Store,
		blobs:   deps.Blobs,
		logger:  deps.logger("input_files"),
		metrics: deps.Metrics,
	}
}

// StorageKey is where the contents of an input file live in the blob store.
func StorageKey(pipelineUUID, fileUUID, name string) string {
	return fmt.Sprintf("pipelines/%s/input_files/%s/%s", pipelineUUID, fileUUID, name)
}

// Upload validates the request, streams body to the blob store and records
// the file. Nothing is written when validation fails, and no row exists
// unless the blob was stored.
func (s *InputFileService) Upload(ctx context.Context, org, pipelineUUID, name string, body io.Reader) (_ *models.InputFile, err error) {
	const op = "services.UploadInputFile"
	ctx, span := tracing.StartSpan(ctx, "input_files.Upload", tracing.Org(org), tracing.Pipeline(pipelineUUID))
	defer func() {
		tracing.End(span, err)
		s.metrics.Reconciled("input_file", "upload", outcome(err))
	}()

	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, apperr.WithOp(apperr.Validation("name", "file name is required"), op)
	case strings.ContainsAny(name, `/\`), name == ".", name == "..":
		return nil, apperr.WithOp(apperr.Validation("name", "file name must not contain path separators"), op)
	case utf8.RuneCountInString(name) > models.MaxNameLength:
		return nil, apperr.WithOp(apperr.Validation("name",
			fmt.Sprintf("file name must be at most %d characters", models.MaxNameLength)), op)
	}

	if body == nil {
		return nil, apperr.WithOp(apperr.Validation("body", "file body is required"), op)
	}
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.WithOp(apperr.Validation("body", "file body is empty"), op)
		}
		return nil, apperr.WithOp(apperr.Validation("body", "file body could not be read"), op)
	}

	if err := validateOrganization(org); err != nil {
		return nil, apperr.WithOp(err, op)
	}
	if !identity.Valid(pipelineUUID) {
		return nil, apperr.WithOp(apperr.Validation("pipeline_uuid", "unknown pipeline"), op)
	}
	p, err := s.store.GetPipeline(ctx, org, pipelineUUID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.WithOp(apperr.Validation("pipeline_uuid", "unknown pipeline"), op)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	file := &models.InputFile{UUID: identity.Mint(), PipelineID: p.ID, Name: name}
	file.StorageKey = StorageKey(p.UUID, file.UUID, name)

	n, err := s.blobs.Put(ctx, file.StorageKey, br)
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	file.SizeBytes = n
	s.metrics.Uploaded(n)

	if err := s.store.CreateInputFile(ctx, file); err != nil {
		s.logger.ErrorContext(ctx, "input file stored but not recorded",
			"pipeline_uuid", p.UUID, "storage_key", file.StorageKey, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("input file uploaded", "pipeline_uuid", p.UUID, "file_uuid", file.UUID, "size_bytes", n)
	return file, nil
}

// List returns the input files of a pipeline.
func (s *InputFileService) List(ctx context.Context, org, pipelineUUID string) ([]*models.InputFile, error) {
	const op = "services.ListInputFiles"
	p, err := loadPipeline(ctx, s.store, op, org, pipelineUUID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListInputFiles(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if files == nil {
		files = []*models.InputFile{}
	}
	return files, nil
}

// Open returns the record of an input file and a reader over its contents.
// The caller closes the reader.
func (s *InputFileService) Open(ctx context.Context, org, pipelineUUID, fileUUID string) (*models.InputFile, io.ReadCloser, error) {
	const op = "services.OpenInputFile"
	p, err := loadPipeline(ctx, s.store, op, org, pipelineUUID)
	if err != nil {
		return nil, nil, err
	}
	if !identity.Valid(fileUUID) {
		return nil, nil, apperr.WithOp(apperr.NotFound("input file", fileUUID), op)
	}
	file, err := s.store.GetInputFile(ctx, p.ID, fileUUID)
	if err != nil {
		return nil, nil, storeError(op, err, "input file", fileUUID)
	}
	rc, err := s.blobs.Open(ctx, file.StorageKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, apperr.WithOp(apperr.NotFound("input file contents", fileUUID), op)
	}
	if err != nil {
		return nil, nil, apperr.Unavailable(op, err)
	}
	return file, rc, nil
}
