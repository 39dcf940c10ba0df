// Package testutil provides testify mocks and in-memory fakes for the
// collaborators of the services.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"pipeline-proxy/internal/blobstore"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// MockStore is a testify mock of repository.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockStore) GetPipeline(ctx context.Context, org, uuid string) (*models.Pipeline, error) {
	args := m.Called(ctx, org, uuid)
	p, _ := args.Get(0).(*models.Pipeline)
	return p, args.Error(1)
}

func (m *MockStore) ListPipelines(ctx context.Context, org string, filter models.PipelineFilter) ([]*models.Pipeline, error) {
	args := m.Called(ctx, org, filter)
	ps, _ := args.Get(0).([]*models.Pipeline)
	return ps, args.Error(1)
}

func (m *MockStore) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockStore) DeletePipeline(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) CreateRun(ctx context.Context, r *models.PipelineRun) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockStore) GetRun(ctx context.Context, pipelineID int64, uuid string) (*models.PipelineRun, error) {
	args := m.Called(ctx, pipelineID, uuid)
	r, _ := args.Get(0).(*models.PipelineRun)
	return r, args.Error(1)
}

func (m *MockStore) GetRunByUUID(ctx context.Context, uuid string, includeDeleted bool) (*models.PipelineRun, error) {
	args := m.Called(ctx, uuid, includeDeleted)
	r, _ := args.Get(0).(*models.PipelineRun)
	return r, args.Error(1)
}

func (m *MockStore) ListRuns(ctx context.Context, pipelineID int64) ([]*models.PipelineRun, error) {
	args := m.Called(ctx, pipelineID)
	rs, _ := args.Get(0).([]*models.PipelineRun)
	return rs, args.Error(1)
}

func (m *MockStore) SoftDeleteRun(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) BindRunRemote(ctx context.Context, id int64, remote string) error {
	return m.Called(ctx, id, remote).Error(0)
}

func (m *MockStore) CurrentPostProcessing(ctx context.Context, runID int64) (*models.PostProcessingState, error) {
	args := m.Called(ctx, runID)
	st, _ := args.Get(0).(*models.PostProcessingState)
	return st, args.Error(1)
}

func (m *MockStore) PostProcessingHistory(ctx context.Context, runID int64) ([]*models.PostProcessingState, error) {
	args := m.Called(ctx, runID)
	h, _ := args.Get(0).([]*models.PostProcessingState)
	return h, args.Error(1)
}

func (m *MockStore) AppendPostProcessing(ctx context.Context, entry *models.PostProcessingState) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockStore) CreateInputFile(ctx context.Context, f *models.InputFile) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockStore) ListInputFiles(ctx context.Context, pipelineID int64) ([]*models.InputFile, error) {
	args := m.Called(ctx, pipelineID)
	fs, _ := args.Get(0).([]*models.InputFile)
	return fs, args.Error(1)
}

func (m *MockStore) GetInputFile(ctx context.Context, pipelineID int64, uuid string) (*models.InputFile, error) {
	args := m.Called(ctx, pipelineID, uuid)
	f, _ := args.Get(0).(*models.InputFile)
	return f, args.Error(1)
}

func (m *MockStore) CreateChart(ctx context.Context, c *models.ArtifactChart) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockStore) ListCharts(ctx context.Context, runID int64) ([]*models.ArtifactChart, error) {
	args := m.Called(ctx, runID)
	cs, _ := args.Get(0).([]*models.ArtifactChart)
	return cs, args.Error(1)
}

func (m *MockStore) GetChart(ctx context.Context, runID int64, uuid string) (*models.ArtifactChart, error) {
	args := m.Called(ctx, runID, uuid)
	c, _ := args.Get(0).(*models.ArtifactChart)
	return c, args.Error(1)
}

func (m *MockStore) SoftDeleteChart(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) RemoteID(ctx context.Context, org string, kind identity.Kind, local string) (string, error) {
	args := m.Called(ctx, org, kind, local)
	return args.String(0), args.Error(1)
}

func (m *MockStore) LocalID(ctx context.Context, org string, kind identity.Kind, remote string) (string, error) {
	args := m.Called(ctx, org, kind, remote)
	return args.String(0), args.Error(1)
}

// MockWorkflowClient is a testify mock of the workflow engine client.
type MockWorkflowClient struct {
	mock.Mock
}

func (m *MockWorkflowClient) CreatePipeline(ctx context.Context, req *workflow.PipelineRequest) (*workflow.Pipeline, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*workflow.Pipeline)
	return p, args.Error(1)
}

func (m *MockWorkflowClient) UpdatePipeline(ctx context.Context, pipelineUUID string, req *workflow.PipelineRequest) (*workflow.Pipeline, error) {
	args := m.Called(ctx, pipelineUUID, req)
	p, _ := args.Get(0).(*workflow.Pipeline)
	return p, args.Error(1)
}

func (m *MockWorkflowClient) DeletePipeline(ctx context.Context, pipelineUUID string) error {
	return m.Called(ctx, pipelineUUID).Error(0)
}

func (m *MockWorkflowClient) SearchPipelines(ctx context.Context, uuids []string) ([]*workflow.Pipeline, error) {
	args := m.Called(ctx, uuids)
	ps, _ := args.Get(0).([]*workflow.Pipeline)
	return ps, args.Error(1)
}

func (m *MockWorkflowClient) CreateRun(ctx context.Context, pipelineUUID string, req *workflow.RunRequest) (*workflow.Run, error) {
	args := m.Called(ctx, pipelineUUID, req)
	r, _ := args.Get(0).(*workflow.Run)
	return r, args.Error(1)
}

func (m *MockWorkflowClient) ListRuns(ctx context.Context, pipelineUUID string) ([]*workflow.Run, error) {
	args := m.Called(ctx, pipelineUUID)
	rs, _ := args.Get(0).([]*workflow.Run)
	return rs, args.Error(1)
}

func (m *MockWorkflowClient) GetRun(ctx context.Context, pipelineUUID, runUUID string) (*workflow.Run, error) {
	args := m.Called(ctx, pipelineUUID, runUUID)
	r, _ := args.Get(0).(*workflow.Run)
	return r, args.Error(1)
}

func (m *MockWorkflowClient) DeleteRun(ctx context.Context, pipelineUUID, runUUID string) error {
	return m.Called(ctx, pipelineUUID, runUUID).Error(0)
}

// MemoryBlobStore keeps blobs in a map. FailPut makes every Put fail.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	FailPut error
}

// NewMemoryBlobStore creates an empty MemoryBlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: map[string][]byte{}}
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	if s.FailPut != nil {
		return 0, s.FailPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return int64(len(data)), nil
}

func (s *MemoryBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, blobstore.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, blobstore.ErrNotFound)
	}
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Get returns the contents stored under key.
func (s *MemoryBlobStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}
