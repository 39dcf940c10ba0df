package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/auth"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

const org = "0f8fad5bd9cb469fa16570867728950e"

type fakePipelines struct {
	gotFilter models.PipelineFilter
	result    []*workflow.Pipeline
}

func (f *fakePipelines) List(_ context.Context, _ string, filter models.PipelineFilter) ([]*workflow.Pipeline, error) {
	f.gotFilter = filter
	return f.result, nil
}

type fakeRuns struct {
	run *workflow.Run
	err error
}

func (f *fakeRuns) List(context.Context, string, string) ([]*workflow.Run, error) {
	return []*workflow.Run{f.run}, f.err
}

func (f *fakeRuns) Get(context.Context, string, string, string) (*workflow.Run, error) {
	return f.run, f.err
}

// fakeIDs holds local -> remote pairs per organization.
type fakeIDs map[string]map[string]string

func (f fakeIDs) ResolveRemote(_ context.Context, org string, _ identity.Kind, local string) (string, error) {
	if r, ok := f[org][local]; ok {
		return r, nil
	}
	return "", identity.ErrUnknown
}

func (f fakeIDs) ResolveLocal(_ context.Context, org string, _ identity.Kind, remote string) (string, error) {
	for l, r := range f[org] {
		if r == remote {
			return l, nil
		}
	}
	return "", identity.ErrUnknown
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func member() context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{Subject: "u", Organizations: []string{org}})
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func decodeRun(t *testing.T, doc string) *workflow.Run {
	t.Helper()
	var r workflow.Run
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	return &r
}

func TestListPipelines(t *testing.T) {
	pipelines := &fakePipelines{result: []*workflow.Pipeline{}}
	s := NewServer(pipelines, &fakeRuns{}, fakeIDs{})

	res, err := s.handleListPipelines(member(), call(map[string]any{"organization_uuid": org, "name": "rna"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[]", text(t, res))
	assert.Equal(t, "rna", pipelines.gotFilter.Name)
}

func TestToolsRequireMembership(t *testing.T) {
	s := NewServer(&fakePipelines{}, &fakeRuns{}, fakeIDs{})
	args := map[string]any{"organization_uuid": "11111111111111111111111111111111"}

	res, err := s.handleListPipelines(member(), call(args))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleListPipelines(context.Background(), call(map[string]any{"organization_uuid": org}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetRun(t *testing.T) {
	local := identity.Mint()
	runs := &fakeRuns{run: decodeRun(t, `{"uuid":"`+local+`","status":"running"}`)}
	s := NewServer(&fakePipelines{}, runs, fakeIDs{})

	res, err := s.handleGetRun(member(), call(map[string]any{
		"organization_uuid": org, "pipeline_uuid": identity.Mint(), "run_uuid": local,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"uuid":"`+local+`","status":"running"}`, text(t, res))

	res, err = s.handleGetRun(member(), call(map[string]any{"organization_uuid": org, "pipeline_uuid": identity.Mint()}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetRunNotMaterialized(t *testing.T) {
	runs := &fakeRuns{err: apperr.NotMaterialized("run", "abc")}
	s := NewServer(&fakePipelines{}, runs, fakeIDs{})

	res, err := s.handleGetRun(member(), call(map[string]any{
		"organization_uuid": org, "pipeline_uuid": identity.Mint(), "run_uuid": identity.Mint(),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not yet materialized")
}

func TestResolveIdentity(t *testing.T) {
	local, remote := identity.Mint(), identity.Mint()
	s := NewServer(&fakePipelines{}, &fakeRuns{}, fakeIDs{org: {local: remote}})

	res, err := s.handleResolveIdentity(member(), call(map[string]any{
		"organization_uuid": org, "kind": "pipeline", "local_uuid": local,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"pipeline","local_uuid":"`+local+`","remote_uuid":"`+remote+`"}`, text(t, res))

	res, err = s.handleResolveIdentity(member(), call(map[string]any{
		"organization_uuid": org, "kind": "run", "remote_uuid": remote,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"run","local_uuid":"`+local+`","remote_uuid":"`+remote+`"}`, text(t, res))

	for _, args := range []map[string]any{
		{"organization_uuid": org, "kind": "pipeline"},
		{"organization_uuid": org, "kind": "artifact", "local_uuid": local},
		{"organization_uuid": org, "kind": "pipeline", "local_uuid": local, "remote_uuid": remote},
		{"organization_uuid": org, "kind": "pipeline", "local_uuid": identity.Mint()},
		{"kind": "pipeline", "local_uuid": local},
	} {
		res, err := s.handleResolveIdentity(member(), call(args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "%v", args)
	}
}

func TestResolveIdentityStaysInsideOrganization(t *testing.T) {
	other := identity.Mint()
	local, remote := identity.Mint(), identity.Mint()
	s := NewServer(&fakePipelines{}, &fakeRuns{}, fakeIDs{other: {local: remote}})

	// a caller outside the owning organization is refused outright
	res, err := s.handleResolveIdentity(member(), call(map[string]any{
		"organization_uuid": other, "kind": "pipeline", "local_uuid": local,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotContains(t, text(t, res), remote)

	// naming their own organization does not reach another organization's rows
	for _, args := range []map[string]any{
		{"organization_uuid": org, "kind": "pipeline", "local_uuid": local},
		{"organization_uuid": org, "kind": "pipeline", "remote_uuid": remote},
	} {
		res, err := s.handleResolveIdentity(member(), call(args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "%v", args)
		assert.NotContains(t, text(t, res), remote)
		assert.NotContains(t, text(t, res), local)
	}

	res, err = s.handleResolveIdentity(context.Background(), call(map[string]any{
		"organization_uuid": other, "kind": "pipeline", "local_uuid": local,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
