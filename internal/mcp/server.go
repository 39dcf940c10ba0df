// Package mcp exposes read-only pipeline tools to MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pipeline-proxy/internal/auth"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// PipelineLister lists an organization's pipelines.
type PipelineLister interface {
	List(ctx context.Context, org string, filter models.PipelineFilter) ([]*workflow.Pipeline, error)
}

// RunReader reads the runs of a pipeline.
type RunReader interface {
	List(ctx context.Context, org, pipelineUUID string) ([]*workflow.Run, error)
	Get(ctx context.Context, org, pipelineUUID, runUUID string) (*workflow.Run, error)
}

// IdentityResolver translates between local and remote identifiers of one
// organization.
type IdentityResolver interface {
	ResolveRemote(ctx context.Context, org string, kind identity.Kind, local string) (string, error)
	ResolveLocal(ctx context.Context, org string, kind identity.Kind, remote string) (string, error)
}

type Server struct {
	mcpServer *server.MCPServer
	pipelines PipelineLister
	runs      RunReader
	ids       IdentityResolver
}

func NewServer(pipelines PipelineLister, runs RunReader, ids IdentityResolver) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Pipeline Proxy",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		pipelines: pipelines,
		runs:      runs,
		ids:       ids,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pipelines",
			mcp.WithDescription("List the pipelines of an organization"),
			mcp.WithString("organization_uuid", mcp.Required(), mcp.Description("The organization to list")),
			mcp.WithString("name", mcp.Description("Only pipelines whose name contains this text")),
		),
		s.handleListPipelines,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_runs",
			mcp.WithDescription("List the runs of a pipeline"),
			mcp.WithString("organization_uuid", mcp.Required(), mcp.Description("The owning organization")),
			mcp.WithString("pipeline_uuid", mcp.Required(), mcp.Description("The pipeline")),
		),
		s.handleListRuns,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_run",
			mcp.WithDescription("Get the current state of a run"),
			mcp.WithString("organization_uuid", mcp.Required(), mcp.Description("The owning organization")),
			mcp.WithString("pipeline_uuid", mcp.Required(), mcp.Description("The pipeline")),
			mcp.WithString("run_uuid", mcp.Required(), mcp.Description("The run")),
		),
		s.handleGetRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resolve_identity",
			mcp.WithDescription("Translate a local identifier to the workflow engine's identifier or back"),
			mcp.WithString("organization_uuid", mcp.Required(), mcp.Description("The owning organization")),
			mcp.WithString("kind", mcp.Required(), mcp.Enum(string(identity.KindPipeline), string(identity.KindRun))),
			mcp.WithString("local_uuid", mcp.Description("The local identifier to resolve")),
			mcp.WithString("remote_uuid", mcp.Description("The remote identifier to resolve")),
		),
		s.handleResolveIdentity,
	)
}

func stringArg(request mcp.CallToolRequest, key string) string {
	v, _ := request.GetArguments()[key].(string)
	return strings.TrimSpace(v)
}

// organization returns the organization argument after checking the caller
// belongs to it.
func organization(ctx context.Context, request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	org := strings.ToLower(stringArg(request, "organization_uuid"))
	if org == "" {
		return "", mcp.NewToolResultError("Missing required parameter: organization_uuid")
	}
	p, ok := auth.FromContext(ctx)
	if !ok || !p.Member(org) {
		return "", mcp.NewToolResultError("Not a member of organization " + org)
	}
	return org, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListPipelines(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, denied := organization(ctx, request)
	if denied != nil {
		return denied, nil
	}

	pipelines, err := s.pipelines.List(ctx, org, models.PipelineFilter{Name: stringArg(request, "name")})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pipelines: %v", err)), nil
	}
	return jsonResult(pipelines)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, denied := organization(ctx, request)
	if denied != nil {
		return denied, nil
	}
	pipelineUUID := stringArg(request, "pipeline_uuid")
	if pipelineUUID == "" {
		return mcp.NewToolResultError("Missing required parameter: pipeline_uuid"), nil
	}

	runs, err := s.runs.List(ctx, org, pipelineUUID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}
	return jsonResult(runs)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, denied := organization(ctx, request)
	if denied != nil {
		return denied, nil
	}
	pipelineUUID := stringArg(request, "pipeline_uuid")
	runUUID := stringArg(request, "run_uuid")
	if pipelineUUID == "" || runUUID == "" {
		return mcp.NewToolResultError("Missing required parameters: pipeline_uuid, run_uuid"), nil
	}

	run, err := s.runs.Get(ctx, org, pipelineUUID, runUUID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
	}
	return jsonResult(run)
}

func (s *Server) handleResolveIdentity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, denied := organization(ctx, request)
	if denied != nil {
		return denied, nil
	}
	kind, err := identity.ParseKind(stringArg(request, "kind"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	local, remote := stringArg(request, "local_uuid"), stringArg(request, "remote_uuid")
	switch {
	case local != "" && remote != "":
		return mcp.NewToolResultError("Pass exactly one of local_uuid and remote_uuid"), nil
	case local != "":
		remote, err = s.ids.ResolveRemote(ctx, org, kind, local)
	case remote != "":
		local, err = s.ids.ResolveLocal(ctx, org, kind, remote)
	default:
		return mcp.NewToolResultError("Missing required parameter: local_uuid or remote_uuid"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve identity: %v", err)), nil
	}
	return jsonResult(map[string]string{"kind": string(kind), "local_uuid": local, "remote_uuid": remote})
}

// Handler serves the MCP streamable HTTP transport. The authenticated
// principal of the HTTP request is carried into tool calls.
func Handler(mcpServer *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if p, ok := auth.FromContext(r.Context()); ok {
				return auth.WithPrincipal(ctx, p)
			}
			return ctx
		}),
	)
}
