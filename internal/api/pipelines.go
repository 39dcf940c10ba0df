package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pipeline-proxy/internal/workflow"
	"pipeline-proxy/pkg/models"
)

// ListPipelines returns the organization's pipelines
// (GET /v1/organizations/:organization_uuid/pipelines)
func (s *Server) ListPipelines(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	filter := models.PipelineFilter{Name: c.QueryParam("name"), Limit: limit, Offset: offset}

	pipelines, err := s.pipelines.List(c.Request().Context(), org(c), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pipelines)
}

// CreatePipeline creates a pipeline in the engine and records it
// (POST /v1/organizations/:organization_uuid/pipelines)
func (s *Server) CreatePipeline(c echo.Context) error {
	var req workflow.PipelineRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	p, err := s.pipelines.Create(c.Request().Context(), org(c), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// UpdatePipeline replaces a pipeline's definition
// (PUT /v1/organizations/:organization_uuid/pipelines/:pipeline_uuid)
func (s *Server) UpdatePipeline(c echo.Context) error {
	var req workflow.PipelineRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	p, err := s.pipelines.Update(c.Request().Context(), org(c), c.Param("pipeline_uuid"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// DeletePipeline removes a pipeline and everything it owns
// (DELETE /v1/organizations/:organization_uuid/pipelines/:pipeline_uuid)
func (s *Server) DeletePipeline(c echo.Context) error {
	if err := s.pipelines.Delete(c.Request().Context(), org(c), c.Param("pipeline_uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
