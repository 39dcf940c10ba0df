package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pipeline-proxy/internal/services"
	"pipeline-proxy/internal/workflow"
)

// CreateRun starts a run of a pipeline
// (POST /v1/organizations/:organization_uuid/pipelines/:pipeline_uuid/runs)
func (s *Server) CreateRun(c echo.Context) error {
	var req workflow.RunRequest
	if c.Request().ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}
	run, err := s.runs.Create(c.Request().Context(), org(c), c.Param("pipeline_uuid"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) ListRuns(c echo.Context) error {
	runs, err := s.runs.List(c.Request().Context(), org(c), c.Param("pipeline_uuid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) GetRun(c echo.Context) error {
	run, err := s.runs.Get(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// DeleteRun removes the run from the engine and hides it locally.
func (s *Server) DeleteRun(c echo.Context) error {
	if err := s.runs.Delete(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) GetPostProcessing(c echo.Context) error {
	view, err := s.runs.PostProcessing(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// AdvancePostProcessing moves a run's post-processing to the requested state.
func (s *Server) AdvancePostProcessing(c echo.Context) error {
	var req services.PostProcessingRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	view, err := s.runs.AdvancePostProcessing(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}
