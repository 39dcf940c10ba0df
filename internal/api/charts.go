package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pipeline-proxy/internal/services"
)

// CreateChart records a chart for an artifact of a run
// (POST /v1/organizations/:organization_uuid/pipelines/:pipeline_uuid/runs/:run_uuid/charts)
func (s *Server) CreateChart(c echo.Context) error {
	var req services.ChartRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	chart, err := s.charts.CreateChart(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chart)
}

func (s *Server) ListCharts(c echo.Context) error {
	charts, err := s.charts.ListCharts(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, charts)
}

func (s *Server) DeleteChart(c echo.Context) error {
	err := s.charts.DeleteChart(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("run_uuid"), c.Param("chart_uuid"))
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
