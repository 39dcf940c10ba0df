package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// UploadInputFile stores the raw request body as an input file named by the
// name query parameter
// (POST /v1/organizations/:organization_uuid/pipelines/:pipeline_uuid/input_files?name=)
func (s *Server) UploadInputFile(c echo.Context) error {
	req := c.Request()
	body := req.Body
	if s.maxUploadBytes > 0 {
		if req.ContentLength > s.maxUploadBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("input files are limited to %d bytes", s.maxUploadBytes))
		}
		body = http.MaxBytesReader(c.Response(), body, s.maxUploadBytes)
	}

	file, err := s.files.Upload(req.Context(), org(c), c.Param("pipeline_uuid"), c.QueryParam("name"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("input files are limited to %d bytes", tooLarge.Limit))
		}
		return err
	}
	return c.JSON(http.StatusOK, file)
}

func (s *Server) ListInputFiles(c echo.Context) error {
	files, err := s.files.List(c.Request().Context(), org(c), c.Param("pipeline_uuid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

// DownloadInputFile streams the contents of an input file.
func (s *Server) DownloadInputFile(c echo.Context) error {
	file, rc, err := s.files.Open(c.Request().Context(), org(c), c.Param("pipeline_uuid"), c.Param("file_uuid"))
	if err != nil {
		return err
	}
	defer rc.Close()

	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	if file.SizeBytes > 0 {
		h.Set(echo.HeaderContentLength, strconv.FormatInt(file.SizeBytes, 10))
	}
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, rc)
}
