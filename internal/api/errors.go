package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/logging"
)

// ErrorResponse is the body of every error the proxy itself produces.
type ErrorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// StatusFor returns the HTTP status an error maps to.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindBackendRejected:
		if e.Status >= 400 && e.Status < 600 {
			return e.Status
		}
		return http.StatusBadRequest
	case apperr.KindNotMaterialized, apperr.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders errors returned by handlers and middleware.
// Engine rejections are relayed with the engine's own status and body.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := StatusFor(err)
		req := c.Request()

		var body any
		var he *echo.HTTPError
		e, classified := apperr.As(err)
		switch {
		case errors.As(err, &he):
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			body = ErrorResponse{Message: msg}
		case classified && e.Kind == apperr.KindBackendRejected && len(e.Body) > 0:
			if err := c.JSONBlob(status, e.Body); err != nil {
				logger.ErrorContext(req.Context(), "failed to write error response", "error", err)
			}
			return
		case classified && e.Kind == apperr.KindValidation:
			body = ErrorResponse{
				Message: "The given data was invalid.",
				Errors:  map[string][]string{e.Field: {e.Message}},
			}
		case classified && e.Kind == apperr.KindBackendUnavailable:
			body = ErrorResponse{Message: "workflow engine is unavailable"}
		case classified:
			body = ErrorResponse{Message: e.Message}
		default:
			body = ErrorResponse{Message: http.StatusText(status)}
		}

		if status >= http.StatusInternalServerError {
			logger.ErrorContext(req.Context(), "request failed",
				"method", req.Method, "path", c.Path(), "status", status, "error", err)
		} else {
			logger.Debug("request rejected", "method", req.Method, "path", c.Path(), "status", status, "error", err)
		}

		if req.Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.ErrorContext(req.Context(), "failed to write error response", "error", err)
		}
	}
}
