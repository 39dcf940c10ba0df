// Package api contains the HTTP handlers of the pipeline proxy.
package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health reports the state of the service and its dependencies.
type Health struct {
	version string
	checks  map[string]HealthCheck
}

// NewHealth creates a Health over the named checks.
func NewHealth(version string, checks map[string]HealthCheck) *Health {
	return &Health{version: version, checks: checks}
}

// HandleHealth returns 200 when every check passes and 503 otherwise.
func (h *Health) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "pipeline-proxy",
		Version:   h.version,
		Checks:    map[string]string{},
	}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	return c.JSON(code, status)
}
