// Package v1 provides the HTTP handlers for the conductor API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/conductor/internal/service"
	"github.com/xiaot623/conductor/internal/telemetry"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	buffer  *telemetry.Buffer
	metrics *telemetry.Aggregator
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, buf *telemetry.Buffer, agg *telemetry.Aggregator) *Handler {
	return &Handler{
		service: svc,
		buffer:  buf,
		metrics: agg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Plan generation
	e.POST("/v1/plans/ingest", h.IngestDocument)
	e.POST("/v1/plans/:run_id/stream", h.StreamPlan)

	// Run inspection and editing
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/steps", h.GetSteps)
	e.PUT("/v1/runs/:run_id/steps", h.UpdateSteps)

	// Export
	e.POST("/v1/export", h.ExportPlan)

	// Telemetry
	e.GET("/v1/logs", h.GetLogs)
	e.DELETE("/v1/logs", h.ClearLogs)
	e.GET("/v1/observability", h.GetObservability)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
