package v1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/service"
)

// ExportRequest selects a completed run and an output format.
type ExportRequest struct {
	RunID  string `json:"run_id"`
	Format string `json:"format"`
}

// ExportPlan renders a completed run's bundle as a downloadable document.
// POST /v1/export
func (h *Handler) ExportPlan(c echo.Context) error {
	ctx := c.Request().Context()

	var req ExportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.RunID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "run_id is required"})
	}
	format := domain.ExportFormat(req.Format)
	if !format.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "format must be yaml, jsonl, or md"})
	}

	filename, contentType, body, err := h.service.Export(ctx, req.RunID, format)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		case errors.Is(err, service.ErrRunNotComplete):
			return c.JSON(http.StatusConflict, map[string]string{"error": "run has not completed"})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, contentType, body)
}
