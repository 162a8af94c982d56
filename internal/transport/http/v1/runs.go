package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/service"
)

// ListRuns lists recent runs, newest first.
// GET /v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = parsed
	}

	runs, err := h.service.ListRuns(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns the full run state.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	rc, err := h.service.GetRun(ctx, c.Param("run_id"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, rc)
}

// GetSteps returns only the run's steps.
// GET /v1/runs/:run_id/steps
func (h *Handler) GetSteps(c echo.Context) error {
	ctx := c.Request().Context()

	rc, err := h.service.GetRun(ctx, c.Param("run_id"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": rc.RunID,
		"phase":  rc.Phase,
		"steps":  rc.Steps,
	})
}

// UpdateStepsRequest replaces a run's steps wholesale.
type UpdateStepsRequest struct {
	Steps []domain.PromptStep `json:"steps"`
}

// UpdateSteps replaces a run's steps after validation.
// PUT /v1/runs/:run_id/steps
func (h *Handler) UpdateSteps(c echo.Context) error {
	ctx := c.Request().Context()

	var req UpdateStepsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	rc, err := h.service.UpdateSteps(ctx, c.Param("run_id"), req.Steps)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": rc.RunID,
		"steps":  rc.Steps,
	})
}
