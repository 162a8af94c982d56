package v1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/conductor/internal/telemetry"
)

// GetLogs tails the telemetry buffer.
// GET /v1/logs?after=&level=&category=&start=&end=&limit=
func (h *Handler) GetLogs(c echo.Context) error {
	var q telemetry.Query

	if raw := c.QueryParam("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "after must be a non-negative integer"})
		}
		q.After = after
	}
	if raw := c.QueryParam("level"); raw != "" {
		level, err := telemetry.ParseLevel(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		q.MinLevel = &level
	}
	if raw := c.QueryParam("category"); raw != "" {
		category, err := telemetry.ParseCategory(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		q.Category = category
	}
	if raw := c.QueryParam("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "start must be RFC3339"})
		}
		q.Start = start
	}
	if raw := c.QueryParam("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "end must be RFC3339"})
		}
		q.End = end
	}
	q.Limit = 200
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		q.Limit = limit
	}

	records, cursor, err := h.buffer.Query(q)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidLimit) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": records,
		"cursor":  cursor,
		"count":   len(records),
	})
}

// ClearLogs drops all retained records. Cursors held by pollers remain
// valid because the sequence counter is preserved.
// DELETE /v1/logs
func (h *Handler) ClearLogs(c echo.Context) error {
	h.buffer.Clear()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cleared": true,
		"cursor":  h.buffer.LatestSequence(),
	})
}
