package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/conductor/internal/telemetry"
)

// GetObservability returns an on-demand snapshot of component health,
// latency, and recent activity derived from the telemetry buffer.
// GET /v1/observability?limit=&max_calls=&start=&end=
func (h *Handler) GetObservability(c echo.Context) error {
	var opts telemetry.SnapshotOptions

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		opts.Limit = limit
	}
	if raw := c.QueryParam("max_calls"); raw != "" {
		maxCalls, err := strconv.Atoi(raw)
		if err != nil || maxCalls < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "max_calls must be a positive integer"})
		}
		opts.MaxCalls = maxCalls
	}
	if raw := c.QueryParam("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "start must be RFC3339"})
		}
		opts.Start = start
	}
	if raw := c.QueryParam("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "end must be RFC3339"})
		}
		opts.End = end
	}

	return c.JSON(http.StatusOK, h.metrics.Snapshot(opts))
}
