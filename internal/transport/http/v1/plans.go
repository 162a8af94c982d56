package v1

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/pipeline"
	"github.com/xiaot623/conductor/internal/service"
)

// IngestRequest is the request to ingest a document and create a run.
// Exactly one of Text and TextBase64 should be set.
type IngestRequest struct {
	Text       string `json:"text,omitempty"`
	TextBase64 string `json:"text_base64,omitempty"`
	Style      string `json:"style,omitempty"`
}

// IngestDocument ingests a research document and creates a run.
// POST /v1/plans/ingest
func (h *Handler) IngestDocument(c echo.Context) error {
	ctx := c.Request().Context()

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	text := req.Text
	if text == "" && req.TextBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.TextBase64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "text_base64 is not valid base64"})
		}
		text = string(decoded)
	}
	if text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text or text_base64 is required"})
	}
	style := domain.PlanStyle(req.Style)
	if style != "" && style != domain.StyleStrict && style != domain.StyleCreative {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "style must be strict or creative"})
	}

	rc, err := h.service.Ingest(ctx, text, style)
	if err != nil {
		if errors.Is(err, service.ErrEmptyDocument) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"run_id": rc.RunID,
		"phase":  rc.Phase,
		"stats":  rc.Stats,
	})
}

// StreamPlan runs (or replays) the generation pipeline for a run, streaming
// its events over SSE. If the client disconnects mid-run, the remaining
// events are drained in the background so the run still completes and
// persists.
// POST /v1/plans/:run_id/stream
func (h *Handler) StreamPlan(c echo.Context) error {
	runID := c.Param("run_id")

	events, err := h.service.Stream(c.Request().Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		case errors.Is(err, pipeline.ErrRunFailed):
			return c.JSON(http.StatusConflict, map[string]string{"error": "run previously failed"})
		default:
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		// Checked before any header is committed so the error can still be
		// sent as a normal JSON response.
		drain(events)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, writeErr := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", ev.Type, data); writeErr != nil {
			// Client is gone. The pipeline must still finish and persist,
			// so drain the rest off the request goroutine.
			go drain(events)
			return nil
		}
		flusher.Flush()
	}
	return nil
}

func drain(events <-chan domain.PipelineEvent) {
	for range events {
	}
}
