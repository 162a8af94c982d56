package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/conductor/internal/telemetry"
)

type logsResponse struct {
	Records []json.RawMessage `json:"records"`
	Cursor  uint64            `json:"cursor"`
	Count   int               `json:"count"`
}

func TestGetLogsCursorPolling(t *testing.T) {
	e, buf := newTestServer(t)
	for i := 0; i < 3; i++ {
		buf.Append(telemetry.Record{Level: telemetry.LevelInfo, Source: "pipeline", Message: "x"})
	}

	rec := doJSON(e, http.MethodGet, "/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var first logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, 3, first.Count)
	assert.Equal(t, uint64(3), first.Cursor)

	// Nothing new: same cursor, no records.
	rec = doJSON(e, http.MethodGet, fmt.Sprintf("/v1/logs?after=%d", first.Cursor), "")
	var second logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, 0, second.Count)
	assert.Equal(t, first.Cursor, second.Cursor)

	buf.Append(telemetry.Record{Level: telemetry.LevelWarning, Source: "pipeline", Message: "new"})
	rec = doJSON(e, http.MethodGet, fmt.Sprintf("/v1/logs?after=%d", first.Cursor), "")
	var third logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &third))
	assert.Equal(t, 1, third.Count)
	assert.Equal(t, first.Cursor+1, third.Cursor)
}

func TestGetLogsFilterValidation(t *testing.T) {
	e, _ := newTestServer(t)

	for _, path := range []string{
		"/v1/logs?level=loud",
		"/v1/logs?category=metrics",
		"/v1/logs?after=banana",
		"/v1/logs?limit=0",
		"/v1/logs?start=yesterday",
	} {
		rec := doJSON(e, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetLogsLevelFilter(t *testing.T) {
	e, buf := newTestServer(t)
	buf.Append(telemetry.Record{Level: telemetry.LevelDebug, Source: "pipeline", Message: "d"})
	buf.Append(telemetry.Record{Level: telemetry.LevelError, Source: "pipeline", Message: "e"})

	rec := doJSON(e, http.MethodGet, "/v1/logs?level=error", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestClearLogsKeepsCursorsValid(t *testing.T) {
	e, buf := newTestServer(t)
	for i := 0; i < 3; i++ {
		buf.Append(telemetry.Record{Level: telemetry.LevelInfo, Source: "pipeline", Message: "x"})
	}

	rec := doJSON(e, http.MethodDelete, "/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared struct {
		Cleared bool   `json:"cleared"`
		Cursor  uint64 `json:"cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cleared))
	assert.True(t, cleared.Cleared)
	assert.Equal(t, uint64(3), cleared.Cursor)

	// New records continue the sequence past the cleared range.
	buf.Append(telemetry.Record{Level: telemetry.LevelInfo, Source: "pipeline", Message: "after clear"})
	rec = doJSON(e, http.MethodGet, "/v1/logs?after=3", "")
	var resp logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, uint64(4), resp.Cursor)
}

func TestObservabilityEndpoint(t *testing.T) {
	e, _ := newTestServer(t)
	runID := ingestRun(t, e)
	doJSON(e, http.MethodPost, "/v1/plans/"+runID+"/stream", "")

	rec := doJSON(e, http.MethodGet, "/v1/observability", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Nodes []struct {
			ID      string         `json:"id"`
			Status  string         `json:"status"`
			Metrics map[string]any `json:"metrics"`
		} `json:"nodes"`
		Edges []any `json:"edges"`
		Calls []any `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.Edges)
	assert.NotEmpty(t, snap.Calls)

	byID := map[string]string{}
	var plannerMetrics map[string]any
	for _, n := range snap.Nodes {
		byID[n.ID] = n.Status
		if n.ID == "planner" {
			plannerMetrics = n.Metrics
		}
	}
	// Every stage ran once for the completed pipeline.
	for _, id := range []string{"coordinator", "planner", "decomposer", "reviewer", "pipeline", "ingest"} {
		assert.Equal(t, "healthy", byID[id], id)
	}
	assert.Contains(t, plannerMetrics, "avg_latency_ms")

	rec = doJSON(e, http.MethodGet, "/v1/observability?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
