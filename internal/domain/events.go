package domain

// PipelineEvent is one entry in the ordered event sequence a run produces.
// Events are transient: they are forwarded to the single stream consumer and
// recorded in the telemetry buffer, but never persisted on their own.
type PipelineEvent struct {
	Type  EventType      `json:"type"`
	RunID string         `json:"run_id"`
	Data  map[string]any `json:"data,omitempty"`
}

// ErrorEventData is the data payload of a terminal error event.
type ErrorEventData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   Phase  `json:"phase"`
}
