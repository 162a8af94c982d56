// Package domain defines the core domain models for the conductor.
package domain

// Phase represents the pipeline state of a run.
type Phase string

const (
	PhaseCreated      Phase = "created"
	PhaseCoordinating Phase = "coordinating"
	PhasePlanning     Phase = "planning"
	PhaseDecomposing  Phase = "decomposing"
	PhaseReviewing    Phase = "reviewing"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// EventType represents the type of a pipeline event.
type EventType string

const (
	EventCoordinatorStarted   EventType = "coordinator_started"
	EventCoordinatorCompleted EventType = "coordinator_completed"
	EventPlannerStarted       EventType = "planner_started"
	EventPlannerCompleted     EventType = "planner_completed"
	EventDecomposerStarted    EventType = "decomposer_started"
	EventDecomposerCompleted  EventType = "decomposer_completed"
	EventReviewerStarted      EventType = "reviewer_started"
	EventReviewerCompleted    EventType = "reviewer_completed"
	EventFinalPlan            EventType = "final_plan"
	EventError                EventType = "error"
)

// ExportFormat identifies a supported export renderer.
type ExportFormat string

const (
	ExportYAML     ExportFormat = "yaml"
	ExportJSONL    ExportFormat = "jsonl"
	ExportMarkdown ExportFormat = "md"
)

// Valid reports whether the format names a known renderer.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportYAML, ExportJSONL, ExportMarkdown:
		return true
	}
	return false
}

// PlanStyle selects between conservative and exploratory planning output.
type PlanStyle string

const (
	StyleStrict   PlanStyle = "strict"
	StyleCreative PlanStyle = "creative"
)
