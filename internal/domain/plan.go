package domain

import "time"

// MilestoneObjective is an ordered milestone produced by the coordinator stage.
type MilestoneObjective struct {
	ID              string   `json:"id"`
	Order           int      `json:"order"`
	Title           string   `json:"title"`
	Objective       string   `json:"objective"`
	SuccessCriteria []string `json:"success_criteria"`
	Dependencies    []string `json:"dependencies"`
}

// PromptPlan is the high-level strategy extracted from the ingested document.
type PromptPlan struct {
	Context     string   `json:"context"`
	Goals       []string `json:"goals"`
	Assumptions []string `json:"assumptions"`
	NonGoals    []string `json:"non_goals"`
	Risks       []string `json:"risks"`
	Milestones  []string `json:"milestones"`
}

// PromptStep is one execution-ready instruction bundle for a downstream agent.
type PromptStep struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	SystemPrompt       string   `json:"system_prompt"`
	UserPrompt         string   `json:"user_prompt"`
	ExpectedArtifacts  []string `json:"expected_artifacts"`
	Tools              []string `json:"tools,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Inputs             []string `json:"inputs"`
	Outputs            []string `json:"outputs"`
	TokenBudget        int      `json:"token_budget"`
	CitedArtifacts     []string `json:"cited_artifacts,omitempty"`
	RubricScore        *float64 `json:"rubric_score,omitempty"`
	SuggestedEdits     string   `json:"suggested_edits,omitempty"`
}

// StepFeedback is reviewer feedback for a single step.
type StepFeedback struct {
	StepID      string  `json:"step_id"`
	RubricScore float64 `json:"rubric_score"`
	Notes       string  `json:"notes"`
}

// AgentReport summarizes plan quality as judged by the reviewer stage.
type AgentReport struct {
	RunID        string         `json:"run_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	OverallScore float64        `json:"overall_score"`
	Strengths    []string       `json:"strengths"`
	Concerns     []string       `json:"concerns"`
	StepFeedback []StepFeedback `json:"step_feedback"`
}

// DocumentStats summarizes an ingested document.
type DocumentStats struct {
	WordCount  int `json:"word_count"`
	CharCount  int `json:"char_count"`
	ChunkCount int `json:"chunk_count"`
}

// RunContext carries everything known about one pipeline run. It is created
// at ingestion, mutated by each stage as it completes, and persisted to the
// run store after every phase transition so a restart resumes from the last
// completed phase.
type RunContext struct {
	RunID      string               `json:"run_id"`
	Phase      Phase                `json:"phase"`
	Style      PlanStyle            `json:"style"`
	Chunks     []string             `json:"chunks"`
	Stats      DocumentStats        `json:"stats"`
	Objectives []MilestoneObjective `json:"objectives,omitempty"`
	Plan       *PromptPlan          `json:"plan,omitempty"`
	Steps      []PromptStep         `json:"steps,omitempty"`
	Report     *AgentReport         `json:"report,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Bundle is the assembled result of a completed run.
type Bundle struct {
	RunID      string               `json:"run_id"`
	Objectives []MilestoneObjective `json:"objectives"`
	Plan       *PromptPlan          `json:"plan"`
	Steps      []PromptStep         `json:"steps"`
	Report     *AgentReport         `json:"report"`
}

// FinalBundle assembles the run's outputs for the final_plan event.
func (rc *RunContext) FinalBundle() Bundle {
	return Bundle{
		RunID:      rc.RunID,
		Objectives: rc.Objectives,
		Plan:       rc.Plan,
		Steps:      rc.Steps,
		Report:     rc.Report,
	}
}
