package stage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/telemetry"
)

// Reviewer scores each step against a fixed rubric and annotates the steps
// with scores and suggested edits. Scoring is deterministic so repeated
// reviews of the same plan always agree.
type Reviewer interface {
	Review(ctx context.Context, rc *domain.RunContext) ([]domain.PromptStep, *domain.AgentReport, error)
}

func NewReviewer(lg *telemetry.Logger) Reviewer {
	return &rubricReviewer{lg: lg}
}

type rubricReviewer struct {
	lg *telemetry.Logger
}

const deductionWeight = 0.15

// rubricChecks return a note when a step fails the check. Each failed check
// deducts one weight from a perfect score.
var rubricChecks = []func(step domain.PromptStep) string{
	func(s domain.PromptStep) string {
		if cleanText(s.SystemPrompt) == "" {
			return "add a system prompt framing the executor's role"
		}
		return ""
	},
	func(s domain.PromptStep) string {
		if len(cleanText(s.UserPrompt)) < 40 {
			return "expand the user prompt with concrete milestone scope"
		}
		return ""
	},
	func(s domain.PromptStep) string {
		if len(s.AcceptanceCriteria) == 0 {
			return "state at least one acceptance criterion"
		}
		return ""
	},
	func(s domain.PromptStep) string {
		if len(s.ExpectedArtifacts) == 0 {
			return "name the artifacts the step must produce"
		}
		return ""
	},
	func(s domain.PromptStep) string {
		if len(s.Outputs) == 0 {
			return "declare the step's outputs so later steps can cite them"
		}
		return ""
	},
	func(s domain.PromptStep) string {
		if s.TokenBudget < 100 || s.TokenBudget > 10000 {
			return "set a token budget between 100 and 10000"
		}
		return ""
	},
}

func (r *rubricReviewer) Review(ctx context.Context, rc *domain.RunContext) ([]domain.PromptStep, *domain.AgentReport, error) {
	_ = ctx
	if len(rc.Steps) == 0 {
		return nil, nil, &Error{Stage: "reviewer", Err: fmt.Errorf("no steps to review")}
	}

	reviewed := make([]domain.PromptStep, len(rc.Steps))
	copy(reviewed, rc.Steps)

	report := &domain.AgentReport{
		RunID:       rc.RunID,
		GeneratedAt: time.Now().UTC(),
	}

	var total float64
	for i := range reviewed {
		var notes []string
		for _, check := range rubricChecks {
			if note := check(reviewed[i]); note != "" {
				notes = append(notes, note)
			}
		}
		score := scoreFromDeductions(len(notes))
		reviewed[i].RubricScore = &score
		reviewed[i].SuggestedEdits = strings.Join(notes, "; ")
		total += score

		report.StepFeedback = append(report.StepFeedback, domain.StepFeedback{
			StepID:      reviewed[i].ID,
			RubricScore: score,
			Notes:       reviewed[i].SuggestedEdits,
		})
	}
	report.OverallScore = round2(total / float64(len(reviewed)))
	report.Strengths, report.Concerns = summarize(reviewed, report.OverallScore)

	r.lg.Info("plan_reviewed", rc.RunID,
		fmt.Sprintf("reviewed %d steps, overall score %.2f", len(reviewed), report.OverallScore),
		map[string]any{"steps": len(reviewed), "overall_score": report.OverallScore})
	return reviewed, report, nil
}

func scoreFromDeductions(deductions int) float64 {
	return round2(math.Max(0, 1.0-deductionWeight*float64(deductions)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func summarize(steps []domain.PromptStep, overall float64) (strengths, concerns []string) {
	clean := 0
	for _, s := range steps {
		if s.SuggestedEdits == "" {
			clean++
		} else {
			concerns = append(concerns, fmt.Sprintf("%s: %s", s.ID, s.SuggestedEdits))
		}
	}
	if clean == len(steps) {
		strengths = append(strengths, "every step passed all rubric checks")
	} else if clean > 0 {
		strengths = append(strengths, fmt.Sprintf("%d of %d steps passed all rubric checks", clean, len(steps)))
	}
	if overall >= 0.85 {
		strengths = append(strengths, "plan is consistent and execution-ready")
	}
	return strengths, concerns
}
