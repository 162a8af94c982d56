package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/conductor/internal/adapter/llm"
	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/telemetry"
)

// Decomposer expands the plan's milestones into executable prompt steps,
// one step per milestone, chained through their deliverables.
type Decomposer interface {
	Decompose(ctx context.Context, rc *domain.RunContext) ([]domain.PromptStep, error)
}

func NewDecomposer(gen llm.Generator, lg *telemetry.Logger) Decomposer {
	if gen == nil {
		return &heuristicDecomposer{lg: lg}
	}
	return &backendDecomposer{gen: gen, lg: lg}
}

const (
	defaultTokenBudget = 900
)

var defaultTools = []string{"editor", "terminal", "git"}

func stepID(index int) string { return fmt.Sprintf("step-%03d", index+1) }

// baseInputs are the artifacts every step can read, plus the previous step's
// deliverables for every step after the first.
func baseInputs(index int) []string {
	inputs := []string{"ingested_research", "project_plan"}
	if index > 0 {
		inputs = append(inputs, fmt.Sprintf("%s:deliverables", stepID(index-1)))
	}
	return inputs
}

type backendDecomposer struct {
	gen llm.Generator
	lg  *telemetry.Logger
}

const decomposerSystemPrompt = `You are a task decomposer. Given a project plan and one milestone, write the ` +
	`execution prompt for the engineer implementing that milestone. Respond with only a JSON object of the form ` +
	`{"title": "...", "system_prompt": "...", "user_prompt": "...", "expected_artifacts": ["..."], ` +
	`"acceptance_criteria": ["..."]}.`

type decomposerReply struct {
	Title              string   `json:"title"`
	SystemPrompt       string   `json:"system_prompt"`
	UserPrompt         string   `json:"user_prompt"`
	ExpectedArtifacts  []string `json:"expected_artifacts"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

func (d *backendDecomposer) Decompose(ctx context.Context, rc *domain.RunContext) ([]domain.PromptStep, error) {
	if rc.Plan == nil || len(rc.Plan.Milestones) == 0 {
		return nil, &Error{Stage: "decomposer", Err: fmt.Errorf("plan has no milestones")}
	}
	planJSON, err := json.Marshal(rc.Plan)
	if err != nil {
		return nil, &Error{Stage: "decomposer", Err: fmt.Errorf("marshal plan: %w", err)}
	}

	steps := make([]domain.PromptStep, 0, len(rc.Plan.Milestones))
	for i, milestone := range rc.Plan.Milestones {
		user := fmt.Sprintf("Project plan:\n%s\n\nMilestone %d of %d: %s\n\nResearch document:\n%s",
			planJSON, i+1, len(rc.Plan.Milestones), milestone,
			compressChunks(rc.Chunks, maxStepContextChars))

		var step domain.PromptStep
		err := generateParsed(ctx, d.gen, d.lg, rc.RunID, decomposerSystemPrompt, user, func(raw string) error {
			var reply decomposerReply
			if err := json.Unmarshal([]byte(stripFence(raw)), &reply); err != nil {
				return err
			}
			if cleanText(reply.UserPrompt) == "" {
				return fmt.Errorf("reply has no user_prompt")
			}
			artifacts := normalizeList(reply.ExpectedArtifacts)
			if len(artifacts) == 0 {
				artifacts = inferArtifacts(milestone)
			}
			title := cleanText(reply.Title)
			if title == "" {
				title = milestone
			}
			step = domain.PromptStep{
				ID:                 stepID(i),
				Title:              title,
				SystemPrompt:       cleanText(reply.SystemPrompt),
				UserPrompt:         strings.TrimSpace(reply.UserPrompt),
				ExpectedArtifacts:  artifacts,
				Tools:              defaultTools,
				AcceptanceCriteria: normalizeList(reply.AcceptanceCriteria),
				Inputs:             baseInputs(i),
				Outputs:            slugOutputs(artifacts),
				TokenBudget:        defaultTokenBudget,
				CitedArtifacts:     citedFrom(steps),
			}
			return nil
		})
		if err != nil {
			return nil, &Error{Stage: "decomposer", Err: fmt.Errorf("milestone %d: %w", i+1, err)}
		}
		steps = append(steps, step)
	}
	d.lg.Info("steps_decomposed", rc.RunID, fmt.Sprintf("backend produced %d steps", len(steps)),
		map[string]any{"count": len(steps)})
	return steps, nil
}

type heuristicDecomposer struct {
	lg *telemetry.Logger
}

func (d *heuristicDecomposer) Decompose(ctx context.Context, rc *domain.RunContext) ([]domain.PromptStep, error) {
	_ = ctx
	if rc.Plan == nil || len(rc.Plan.Milestones) == 0 {
		return nil, &Error{Stage: "decomposer", Err: fmt.Errorf("plan has no milestones")}
	}

	steps := make([]domain.PromptStep, 0, len(rc.Plan.Milestones))
	for i, milestone := range rc.Plan.Milestones {
		artifacts := inferArtifacts(milestone)
		objective := milestone
		if i < len(rc.Objectives) && rc.Objectives[i].Objective != "" {
			objective = rc.Objectives[i].Objective
		}
		steps = append(steps, domain.PromptStep{
			ID:    stepID(i),
			Title: milestone,
			SystemPrompt: "You are a senior engineer executing one milestone of a larger plan. " +
				"Work only within this milestone's scope and produce the expected artifacts.",
			UserPrompt: fmt.Sprintf("Milestone %d of %d: %s\n\nObjective: %s\n\nPlan context: %s",
				i+1, len(rc.Plan.Milestones), milestone, objective, rc.Plan.Context),
			ExpectedArtifacts: artifacts,
			Tools:             defaultTools,
			AcceptanceCriteria: []string{
				fmt.Sprintf("Milestone %q is complete and demonstrable", milestone),
				"All expected artifacts exist and are internally consistent",
			},
			Inputs:         baseInputs(i),
			Outputs:        slugOutputs(artifacts),
			TokenBudget:    defaultTokenBudget,
			CitedArtifacts: citedFrom(steps),
		})
	}
	d.lg.Info("steps_decomposed", rc.RunID, fmt.Sprintf("heuristic produced %d steps", len(steps)),
		map[string]any{"count": len(steps)})
	return steps, nil
}

// artifactRules map milestone title keywords to the artifacts that milestone
// is expected to leave behind.
var artifactRules = []struct {
	keywords  []string
	artifacts []string
}{
	{[]string{"foundation", "setup", "scaffold", "repository"}, []string{"repository_skeleton", "ci_config"}},
	{[]string{"model", "domain", "schema", "data"}, []string{"domain_model", "schema_migration"}},
	{[]string{"workflow", "implement", "core", "logic"}, []string{"core_workflows"}},
	{[]string{"surface", "api", "interface", "expose"}, []string{"service_api", "api_reference"}},
	{[]string{"harden", "verify", "test", "polish", "release"}, []string{"test_suite", "runbook"}},
}

func inferArtifacts(milestone string) []string {
	lower := strings.ToLower(milestone)
	for _, rule := range artifactRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.artifacts
			}
		}
	}
	return []string{"milestone_deliverables"}
}

func slugOutputs(artifacts []string) []string {
	outputs := make([]string, len(artifacts))
	for i, a := range artifacts {
		outputs[i] = sanitizeID(a, i)
	}
	return outputs
}

// citedFrom cites the previous step's outputs, keeping the deliverable chain
// explicit in each prompt.
func citedFrom(prior []domain.PromptStep) []string {
	if len(prior) == 0 {
		return nil
	}
	last := prior[len(prior)-1]
	cited := make([]string, len(last.Outputs))
	for i, out := range last.Outputs {
		cited[i] = fmt.Sprintf("%s:%s", last.ID, out)
	}
	return cited
}
