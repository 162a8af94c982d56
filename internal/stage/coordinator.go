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

// Coordinator turns the ingested document into an ordered set of milestone
// objectives, each depending on everything before it.
type Coordinator interface {
	SynthesizeObjectives(ctx context.Context, rc *domain.RunContext) ([]domain.MilestoneObjective, error)
}

// NewCoordinator selects the backend variant when a generator is configured
// and the deterministic variant otherwise.
func NewCoordinator(gen llm.Generator, lg *telemetry.Logger) Coordinator {
	if gen == nil {
		return &heuristicCoordinator{lg: lg}
	}
	return &backendCoordinator{gen: gen, lg: lg}
}

type backendCoordinator struct {
	gen llm.Generator
	lg  *telemetry.Logger
}

const coordinatorSystemPrompt = `You are a delivery coordinator. Read the research document and produce ` +
	`an ordered list of milestone objectives that take the project from empty repository to shipped system. ` +
	`Respond with only a JSON object of the form ` +
	`{"objectives": [{"id": "m01", "title": "...", "objective": "...", "success_criteria": ["..."]}]}. ` +
	`Between three and seven objectives. Each id is a short lowercase slug.`

type coordinatorReply struct {
	Objectives []struct {
		ID              string   `json:"id"`
		Title           string   `json:"title"`
		Objective       string   `json:"objective"`
		SuccessCriteria []string `json:"success_criteria"`
	} `json:"objectives"`
}

func (c *backendCoordinator) SynthesizeObjectives(ctx context.Context, rc *domain.RunContext) ([]domain.MilestoneObjective, error) {
	user := fmt.Sprintf("Plan style: %s\n\nResearch document:\n%s",
		rc.Style, compressChunks(rc.Chunks, maxContextChars))

	var objectives []domain.MilestoneObjective
	err := generateParsed(ctx, c.gen, c.lg, rc.RunID, coordinatorSystemPrompt, user, func(raw string) error {
		var reply coordinatorReply
		if err := json.Unmarshal([]byte(stripFence(raw)), &reply); err != nil {
			return err
		}
		if len(reply.Objectives) == 0 {
			return fmt.Errorf("reply contains no objectives")
		}
		objectives = objectives[:0]
		for i, o := range reply.Objectives {
			title := cleanText(o.Title)
			if title == "" {
				return fmt.Errorf("objective %d has no title", i+1)
			}
			objectives = append(objectives, domain.MilestoneObjective{
				ID:              sanitizeID(o.ID, i),
				Order:           i + 1,
				Title:           title,
				Objective:       cleanText(o.Objective),
				SuccessCriteria: normalizeList(o.SuccessCriteria),
				Dependencies:    dependencyChain(objectives),
			})
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Stage: "coordinator", Err: err}
	}
	c.lg.Info("objectives_synthesized", rc.RunID, fmt.Sprintf("backend produced %d objectives", len(objectives)),
		map[string]any{"count": len(objectives)})
	return objectives, nil
}

// dependencyChain returns the ids of all preceding objectives, so execution
// order is a straight line.
func dependencyChain(prior []domain.MilestoneObjective) []string {
	deps := make([]string, len(prior))
	for i, o := range prior {
		deps[i] = o.ID
	}
	return deps
}

type heuristicCoordinator struct {
	lg *telemetry.Logger
}

// cannedMilestones is the deterministic objective ladder. Titles are stable
// so downstream stages and their tests see the same plan shape every run.
var cannedMilestones = []struct {
	id    string
	title string
	body  string
}{
	{"m01", "Establish project foundation", "Set up the repository, tooling, and a skeleton that compiles end to end."},
	{"m02", "Model the core domain", "Define the data model and persistence for the concepts the document describes."},
	{"m03", "Implement primary workflows", "Build the main operations the document calls for, wired to the domain model."},
	{"m04", "Expose the service surface", "Add the external interface through which clients drive the workflows."},
	{"m05", "Harden and verify", "Add tests, error handling, and operational checks before release."},
}

func (c *heuristicCoordinator) SynthesizeObjectives(ctx context.Context, rc *domain.RunContext) ([]domain.MilestoneObjective, error) {
	_ = ctx
	keywords := topKeywords(rc.Chunks, 3)

	objectives := make([]domain.MilestoneObjective, 0, len(cannedMilestones))
	for i, m := range cannedMilestones {
		body := m.body
		if i == 1 && len(keywords) > 0 {
			body = fmt.Sprintf("%s Key document themes: %s.", body, strings.Join(keywords, ", "))
		}
		objectives = append(objectives, domain.MilestoneObjective{
			ID:        m.id,
			Order:     i + 1,
			Title:     m.title,
			Objective: body,
			SuccessCriteria: []string{
				fmt.Sprintf("Milestone %q is demonstrably complete", m.title),
				"All prior milestone deliverables remain working",
			},
			Dependencies: dependencyChain(objectives),
		})
	}
	c.lg.Info("objectives_synthesized", rc.RunID, fmt.Sprintf("heuristic produced %d objectives", len(objectives)),
		map[string]any{"count": len(objectives), "keywords": keywords})
	return objectives, nil
}
