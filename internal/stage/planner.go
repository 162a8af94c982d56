package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xiaot623/conductor/internal/adapter/llm"
	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/telemetry"
)

// Planner builds the structured project plan from the document and the
// coordinator's objectives.
type Planner interface {
	GeneratePlan(ctx context.Context, rc *domain.RunContext) (*domain.PromptPlan, error)
}

func NewPlanner(gen llm.Generator, lg *telemetry.Logger) Planner {
	if gen == nil {
		return &heuristicPlanner{lg: lg}
	}
	return &backendPlanner{gen: gen, lg: lg}
}

type backendPlanner struct {
	gen llm.Generator
	lg  *telemetry.Logger
}

const plannerSystemPrompt = `You are a project planner. Given a research document and milestone objectives, ` +
	`produce a structured plan. Respond with only a JSON object of the form ` +
	`{"context": "...", "goals": ["..."], "assumptions": ["..."], "non_goals": ["..."], ` +
	`"risks": ["..."], "milestones": ["..."]}. ` +
	`Milestones must mirror the given objectives in order.`

func (p *backendPlanner) GeneratePlan(ctx context.Context, rc *domain.RunContext) (*domain.PromptPlan, error) {
	var titles []string
	for _, o := range rc.Objectives {
		titles = append(titles, o.Title)
	}
	user := fmt.Sprintf("Objectives:\n- %s\n\nResearch document:\n%s",
		strings.Join(titles, "\n- "), compressChunks(rc.Chunks, maxContextChars))

	var plan domain.PromptPlan
	err := generateParsed(ctx, p.gen, p.lg, rc.RunID, plannerSystemPrompt, user, func(raw string) error {
		var reply domain.PromptPlan
		if err := json.Unmarshal([]byte(stripFence(raw)), &reply); err != nil {
			return err
		}
		if cleanText(reply.Context) == "" {
			return fmt.Errorf("reply has no context")
		}
		reply.Context = cleanText(reply.Context)
		reply.Goals = normalizeList(reply.Goals)
		reply.Assumptions = normalizeList(reply.Assumptions)
		reply.NonGoals = normalizeList(reply.NonGoals)
		reply.Risks = normalizeList(reply.Risks)
		reply.Milestones = normalizeList(reply.Milestones)
		if len(reply.Milestones) == 0 {
			reply.Milestones = titles
		}
		plan = reply
		return nil
	})
	if err != nil {
		return nil, &Error{Stage: "planner", Err: err}
	}
	p.lg.Info("plan_generated", rc.RunID, "backend produced project plan",
		map[string]any{"goals": len(plan.Goals), "milestones": len(plan.Milestones)})
	return &plan, nil
}

type heuristicPlanner struct {
	lg *telemetry.Logger
}

// sectionPatterns map plan fields to the document headings that feed them.
var sectionPatterns = map[string]*regexp.Regexp{
	"goals":       regexp.MustCompile(`(?im)^#*\s*(goals?|objectives?)\b`),
	"assumptions": regexp.MustCompile(`(?im)^#*\s*(assumptions?|constraints?)\b`),
	"non_goals":   regexp.MustCompile(`(?im)^#*\s*(non[- ]?goals?|out of scope)\b`),
	"risks":       regexp.MustCompile(`(?im)^#*\s*(risks?|concerns?|open questions?)\b`),
}

var defaultMilestones = []string{
	"Establish project foundation",
	"Model the core domain",
	"Implement primary workflows",
	"Expose the service surface",
	"Harden and verify",
}

func (p *heuristicPlanner) GeneratePlan(ctx context.Context, rc *domain.RunContext) (*domain.PromptPlan, error) {
	_ = ctx
	document := strings.Join(rc.Chunks, "\n\n")

	plan := &domain.PromptPlan{
		Context:     strings.Join(topSentences(document, 2), " "),
		Goals:       extractSection(document, sectionPatterns["goals"]),
		Assumptions: extractSection(document, sectionPatterns["assumptions"]),
		NonGoals:    extractSection(document, sectionPatterns["non_goals"]),
		Risks:       extractSection(document, sectionPatterns["risks"]),
	}
	if plan.Context == "" {
		plan.Context = "Project plan derived from the ingested research document."
	}
	if len(plan.Goals) == 0 {
		plan.Goals = []string{"Deliver the system described in the research document"}
	}
	if len(plan.Assumptions) == 0 {
		plan.Assumptions = []string{"The research document reflects current requirements"}
	}
	if len(plan.Risks) == 0 {
		plan.Risks = []string{"Requirements in the document may be incomplete or contradictory"}
	}

	for _, o := range rc.Objectives {
		plan.Milestones = append(plan.Milestones, o.Title)
	}
	if len(plan.Milestones) == 0 {
		plan.Milestones = append(plan.Milestones, defaultMilestones...)
		if rc.Style == domain.StyleCreative {
			plan.Milestones[len(plan.Milestones)-1] = "Polish, document, and demo"
		}
	}

	p.lg.Info("plan_generated", rc.RunID, "heuristic produced project plan",
		map[string]any{"goals": len(plan.Goals), "milestones": len(plan.Milestones)})
	return plan, nil
}

// extractSection collects the list items that directly follow a matching
// heading, stopping at the next heading or blank gap.
func extractSection(document string, heading *regexp.Regexp) []string {
	loc := heading.FindStringIndex(document)
	if loc == nil {
		return nil
	}
	var items []string
	lines := strings.Split(document[loc[1]:], "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i > 0 && strings.HasPrefix(trimmed, "#") {
			break
		}
		if bullet, ok := strings.CutPrefix(trimmed, "- "); ok {
			items = append(items, cleanText(bullet))
			continue
		}
		if bullet, ok := strings.CutPrefix(trimmed, "* "); ok {
			items = append(items, cleanText(bullet))
			continue
		}
		if len(items) > 0 && trimmed == "" {
			break
		}
	}
	if len(items) > 8 {
		items = items[:8]
	}
	return items
}
