package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/conductor/internal/domain"
)

// ErrRunNotComplete is returned when export is requested before the
// pipeline has produced a final bundle.
var ErrRunNotComplete = errors.New("run has not completed")

// Export renders the run's final bundle in the requested format and returns
// the suggested filename, content type, and body.
func (s *Service) Export(ctx context.Context, runID string, format domain.ExportFormat) (string, string, []byte, error) {
	if !format.Valid() {
		return "", "", nil, fmt.Errorf("unsupported export format %q", format)
	}
	rc, err := s.GetRun(ctx, runID)
	if err != nil {
		return "", "", nil, err
	}
	if rc.Phase != domain.PhaseComplete {
		return "", "", nil, ErrRunNotComplete
	}
	bundle := rc.FinalBundle()

	var body []byte
	var contentType string
	switch format {
	case domain.ExportYAML:
		body, err = yaml.Marshal(bundle)
		contentType = "application/x-yaml"
	case domain.ExportJSONL:
		body, err = renderJSONL(bundle)
		contentType = "application/x-ndjson"
	case domain.ExportMarkdown:
		body = renderMarkdown(bundle)
		contentType = "text/markdown; charset=utf-8"
	}
	if err != nil {
		return "", "", nil, fmt.Errorf("render %s export: %w", format, err)
	}

	filename := fmt.Sprintf("%s-plan-%s.%s", runID, time.Now().UTC().Format("20060102T150405Z"), format)
	s.lg.Named("export").Info("plan_exported", runID,
		fmt.Sprintf("exported %s as %s (%d bytes)", runID, format, len(body)),
		map[string]any{"format": string(format), "bytes": len(body)})
	return filename, contentType, body, nil
}

// renderJSONL emits one header line describing the plan followed by one line
// per step, so downstream agents can stream steps without parsing the whole
// bundle.
func renderJSONL(bundle domain.Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	header := map[string]any{
		"record":     "plan",
		"run_id":     bundle.RunID,
		"plan":       bundle.Plan,
		"objectives": bundle.Objectives,
		"report":     bundle.Report,
	}
	if err := enc.Encode(header); err != nil {
		return nil, err
	}
	for _, step := range bundle.Steps {
		line := map[string]any{"record": "step", "run_id": bundle.RunID, "step": step}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func renderMarkdown(bundle domain.Bundle) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Execution Plan %s\n\n", bundle.RunID)

	if bundle.Plan != nil {
		fmt.Fprintf(&b, "%s\n\n", bundle.Plan.Context)
		writeSection(&b, "Goals", bundle.Plan.Goals)
		writeSection(&b, "Assumptions", bundle.Plan.Assumptions)
		writeSection(&b, "Non-goals", bundle.Plan.NonGoals)
		writeSection(&b, "Risks", bundle.Plan.Risks)
	}

	if len(bundle.Objectives) > 0 {
		b.WriteString("## Milestones\n\n")
		for _, o := range bundle.Objectives {
			fmt.Fprintf(&b, "%d. **%s** (%s)", o.Order, o.Title, o.ID)
			if len(o.Dependencies) > 0 {
				fmt.Fprintf(&b, ", after %s", strings.Join(o.Dependencies, ", "))
			}
			b.WriteString("\n")
			if o.Objective != "" {
				fmt.Fprintf(&b, "   %s\n", o.Objective)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Steps\n\n")
	for _, step := range bundle.Steps {
		fmt.Fprintf(&b, "### %s: %s\n\n", step.ID, step.Title)
		if step.RubricScore != nil {
			fmt.Fprintf(&b, "Rubric score: %.2f\n\n", *step.RubricScore)
		}
		if step.SystemPrompt != "" {
			fmt.Fprintf(&b, "**System prompt**\n\n> %s\n\n", step.SystemPrompt)
		}
		fmt.Fprintf(&b, "**Prompt**\n\n```\n%s\n```\n\n", step.UserPrompt)
		writeSection(&b, "Expected artifacts", step.ExpectedArtifacts)
		writeSection(&b, "Acceptance criteria", step.AcceptanceCriteria)
		if step.SuggestedEdits != "" {
			fmt.Fprintf(&b, "Suggested edits: %s\n\n", step.SuggestedEdits)
		}
	}

	if bundle.Report != nil {
		b.WriteString("## Review\n\n")
		fmt.Fprintf(&b, "Overall score: %.2f\n\n", bundle.Report.OverallScore)
		writeSection(&b, "Strengths", bundle.Report.Strengths)
		writeSection(&b, "Concerns", bundle.Report.Concerns)
	}
	return []byte(b.String())
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s**\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}
