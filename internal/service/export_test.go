package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/conductor/internal/domain"
)

func completedRun() *domain.RunContext {
	now := time.Now().UTC()
	score := 1.0
	return &domain.RunContext{
		RunID:  "run_export1",
		Phase:  domain.PhaseComplete,
		Style:  domain.StyleStrict,
		Chunks: []string{"doc"},
		Plan: &domain.PromptPlan{
			Context:    "A reviewed plan.",
			Goals:      []string{"ship"},
			Milestones: []string{"First milestone"},
		},
		Objectives: []domain.MilestoneObjective{{ID: "m01", Order: 1, Title: "First milestone"}},
		Steps: []domain.PromptStep{{
			ID: "step-001", Title: "First milestone", UserPrompt: "do the work",
			Outputs: []string{"artifact"}, TokenBudget: 900, RubricScore: &score,
		}},
		Report:    &domain.AgentReport{RunID: "run_export1", OverallScore: 1.0},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestExportYAML(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := completedRun()
	if err := svc.store.SaveRun(ctx, rc); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	filename, contentType, body, err := svc.Export(ctx, rc.RunID, domain.ExportYAML)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(filename, "run_export1-plan-") || !strings.HasSuffix(filename, ".yaml") {
		t.Fatalf("unexpected filename %q", filename)
	}
	if contentType != "application/x-yaml" {
		t.Fatalf("unexpected content type %q", contentType)
	}

	var decoded domain.Bundle
	if err := yaml.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not valid yaml: %v", err)
	}
	if decoded.RunID != rc.RunID || len(decoded.Steps) != 1 {
		t.Fatalf("bundle content lost: %+v", decoded)
	}
}

func TestExportJSONL(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := completedRun()
	if err := svc.store.SaveRun(ctx, rc); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, contentType, body, err := svc.Export(ctx, rc.RunID, domain.ExportJSONL)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if contentType != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", contentType)
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one step line, got %d", len(lines))
	}
	var header map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header not valid json: %v", err)
	}
	if header["record"] != "plan" {
		t.Fatalf("unexpected header %v", header)
	}
	var stepLine map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &stepLine); err != nil {
		t.Fatalf("step line not valid json: %v", err)
	}
	if stepLine["record"] != "step" {
		t.Fatalf("unexpected step line %v", stepLine)
	}
}

func TestExportMarkdown(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := completedRun()
	if err := svc.store.SaveRun(ctx, rc); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, contentType, body, err := svc.Export(ctx, rc.RunID, domain.ExportMarkdown)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(contentType, "text/markdown") {
		t.Fatalf("unexpected content type %q", contentType)
	}
	text := string(body)
	for _, want := range []string{"# Execution Plan run_export1", "## Steps", "step-001", "## Review"} {
		if !strings.Contains(text, want) {
			t.Fatalf("markdown missing %q", want)
		}
	}
}

func TestExportErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, _, err := svc.Export(ctx, "run_missing", domain.ExportYAML); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	rc := completedRun()
	rc.Phase = domain.PhasePlanning
	if err := svc.store.SaveRun(ctx, rc); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, _, _, err := svc.Export(ctx, rc.RunID, domain.ExportYAML); !errors.Is(err, ErrRunNotComplete) {
		t.Fatalf("expected ErrRunNotComplete, got %v", err)
	}
	if _, _, _, err := svc.Export(ctx, rc.RunID, domain.ExportFormat("pdf")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
