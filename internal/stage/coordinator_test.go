package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xiaot623/conductor/internal/adapter/llm"
	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/telemetry"
)

func testLogger() *telemetry.Logger {
	return telemetry.NewLogger(telemetry.NewBuffer(256), "").Named("test")
}

func testRun(chunks ...string) *domain.RunContext {
	return &domain.RunContext{
		RunID:  "run_test01",
		Phase:  domain.PhaseCreated,
		Style:  domain.StyleStrict,
		Chunks: chunks,
	}
}

func TestHeuristicCoordinatorIsDeterministic(t *testing.T) {
	coord := NewCoordinator(nil, testLogger())
	rc := testRun("Build a scheduling service with recurring reminders.", "Reminders escalate when ignored.")

	first, err := coord.SynthesizeObjectives(context.Background(), rc)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	second, err := coord.SynthesizeObjectives(context.Background(), rc)
	if err != nil {
		t.Fatalf("second synthesize failed: %v", err)
	}

	if len(first) != 5 {
		t.Fatalf("expected 5 objectives, got %d", len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Objective != second[i].Objective {
			t.Fatalf("objective %d differs between runs", i)
		}
	}
}

func TestHeuristicCoordinatorDependencyChain(t *testing.T) {
	coord := NewCoordinator(nil, testLogger())

	objectives, err := coord.SynthesizeObjectives(context.Background(), testRun("doc"))
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}

	for i, o := range objectives {
		if o.Order != i+1 {
			t.Fatalf("objective %s has order %d", o.ID, o.Order)
		}
		if len(o.Dependencies) != i {
			t.Fatalf("objective %s should depend on %d predecessors, has %d", o.ID, i, len(o.Dependencies))
		}
		for j, dep := range o.Dependencies {
			if dep != objectives[j].ID {
				t.Fatalf("objective %s dependency %d is %s, want %s", o.ID, j, dep, objectives[j].ID)
			}
		}
	}
	if objectives[0].ID != "m01" || objectives[4].ID != "m05" {
		t.Fatalf("unexpected objective ids %s..%s", objectives[0].ID, objectives[4].ID)
	}
}

func TestBackendCoordinatorParsesFencedReply(t *testing.T) {
	reply := "```json\n{\"objectives\": [" +
		"{\"id\": \"m01\", \"title\": \"Scaffold\", \"objective\": \"Set up repo\", \"success_criteria\": [\"builds\"]}," +
		"{\"id\": \"m02\", \"title\": \"Ship\", \"objective\": \"Deliver\", \"success_criteria\": []}" +
		"]}\n```"
	gen := llm.NewMockGenerator(reply)
	coord := NewCoordinator(gen, testLogger())

	objectives, err := coord.SynthesizeObjectives(context.Background(), testRun("doc"))
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if len(objectives) != 2 {
		t.Fatalf("expected 2 objectives, got %d", len(objectives))
	}
	if objectives[1].Dependencies[0] != "m01" {
		t.Fatalf("expected m02 to depend on m01, got %v", objectives[1].Dependencies)
	}
	if len(gen.Calls) != 1 {
		t.Fatalf("expected a single backend call, got %d", len(gen.Calls))
	}
}

func TestBackendCoordinatorRetriesOnceThenFails(t *testing.T) {
	gen := llm.NewMockGenerator("not json", "still not json")
	coord := NewCoordinator(gen, testLogger())

	_, err := coord.SynthesizeObjectives(context.Background(), testRun("doc"))
	if err == nil {
		t.Fatal("expected failure after retry")
	}
	var stageErr *Error
	if !errors.As(err, &stageErr) || stageErr.Stage != "coordinator" {
		t.Fatalf("expected a coordinator stage error, got %v", err)
	}
	if len(gen.Calls) != 2 {
		t.Fatalf("expected exactly 2 backend calls, got %d", len(gen.Calls))
	}
	if !strings.Contains(gen.Calls[1], "could not be parsed") {
		t.Fatal("retry prompt should carry the stricter instruction")
	}
}

func TestBackendCoordinatorRecoversOnRetry(t *testing.T) {
	good := `{"objectives": [{"id": "m01", "title": "Only", "objective": "x", "success_criteria": []}]}`
	gen := llm.NewMockGenerator("garbage", good)
	coord := NewCoordinator(gen, testLogger())

	objectives, err := coord.SynthesizeObjectives(context.Background(), testRun("doc"))
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(objectives) != 1 || objectives[0].Title != "Only" {
		t.Fatalf("unexpected objectives %+v", objectives)
	}
}
