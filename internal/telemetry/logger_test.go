package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptRecordsPreviewOnly(t *testing.T) {
	buf := NewBuffer(16)
	lg := NewLogger(buf, "").Named("planner")

	long := strings.Repeat("p", PromptPreviewLimit+50)
	lg.Prompt("run_x", "user", "test-model", long, nil)

	records, _, err := buf.Query(Query{Category: CategoryPrompt})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 prompt record, got %d", len(records))
	}
	rec := records[0]
	if rec.Kind != "prompt_user" || rec.Source != "planner" {
		t.Fatalf("unexpected record %+v", rec)
	}
	preview, _ := rec.Payload["preview"].(string)
	if len(preview) >= len(long) {
		t.Fatal("preview should be shorter than the prompt")
	}
	if truncated, _ := rec.Payload["truncated"].(bool); !truncated {
		t.Fatal("expected truncated flag")
	}
	if chars, _ := rec.Payload["chars"].(int); chars != len(long) {
		t.Fatalf("expected full char count, got %v", rec.Payload["chars"])
	}
}

func TestPromptAuditSinkWritesFullPrompt(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit", "prompts.jsonl")
	buf := NewBuffer(16)
	lg := NewLogger(buf, auditPath).Named("coordinator")

	long := strings.Repeat("q", PromptPreviewLimit+10)
	lg.Prompt("run_y", "system", "", long, nil)
	lg.Prompt("run_y", "user", "", "short prompt", map[string]any{"attempt": 2})

	f, err := os.Open(auditPath)
	if err != nil {
		t.Fatalf("audit file missing: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("audit line not valid json: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(lines))
	}
	if got, _ := lines[0]["prompt"].(string); got != long {
		t.Fatal("audit entry should carry the untruncated prompt")
	}
	if lines[1]["agent"] != "coordinator" || lines[1]["run_id"] != "run_y" {
		t.Fatalf("unexpected audit metadata %v", lines[1])
	}
}

func TestDebugStaysOutOfConsoleButInBuffer(t *testing.T) {
	buf := NewBuffer(16)
	lg := NewLogger(buf, "").Named("store")

	lg.Debug("cache_hit", "run_z", "hit", nil)

	records, _, err := buf.Query(Query{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 || records[0].LevelName != "DEBUG" {
		t.Fatalf("expected one DEBUG record, got %+v", records)
	}
}
