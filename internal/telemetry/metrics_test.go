package telemetry

import (
	"testing"
	"time"
)

func stageRecord(source, kind, runID string, ts time.Time) Record {
	return Record{Level: LevelInfo, Source: source, Kind: kind, RunID: runID, Timestamp: ts}
}

func TestSnapshotPairsLatenciesPerRun(t *testing.T) {
	buf := NewBuffer(100)
	agg := NewAggregator(buf)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	buf.Append(stageRecord("planner", "planner_started", "run_a", base))
	buf.Append(stageRecord("planner", "planner_started", "run_b", base.Add(time.Second)))
	buf.Append(stageRecord("planner", "planner_completed", "run_a", base.Add(2*time.Second)))
	buf.Append(stageRecord("planner", "planner_completed", "run_b", base.Add(4*time.Second)))

	snap := agg.Snapshot(SnapshotOptions{})
	node := findNode(t, snap, "planner")

	if node.Status != StatusHealthy {
		t.Fatalf("expected healthy planner, got %s", node.Status)
	}
	if got := node.Metrics["avg_latency_ms"]; got != 2500.0 {
		t.Fatalf("expected avg latency 2500ms, got %v", got)
	}
	if got := node.Metrics["last_latency_ms"]; got != 3000.0 {
		t.Fatalf("expected last latency 3000ms, got %v", got)
	}
	if len(node.RunIDs) != 2 {
		t.Fatalf("expected 2 run ids, got %v", node.RunIDs)
	}
}

func TestSnapshotIgnoresUnmatchedCompletions(t *testing.T) {
	buf := NewBuffer(100)
	agg := NewAggregator(buf)
	base := time.Now().UTC()

	// Completion for a run whose start record is missing must not produce a
	// latency sample.
	buf.Append(stageRecord("reviewer", "reviewer_completed", "run_x", base))
	buf.Append(stageRecord("reviewer", "reviewer_started", "run_y", base.Add(time.Second)))

	snap := agg.Snapshot(SnapshotOptions{})
	node := findNode(t, snap, "reviewer")
	if _, ok := node.Metrics["avg_latency_ms"]; ok {
		t.Fatal("expected no latency metrics for unmatched records")
	}
}

func TestSnapshotStatusDerivation(t *testing.T) {
	buf := NewBuffer(100)
	agg := NewAggregator(buf)
	now := time.Now().UTC()

	buf.Append(Record{Level: LevelWarning, Source: "ingest", Kind: "slow_parse", Timestamp: now})
	buf.Append(Record{Level: LevelError, Source: "store", Kind: "save_failed", Timestamp: now})
	buf.Append(Record{Level: LevelInfo, Source: "pipeline", Kind: "run_completed", Timestamp: now})

	snap := agg.Snapshot(SnapshotOptions{})
	if got := findNode(t, snap, "ingest").Status; got != StatusDegraded {
		t.Fatalf("expected degraded ingest, got %s", got)
	}
	if got := findNode(t, snap, "store").Status; got != StatusError {
		t.Fatalf("expected error store, got %s", got)
	}
	if got := findNode(t, snap, "pipeline").Status; got != StatusHealthy {
		t.Fatalf("expected healthy pipeline, got %s", got)
	}
	if got := findNode(t, snap, "export").Status; got != StatusIdle {
		t.Fatalf("expected idle export, got %s", got)
	}
}

func TestSnapshotCallsNewestFirstAndCapped(t *testing.T) {
	buf := NewBuffer(100)
	agg := NewAggregator(buf)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		buf.Append(Record{Level: LevelInfo, Source: "pipeline", Kind: "tick", Timestamp: now})
	}

	snap := agg.Snapshot(SnapshotOptions{MaxCalls: 4})
	if len(snap.Calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(snap.Calls))
	}
	if snap.Calls[0].Sequence != 10 {
		t.Fatalf("expected newest call first, got sequence %d", snap.Calls[0].Sequence)
	}
	for i := 1; i < len(snap.Calls); i++ {
		if snap.Calls[i].Sequence >= snap.Calls[i-1].Sequence {
			t.Fatal("calls not in descending sequence order")
		}
	}
}

func TestSnapshotSkipsUnknownSources(t *testing.T) {
	buf := NewBuffer(100)
	agg := NewAggregator(buf)

	buf.Append(Record{Level: LevelInfo, Source: "mystery", Kind: "noise", Timestamp: time.Now().UTC()})

	snap := agg.Snapshot(SnapshotOptions{})
	if len(snap.Calls) != 0 {
		t.Fatalf("expected unknown sources to be dropped, got %d calls", len(snap.Calls))
	}
	for _, node := range snap.Nodes {
		if node.EventCount != 0 {
			t.Fatalf("node %s unexpectedly counted events", node.ID)
		}
	}
}

func TestSnapshotEdgesAreStatic(t *testing.T) {
	buf := NewBuffer(10)
	agg := NewAggregator(buf)

	snap := agg.Snapshot(SnapshotOptions{})
	if len(snap.Edges) != len(edgeDefs) {
		t.Fatalf("expected %d edges, got %d", len(edgeDefs), len(snap.Edges))
	}
	if len(snap.Nodes) != len(moduleDefs) {
		t.Fatalf("expected %d nodes, got %d", len(moduleDefs), len(snap.Nodes))
	}
}

func findNode(t *testing.T, snap Snapshot, id string) Node {
	t.Helper()
	for _, n := range snap.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not found", id)
	return Node{}
}
