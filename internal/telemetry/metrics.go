package telemetry

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Default bounds for snapshot assembly, matching the dashboard poll contract.
const (
	MaxRecordsPerSnapshot = 400
	MaxCalls              = 150
)

// NodeStatus is the derived health of a component.
type NodeStatus string

const (
	StatusIdle     NodeStatus = "idle"
	StatusHealthy  NodeStatus = "healthy"
	StatusDegraded NodeStatus = "degraded"
	StatusError    NodeStatus = "error"
)

// moduleDef declares one component surfaced in the observability snapshot.
// Source is the telemetry record source the component writes under.
type moduleDef struct {
	Source      string
	Name        string
	Category    string
	Description string
}

var moduleDefs = []moduleDef{
	{"ingest", "Ingestion Pipeline", "pipeline", "Normalizes input and chunks content for planning."},
	{"store", "Run Store", "storage", "Persists run context and plan artifacts."},
	{"pipeline", "Pipeline Orchestrator", "orchestrator", "Drives the four stages and streams progress events."},
	{"coordinator", "Coordinator Stage", "agent", "Synthesizes milestone objectives from document context."},
	{"planner", "Planner Stage", "agent", "Drafts the high-level execution plan."},
	{"decomposer", "Decomposer Stage", "agent", "Breaks milestones into executable step prompts."},
	{"reviewer", "Reviewer Stage", "agent", "Scores draft steps and injects review feedback."},
	{"export", "Export Renderer", "endpoint", "Packages finalized artifacts for download."},
}

// edgeDef is a static call relationship between components.
type edgeDef struct {
	Source string
	Target string
	Label  string
}

var edgeDefs = []edgeDef{
	{"ingest", "store", "Persist chunks"},
	{"store", "pipeline", "Supply context"},
	{"pipeline", "coordinator", "Launch objectives"},
	{"coordinator", "planner", "Share milestones"},
	{"planner", "decomposer", "Break into steps"},
	{"decomposer", "reviewer", "Send drafts"},
	{"reviewer", "pipeline", "Return feedback"},
	{"pipeline", "store", "Store artifacts"},
	{"store", "export", "Read artifacts"},
}

// Node is one component in the snapshot.
type Node struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Description   string         `json:"description"`
	Status        NodeStatus     `json:"status"`
	EventCount    int            `json:"event_count"`
	RunIDs        []string       `json:"run_ids"`
	LastKind      string         `json:"last_kind,omitempty"`
	LastTimestamp *time.Time     `json:"last_timestamp,omitempty"`
	Metrics       map[string]any `json:"metrics"`
}

// Edge is a directed relationship between components.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Call is one recent raw record surfaced for drill-down.
type Call struct {
	ModuleID  string         `json:"module_id"`
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind,omitempty"`
	Message   string         `json:"message"`
	Category  Category       `json:"category"`
	RunID     string         `json:"run_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Snapshot is the full observability view derived from the buffer.
type Snapshot struct {
	GeneratedAt      time.Time `json:"generated_at"`
	SessionStartedAt time.Time `json:"session_started_at"`
	Nodes            []Node    `json:"nodes"`
	Edges            []Edge    `json:"edges"`
	Calls            []Call    `json:"calls"`
}

// SnapshotOptions bound the records considered for one snapshot.
type SnapshotOptions struct {
	Limit    int
	MaxCalls int
	Start    time.Time
	End      time.Time
}

// Aggregator derives component health and latency statistics from the
// buffer. It holds no state of its own: every snapshot is recomputed from
// the raw records, which are bounded by the buffer's capacity.
type Aggregator struct {
	buf *Buffer
}

// NewAggregator creates an aggregator reading from buf.
func NewAggregator(buf *Buffer) *Aggregator {
	return &Aggregator{buf: buf}
}

type moduleStats struct {
	eventCount   int
	warningCount int
	errorCount   int
	worstLevel   Level
	seen         bool
	runIDs       map[string]struct{}
	lastKind     string
	lastTime     time.Time
	lastMessage  string
	latencies    []float64
	lastLatency  float64
	started      map[string]time.Time // keyed by run id
}

// Snapshot assembles the observability view for the requested window.
func (a *Aggregator) Snapshot(opts SnapshotOptions) Snapshot {
	limit := opts.Limit
	if limit <= 0 {
		limit = MaxRecordsPerSnapshot
	}
	callLimit := opts.MaxCalls
	if callLimit <= 0 {
		callLimit = MaxCalls
	}

	records, _, _ := a.buf.Query(Query{Start: opts.Start, End: opts.End, Limit: limit})

	stats := make(map[string]*moduleStats, len(moduleDefs))
	for _, def := range moduleDefs {
		stats[def.Source] = &moduleStats{
			runIDs:  make(map[string]struct{}),
			started: make(map[string]time.Time),
		}
	}

	var calls []Call
	for _, rec := range records {
		st, ok := stats[rec.Source]
		if !ok {
			continue
		}
		st.eventCount++
		if !st.seen || rec.Level > st.worstLevel {
			st.worstLevel = rec.Level
			st.seen = true
		}
		switch {
		case rec.Level >= LevelError:
			st.errorCount++
		case rec.Level == LevelWarning:
			st.warningCount++
		}
		if rec.RunID != "" {
			st.runIDs[rec.RunID] = struct{}{}
		}
		if rec.Timestamp.After(st.lastTime) || rec.Timestamp.Equal(st.lastTime) {
			st.lastTime = rec.Timestamp
			st.lastKind = rec.Kind
			st.lastMessage = rec.Message
		}
		updateLatency(st, rec)

		calls = append(calls, Call{
			ModuleID:  rec.Source,
			Sequence:  rec.Sequence,
			Timestamp: rec.Timestamp,
			Level:     rec.Level.String(),
			Kind:      rec.Kind,
			Message:   rec.Message,
			Category:  rec.Category,
			RunID:     rec.RunID,
			Payload:   rec.Payload,
		})
	}

	// Newest first for display; input was sequence-ascending so a stable
	// sort keeps equal timestamps in a deterministic order.
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Sequence > calls[j].Sequence })
	if len(calls) > callLimit {
		calls = calls[:callLimit]
	}

	nodes := make([]Node, 0, len(moduleDefs))
	for _, def := range moduleDefs {
		st := stats[def.Source]
		metrics := map[string]any{
			"total_runs":    len(st.runIDs),
			"warning_count": st.warningCount,
			"error_count":   st.errorCount,
		}
		if len(st.latencies) > 0 {
			metrics["avg_latency_ms"] = round2(mean(st.latencies))
			metrics["p95_latency_ms"] = round2(percentile(st.latencies, 0.95))
			metrics["last_latency_ms"] = round2(st.lastLatency)
		}
		if st.lastMessage != "" {
			metrics["last_message"] = st.lastMessage
		}
		node := Node{
			ID:          def.Source,
			Name:        def.Name,
			Category:    def.Category,
			Description: def.Description,
			Status:      deriveStatus(st),
			EventCount:  st.eventCount,
			RunIDs:      sortedKeys(st.runIDs),
			LastKind:    st.lastKind,
			Metrics:     metrics,
		}
		if !st.lastTime.IsZero() {
			t := st.lastTime
			node.LastTimestamp = &t
		}
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(edgeDefs))
	for _, e := range edgeDefs {
		edges = append(edges, Edge{Source: e.Source, Target: e.Target, Label: e.Label})
	}

	return Snapshot{
		GeneratedAt:      time.Now().UTC(),
		SessionStartedAt: a.buf.SessionStartedAt(),
		Nodes:            nodes,
		Edges:            edges,
		Calls:            calls,
	}
}

// updateLatency pairs a "<source>_started" record with the next
// "<source>_completed" record carrying the same run id. Unmatched starts
// and completions are ignored.
func updateLatency(st *moduleStats, rec Record) {
	switch {
	case strings.HasSuffix(rec.Kind, "_started"):
		st.started[rec.RunID] = rec.Timestamp
	case strings.HasSuffix(rec.Kind, "_completed"):
		startedAt, ok := st.started[rec.RunID]
		if !ok {
			return
		}
		delete(st.started, rec.RunID)
		ms := rec.Timestamp.Sub(startedAt).Seconds() * 1000.0
		if ms < 0 {
			ms = 0
		}
		st.latencies = append(st.latencies, ms)
		st.lastLatency = ms
	}
}

func deriveStatus(st *moduleStats) NodeStatus {
	if !st.seen {
		return StatusIdle
	}
	switch {
	case st.worstLevel >= LevelError:
		return StatusError
	case st.worstLevel == LevelWarning:
		return StatusDegraded
	}
	return StatusHealthy
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	ordered := make([]float64, len(values))
	copy(ordered, values)
	sort.Float64s(ordered)
	if len(ordered) == 1 {
		return ordered[0]
	}
	rank := p * float64(len(ordered)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return ordered[lower]
	}
	frac := rank - float64(lower)
	return ordered[lower] + (ordered[upper]-ordered[lower])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
