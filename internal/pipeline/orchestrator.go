// Package pipeline drives a run through the four generation stages in fixed
// order, persisting the run after every phase transition so a restart can
// resume from the last completed phase.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/stage"
	"github.com/xiaot623/conductor/internal/telemetry"
)

// eventBufferSize bounds the in-flight event channel. The stream adapter
// drains continuously, so the pipeline only blocks if the consumer stalls
// for a full stage's worth of events.
const eventBufferSize = 16

// DefaultStageTimeout bounds a single stage execution.
const DefaultStageTimeout = 120 * time.Second

// Store persists run state. Saves must be idempotent per run id.
type Store interface {
	SaveRun(ctx context.Context, rc *domain.RunContext) error
}

// Orchestrator owns the stage executors and the durability rule: stage
// outputs are persisted before the completed event for that stage is
// emitted, so every event a consumer sees describes state already on disk.
type Orchestrator struct {
	store        Store
	coordinator  stage.Coordinator
	planner      stage.Planner
	decomposer   stage.Decomposer
	reviewer     stage.Reviewer
	lg           *telemetry.Logger
	stageTimeout time.Duration
}

// Options configures an Orchestrator.
type Options struct {
	Store        Store
	Coordinator  stage.Coordinator
	Planner      stage.Planner
	Decomposer   stage.Decomposer
	Reviewer     stage.Reviewer
	Logger       *telemetry.Logger
	StageTimeout time.Duration
}

func New(opts Options) *Orchestrator {
	timeout := opts.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	return &Orchestrator{
		store:        opts.Store,
		coordinator:  opts.Coordinator,
		planner:      opts.Planner,
		decomposer:   opts.Decomposer,
		reviewer:     opts.Reviewer,
		lg:           opts.Logger.Named("pipeline"),
		stageTimeout: timeout,
	}
}

// ErrRunFailed is returned when a run is re-streamed after a terminal failure.
var ErrRunFailed = errors.New("run previously failed")

// Run executes the pipeline for rc and returns the ordered event channel.
// The channel is closed after the terminal event. The caller must drain it.
// Stage execution is detached from ctx: cancelling it after Run returns does
// not abort the run, only the per-stage timeout does.
//
// A run already in the complete phase is not re-executed: the persisted
// bundle is replayed as a single final_plan event.
func (o *Orchestrator) Run(ctx context.Context, rc *domain.RunContext) (<-chan domain.PipelineEvent, error) {
	if rc.Phase == domain.PhaseFailed {
		return nil, ErrRunFailed
	}
	events := make(chan domain.PipelineEvent, eventBufferSize)

	if rc.Phase == domain.PhaseComplete {
		go func() {
			defer close(events)
			events <- o.finalEvent(rc)
		}()
		o.lg.Info("run_replayed", rc.RunID, "replaying final plan for completed run", nil)
		return events, nil
	}

	start, err := resumeIndex(rc.Phase)
	if err != nil {
		return nil, err
	}

	go o.execute(ctx, rc, events, start)
	return events, nil
}

// executions lists the stages in order. Each entry names the in-progress
// phase stored while the stage runs and the function that merges the stage
// output into the run.
type execution struct {
	name  string
	phase domain.Phase
	run   func(o *Orchestrator, ctx context.Context, rc *domain.RunContext) (map[string]any, error)
}

var executions = []execution{
	{"coordinator", domain.PhaseCoordinating, func(o *Orchestrator, ctx context.Context, rc *domain.RunContext) (map[string]any, error) {
		objectives, err := o.coordinator.SynthesizeObjectives(ctx, rc)
		if err != nil {
			return nil, err
		}
		rc.Objectives = objectives
		return map[string]any{"objective_count": len(objectives)}, nil
	}},
	{"planner", domain.PhasePlanning, func(o *Orchestrator, ctx context.Context, rc *domain.RunContext) (map[string]any, error) {
		plan, err := o.planner.GeneratePlan(ctx, rc)
		if err != nil {
			return nil, err
		}
		rc.Plan = plan
		return map[string]any{"milestone_count": len(plan.Milestones)}, nil
	}},
	{"decomposer", domain.PhaseDecomposing, func(o *Orchestrator, ctx context.Context, rc *domain.RunContext) (map[string]any, error) {
		steps, err := o.decomposer.Decompose(ctx, rc)
		if err != nil {
			return nil, err
		}
		rc.Steps = steps
		return map[string]any{"step_count": len(steps)}, nil
	}},
	{"reviewer", domain.PhaseReviewing, func(o *Orchestrator, ctx context.Context, rc *domain.RunContext) (map[string]any, error) {
		steps, report, err := o.reviewer.Review(ctx, rc)
		if err != nil {
			return nil, err
		}
		rc.Steps = steps
		rc.Report = report
		return map[string]any{"overall_score": report.OverallScore}, nil
	}},
}

// resumeIndex maps a stored phase to the first stage that still needs to
// run. An in-progress phase reruns its own stage, since outputs are only
// persisted on completion.
func resumeIndex(phase domain.Phase) (int, error) {
	switch phase {
	case domain.PhaseCreated, domain.PhaseCoordinating:
		return 0, nil
	case domain.PhasePlanning:
		return 1, nil
	case domain.PhaseDecomposing:
		return 2, nil
	case domain.PhaseReviewing:
		return 3, nil
	}
	return 0, fmt.Errorf("cannot resume run in phase %q", phase)
}

func (o *Orchestrator) execute(ctx context.Context, rc *domain.RunContext, events chan<- domain.PipelineEvent, start int) {
	defer close(events)

	for _, exec := range executions[start:] {
		rc.Phase = exec.phase
		if err := o.persist(rc); err != nil {
			o.fail(rc, events, exec.name, fmt.Errorf("persist phase transition: %w", err))
			return
		}

		o.emit(rc, events, exec.name+"_started", nil)

		// Detached from the caller's context: a client disconnect must not
		// cancel an in-flight backend call and fail the run. The per-stage
		// timeout is the only cancellation.
		stageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stageTimeout)
		began := time.Now()
		data, err := exec.run(o, stageCtx, rc)
		cancel()
		if err != nil {
			o.fail(rc, events, exec.name, err)
			return
		}

		rc.UpdatedAt = time.Now().UTC()
		if err := o.persist(rc); err != nil {
			o.fail(rc, events, exec.name, fmt.Errorf("persist stage output: %w", err))
			return
		}

		if data == nil {
			data = map[string]any{}
		}
		data["elapsed_ms"] = time.Since(began).Milliseconds()
		o.emit(rc, events, exec.name+"_completed", data)
	}

	rc.Phase = domain.PhaseComplete
	rc.UpdatedAt = time.Now().UTC()
	if err := o.persist(rc); err != nil {
		o.fail(rc, events, "pipeline", fmt.Errorf("persist completed run: %w", err))
		return
	}
	events <- o.finalEvent(rc)
	o.lg.Info("run_completed", rc.RunID, "pipeline complete",
		map[string]any{"steps": len(rc.Steps)})
}

func (o *Orchestrator) persist(rc *domain.RunContext) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.store.SaveRun(saveCtx, rc)
}

// emit records the stage boundary in the telemetry buffer under the stage's
// own source, then forwards the same event to the stream consumer. Record
// and event share one name so the metrics aggregator can pair started and
// completed entries per run.
func (o *Orchestrator) emit(rc *domain.RunContext, events chan<- domain.PipelineEvent, name string, data map[string]any) {
	source := name[:lastUnderscore(name)]
	o.lg.Named(source).Info(name, rc.RunID, name, data)
	events <- domain.PipelineEvent{Type: domain.EventType(name), RunID: rc.RunID, Data: data}
}

func lastUnderscore(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '_' {
			return i
		}
	}
	return len(s)
}

func (o *Orchestrator) fail(rc *domain.RunContext, events chan<- domain.PipelineEvent, stageName string, err error) {
	failedIn := rc.Phase
	rc.Phase = domain.PhaseFailed
	rc.UpdatedAt = time.Now().UTC()
	if perr := o.persist(rc); perr != nil {
		o.lg.Error("persist_failed", rc.RunID, "could not persist failed run", map[string]any{"error": perr.Error()})
	}

	code := "stage_failed"
	var stageErr *stage.Error
	if errors.As(err, &stageErr) {
		code = stageErr.Stage + "_failed"
	}
	o.lg.Named(stageName).Error(stageName+"_failed", rc.RunID, err.Error(),
		map[string]any{"phase": string(failedIn)})
	o.lg.Critical("run_failed", rc.RunID, fmt.Sprintf("%s: %v", stageName, err),
		map[string]any{"stage": stageName, "phase": string(failedIn)})

	payload := domain.ErrorEventData{Code: code, Message: err.Error(), Phase: failedIn}
	events <- domain.PipelineEvent{Type: domain.EventError, RunID: rc.RunID, Data: toMap(payload)}
}

func (o *Orchestrator) finalEvent(rc *domain.RunContext) domain.PipelineEvent {
	return domain.PipelineEvent{
		Type:  domain.EventFinalPlan,
		RunID: rc.RunID,
		Data:  toMap(rc.FinalBundle()),
	}
}

// toMap round-trips a struct through JSON so every event payload is a plain
// map with the struct's wire field names.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	return out
}
