// Package service implements the application logic between the HTTP
// transport and the pipeline, store, and telemetry layers.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/conductor/internal/config"
	"github.com/xiaot623/conductor/internal/domain"
	"github.com/xiaot623/conductor/internal/pipeline"
	store "github.com/xiaot623/conductor/internal/repository"
	"github.com/xiaot623/conductor/internal/telemetry"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrEmptyDocument = errors.New("document is empty after normalization")
)

type Service struct {
	store *store.SQLiteStore
	orch  *pipeline.Orchestrator
	lg    *telemetry.Logger
	cfg   *config.Config
}

func New(st *store.SQLiteStore, orch *pipeline.Orchestrator, lg *telemetry.Logger, cfg *config.Config) *Service {
	return &Service{store: st, orch: orch, lg: lg, cfg: cfg}
}

// GetRun loads a run by id.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunContext, error) {
	rc, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, ErrRunNotFound
	}
	return rc, nil
}

// ListRuns returns recent run summaries, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	return s.store.ListRuns(ctx, limit)
}

// Stream loads the run and starts (or replays) its pipeline, returning the
// ordered event channel.
func (s *Service) Stream(ctx context.Context, runID string) (<-chan domain.PipelineEvent, error) {
	rc, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.orch.Run(ctx, rc)
}

// UpdateSteps replaces a run's steps after validating them.
func (s *Service) UpdateSteps(ctx context.Context, runID string, steps []domain.PromptStep) (*domain.RunContext, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSteps(ctx, runID, steps); err != nil {
		return nil, err
	}
	s.lg.Named("store").Info("steps_updated", runID,
		fmt.Sprintf("replaced steps for %s", runID), map[string]any{"count": len(steps)})
	return s.GetRun(ctx, runID)
}

func validateSteps(steps []domain.PromptStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("steps must not be empty")
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("step %d has no id", i+1)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
		if step.UserPrompt == "" {
			return fmt.Errorf("step %q has no user prompt", step.ID)
		}
	}
	return nil
}
