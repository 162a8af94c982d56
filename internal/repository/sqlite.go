// Package store persists run state to SQLite. Runs are stored as one row
// each, with the structured fields serialized to JSON text columns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/conductor/internal/domain"
)

// SQLiteStore implements run persistence using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			phase TEXT NOT NULL,
			style TEXT NOT NULL,
			chunks TEXT NOT NULL,
			stats TEXT NOT NULL,
			objectives TEXT,
			plan TEXT,
			steps TEXT,
			report TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_phase ON runs(phase, updated_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces the full run row. Saving the same state twice
// is a no-op, which is what the phase-transition durability rule relies on.
func (s *SQLiteStore) SaveRun(ctx context.Context, rc *domain.RunContext) error {
	chunks, err := json.Marshal(rc.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	stats, err := json.Marshal(rc.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	objectives := marshalNullable(rc.Objectives)
	plan := marshalNullable(rc.Plan)
	steps := marshalNullable(rc.Steps)
	report := marshalNullable(rc.Report)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, phase, style, chunks, stats, objectives, plan, steps, report, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase = excluded.phase,
			style = excluded.style,
			chunks = excluded.chunks,
			stats = excluded.stats,
			objectives = excluded.objectives,
			plan = excluded.plan,
			steps = excluded.steps,
			report = excluded.report,
			updated_at = excluded.updated_at`,
		rc.RunID, string(rc.Phase), string(rc.Style), string(chunks), string(stats),
		objectives, plan, steps, report, rc.CreatedAt, rc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rc.RunID, err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns (nil, nil) when the run is unknown.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunContext, error) {
	var rc domain.RunContext
	var phase, style, chunks, stats string
	var objectives, plan, steps, report sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, phase, style, chunks, stats, objectives, plan, steps, report, created_at, updated_at
		FROM runs WHERE run_id = ?`, runID).
		Scan(&rc.RunID, &phase, &style, &chunks, &stats, &objectives, &plan, &steps, &report,
			&rc.CreatedAt, &rc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	rc.Phase = domain.Phase(phase)
	rc.Style = domain.PlanStyle(style)
	if err := json.Unmarshal([]byte(chunks), &rc.Chunks); err != nil {
		return nil, fmt.Errorf("unmarshal chunks for %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(stats), &rc.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats for %s: %w", runID, err)
	}
	if err := unmarshalNullable(objectives, &rc.Objectives); err != nil {
		return nil, fmt.Errorf("unmarshal objectives for %s: %w", runID, err)
	}
	if err := unmarshalNullable(plan, &rc.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan for %s: %w", runID, err)
	}
	if err := unmarshalNullable(steps, &rc.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps for %s: %w", runID, err)
	}
	if err := unmarshalNullable(report, &rc.Report); err != nil {
		return nil, fmt.Errorf("unmarshal report for %s: %w", runID, err)
	}
	return &rc, nil
}

// RunSummary is a run row without its document and plan payloads.
type RunSummary struct {
	RunID     string       `json:"run_id"`
	Phase     domain.Phase `json:"phase"`
	StepCount int          `json:"step_count"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ListRuns returns the most recently updated runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, phase, steps, created_at, updated_at
		FROM runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var phase string
		var steps sql.NullString
		if err := rows.Scan(&rs.RunID, &phase, &steps, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
			return nil, err
		}
		rs.Phase = domain.Phase(phase)
		if steps.Valid {
			var parsed []domain.PromptStep
			if err := json.Unmarshal([]byte(steps.String), &parsed); err == nil {
				rs.StepCount = len(parsed)
			}
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// UpdateSteps replaces a run's steps, used by the manual step-edit endpoint.
func (s *SQLiteStore) UpdateSteps(ctx context.Context, runID string, steps []domain.PromptStep) error {
	raw, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET steps = ?, updated_at = ? WHERE run_id = ?`,
		string(raw), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("update steps for %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// marshalNullable serializes v, returning NULL when v is a nil pointer or
// empty slice so the column stays clean for unfinished runs.
func marshalNullable(v any) any {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func unmarshalNullable(col sql.NullString, target any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), target)
}
