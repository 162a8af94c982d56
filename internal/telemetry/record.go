// Package telemetry provides the process-wide structured log buffer, the
// source-scoped logger facade every component writes through, and the
// metrics aggregator that derives per-component health from the raw records.
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a record.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel resolves a level name. Unknown names are a validation error so
// malformed queries fail fast at the API boundary.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
}

// Category separates the two telemetry channels sharing the buffer.
type Category string

const (
	CategoryRuntime Category = "runtime"
	CategoryPrompt  Category = "prompt"
)

// ParseCategory resolves a category name.
func ParseCategory(name string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "runtime":
		return CategoryRuntime, nil
	case "prompt", "prompts":
		return CategoryPrompt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, name)
}

// Record is one immutable telemetry entry. Sequence is assigned by the
// buffer at insertion; producers leave it zero.
type Record struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"-"`
	LevelName string         `json:"level"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Category  Category       `json:"category"`
}
