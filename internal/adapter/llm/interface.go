// Package llm provides an abstraction for the external generation backend.
package llm

import "context"

// Generator defines the single operation the stage executors need from a
// generation backend: format a role-specific instruction pair and get text
// back. Absence of a Generator selects the deterministic fallback path in
// every stage.
type Generator interface {
	// Generate sends a system/user instruction pair and returns the raw
	// assistant text.
	Generate(ctx context.Context, system, user string) (string, error)
}

// Ensure Client implements Generator.
var _ Generator = (*Client)(nil)
