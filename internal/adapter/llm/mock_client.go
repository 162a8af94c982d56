package llm

import (
	"context"
	"fmt"
)

// MockGenerator is a scripted Generator for tests. Responses are returned in
// order; after the script is exhausted every call fails.
type MockGenerator struct {
	Responses []string
	Errs      []error
	Calls     []string // recorded user prompts
}

// Ensure MockGenerator implements Generator.
var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a mock that replays the given responses.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{Responses: responses}
}

// Generate pops the next scripted response or error.
func (m *MockGenerator) Generate(_ context.Context, _, user string) (string, error) {
	idx := len(m.Calls)
	m.Calls = append(m.Calls, user)
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return "", m.Errs[idx]
	}
	if idx < len(m.Responses) {
		return m.Responses[idx], nil
	}
	return "", fmt.Errorf("mock generator exhausted after %d calls", idx)
}
