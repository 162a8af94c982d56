package llm

import (
	"log"
	"time"
)

// NewGenerator creates a backend Generator when a base URL is configured.
// A nil return selects the deterministic fallback variant in every stage,
// which is how the pipeline stays operational offline.
func NewGenerator(baseURL, apiKey, model string, timeout time.Duration) Generator {
	if baseURL == "" {
		log.Println("INFO: no generation backend configured, stages will use heuristic fallbacks")
		return nil
	}
	return NewClient(baseURL, apiKey, model, timeout)
}
