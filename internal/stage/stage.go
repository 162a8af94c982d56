// Package stage implements the four pipeline stage executors. Each stage is
// an interface with two variants selected at construction: a backend-calling
// variant when a generation backend is configured, and a deterministic
// heuristic variant that guarantees the pipeline always completes offline.
package stage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xiaot623/conductor/internal/adapter/llm"
	"github.com/xiaot623/conductor/internal/telemetry"
)

// Context window limits for backend prompts, truncated at a newline boundary.
const (
	maxContextChars     = 18000
	maxStepContextChars = 14000
)

// Error wraps a stage failure with the stage name for the orchestrator's
// terminal error event.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// retryInstruction is appended to the user prompt when the first backend
// reply cannot be parsed.
const retryInstruction = "\n\nYour previous reply could not be parsed. " +
	"Respond with only the JSON object described above. No prose, no code fences."

// generateParsed calls the backend, logs the prompts on the prompt channel,
// and parses the reply. On parse failure it retries once with a stricter
// reformatting instruction, then fails.
func generateParsed(ctx context.Context, gen llm.Generator, lg *telemetry.Logger, runID, system, user string, parse func(string) error) error {
	lg.Prompt(runID, "system", "", system, nil)
	lg.Prompt(runID, "user", "", user, nil)

	raw, err := gen.Generate(ctx, system, user)
	if err != nil {
		return fmt.Errorf("backend call failed: %w", err)
	}
	firstErr := parse(raw)
	if firstErr == nil {
		return nil
	}

	lg.Warn("parse_retry", runID, "backend reply unparseable, retrying with stricter instruction",
		map[string]any{"error": firstErr.Error()})
	lg.Prompt(runID, "user", "", user+retryInstruction, map[string]any{"attempt": 2})

	raw, err = gen.Generate(ctx, system, user+retryInstruction)
	if err != nil {
		return fmt.Errorf("backend retry failed: %w", err)
	}
	if err := parse(raw); err != nil {
		return fmt.Errorf("unparseable backend reply after retry: %w", err)
	}
	return nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*)```$")

// stripFence removes a surrounding markdown code fence, a common artifact of
// chat-tuned models.
func stripFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(cleaned); m != nil {
		return strings.TrimSpace(m[1])
	}
	return cleaned
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func cleanText(value string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(value), " ")
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if cleaned := cleanText(v); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

var idRe = regexp.MustCompile(`[^a-z0-9-]+`)
var dashRe = regexp.MustCompile(`-+`)

// sanitizeID slugs an identifier to ^[a-z0-9-]+$, falling back to mNN when
// nothing survives.
func sanitizeID(candidate string, index int) string {
	slug := idRe.ReplaceAllString(strings.ToLower(candidate), "-")
	slug = strings.Trim(dashRe.ReplaceAllString(slug, "-"), "-")
	if slug != "" {
		return slug
	}
	return fmt.Sprintf("m%02d", index+1)
}

// compressChunks joins chunks and truncates to limit, preferring a newline
// boundary so the backend never sees a half sentence.
func compressChunks(chunks []string, limit int) string {
	joined := strings.Join(chunks, "\n\n")
	if len(joined) <= limit {
		return joined
	}
	truncated := joined[:limit]
	if cutoff := strings.LastIndex(truncated, "\n"); cutoff > int(float64(limit)*0.6) {
		return truncated[:cutoff]
	}
	return truncated
}

var sentenceRe = regexp.MustCompile(`(?m)(?:[.!?])\s+`)

// topSentences returns the first limit sentences longer than 20 characters.
func topSentences(text string, limit int) []string {
	parts := sentenceRe.Split(text, -1)
	out := make([]string, 0, limit)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > 20 {
			out = append(out, strings.TrimRight(p, ".!?")+".")
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "against": {}, "being": {}, "between": {},
	"could": {}, "every": {}, "should": {}, "their": {}, "there": {},
	"these": {}, "those": {}, "through": {}, "under": {}, "where": {},
	"which": {}, "while": {}, "would": {}, "system": {}, "using": {},
}

var wordRe = regexp.MustCompile(`[a-zA-Z]{5,}`)

// topKeywords extracts the most frequent long words from the document,
// ties broken alphabetically so the result is deterministic.
func topKeywords(chunks []string, limit int) []string {
	counts := make(map[string]int)
	for _, chunk := range chunks {
		for _, w := range wordRe.FindAllString(chunk, -1) {
			w = strings.ToLower(w)
			if _, skip := stopwords[w]; skip {
				continue
			}
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}
