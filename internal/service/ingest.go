package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/conductor/internal/domain"
)

// Chunking defaults, overridable through configuration.
const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 200
)

// Ingest normalizes and chunks the document text, creates the run in the
// created phase, and persists it. The pipeline itself starts when the
// client opens the run's stream.
func (s *Service) Ingest(ctx context.Context, text string, style domain.PlanStyle) (*domain.RunContext, error) {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil, ErrEmptyDocument
	}
	if style == "" {
		style = domain.StyleStrict
	}

	size, overlap := s.cfg.ChunkSize, s.cfg.ChunkOverlap
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	chunks := chunkText(normalized, size, overlap)

	now := time.Now().UTC()
	rc := &domain.RunContext{
		RunID:  "run_" + uuid.New().String()[:8],
		Phase:  domain.PhaseCreated,
		Style:  style,
		Chunks: chunks,
		Stats: domain.DocumentStats{
			WordCount:  len(strings.Fields(normalized)),
			CharCount:  len(normalized),
			ChunkCount: len(chunks),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveRun(ctx, rc); err != nil {
		return nil, fmt.Errorf("persist new run: %w", err)
	}

	s.lg.Named("ingest").Info("document_ingested", rc.RunID,
		fmt.Sprintf("ingested %d chars into %d chunks", rc.Stats.CharCount, rc.Stats.ChunkCount),
		map[string]any{
			"words":  rc.Stats.WordCount,
			"chars":  rc.Stats.CharCount,
			"chunks": rc.Stats.ChunkCount,
			"style":  string(style),
		})
	return rc, nil
}

var (
	zeroWidthRe  = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]")
	manyBlanksRe = regexp.MustCompile(`\n{3,}`)
)

// normalizeText strips control noise that confuses chunk boundaries:
// carriage returns, zero-width characters, and runs of blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = zeroWidthRe.ReplaceAllString(text, "")
	text = manyBlanksRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// chunkText splits text into overlapping windows, preferring to break at a
// whitespace boundary near the window edge. Identical chunks are dropped so
// a repetitive document does not inflate the context.
func chunkText(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	seen := make(map[string]struct{})
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else if cut := lastBoundary(text[start:end]); cut > size/2 {
			end = start + cut
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			if _, dup := seen[chunk]; !dup {
				seen[chunk] = struct{}{}
				chunks = append(chunks, chunk)
			}
		}
		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastBoundary(window string) int {
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i
	}
	return strings.LastIndexFunc(window, func(r rune) bool { return r == ' ' || r == '\t' })
}
