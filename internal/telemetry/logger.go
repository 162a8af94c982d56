package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PromptPreviewLimit bounds how much of a prompt is retained inline in the
// buffer; the full text goes to the audit sink when one is configured.
const PromptPreviewLimit = 600

// Logger is a source-scoped facade over the shared buffer. Every structured
// record is also mirrored to the standard logger so the console stays useful
// during development.
type Logger struct {
	buf    *Buffer
	source string

	auditMu   *sync.Mutex
	auditPath string
}

// NewLogger creates the root logger for a buffer. An empty auditPath
// disables the prompt audit file sink.
func NewLogger(buf *Buffer, auditPath string) *Logger {
	return &Logger{buf: buf, auditMu: &sync.Mutex{}, auditPath: auditPath}
}

// Named returns a logger scoped to the given component source. The shared
// buffer and audit sink are inherited.
func (l *Logger) Named(source string) *Logger {
	return &Logger{buf: l.buf, source: source, auditMu: l.auditMu, auditPath: l.auditPath}
}

// Buffer exposes the underlying buffer for readers.
func (l *Logger) Buffer() *Buffer { return l.buf }

func (l *Logger) emit(level Level, kind, runID, msg string, payload map[string]any) {
	l.buf.Append(Record{
		Level:    level,
		Source:   l.source,
		Kind:     kind,
		RunID:    runID,
		Message:  msg,
		Payload:  payload,
		Category: CategoryRuntime,
	})
	if level >= LevelWarning {
		log.Printf("%s: [%s] %s", level, l.source, msg)
	} else {
		log.Printf("INFO: [%s] %s", l.source, msg)
	}
}

// Debug records a DEBUG entry.
func (l *Logger) Debug(kind, runID, msg string, payload map[string]any) {
	l.buf.Append(Record{
		Level: LevelDebug, Source: l.source, Kind: kind, RunID: runID,
		Message: msg, Payload: payload, Category: CategoryRuntime,
	})
}

// Info records an INFO entry.
func (l *Logger) Info(kind, runID, msg string, payload map[string]any) {
	l.emit(LevelInfo, kind, runID, msg, payload)
}

// Warn records a WARNING entry.
func (l *Logger) Warn(kind, runID, msg string, payload map[string]any) {
	l.emit(LevelWarning, kind, runID, msg, payload)
}

// Error records an ERROR entry.
func (l *Logger) Error(kind, runID, msg string, payload map[string]any) {
	l.emit(LevelError, kind, runID, msg, payload)
}

// Critical records a CRITICAL entry.
func (l *Logger) Critical(kind, runID, msg string, payload map[string]any) {
	l.emit(LevelCritical, kind, runID, msg, payload)
}

// Prompt records a prompt-channel entry with a truncated preview and, when
// an audit path is configured, appends the full prompt to the JSONL sink.
// Audit failures are logged and swallowed; prompt capture must never fail a
// stage.
func (l *Logger) Prompt(runID, role, model, prompt string, metadata map[string]any) {
	preview, truncated := previewText(prompt, PromptPreviewLimit)
	payload := map[string]any{
		"agent":     l.source,
		"role":      role,
		"chars":     len(prompt),
		"preview":   preview,
		"truncated": truncated,
	}
	if model != "" {
		payload["model"] = model
	}
	for k, v := range metadata {
		payload[k] = v
	}
	l.buf.Append(Record{
		Level:    LevelInfo,
		Source:   l.source,
		Kind:     "prompt_" + role,
		RunID:    runID,
		Message:  fmt.Sprintf("%s prompt for %s (%d chars)", role, l.source, len(prompt)),
		Payload:  payload,
		Category: CategoryPrompt,
	})
	if l.auditPath == "" {
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"agent":     l.source,
		"role":      role,
		"run_id":    runID,
		"model":     model,
		"chars":     len(prompt),
		"prompt":    prompt,
	}
	if err := l.appendAudit(entry); err != nil {
		log.Printf("WARN: [%s] failed to write prompt audit entry: %v", l.source, err)
	}
}

func (l *Logger) appendAudit(entry map[string]any) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.auditMu.Lock()
	defer l.auditMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.auditPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func previewText(text string, limit int) (string, bool) {
	if len(text) <= limit {
		return text, false
	}
	return fmt.Sprintf("%s... (+%d chars)", text[:limit], len(text)-limit), true
}
