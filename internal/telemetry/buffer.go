package telemetry

import (
	"errors"
	"sync"
	"time"
)

// Validation errors surfaced at the query boundary.
var (
	ErrInvalidLevel    = errors.New("unknown log level")
	ErrInvalidCategory = errors.New("unknown log category")
	ErrInvalidLimit    = errors.New("limit must be positive")
)

// DefaultCapacity matches the buffer size used when none is configured.
const DefaultCapacity = 2048

// Buffer is a bounded, append-only store of telemetry records. Capacity is
// fixed at construction; appending past capacity evicts the oldest record.
// Eviction is the overflow policy, never an error. Any number of readers may
// poll with independent cursors while writers append.
type Buffer struct {
	mu        sync.RWMutex
	records   []Record
	capacity  int
	seq       uint64
	startedAt time.Time
}

// NewBuffer creates a buffer retaining at most capacity records. A
// non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		records:   make([]Record, 0, capacity),
		capacity:  capacity,
		startedAt: time.Now().UTC(),
	}
}

// Append assigns the next sequence number and inserts the record, evicting
// the oldest record if the buffer is at capacity. Returns the assigned
// sequence.
func (b *Buffer) Append(rec Record) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	rec.Sequence = b.seq
	rec.LevelName = rec.Level.String()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Category == "" {
		rec.Category = CategoryRuntime
	}

	if len(b.records) == b.capacity {
		copy(b.records, b.records[1:])
		b.records[len(b.records)-1] = rec
	} else {
		b.records = append(b.records, rec)
	}
	return b.seq
}

// Query selects records in sequence order.
type Query struct {
	// After excludes records with Sequence <= After. Zero means "tail mode":
	// return the most recent Limit records.
	After uint64
	// MinLevel filters out records below the given severity when set.
	MinLevel *Level
	// Category restricts to one telemetry channel when non-empty.
	Category Category
	// Start and End bound the record timestamp when non-zero (inclusive).
	Start time.Time
	End   time.Time
	// Limit caps the number of returned records. Zero means no cap.
	Limit int
}

// Query returns matching records ordered by ascending sequence plus the
// resumable cursor: the sequence of the last record returned, or the latest
// sequence in the buffer when nothing matched. Cursors pointing at evicted
// records are valid and resolve to the oldest surviving record.
func (b *Buffer) Query(q Query) ([]Record, uint64, error) {
	if q.Limit < 0 {
		return nil, 0, ErrInvalidLimit
	}

	b.mu.RLock()
	snapshot := make([]Record, len(b.records))
	copy(snapshot, b.records)
	latest := b.seq
	b.mu.RUnlock()

	matched := snapshot[:0:0]
	for _, rec := range snapshot {
		if q.After > 0 && rec.Sequence <= q.After {
			continue
		}
		if q.MinLevel != nil && rec.Level < *q.MinLevel {
			continue
		}
		if q.Category != "" && rec.Category != q.Category {
			continue
		}
		if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && rec.Timestamp.After(q.End) {
			continue
		}
		matched = append(matched, rec)
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		if q.After == 0 {
			matched = matched[len(matched)-q.Limit:]
		} else {
			matched = matched[:q.Limit]
		}
	}

	cursor := latest
	if len(matched) > 0 {
		cursor = matched[len(matched)-1].Sequence
	}
	return matched, cursor, nil
}

// LatestSequence returns the highest sequence assigned so far.
func (b *Buffer) LatestSequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// SessionStartedAt reports when the buffer began collecting.
func (b *Buffer) SessionStartedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.startedAt
}

// Clear drops all retained records and resets the session start. The
// sequence counter is preserved so existing cursors stay valid.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = b.records[:0]
	b.startedAt = time.Now().UTC()
}
