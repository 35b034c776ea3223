package store

import (
	"context"
	"sync"
)

// MemoryJournal is a bounded in-memory Journal. When full, the oldest
// records are evicted.
type MemoryJournal struct {
	mu          sync.RWMutex
	capacity    int
	dispatches  []DispatchRecord
	diagnostics []DiagnosticsRecord
}

// NewMemoryJournal creates a journal retaining up to capacity records of
// each kind. capacity <= 0 selects 1024.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryJournal{capacity: capacity}
}

// AppendDispatches records a batch of dispatches.
func (j *MemoryJournal) AppendDispatches(ctx context.Context, recs []DispatchRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := append([]DispatchRecord(nil), recs...)
	ensureDispatchIDs(batch)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.dispatches = append(j.dispatches, batch...)
	if over := len(j.dispatches) - j.capacity; over > 0 {
		j.dispatches = append(j.dispatches[:0], j.dispatches[over:]...)
	}
	return nil
}

// AppendDiagnostics records one diagnostics check.
func (j *MemoryJournal) AppendDiagnostics(ctx context.Context, rec DiagnosticsRecord) error {
	ensureDiagnosticsID(&rec)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.diagnostics = append(j.diagnostics, rec)
	if over := len(j.diagnostics) - j.capacity; over > 0 {
		j.diagnostics = append(j.diagnostics[:0], j.diagnostics[over:]...)
	}
	return nil
}

// Dispatches returns recent dispatches matching f, newest first.
func (j *MemoryJournal) Dispatches(ctx context.Context, f Filter) ([]DispatchRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	limit := f.limit()
	var out []DispatchRecord
	for i := len(j.dispatches) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Origin != "" && j.dispatches[i].Origin != f.Origin {
			continue
		}
		out = append(out, j.dispatches[i])
	}
	return out, nil
}

// Diagnostics returns up to limit recent checks, newest first.
func (j *MemoryJournal) Diagnostics(ctx context.Context, limit int) ([]DiagnosticsRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]DiagnosticsRecord, 0, min(limit, len(j.diagnostics)))
	for i := len(j.diagnostics) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.diagnostics[i])
	}
	return out, nil
}

// Close is a no-op.
func (j *MemoryJournal) Close() error { return nil }
