// Package store provides the dispatch journal: telemetry records of every
// transfer the scheduler performs and every diagnostics check. Field state
// itself is never persisted.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DispatchRecord is one transferred event.
type DispatchRecord struct {
	ID             string    `json:"id"`
	EventID        uint64    `json:"event_id"`
	At             time.Time `json:"at"`
	Origin         string    `json:"origin"`
	Vector         string    `json:"vector"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	Priority       float64   `json:"priority"`
	Saturation     float64   `json:"saturation"`
	IntegrityDelta float64   `json:"integrity_delta"`
	Attempts       int       `json:"attempts"`
	Guaranteed     bool      `json:"guaranteed"`
	Emergency      bool      `json:"emergency"`
	Rogue          bool      `json:"rogue"`
}

// DiagnosticsRecord is one diagnostics check.
type DiagnosticsRecord struct {
	ID                     string    `json:"id"`
	At                     time.Time `json:"at"`
	IntegrityIndex         float64   `json:"integrity_index"`
	AvgDensity             float64   `json:"avg_density"`
	AvgSaturation          float64   `json:"avg_saturation"`
	ActiveVectors          int       `json:"active_vectors"`
	QueueDepth             int       `json:"queue_depth"`
	DriftMillis            int64     `json:"drift_ms"`
	Widened                bool      `json:"widened"`
	StabilizationRequested bool      `json:"stabilization_requested"`
}

// Filter narrows dispatch queries.
type Filter struct {
	Origin string // empty matches every origin
	Limit  int    // <= 0 means DefaultLimit
}

// DefaultLimit bounds queries that do not set a limit.
const DefaultLimit = 50

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Journal records dispatches and diagnostics checks.
// Query methods return newest records first.
type Journal interface {
	// AppendDispatches records a batch of dispatches. Records without an ID
	// are assigned one.
	AppendDispatches(ctx context.Context, recs []DispatchRecord) error

	// AppendDiagnostics records one diagnostics check.
	AppendDiagnostics(ctx context.Context, rec DiagnosticsRecord) error

	// Dispatches returns recent dispatches matching f.
	Dispatches(ctx context.Context, f Filter) ([]DispatchRecord, error)

	// Diagnostics returns up to limit recent diagnostics checks.
	Diagnostics(ctx context.Context, limit int) ([]DiagnosticsRecord, error)

	// Close releases resources.
	Close() error
}

func ensureDispatchIDs(recs []DispatchRecord) {
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = uuid.NewString()
		}
	}
}

func ensureDiagnosticsID(rec *DiagnosticsRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
}
