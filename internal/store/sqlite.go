package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteJournal implements Journal on a SQLite database.
type SQLiteJournal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenSQLiteJournal opens (creating if needed) the journal database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteJournal{db: db, path: path}, nil
}

// Path returns the database file path.
func (j *SQLiteJournal) Path() string { return j.path }

// AppendDispatches records a batch of dispatches in one transaction.
func (j *SQLiteJournal) AppendDispatches(ctx context.Context, recs []DispatchRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := append([]DispatchRecord(nil), recs...)
	ensureDispatchIDs(batch)

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dispatches (id, event_id, at, origin, vector, method, path,
			priority, saturation, integrity_delta, attempts, guaranteed, emergency, rogue)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx,
			r.ID, int64(r.EventID), r.At.UTC().Format(time.RFC3339Nano), r.Origin, r.Vector, r.Method, r.Path,
			r.Priority, r.Saturation, r.IntegrityDelta, r.Attempts,
			boolToInt(r.Guaranteed), boolToInt(r.Emergency), boolToInt(r.Rogue)); err != nil {
			return fmt.Errorf("failed to insert dispatch %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// AppendDiagnostics records one diagnostics check.
func (j *SQLiteJournal) AppendDiagnostics(ctx context.Context, rec DiagnosticsRecord) error {
	ensureDiagnosticsID(&rec)

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO diagnostics (id, at, integrity_index, avg_density, avg_saturation,
			active_vectors, queue_depth, drift_ms, widened, stabilization_requested)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.At.UTC().Format(time.RFC3339Nano), rec.IntegrityIndex, rec.AvgDensity, rec.AvgSaturation,
		rec.ActiveVectors, rec.QueueDepth, rec.DriftMillis,
		boolToInt(rec.Widened), boolToInt(rec.StabilizationRequested))
	if err != nil {
		return fmt.Errorf("failed to insert diagnostics %s: %w", rec.ID, err)
	}
	return nil
}

// Dispatches returns recent dispatches matching f, newest first.
func (j *SQLiteJournal) Dispatches(ctx context.Context, f Filter) ([]DispatchRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT id, event_id, at, origin, vector, method, path, priority, saturation,
		integrity_delta, attempts, guaranteed, emergency, rogue FROM dispatches`
	args := []any{}
	if f.Origin != "" {
		query += ` WHERE origin = ?`
		args = append(args, f.Origin)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, f.limit())

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var (
			r                            DispatchRecord
			eventID                      int64
			at                           string
			guaranteed, emergency, rogue int
		)
		if err := rows.Scan(&r.ID, &eventID, &at, &r.Origin, &r.Vector, &r.Method, &r.Path,
			&r.Priority, &r.Saturation, &r.IntegrityDelta, &r.Attempts,
			&guaranteed, &emergency, &rogue); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		r.EventID = uint64(eventID)
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Guaranteed = guaranteed != 0
		r.Emergency = emergency != 0
		r.Rogue = rogue != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Diagnostics returns up to limit recent checks, newest first.
func (j *SQLiteJournal) Diagnostics(ctx context.Context, limit int) ([]DiagnosticsRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, at, integrity_index, avg_density, avg_saturation, active_vectors,
			queue_depth, drift_ms, widened, stabilization_requested
		FROM diagnostics ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticsRecord
	for rows.Next() {
		var (
			r                  DiagnosticsRecord
			at                 string
			widened, requested int
		)
		if err := rows.Scan(&r.ID, &at, &r.IntegrityIndex, &r.AvgDensity, &r.AvgSaturation,
			&r.ActiveVectors, &r.QueueDepth, &r.DriftMillis, &widened, &requested); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostics: %w", err)
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Widened = widened != 0
		r.StabilizationRequested = requested != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of dispatches recorded.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dispatches: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
