package store

import (
	"context"
	"errors"
)

// MultiJournal fans writes out to several journals and serves queries from
// the first one.
type MultiJournal struct {
	journals []Journal
}

// NewMultiJournal creates a fan-out journal. Nil journals are skipped.
// Queries are answered by the first non-nil journal.
func NewMultiJournal(journals ...Journal) *MultiJournal {
	m := &MultiJournal{}
	for _, j := range journals {
		if j != nil {
			m.journals = append(m.journals, j)
		}
	}
	return m
}

// AppendDispatches writes recs to every journal. IDs are assigned once so
// all journals agree.
func (m *MultiJournal) AppendDispatches(ctx context.Context, recs []DispatchRecord) error {
	batch := append([]DispatchRecord(nil), recs...)
	ensureDispatchIDs(batch)

	var errs []error
	for _, j := range m.journals {
		if err := j.AppendDispatches(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AppendDiagnostics writes rec to every journal.
func (m *MultiJournal) AppendDiagnostics(ctx context.Context, rec DiagnosticsRecord) error {
	ensureDiagnosticsID(&rec)

	var errs []error
	for _, j := range m.journals {
		if err := j.AppendDiagnostics(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatches queries the primary journal.
func (m *MultiJournal) Dispatches(ctx context.Context, f Filter) ([]DispatchRecord, error) {
	if len(m.journals) == 0 {
		return nil, nil
	}
	return m.journals[0].Dispatches(ctx, f)
}

// Diagnostics queries the primary journal.
func (m *MultiJournal) Diagnostics(ctx context.Context, limit int) ([]DiagnosticsRecord, error) {
	if len(m.journals) == 0 {
		return nil, nil
	}
	return m.journals[0].Diagnostics(ctx, limit)
}

// Close closes every journal.
func (m *MultiJournal) Close() error {
	var errs []error
	for _, j := range m.journals {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
