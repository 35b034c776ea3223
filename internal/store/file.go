package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// LoadError represents a malformed line encountered while reading JSONL.
type LoadError struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// ExportJSONL writes recent dispatches matching f to w as JSONL, oldest
// first. It returns the number of records written.
func ExportJSONL(ctx context.Context, j Journal, f Filter, w io.Writer) (int, error) {
	recs, err := j.Dispatches(ctx, f)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for i := len(recs) - 1; i >= 0; i-- {
		if err := enc.Encode(recs[i]); err != nil {
			return len(recs) - 1 - i, fmt.Errorf("failed to encode dispatch %s: %w", recs[i].ID, err)
		}
	}
	return len(recs), nil
}

// ReadJSONL parses dispatch records from r. Malformed lines are skipped
// and reported in the returned LoadErrors.
func ReadJSONL(r io.Reader) ([]DispatchRecord, []LoadError, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024) // 1MB max line length

	var (
		recs   []DispatchRecord
		errs   []LoadError
		lineNo int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec DispatchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			errs = append(errs, LoadError{
				Line:    lineNo,
				Content: truncateForError(string(line)),
				Error:   err.Error(),
			})
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return recs, errs, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return recs, errs, nil
}

// truncateForError truncates a string for inclusion in error messages.
func truncateForError(s string) string {
	const maxLen = 100
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
