package store

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestExportAndReadJSONL(t *testing.T) {
	j := NewMemoryJournal(0)
	ctx := context.Background()
	if err := j.AppendDispatches(ctx, []DispatchRecord{dispatch(1, "alpha"), dispatch(2, "beta")}); err != nil {
		t.Fatalf("AppendDispatches() error = %v", err)
	}

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, j, Filter{}, &buf)
	if err != nil {
		t.Fatalf("ExportJSONL() error = %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d, want 2", n)
	}

	recs, loadErrs, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if len(loadErrs) != 0 {
		t.Errorf("unexpected load errors: %+v", loadErrs)
	}
	if len(recs) != 2 || recs[0].EventID != 1 || recs[1].Origin != "beta" {
		t.Errorf("records = %+v, want oldest first", recs)
	}
}

func TestReadJSONL_SkipsMalformedLines(t *testing.T) {
	input := `{"event_id":1,"origin":"alpha"}

not json
{"event_id":2,"origin":"beta"}
`
	recs, loadErrs, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
	if len(loadErrs) != 1 || loadErrs[0].Line != 3 {
		t.Errorf("load errors = %+v, want one on line 3", loadErrs)
	}
}

func TestTruncateForError(t *testing.T) {
	long := strings.Repeat("x", 150)
	if got := truncateForError(long); len(got) != 103 {
		t.Errorf("len = %d, want 103", len(got))
	}
	if got := truncateForError("short"); got != "short" {
		t.Errorf("got %q, want short", got)
	}
}
