package store

import (
	"path/filepath"
	"testing"
)

func TestDefaultJournalPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	got, err := DefaultJournalPath()
	if err != nil {
		t.Fatalf("DefaultJournalPath() error = %v", err)
	}
	want := filepath.Join(home, ".contagion", JournalFileName)
	if got != want {
		t.Errorf("DefaultJournalPath() = %s, want %s", got, want)
	}
}
