package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// JournalFileName is the journal database file name inside the data directory.
const JournalFileName = "journal.db"

// DataDir returns the contagion data directory.
// On Unix: ~/.contagion
// On Windows: %USERPROFILE%\.contagion
func DataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".contagion"), nil
}

// DefaultJournalPath returns the default journal database path.
func DefaultJournalPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, JournalFileName), nil
}
