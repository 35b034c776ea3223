// Package pathutil shortens filesystem paths for logs and error messages.
package pathutil

import "path/filepath"

// RedactPath reduces a full path to .../<parent>/<basename>.
// For example, "/home/user/.contagion/journal.db" becomes ".../.contagion/journal.db".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}
