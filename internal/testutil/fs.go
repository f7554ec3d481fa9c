package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteFile creates dir/name with content and returns its path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	filePath := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		t.Fatalf("Failed to create parent dir for %s: %v", name, err)
	}
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return filePath
}

// ListFiles returns the sorted names of the regular files directly in dir.
func ListFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read dir %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
