package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateOutputDir(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("existing directory", func(t *testing.T) {
		if err := ValidateOutputDir(tempDir); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("missing nested directory is created", func(t *testing.T) {
		dir := filepath.Join(tempDir, "nested", "deep", "downloads")
		if err := ValidateOutputDir(dir); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s to exist as a directory", dir)
		}
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(tempDir, "not-a-dir")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := ValidateOutputDir(file); err == nil {
			t.Error("expected error for file path, got nil")
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if err := ValidateOutputDir("  "); err == nil {
			t.Error("expected error for empty path, got nil")
		}
	})

	t.Run("no probe file left behind", func(t *testing.T) {
		entries, err := os.ReadDir(tempDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".citefetch_write_check_") {
				t.Errorf("probe file %s was not removed", e.Name())
			}
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal filename", "Attention Is All You Need.pdf", "Attention Is All You Need.pdf"},
		{"invalid characters", "Paper 1: The Beginning?", "Paper 1- The Beginning-"},
		{"slashes", "Paper 1\\Part/A.pdf", "Paper 1-Part-A.pdf"},
		{"quotes and angle brackets", "Paper \"Draft\" <v2>", "Paper -Draft- -v2-"},
		{"null bytes", "Paper\x00One", "Paper-One"},
		{"leading dots and dashes", "...---paper.pdf", "paper.pdf"},
		{"collapses whitespace", "A   long  title", "A long title"},
		{"empty string", "", "untitled"},
		{"only invalid characters", "\\/:*?\"<>|", "untitled"},
		{"windows reserved name", "CON.pdf", "_CON.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := strings.Repeat("é", 300) + ".pdf"
	got := SanitizeFilename(long)
	if len(got) > maxFilenameBytes {
		t.Errorf("expected at most %d bytes, got %d", maxFilenameBytes, len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("expected extension to survive truncation, got %q", got)
	}
}

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal folder name", "My Project", "My Project"},
		{"invalid characters", "Project: Draft?", "Project- Draft"},
		{"control characters", "Pro\x00ject\x1fX", "ProjectX"},
		{"leading dot and space", " .hidden", "hidden"},
		{"consecutive dashes", "a---b", "a-b"},
		{"reserved name", "prn", "prn_"},
		{"only dashes", "---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFolderName(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFolderName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFolderPath(t *testing.T) {
	sep := string(os.PathSeparator)
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"thesis/chapter-2", "thesis" + sep + "chapter-2"},
		{"../../etc", "etc"},
		{"a\\b:c", "a" + sep + "b-c"},
		{"///", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFolderPath(tt.input); got != tt.expected {
			t.Errorf("SanitizeFolderPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "paper.pdf")

	if got := UniquePath(first); got != first {
		t.Errorf("expected free path to be returned unchanged, got %q", got)
	}
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := UniquePath(first)
	if second != filepath.Join(dir, "paper (1).pdf") {
		t.Errorf("unexpected unique path %q", second)
	}
	if err := os.WriteFile(second, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if third := UniquePath(first); third != filepath.Join(dir, "paper (2).pdf") {
		t.Errorf("unexpected unique path %q", third)
	}
}
