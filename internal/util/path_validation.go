package util

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	controlChars     = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidNameChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	repeatedDashes   = regexp.MustCompile(`-+`)
	repeatedSpaces   = regexp.MustCompile(`\s+`)
	reservedWinNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// maxFilenameBytes keeps generated names well under common filesystem limits.
const maxFilenameBytes = 200

// ValidateOutputDir makes sure dir exists (creating it if needed), is a
// directory and is writable.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	cleanPath := filepath.Clean(dir)
	info, err := os.Stat(cleanPath)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", cleanPath)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(cleanPath, 0o755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
	default:
		return fmt.Errorf("cannot access output directory: %w", err)
	}

	if err := checkWritePermission(cleanPath); err != nil {
		return fmt.Errorf("no write permission for output directory: %w", err)
	}
	return nil
}

// checkWritePermission creates and removes a probe file in dirPath.
func checkWritePermission(dirPath string) error {
	probe, err := os.CreateTemp(dirPath, ".citefetch_write_check_*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// SanitizeFilename replaces characters that are invalid in file names and
// strips leading dots and dashes. An empty result becomes "untitled".
func SanitizeFilename(filename string) string {
	safe := controlChars.ReplaceAllString(filename, "-")
	safe = invalidNameChars.ReplaceAllString(safe, "-")
	safe = repeatedSpaces.ReplaceAllString(safe, " ")
	safe = strings.TrimSpace(safe)

	for strings.HasPrefix(safe, ".") || strings.HasPrefix(safe, "-") {
		safe = safe[1:]
	}
	if safe == "" {
		return "untitled"
	}
	if reservedWinNames[strings.ToUpper(strings.TrimSuffix(safe, filepath.Ext(safe)))] {
		safe = "_" + safe
	}
	return truncateName(safe)
}

// truncateName shortens name to maxFilenameBytes while keeping its extension.
func truncateName(name string) string {
	if len(name) <= maxFilenameBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	base := name[:maxFilenameBytes-len(ext)]
	// Do not cut a multi-byte rune in half.
	for len(base) > 0 && !utf8.ValidString(base) {
		base = base[:len(base)-1]
	}
	return strings.TrimSpace(base) + ext
}

// SanitizeFolderPath sanitizes each component of folderPath and joins them
// with the OS separator. Dot-dot components are dropped.
func SanitizeFolderPath(folderPath string) string {
	if folderPath == "" {
		return ""
	}

	normalized := strings.ReplaceAll(folderPath, "\\", "/")
	var parts []string
	for _, component := range strings.Split(normalized, "/") {
		if component == "" || component == "." || component == ".." {
			continue
		}
		if sanitized := SanitizeFolderName(component); sanitized != "" {
			parts = append(parts, sanitized)
		}
	}
	return strings.Join(parts, string(os.PathSeparator))
}

// SanitizeFolderName removes characters that cannot appear in a folder name
// on Windows, macOS or Linux. Use it for single components, not full paths.
func SanitizeFolderName(folderName string) string {
	if folderName == "" {
		return ""
	}

	safeName := controlChars.ReplaceAllString(folderName, "")
	safeName = invalidNameChars.ReplaceAllString(safeName, "-")
	safeName = strings.Trim(safeName, " .")
	safeName = repeatedDashes.ReplaceAllString(safeName, "-")
	safeName = strings.Trim(safeName, "-")

	if reservedWinNames[strings.ToUpper(safeName)] {
		safeName = safeName + "_"
	}
	return safeName
}

// UniquePath returns path if nothing exists there, otherwise the first free
// "name (n).ext" variant.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := base + " (" + strconv.Itoa(i) + ")" + ext
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
