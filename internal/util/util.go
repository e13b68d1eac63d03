// internal/util/util.go
package util

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// TruncateRunes truncates a string to a maximum number of runes,
// appending an ellipsis if truncated.
func TruncateRunes(text string, maxRunes int) string {
	if maxRunes < 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + "…"
}

// Slugify converts a string into a "slug" format,
// including replacing colons (:) and slashes (/) with underscores (_).
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(":", "_", "/", "_").Replace(s)
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}

// EnsureParentDir creates the directory that will hold path, if any.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
