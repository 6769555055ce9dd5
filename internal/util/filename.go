package util

import (
	"path/filepath"
	"strings"
)

// reservedFilenameChars are replaced with spaces by SanitizeFilename.
const reservedFilenameChars = `|\?*<":>+[]/'`

// SanitizeFilename replaces reserved characters with spaces, optionally
// strips every space, collapses double spaces and trims the result.
func SanitizeFilename(name string, removeSpaces bool) string {
	sanitized := strings.Map(func(r rune) rune {
		if strings.ContainsRune(reservedFilenameChars, r) {
			return ' '
		}
		return r
	}, name)
	if removeSpaces {
		sanitized = strings.ReplaceAll(sanitized, " ", "")
	}
	return strings.Trim(strings.ReplaceAll(sanitized, "  ", " "), " ")
}

// IsWithinDir reports whether target, once cleaned, is base itself or lies
// beneath it. Both paths must be absolute or both relative.
func IsWithinDir(base, target string) bool {
	cleanBase := filepath.Clean(base)
	cleanTarget := filepath.Clean(target)
	if cleanTarget == cleanBase {
		return true
	}
	prefix := cleanBase
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(cleanTarget, prefix)
}
