package util

import (
	"path/filepath"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		input        string
		removeSpaces bool
		expected     string
	}{
		{"Simple", false, "Simple"},
		{"a|b", false, "a b"},
		{"  padded  ", false, "padded"},
		{"What? Now*", false, "What Now"},
		{"https://example.com/repo.json", true, "httpsexample.comrepo.json"},
		{"https://example.com/repo.json", false, "https  example.com repo.json"},
		{"[Tag] Name", true, "TagName"},
		{`quote"s and 'ticks'`, true, "quotesandticks"},
		{"plus+colon:", false, "plus colon"},
	}
	for _, tc := range testCases {
		if got := SanitizeFilename(tc.input, tc.removeSpaces); got != tc.expected {
			t.Errorf("SanitizeFilename(%q, %v) = %q; want %q", tc.input, tc.removeSpaces, got, tc.expected)
		}
	}
}

func TestIsWithinDir(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "data", "plugins", "demo")
	testCases := []struct {
		target   string
		expected bool
	}{
		{base, true},
		{filepath.Join(base, "manifest.json"), true},
		{filepath.Join(base, "nested", "..", "file"), true},
		{filepath.Join(base, "..", "..", "evil.txt"), false},
		{base + "-sibling", false},
		{filepath.Join(string(filepath.Separator), "etc", "passwd"), false},
	}
	for _, tc := range testCases {
		if got := IsWithinDir(base, tc.target); got != tc.expected {
			t.Errorf("IsWithinDir(%q, %q) = %v; want %v", base, tc.target, got, tc.expected)
		}
	}
}
