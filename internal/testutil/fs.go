package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ZipEntry describes one file written by CreateTestZip. A name ending in "/"
// is written as a directory entry.
type ZipEntry struct {
	Name string
	Body string
}

// CreateTestZip writes a zip archive with the given entries into dir and
// returns its path.
func CreateTestZip(t *testing.T, dir, name string, entries []ZipEntry) string {
	t.Helper()
	filePath := filepath.Join(dir, name)
	file, err := os.Create(filePath)
	if err != nil {
		t.Fatalf("Failed to create temp zip file: %v", err)
	}
	defer file.Close()

	zw := zip.NewWriter(file)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			t.Fatalf("Failed to create entry '%s' in zip: %v", e.Name, err)
		}
		if e.Body != "" {
			if _, err := w.Write([]byte(e.Body)); err != nil {
				t.Fatalf("Failed to write entry '%s': %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finalize zip: %v", err)
	}
	return filePath
}

// ReadZip returns the bytes of a zip written by CreateTestZip.
func ReadZip(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read zip %s: %v", path, err)
	}
	return data
}

// Touch sets the modification time of path.
func Touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Failed to set mtime of %s: %v", path, err)
	}
}
