package plugins

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/util"
)

// ExtractArchive unpacks the zip at archivePath into targetDir, replacing
// anything already there. An entry resolving outside targetDir aborts the
// whole extraction and targetDir is removed.
func ExtractArchive(ctx context.Context, archivePath, targetDir string, log *zap.Logger) error {
	target := absPath(targetDir)
	err := extract(ctx, archivePath, target)
	if err != nil {
		os.RemoveAll(target)
		log.Error("failed to extract plugin",
			zap.String("archive", archivePath),
			zap.String("target", target),
			zap.Error(err))
		return err
	}
	return nil
}

func extract(ctx context.Context, archivePath, target string) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to clear %s: %w", target, err)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	handler := func(ctx context.Context, fi archives.FileInfo) error {
		resolved := filepath.Join(target, filepath.FromSlash(fi.NameInArchive))
		if !util.IsWithinDir(target, resolved) {
			return fmt.Errorf("%w: %s", ErrUnsafeEntry, fi.NameInArchive)
		}
		if fi.IsDir() {
			return os.MkdirAll(resolved, 0755)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: symlink %s", ErrUnsafeEntry, fi.NameInArchive)
		}
		return writeEntry(fi, resolved)
	}

	if err := (archives.Zip{}).Extract(ctx, f, handler); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(archivePath), err)
	}
	return nil
}

func writeEntry(fi archives.FileInfo, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return err
	}
	in, err := fi.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
