package plugins

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

const (
	// SourceExt marks the plugin source file shipped in an archive.
	SourceExt = ".ts"
	// LoadableName is the converted script written next to the source.
	LoadableName = "plugin.js"
)

// Converter turns a plugin source file into a loadable script.
type Converter interface {
	Convert(source, destination string) error
}

// ESBuildConverter bundles TypeScript sources into a CommonJS script.
type ESBuildConverter struct{}

// Convert bundles source and writes the result to destination.
func (ESBuildConverter) Convert(source, destination string) error {
	result := api.Build(api.BuildOptions{
		EntryPoints: []string{source},
		Outfile:     destination,
		Bundle:      true,
		Write:       false,
		Format:      api.FormatCommonJS,
		Platform:    api.PlatformNeutral,
		Target:      api.ES2017,
		LogLevel:    api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%s:%d: %s", m.Location.File, m.Location.Line, m.Text))
			} else {
				msgs = append(msgs, m.Text)
			}
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return errors.New("esbuild produced no output")
	}
	return os.WriteFile(destination, result.OutputFiles[0].Contents, 0644)
}

// EnsureLoadable returns the converted script of the plugin in pluginDir,
// converting the source only when the cached script is missing or older.
// The script's mtime is set to the source's so the next check hits.
func EnsureLoadable(pluginDir string, conv Converter, log *zap.Logger) (string, error) {
	source, err := findSource(pluginDir)
	if err != nil {
		log.Error("no plugin source found", zap.String("dir", pluginDir), zap.Error(err))
		return "", err
	}
	sourceInfo, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", source, err)
	}

	loadable := filepath.Join(pluginDir, LoadableName)
	if info, err := os.Stat(loadable); err == nil && !info.ModTime().Before(sourceInfo.ModTime()) {
		return loadable, nil
	}

	log.Info("converting plugin source", zap.String("dir", filepath.Base(pluginDir)))
	if err := conv.Convert(source, loadable); err != nil {
		os.Remove(loadable)
		log.Error("failed to convert plugin",
			zap.String("dir", filepath.Base(pluginDir)),
			zap.Error(err),
			zap.Stack("stack"))
		return "", fmt.Errorf("%w for %s: %v", ErrConversionFailed, filepath.Base(pluginDir), err)
	}
	mtime := sourceInfo.ModTime()
	if err := os.Chtimes(loadable, mtime, mtime); err != nil {
		return "", fmt.Errorf("failed to stamp %s: %w", loadable, err)
	}
	return loadable, nil
}

func findSource(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := strings.ToLower(d.Name())
		if !d.IsDir() && strings.HasSuffix(name, SourceExt) && !strings.HasSuffix(name, ".d"+SourceExt) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w in %s", ErrSourceNotFound, root)
	}
	return found, nil
}
