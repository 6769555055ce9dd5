package plugins

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/models"
)

// ManifestName is the file every plugin archive bundles.
const ManifestName = "manifest.json"

// Manifest represents the manifest.json structure.
type Manifest struct {
	PluginClassName string  `json:"pluginClassName"`
	Version         *int    `json:"version,omitempty"`
	Name            *string `json:"name,omitempty"`
}

// Apply merges the manifest's declared version and name into data. Manifest
// values win when present.
func (m *Manifest) Apply(data models.PluginData) models.PluginData {
	if m.Version != nil {
		data.Version = *m.Version
	}
	if m.Name != nil {
		data.Name = *m.Name
	}
	return data
}

// ReadManifest locates and parses the manifest of the plugin in pluginDir.
// A manifest directly inside pluginDir wins. Otherwise the first
// case-insensitive match in lexical walk order is used.
func ReadManifest(pluginDir string, log *zap.Logger) (*Manifest, error) {
	manifestPath, err := findManifest(pluginDir, log)
	if err != nil {
		log.Error("failed to locate manifest", zap.String("dir", filepath.Base(pluginDir)), zap.Error(err))
		return nil, err
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Error("failed to read manifest", zap.String("path", manifestPath), zap.Error(err))
		return nil, fmt.Errorf("failed to read %s: %w", ManifestName, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Error("failed to parse manifest", zap.String("path", manifestPath), zap.Error(err))
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestName, err)
	}
	return &manifest, nil
}

func findManifest(root string, log *zap.Logger) (string, error) {
	direct := filepath.Join(root, ManifestName)

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(d.Name(), ManifestName) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", root, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrManifestNotFound, root)
	}

	chosen := matches[0]
	for _, m := range matches {
		if m == direct {
			chosen = m
			break
		}
	}
	if len(matches) > 1 {
		var ignored []string
		for _, m := range matches {
			if m != chosen {
				ignored = append(ignored, m)
			}
		}
		log.Warn("multiple manifests found, using one",
			zap.String("chosen", chosen),
			zap.Strings("ignored", ignored))
	}
	return chosen, nil
}
