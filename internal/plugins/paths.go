package plugins

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/util"
)

const (
	// LocalPluginsFolder holds side-loaded plugins under the data directory.
	LocalPluginsFolder = "plugins"
	// OnlinePluginsFolder holds repository plugins under the data directory.
	OnlinePluginsFolder = "Extensions"
)

// nameHash is the 31-multiplier string hash over UTF-16 code units with
// int32 overflow. Existing installs depend on this exact value.
func nameHash(name string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(name)) {
		h = 31*h + int32(unit)
	}
	return h
}

// PluginDirectoryName derives a filesystem-safe directory name from name.
// The hash suffix keeps names that sanitize identically apart.
func PluginDirectoryName(name string) string {
	return util.SanitizeFilename(name, true) + "." + strconv.FormatInt(int64(nameHash(name)), 10)
}

// PluginPath returns the install directory of an online plugin. It is a
// pure function of (baseDir, internalName, repositoryURL).
func PluginPath(baseDir, internalName, repositoryURL string) string {
	return absPath(filepath.Join(baseDir, OnlinePluginsFolder, PluginDirectoryName(repositoryURL), PluginDirectoryName(internalName)))
}

// RepositoryFolder returns the directory that holds every plugin installed
// from repositoryURL.
func RepositoryFolder(baseDir, repositoryURL string) string {
	return absPath(filepath.Join(baseDir, OnlinePluginsFolder, PluginDirectoryName(repositoryURL)))
}

// LocalPluginPath returns the install directory of a side-loaded archive.
func LocalPluginPath(baseDir, fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return absPath(filepath.Join(baseDir, LocalPluginsFolder, util.SanitizeFilename(base, false)))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// ShouldUpdate reports whether a remote version supersedes the local one.
func ShouldUpdate(localVersion, remoteVersion int) bool {
	if remoteVersion == models.PluginVersionAlwaysUpdate {
		return true
	}
	return remoteVersion > localVersion
}

// IsDisabled reports whether the repository marked the plugin disabled.
func IsDisabled(remote models.SitePlugin) bool {
	return remote.Status == 0
}

// ValidOnlineData reports whether local lives where its identity says it should.
func ValidOnlineData(baseDir string, local models.PluginData, repositoryURL string) bool {
	return PluginPath(baseDir, local.InternalName, repositoryURL) == local.FilePath
}

// ToPluginData maps a remote descriptor to the record stored for dir.
func ToPluginData(site models.SitePlugin, repositoryURL, dir string) models.PluginData {
	return models.PluginData{
		InternalName:  site.InternalName,
		URL:           site.URL,
		IsOnline:      true,
		FilePath:      absPath(dir),
		Version:       site.Version,
		RepositoryURL: repositoryURL,
		Name:          site.Name,
		Status:        site.Status,
		APIVersion:    site.APIVersion,
		Authors:       site.Authors,
		Description:   site.Description,
		TvTypes:       site.TvTypes,
		Language:      site.Language,
		IconURL:       site.IconURL,
		FileSize:      site.FileSize,
		Enabled:       true,
	}
}

// ToLocalPluginData creates the record of a side-loaded plugin. An empty
// internalName falls back to the directory's base name.
func ToLocalPluginData(dir, internalName string, size int64) models.PluginData {
	if internalName == "" {
		internalName = strings.TrimSuffix(filepath.Base(dir), filepath.Ext(dir))
	}
	return models.PluginData{
		InternalName: internalName,
		IsOnline:     false,
		FilePath:     absPath(dir),
		Version:      models.PluginVersionNotSet,
		Name:         internalName,
		Status:       1,
		Authors:      []string{},
		FileSize:     size,
		UploadedAt:   time.Now().UnixMilli(),
		Enabled:      true,
	}
}

// DeletePluginDir recursively removes an installed plugin directory.
func DeletePluginDir(dir string) error {
	return os.RemoveAll(dir)
}
