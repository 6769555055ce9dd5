package models

import "math"

const (
	// PluginVersionNotSet marks side-loaded plugins that never came from a repository.
	PluginVersionNotSet = math.MinInt32
	// PluginVersionAlwaysUpdate on a remote descriptor forces a reinstall every time.
	PluginVersionAlwaysUpdate = -1
)

// PluginData is the persisted record of one installed plugin. FilePath is
// the stable key.
type PluginData struct {
	InternalName  string   `json:"internalName"`
	URL           string   `json:"url,omitempty"`
	IsOnline      bool     `json:"isOnline"`
	FilePath      string   `json:"filePath"`
	Version       int      `json:"version"`
	RepositoryURL string   `json:"repositoryUrl,omitempty"`
	Name          string   `json:"name,omitempty"`
	Status        int      `json:"status"`
	APIVersion    int      `json:"apiVersion"`
	Authors       []string `json:"authors"`
	Description   string   `json:"description,omitempty"`
	TvTypes       []string `json:"tvTypes,omitempty"`
	Language      string   `json:"language,omitempty"`
	IconURL       string   `json:"iconUrl,omitempty"`
	FileSize      int64    `json:"fileSize,omitempty"`
	UploadedAt    int64    `json:"uploadedAt,omitempty"` // unix millis
	Enabled       bool     `json:"enabled"`
}

// PluginInstallRequest installs one plugin from a stored repository.
type PluginInstallRequest struct {
	RepositoryURL string `json:"repositoryUrl"`
	InternalName  string `json:"internalName"`
}

// PluginRemoveRequest identifies a plugin by path, by repository and name, or
// by name alone, in that order of precedence.
type PluginRemoveRequest struct {
	FilePath      string `json:"filePath,omitempty"`
	RepositoryURL string `json:"repositoryUrl,omitempty"`
	InternalName  string `json:"internalName,omitempty"`
}

// PluginEnableRequest toggles whether a plugin is loaded.
type PluginEnableRequest struct {
	FilePath string `json:"filePath"`
	Enabled  bool   `json:"enabled"`
}

// PluginUploadResponse is returned after a side-loaded plugin was installed.
type PluginUploadResponse struct {
	Plugin PluginData `json:"plugin"`
	Path   string     `json:"path"`
}

// RemovalResult summarizes a bulk plugin removal.
type RemovalResult struct {
	Removed int      `json:"removed"`
	Files   []string `json:"files"`
}
