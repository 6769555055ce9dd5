package models

// Repository is the remote repository manifest. It is fetched on demand and
// never cached to disk.
type Repository struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	ManifestVersion int      `json:"manifestVersion"`
	IconURL         string   `json:"iconUrl,omitempty"`
	PluginLists     []string `json:"pluginLists"`
}

// SitePlugin is one entry of a remote plugin-list document.
type SitePlugin struct {
	URL           string   `json:"url"`
	Status        int      `json:"status"` // 0 = disabled
	Version       int      `json:"version"`
	APIVersion    int      `json:"apiVersion"`
	Name          string   `json:"name"`
	InternalName  string   `json:"internalName"`
	Authors       []string `json:"authors"`
	Description   string   `json:"description,omitempty"`
	RepositoryURL string   `json:"repositoryUrl,omitempty"`
	TvTypes       []string `json:"tvTypes,omitempty"`
	Language      string   `json:"language,omitempty"`
	IconURL       string   `json:"iconUrl,omitempty"`
	FileSize      int64    `json:"fileSize,omitempty"`
}

// RepositoryPlugin pairs a remote descriptor with the repository it was listed in.
type RepositoryPlugin struct {
	RepositoryURL string     `json:"repositoryUrl"`
	Plugin        SitePlugin `json:"plugin"`
}

// RepositoryData is the persisted record of a repository the user added.
type RepositoryData struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url"`
	IconURL     string `json:"iconUrl,omitempty"`
	Description string `json:"description,omitempty"`
	Shortcode   string `json:"shortcode,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// RepositoryAddRequest is the body of an add-repository call. Either URL or
// Shortcode must be present; Enabled defaults to true when omitted.
type RepositoryAddRequest struct {
	URL       string `json:"url,omitempty"`
	Shortcode string `json:"shortcode,omitempty"`
	Name      string `json:"name,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// AvailablePlugin is a remote plugin annotated with the local install state.
type AvailablePlugin struct {
	SitePlugin
	Installed        bool `json:"installed"`
	InstalledVersion *int `json:"installedVersion,omitempty"`
	CanUpdate        bool `json:"canUpdate"`
}

// RepositoryPluginsResponse lists what a repository currently offers.
type RepositoryPluginsResponse struct {
	Repository RepositoryData    `json:"repository"`
	Plugins    []AvailablePlugin `json:"plugins"`
}
