package api

import (
	"net/http"

	"github.com/vrsandeep/stream-go/internal/models"
)

// pluginView is an installed plugin record plus whether it is loaded right now.
type pluginView struct {
	models.PluginData
	Loaded bool `json:"loaded"`
}

// handleListPlugins lists all installed plugins
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	records, err := s.app.Installer.Plugins()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list plugins")
		return
	}
	views := make([]pluginView, 0, len(records))
	for _, p := range records {
		views = append(views, pluginView{PluginData: *p, Loaded: s.app.Plugins.IsLoaded(p.FilePath)})
	}
	RespondWithJSON(w, http.StatusOK, views)
}

func (s *Server) handleInstallPlugin(w http.ResponseWriter, r *http.Request) {
	var req models.PluginInstallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RepositoryURL == "" || req.InternalName == "" {
		RespondWithError(w, http.StatusBadRequest, "repositoryUrl and internalName are required")
		return
	}
	repo, err := s.app.Installer.Repository(req.RepositoryURL)
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	data, err := s.app.Installer.InstallFromRepository(r.Context(), repo.URL, req.InternalName)
	if err != nil {
		respondWithServiceError(w, err, http.StatusUnprocessableEntity)
		return
	}
	RespondWithJSON(w, http.StatusOK, data)
}

// handleUploadPlugin installs a side-loaded archive sent as the multipart field "file"
func (s *Server) handleUploadPlugin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "A plugin archive is required in the 'file' field")
		return
	}
	defer file.Close()

	resp, err := s.app.Installer.InstallLocal(r.Context(), header.Filename, file)
	if err != nil {
		respondWithServiceError(w, err, http.StatusUnprocessableEntity)
		return
	}
	RespondWithJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRemovePlugin(w http.ResponseWriter, r *http.Request) {
	var req models.PluginRemoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, err := s.app.Installer.RemovePlugin(req)
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	RespondWithJSON(w, http.StatusOK, data)
}

func (s *Server) handleAutoUpdate(w http.ResponseWriter, r *http.Request) {
	updated, err := s.app.Installer.AutoUpdate(r.Context())
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (s *Server) handleSetPluginEnabled(w http.ResponseWriter, r *http.Request) {
	var req models.PluginEnableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		RespondWithError(w, http.StatusBadRequest, "filePath is required")
		return
	}
	data, err := s.app.Installer.SetEnabled(req.FilePath, req.Enabled)
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	RespondWithJSON(w, http.StatusOK, data)
}
