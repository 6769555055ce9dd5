package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/stream-go/internal/models"
)

// handleListRepositories lists all stored repositories
func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repositories, err := s.app.Installer.Repositories()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list repositories")
		return
	}
	RespondWithJSON(w, http.StatusOK, repositories)
}

func (s *Server) handleAddRepository(w http.ResponseWriter, r *http.Request) {
	var req models.RepositoryAddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	repo, err := s.app.Installer.AddRepository(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	RespondWithJSON(w, http.StatusCreated, repo)
}

// handleDeleteRepository removes the repository together with its plugins
func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.Installer.RemoveRepository(chi.URLParam(r, "repositoryID"))
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	RespondWithJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRepositoryPlugins(w http.ResponseWriter, r *http.Request) {
	resp, err := s.app.Installer.RepositoryPlugins(r.Context(), chi.URLParam(r, "repositoryID"))
	if err != nil {
		respondWithServiceError(w, err, http.StatusBadGateway)
		return
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteRepositoryPlugins(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.Installer.RemoveRepositoryPlugins(chi.URLParam(r, "repositoryID"))
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	RespondWithJSON(w, http.StatusOK, result)
}

// handleInstallAll installs everything the repository offers that is not up to date
func (s *Server) handleInstallAll(w http.ResponseWriter, r *http.Request) {
	installed, err := s.app.Installer.InstallAll(r.Context(), chi.URLParam(r, "repositoryID"))
	if err != nil {
		respondWithServiceError(w, err, http.StatusBadGateway)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{"installed": installed})
}

func (s *Server) handleInstallRepositoryPlugin(w http.ResponseWriter, r *http.Request) {
	repo, err := s.app.Installer.Repository(chi.URLParam(r, "repositoryID"))
	if err != nil {
		respondWithServiceError(w, err, http.StatusInternalServerError)
		return
	}
	data, err := s.app.Installer.InstallFromRepository(r.Context(), repo.URL, chi.URLParam(r, "internalName"))
	if err != nil {
		respondWithServiceError(w, err, http.StatusUnprocessableEntity)
		return
	}
	RespondWithJSON(w, http.StatusOK, data)
}
