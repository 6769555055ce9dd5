package api

import (
	"net/http"

	"github.com/vrsandeep/stream-go/internal/plugins"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"version":          s.app.Version,
		"host_api_version": plugins.HostAPIVersion,
	})
}

// configResponse is the part of the configuration the UI may read.
type configResponse struct {
	DataDir       string `json:"data_dir"`
	UseJsdelivr   bool   `json:"use_jsdelivr"`
	ShortLinkHost string `json:"short_link_host"`
	AutoUpdate    int    `json:"auto_update_interval"`
	WatchLocal    bool   `json:"watch_local"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Config
	RespondWithJSON(w, http.StatusOK, configResponse{
		DataDir:       cfg.DataDir,
		UseJsdelivr:   s.app.Client.UseJsdelivr(),
		ShortLinkHost: cfg.Repositories.ShortLinkHost,
		AutoUpdate:    cfg.Plugins.AutoUpdateInterval,
		WatchLocal:    cfg.Plugins.WatchLocal,
	})
}

// handleUpdateConfig toggles the runtime settings that need no restart.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UseJsdelivr *bool `json:"use_jsdelivr"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.UseJsdelivr != nil {
		s.app.Client.SetUseJsdelivr(*payload.UseJsdelivr)
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	err := s.app.Jobs.RunJob(payload.JobName)
	if err != nil {
		RespondWithError(w, http.StatusConflict, err.Error()) // 409 Conflict if a job is already running
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job '" + payload.JobName + "' started successfully.",
	})
}

func (s *Server) handleGetJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Jobs.GetStatus())
}
