package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/plugins"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Providers.List())
}

// handleProviderSearch passes the query to the provider's search function
// and returns whatever it produced.
func (s *Server) handleProviderSearch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	provider, ok := s.app.Providers.Get(name)
	if !ok {
		RespondWithError(w, http.StatusNotFound, "Provider not found")
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		RespondWithError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	result, err := provider.Invoker.Invoke(r.Context(), "search", query)
	if err != nil {
		s.log.Warn("provider search failed", zap.String("provider", name), zap.Error(err))
		var pe *plugins.PluginError
		if errors.As(err, &pe) {
			RespondWithError(w, http.StatusBadGateway, pe.Error())
			return
		}
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{"provider": name, "results": result})
}
