// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/core"
	"github.com/vrsandeep/stream-go/internal/websocket"
)

// maxUploadSize bounds side-loaded plugin archives.
const maxUploadSize = 64 << 20

// Server holds the dependencies for our API.
type Server struct {
	app *core.App
	log *zap.Logger
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app: app,
		log: app.Log.With(zap.String("component", "api")),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleGetVersion)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)

		r.Route("/repositories", func(r chi.Router) {
			r.Get("/", s.handleListRepositories)
			r.Post("/", s.handleAddRepository)
			r.Delete("/{repositoryID}", s.handleDeleteRepository)
			r.Get("/{repositoryID}/plugins", s.handleGetRepositoryPlugins)
			r.Delete("/{repositoryID}/plugins", s.handleDeleteRepositoryPlugins)
			r.With(middleware.Timeout(10*time.Minute)).Post("/{repositoryID}/plugins/install-all", s.handleInstallAll)
			r.With(middleware.Timeout(5*time.Minute)).Post("/{repositoryID}/plugins/{internalName}/install", s.handleInstallRepositoryPlugin)
		})

		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.handleListPlugins)
			r.Delete("/", s.handleRemovePlugin)
			r.With(middleware.Timeout(5*time.Minute)).Post("/install", s.handleInstallPlugin)
			r.With(middleware.Timeout(5*time.Minute)).Post("/local", s.handleUploadPlugin)
			r.Post("/autoupdate", s.handleAutoUpdate)
			r.Post("/enabled", s.handleSetPluginEnabled)
		})

		r.Get("/providers", s.handleListProviders)
		r.With(middleware.Timeout(60*time.Second)).Get("/providers/{name}/search", s.handleProviderSearch)

		r.Get("/jobs/status", s.handleGetJobsStatus)
		r.Post("/jobs/run", s.handleRunJob)
	})

	r.Get("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.app.WsHub, w, r)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB.Ping(); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
