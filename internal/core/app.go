package core

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/assets"
	"github.com/vrsandeep/stream-go/internal/config"
	"github.com/vrsandeep/stream-go/internal/db"
	"github.com/vrsandeep/stream-go/internal/installer"
	"github.com/vrsandeep/stream-go/internal/jobs"
	"github.com/vrsandeep/stream-go/internal/logger"
	"github.com/vrsandeep/stream-go/internal/plugins"
	"github.com/vrsandeep/stream-go/internal/providers"
	"github.com/vrsandeep/stream-go/internal/repository"
	"github.com/vrsandeep/stream-go/internal/store"
	"github.com/vrsandeep/stream-go/internal/websocket"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Log       *zap.Logger
	Version   string
	Store     *store.Store
	WsHub     *websocket.Hub
	Providers *providers.Registry
	Client    *repository.Client
	Resolver  *repository.Resolver
	Plugins   *plugins.Manager
	Installer *installer.Service
	Jobs      *jobs.JobManager
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New(version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database, assets.MigrationsFS, log); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := Assemble(cfg, database, providers.Default(), log, version)
	log.Info("core application setup complete", zap.String("version", version), zap.String("data_dir", cfg.DataDir))
	return app, nil
}

// Assemble wires the services on top of an open database. The websocket hub
// is started.
func Assemble(cfg *config.Config, database *sql.DB, registry *providers.Registry, log *zap.Logger, version string) *App {
	httpClient := &http.Client{Timeout: time.Duration(cfg.Repositories.HTTPTimeout) * time.Second}
	st := store.New(database)
	hub := websocket.NewHub()
	go hub.Run()

	client := repository.NewClient(httpClient, cfg.Repositories.UseJsdelivr, log)
	resolver := repository.NewResolver(httpClient, cfg.Repositories.ShortLinkHost, log)
	manager := plugins.NewManager(plugins.NewScriptLoader(httpClient, log), plugins.ESBuildConverter{}, registry, st, log)
	svc := installer.NewService(cfg, st, client, resolver, manager, hub, log)

	jm := jobs.NewManager(hub, log)
	jobs.RegisterPluginJobs(jm, svc)

	return &App{
		Config:    cfg,
		DB:        database,
		Log:       log,
		Version:   version,
		Store:     st,
		WsHub:     hub,
		Providers: registry,
		Client:    client,
		Resolver:  resolver,
		Plugins:   manager,
		Installer: svc,
		Jobs:      jm,
	}
}

// Close unloads every plugin and releases the database.
func (a *App) Close() {
	if a.Jobs != nil {
		a.Jobs.Stop()
	}
	if a.Plugins != nil {
		a.Plugins.UnloadAll()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
