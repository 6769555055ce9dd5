package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/api"
	"github.com/vrsandeep/stream-go/internal/core"
	"github.com/vrsandeep/stream-go/internal/installer"
	"github.com/vrsandeep/stream-go/internal/jobs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app, err := core.New(version)
	if err != nil {
		return fmt.Errorf("application setup failed: %w", err)
	}
	defer app.Close()
	log := app.Log

	loaded, err := app.Installer.LoadOnStartup()
	if err != nil {
		log.Warn("Some plugins failed to load on startup", zap.Error(err))
	}
	log.Info("Plugins loaded", zap.Int("count", loaded))

	scheduler := jobs.StartJobs(app.Config, app.Jobs, log)
	defer scheduler.Stop()

	if app.Config.Plugins.WatchLocal {
		watcher := installer.NewWatcher(app.Config.DataDir, app.Installer, log)
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start plugin watcher: %w", err)
		}
		defer watcher.Stop()
	}

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Config.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting web server", zap.String("addr", httpServer.Addr), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("could not start server: %w", err)
	case <-quit:
	}
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exiting")
	return nil
}
