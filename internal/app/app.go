// Package app provides application lifecycle management for the sync engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/facilityops/accesscontrol-sync/internal/config"
)

// SyncApp encapsulates every component of the running engine
// and provides lifecycle management and graceful shutdown.
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start connects the transport, starts the scheduler and the command
// gateway, then serves the ops HTTP endpoints. It blocks until the HTTP
// server stops or fails.
func (app *SyncApp) Start() error {
	if err := app.StartBackground(); err != nil {
		return err
	}

	slog.Info("Ops server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// StartBackground starts everything except the HTTP listener
func (app *SyncApp) StartBackground() error {
	c := app.components

	if err := c.Transport.Connect(app.ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	if err := c.Scheduler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := c.Gateway.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start command gateway: %w", err)
	}

	p := c.Policy.Snapshot()
	slog.Info("Sync engine started",
		"transport", app.config.Transport.Type,
		"auto_sync", p.Enabled,
		"interval_hours", p.IntervalHours)
	return nil
}

// Stop shuts the engine down in reverse start order. The gateway stops
// first so no new command reaches the scheduler, then an in-flight run is
// allowed to finish before the transport and HTTP server go away.
func (app *SyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down sync engine...")
	c := app.components

	c.Gateway.Stop()
	c.Scheduler.Stop()

	if err := c.Transport.Close(); err != nil {
		slog.Warn("Failed to close transport", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	c.cleanup(shutdownCtx)

	slog.Info("Shutdown complete")
	return errors.Join(errs...)
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components exposes the wired components
func (app *SyncApp) Components() *AppComponents {
	return app.components
}
