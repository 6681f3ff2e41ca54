package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/api"
	"github.com/alinzhou20/miniServer/internal/auth"
	"github.com/alinzhou20/miniServer/internal/config"
	"github.com/alinzhou20/miniServer/internal/hub"
	"github.com/alinzhou20/miniServer/internal/registry"
	"github.com/alinzhou20/miniServer/internal/restore"
	"github.com/alinzhou20/miniServer/internal/router"
	"github.com/alinzhou20/miniServer/internal/store"
	"github.com/alinzhou20/miniServer/internal/transport"
)

// Application assembles the hub, store, router, and HTTP surface and owns
// their lifecycle. Components are created in dependency order and shut
// down in reverse.
type Application struct {
	cfg    *config.Config
	log    zerolog.Logger
	store  *store.Store
	hub    *hub.Hub
	server *http.Server
	cancel context.CancelFunc
}

func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	resolver := auth.NewResolver(cfg.Auth, st, logger)
	reg := registry.New(logger)
	engine := restore.NewEngine(st, resolver, logger)
	rt := router.New(reg, st, engine, logger)
	h := hub.New(reg, rt, logger)

	wsHandler := transport.NewHandler(h, resolver, cfg.WebSocket, logger)
	apiServer := api.NewServer(resolver, st, reg, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{
		cfg:    cfg,
		log:    logger.With().Str("comp", "app").Logger(),
		store:  st,
		hub:    h,
		server: server,
	}, nil
}

// Start brings up the hub event loop, then the HTTP listener. The HTTP
// server runs in its own goroutine; startup failures within the first
// moments are reported synchronously.
func (a *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.hub.Stop()
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	a.log.Info().Str("addr", a.server.Addr).Msg("application started")
	return nil
}

// Stop shuts components down in reverse start order: stop accepting HTTP
// traffic, drain the hub, then close the store.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("HTTP shutdown error")
		firstErr = err
	}

	if err := a.hub.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("store close error")
		if firstErr == nil {
			firstErr = err
		}
	}

	a.log.Info().Msg("shutdown complete")
	return firstErr
}
