// Package app assembles the canvas relay from its components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"canvasrelay/internal/api"
	"canvasrelay/internal/config"
	"canvasrelay/internal/database"
	"canvasrelay/internal/hub"
	"canvasrelay/internal/ledger"
	"canvasrelay/internal/logging"
	"canvasrelay/internal/websocket"
	pkgdatabase "canvasrelay/pkg/database"
)

// startupGrace is how long Start waits for an immediate listener failure.
const startupGrace = 100 * time.Millisecond

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager // nil when the audit log is disabled
	registry   *websocket.Registry
	history    *ledger.Ledger
	canvasHub  *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Ledger → Registry → Hub → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, version string) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.Default().With(logging.Component("app"))

	// STEP 1: Optional connection audit store
	var dbManager *database.Manager
	if cfg.Database.Enabled {
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Database.Path
		dbConfig.WriteTimeout = cfg.Database.Timeout
		dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3

		var err error
		dbManager, err = database.NewManager(dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}

		// Rows a crashed process never closed would otherwise look live forever
		closed, err := dbManager.CloseDanglingSessions(context.Background(), time.Now())
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to close dangling sessions: %w", err)
		}
		if closed > 0 {
			logger.Info("closed sessions left open by a previous run", slog.Int64("count", closed))
		}
	}

	// STEP 2: Canvas state
	history, err := ledger.New(cfg.Canvas.HistoryCeiling, cfg.Canvas.HistoryRetain)
	if err != nil {
		if dbManager != nil {
			_ = dbManager.Close()
		}
		return nil, fmt.Errorf("failed to create history ledger: %w", err)
	}
	registry := websocket.NewRegistry()

	// STEP 3: Session lifecycle hub
	hubOpts := []hub.Option{hub.WithQueueSize(cfg.Canvas.EventQueueSize)}
	if dbManager != nil {
		hubOpts = append(hubOpts, hub.WithStore(dbManager))
	}
	if cfg.Canvas.RateLimit > 0 {
		hubOpts = append(hubOpts, hub.WithRateLimiter(hub.NewRateLimiter(cfg.Canvas.RateLimit, cfg.Canvas.RateWindow)))
	}
	canvasHub := hub.NewHub(registry, history, hubOpts...)

	// STEP 4: WebSocket handler
	wsHandler := websocket.NewHandler(canvasHub, websocket.HandlerConfig{
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	})

	// STEP 5: API server carries every route on one mux
	var apiServer *api.Server
	if dbManager != nil {
		apiServer = api.NewServer(canvasHub, dbManager, version)
	} else {
		// A typed nil *Manager would defeat the API's nil-store check
		apiServer = api.NewServer(canvasHub, nil, version)
	}
	apiServer.Handle("/ws", http.HandlerFunc(wsHandler.HandleWebSocket))
	apiServer.Handle("/api/canvas/ws", http.HandlerFunc(wsHandler.HandleWebSocket))
	apiServer.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		history:    history,
		canvasHub:  canvasHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Start listens on the configured address and begins serving
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve starts the hub and serves HTTP on ln
// Hub starts first to handle events, then HTTP server accepts connections
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	app.logger.Info("starting canvas relay", slog.String("addr", ln.Addr().String()))

	// STEP 1: Start the hub (background event processing)
	if err := app.canvasHub.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.canvasHub.Stop()
		return err
	case <-time.After(startupGrace):
		app.logger.Info("canvas relay started")
		return nil
	case <-ctx.Done():
		_ = app.canvasHub.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down canvas relay")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", logging.Error(err))
		errs = append(errs, err)
	}

	// STEP 2: Close every canvas connection; session ends are queued to the store
	if err := app.canvasHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Error("hub shutdown error", logging.Error(err))
		errs = append(errs, err)
	}

	// STEP 3: Drain queued audit writes and close the database
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			app.logger.Error("database shutdown error", logging.Error(err))
			errs = append(errs, err)
		}
	}

	app.logger.Info("canvas relay shutdown complete")
	return errors.Join(errs...)
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Stats exposes the hub counters.
func (app *Application) Stats() hub.Stats {
	return app.canvasHub.Stats()
}
