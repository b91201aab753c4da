// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/timeblocker/internal/api"
	"github.com/starford/timeblocker/internal/blocks"
	"github.com/starford/timeblocker/internal/craft"
	"github.com/starford/timeblocker/internal/mcpserver"
	"github.com/starford/timeblocker/internal/planner"
	"github.com/starford/timeblocker/internal/sse"
	"github.com/starford/timeblocker/internal/storage"
	"github.com/starford/timeblocker/internal/watch"
)

// Version is reported to MCP clients.
var Version = "dev"

// App holds the components shared by the HTTP server, the MCP server and the
// one-shot CLI commands.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Storage storage.Provider
	Planner *planner.Service
}

// Close releases storage.
func (a *App) Close() error {
	return a.Storage.Close()
}

// Open wires storage, the block store and the planner without starting any
// server. Credentials from the config file seed storage when none are saved.
func Open(opts ...Option) (*App, error) {
	return open(newApplication(opts, os.Stdout), nil)
}

func newApplication(opts []Option, logOut io.Writer) *application {
	app := &application{now: time.Now}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil && app.config != nil {
		app.logger = slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app
}

func open(app *application, notifier planner.Notifier) (*App, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger

	kv, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	store := blocks.Open(kv, blocks.WithClock(app.now), blocks.WithLogger(logger))
	client := craft.NewClient(&http.Client{Timeout: cfg.Craft.Timeout})
	popts := []planner.Option{
		planner.WithPageSize(cfg.Craft.PageSize),
		planner.WithLogger(logger),
		planner.WithClock(app.now),
	}
	if notifier != nil {
		popts = append(popts, planner.WithNotifier(notifier))
	}
	svc := planner.NewService(kv, store, craft.NewAggregator(client, logger), popts...)

	if cfg.Craft.BaseURL != "" && !svc.Configured() {
		if _, err := svc.SaveCredentials(cfg.Craft.BaseURL, cfg.Craft.APIKey); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("seed credentials: %w", err)
		}
		logger.Info("Credentials seeded from config", slog.String("base_url", cfg.Craft.BaseURL))
	}

	return &App{Config: cfg, Logger: logger, Storage: kv, Planner: svc}, nil
}

// initialRefresh loads tasks once at startup when credentials are known.
func initialRefresh(ctx context.Context, a *App) {
	if !a.Planner.Configured() {
		a.Logger.Info("Craft not configured, waiting for settings")
		return
	}
	st, err := a.Planner.Refresh(ctx)
	if err != nil {
		a.Logger.Warn("initial refresh failed", slog.String("error", err.Error()))
		return
	}
	if st.Error != "" {
		a.Logger.Warn("initial refresh failed", slog.String("error", st.Error))
	}
}

// watchStorage reloads blocks when another process (e.g. the CLI or a second
// server) changes storage. It blocks until ctx is cancelled.
func watchStorage(ctx context.Context, a *App) {
	if err := watch.Watch(ctx, a.Storage.Location(), a.Planner, a.Logger); err != nil {
		a.Logger.Warn("storage watcher disabled", slog.String("error", err.Error()))
	}
}

// NewHandler builds the root HTTP handler: health checks plus the API under /api.
func NewHandler(a *App, broker *sse.Broker) http.Handler {
	apiRouter := api.NewRouter(a.Planner, a.Config.Auth.AuthEnabled(), a.Config.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		craftState := "not_configured"
		if a.Planner.Configured() {
			craftState = "configured"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","craft":%q}`, craftState)
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts, os.Stdout)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	a, err := open(app, broker)
	if err != nil {
		return err
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: NewHandler(a, broker),
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchStorage(gCtx, a)
		return nil
	})

	g.Go(func() error {
		initialRefresh(gCtx, a)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP protocol on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts, os.Stderr)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	slog.SetDefault(app.logger)

	a, err := open(app, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchStorage(ctx, a)
	go initialRefresh(ctx, a)

	app.logger.Info("MCP server starting on stdio")
	return mcpserver.New(a.Planner, Version).ServeStdio()
}
