package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/CrowderSoup/kanban-studio/config"
	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/handlers"
	"github.com/CrowderSoup/kanban-studio/metrics"
	"github.com/CrowderSoup/kanban-studio/services"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load environment variables from .env file
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, database.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}, logger)
	if err != nil {
		return err
	}
	defer database.Close(db)

	sessions, closeSessions, err := newSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	cleanup := services.NewSessionCleanupJob(sessions, logger)
	if err := cleanup.Start(cfg.Sessions.CleanupSchedule); err != nil {
		return err
	}
	defer cleanup.Stop()

	// Initialize services
	repo := database.NewBoardRepository(db)
	if cfg.UsesDevSecret() {
		logger.Warn("Using the development JWT secret; set JWT_SECRET in production")
	}
	authService := services.NewAuthService(repo, sessions, services.AuthConfig{
		JWTSecret:        cfg.Auth.JWTSecret,
		TokenTTL:         cfg.Auth.TokenTTL,
		SeedDefaultBoard: cfg.Auth.SeedDefaultBoard,
	}, logger)

	if cfg.Auth.DevUsername != "" {
		if _, err := authService.EnsureUser(ctx, cfg.Auth.DevUsername, cfg.Auth.DevPassword); err != nil {
			return fmt.Errorf("failed to create dev user: %w", err)
		}
		logger.Info("Dev user ready", zap.String("username", cfg.Auth.DevUsername))
	}

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := services.NewHub(logger)
	go hub.Run(hubCtx)

	var planner services.Planner
	if cfg.Assistant.APIKey != "" {
		planner = services.NewOpenAIPlanner(cfg.Assistant.APIKey, cfg.Assistant.BaseURL, cfg.Assistant.Model)
	} else {
		logger.Info("Assistant disabled; set OPENAI_API_KEY to enable it")
	}
	assistant := services.NewAssistant(repo, planner, hub, logger)

	m := metrics.New(logger)
	m.RegisterWebsocketClients(hub.Clients)
	if sqlDB, err := db.DB(); err == nil {
		m.RegisterDBStats(sqlDB)
	}

	router := handlers.NewRouter(handlers.Deps{
		Repo:           repo,
		Auth:           authService,
		Assistant:      assistant,
		Hub:            hub,
		Metrics:        m,
		StaticDir:      cfg.Server.StaticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		CookieSecure:   cfg.Auth.CookieSecure,
		Logger:         logger,
	})

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections.
	stopHub()
	return server.Shutdown(shutdownCtx)
}

// newSessionStore builds the configured session backend and the function
// that releases it.
func newSessionStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (services.SessionStore, func() error, error) {
	switch cfg.Sessions.Backend {
	case "redis":
		store, err := services.NewRedisSessionStore(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return services.NewDBSessionStore(db), func() error { return nil }, nil
	}
}
