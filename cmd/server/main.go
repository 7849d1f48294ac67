package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/engine"
	"github.com/quiverhq/quiver/internal/export"
	"github.com/quiverhq/quiver/internal/httpapi"
	"github.com/quiverhq/quiver/internal/middleware"
	"github.com/quiverhq/quiver/internal/postgres"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	conn, err := postgres.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	if err := postgres.RunMigrations(cfg.Database, cfg.MigrationsPath); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	adapter := postgres.NewAdapter(conn)
	eng, err := engine.New(ctx, adapter, engine.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize engine")
	}

	// Drain the revalidation queue in the background after schema updates.
	go runSweeper(ctx, eng, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	api := httpapi.NewHandler(eng, logger)
	exportHandler := export.NewHTTPHandler(export.NewService(eng))

	chain := func(h http.Handler) http.Handler {
		return middleware.LoggingMiddleware(logger)(
			middleware.SessionMiddleware(
				middleware.DataLoaderMiddleware(eng)(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("/export/xlsx", corsHandler.Handler(chain(exportHandler)))
	mux.Handle("/", corsHandler.Handler(chain(api)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited")
}

// runSweeper polls the dirty queue so schema updates converge without
// blocking the update request.
func runSweeper(ctx context.Context, eng *engine.Engine, logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := eng.RunRevalidationSweep(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("revalidation sweep failed")
			}
			if processed > 0 {
				logger.Info().Int("processed", processed).Msg("revalidation sweep completed")
			}
		}
	}
}
