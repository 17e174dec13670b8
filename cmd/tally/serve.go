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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/tally/cmd/tally/config"
	"github.com/TFMV/tally/cmd/tally/middleware"
	"github.com/TFMV/tally/pkg/handlers"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the query API server",
		Long: `Start the HTTP API: POST /api/query, GET /api/crosstab, GET /api/stats/{column},
POST /api/cohort, GET /api/schema and GET /api/health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, os.Stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}

	d := config.DefaultConfig()
	flags := cmd.Flags()
	flags.String("address", d.Address, "server listen address")
	flags.Duration("shutdown-timeout", d.ShutdownTimeout, "graceful shutdown timeout")
	flags.Bool("metrics", d.Metrics.Enabled, "enable Prometheus metrics")
	flags.String("metrics-address", d.Metrics.Address, "metrics server address")
	flags.String("metrics-path", d.Metrics.Path, "metrics endpoint path")
	flags.Bool("cache", d.Cache.Enabled, "cache crosstab and column summaries")
	flags.Int("cache-max-entries", d.Cache.MaxEntries, "maximum cached results")
	flags.Duration("cache-ttl", d.Cache.TTL, "cached result lifetime")
	return cmd
}

// newAPIHandler mounts the API routes behind the middleware chain.
func newAPIHandler(a *app, h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.NewLoggingMiddleware(a.logger.With().Str("component", "http").Logger()).Handler,
		middleware.NewMetricsMiddleware(a.collector).Handler,
		middleware.NewRecoveryMiddleware(a.logger.With().Str("component", "recovery").Logger()).Handler,
	)
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting tally API server")

	a := newApp(cfg, logger)
	defer a.Close()

	repo, err := a.schema()
	if err != nil {
		return fmt.Errorf("failed to load column metadata: %w", err)
	}
	if err := a.checkEngine(ctx); err != nil {
		return fmt.Errorf("embedded engine unavailable: %w", err)
	}

	h := handlers.New(
		a.queryService(repo),
		a.cohortProfiler(repo),
		repo,
		newLoggerAdapter(logger, "handlers"),
	)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, a.registry)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start metrics server")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           newAPIHandler(a, h),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.QueryTimeout + 10*time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", cfg.Address).
			Str("dataset", cfg.Dataset).
			Str("backend", cfg.Backend).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	case err := <-serverErrCh:
		return err
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}
