package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/TFMV/tally/cmd/tally/config"
	"github.com/TFMV/tally/pkg/cache"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/infrastructure/pool"
	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
	"github.com/TFMV/tally/pkg/repositories/schema"
	"github.com/TFMV/tally/pkg/services"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	registry  *prometheus.Registry
	collector metrics.Collector
	engine    *pool.Engine
	exec      repositories.Executor
	results   *cache.Cache[any]
}

func newApp(cfg *config.Config, logger zerolog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.collector = metrics.NewPrometheusCollector(a.registry)
	} else {
		a.collector = metrics.NewNoOpCollector()
	}

	a.engine = pool.New(pool.Config{
		DSN:                cfg.Database,
		SlowQueryThreshold: cfg.SlowQueryThreshold,
	}, logger)

	a.exec = duckdb.NewExecutor(duckdb.Config{
		Dataset:            cfg.Dataset,
		Binary:             cfg.DuckDBBinary,
		Mode:               cfg.Backend,
		MaxOutputBytes:     cfg.MaxOutputBytes,
		SlowQueryThreshold: cfg.SlowQueryThreshold,
	}, a.engine, logger, a.collector)

	return a
}

// checkEngine opens the embedded engine up front when it serves queries.
func (a *app) checkEngine(ctx context.Context) error {
	exec, ok := a.exec.(*duckdb.Executor)
	if !ok || exec.Backend().Name() != duckdb.BackendEmbedded {
		return nil
	}
	return a.engine.HealthCheck(ctx)
}

func (a *app) schema() (*schema.FileRepository, error) {
	repo, err := schema.Load(a.cfg.Columns)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().
		Str("path", a.cfg.Columns).
		Int("columns", len(repo.Columns())).
		Msg("Loaded column metadata")
	return repo, nil
}

func (a *app) queryService(repo repositories.SchemaRepository) services.QueryService {
	svc := services.NewQueryService(a.exec, repo, newLoggerAdapter(a.logger, "query_service"), a.collector, a.cfg.QueryTimeout)
	if !a.cfg.Cache.Enabled {
		return svc
	}
	a.results = cache.New[any](cache.DefaultConfig().
		WithMaxEntries(a.cfg.Cache.MaxEntries).
		WithTTL(a.cfg.Cache.TTL))
	return services.NewCachedQueryService(svc, a.results, a.collector)
}

func (a *app) cohortProfiler(repo repositories.SchemaRepository) services.CohortProfiler {
	return services.NewCohortProfiler(a.exec, repo, newLoggerAdapter(a.logger, "cohort_profiler"), a.cfg.QueryTimeout)
}

func (a *app) Close() {
	if a.results != nil {
		st := a.results.Stats()
		a.logger.Info().
			Uint64("hits", st.Hits).
			Uint64("misses", st.Misses).
			Uint64("evictions", st.Evictions).
			Int64("size", st.Size).
			Msg("Result cache stats")
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Error closing engine")
	}
}
