package duckdb

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/infrastructure/pool"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
)

// Backend modes.
const (
	ModeAuto     = "auto"
	ModeCLI      = "cli"
	ModeEmbedded = "embedded"
)

// Config configures the executor.
type Config struct {
	Dataset            string
	Binary             string
	Mode               string
	MaxOutputBytes     int
	SlowQueryThreshold time.Duration
}

// Executor implements repositories.Executor. It prefers the CLI when its
// executable is on the PATH and otherwise uses the embedded engine. A CLI
// run that cannot find the executable switches every later call to the
// embedded engine.
type Executor struct {
	cli      Backend
	embedded Backend
	mode     string
	binary   string
	lookPath func(string) (string, error)

	probe     sync.Once
	cliFound  bool
	fellBack  atomic.Bool
	logger    zerolog.Logger
	queryLog  *pool.QueryLogger
	collector metrics.Collector
}

// NewExecutor wires both backends around engine.
func NewExecutor(cfg Config, engine *pool.Engine, logger zerolog.Logger, collector metrics.Collector) *Executor {
	logger = logger.With().Str("component", "executor").Logger()
	cli := NewCLIBackend(cfg.Binary, cfg.Dataset, cfg.MaxOutputBytes, logger)
	return NewExecutorWithBackends(cfg, cli, NewEmbeddedBackend(engine, cfg.Dataset, logger), logger, collector)
}

// NewExecutorWithBackends builds an executor from explicit backends.
func NewExecutorWithBackends(cfg Config, cli, embedded Backend, logger zerolog.Logger, collector metrics.Collector) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Binary == "" {
		cfg.Binary = "duckdb"
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = time.Second
	}
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &Executor{
		cli:       cli,
		embedded:  embedded,
		mode:      cfg.Mode,
		binary:    cfg.Binary,
		lookPath:  exec.LookPath,
		logger:    logger,
		queryLog:  pool.NewQueryLogger(logger, cfg.SlowQueryThreshold, true),
		collector: collector,
	}
}

var _ repositories.Executor = (*Executor)(nil)

// Backend returns the backend the next call will use.
func (e *Executor) Backend() Backend {
	switch e.mode {
	case ModeCLI:
		return e.cli
	case ModeEmbedded:
		return e.embedded
	}

	e.probe.Do(func() {
		path, err := e.lookPath(e.binary)
		e.cliFound = err == nil
		e.logger.Info().
			Bool("cli_found", e.cliFound).
			Str("path", path).
			Msg("Probed DuckDB CLI")
	})
	if e.cliFound && !e.fellBack.Load() {
		return e.cli
	}
	return e.embedded
}

// Execute implements repositories.Executor.
func (e *Executor) Execute(ctx context.Context, sql string, timeout time.Duration) (*models.QueryResult, error) {
	backend := e.Backend()
	rows, err := e.run(ctx, backend, sql, timeout)

	if err != nil && backend == e.cli && e.mode == ModeAuto && IsMissingExecutable(err) {
		if e.fellBack.CompareAndSwap(false, true) {
			e.logger.Warn().Err(err).Msg("DuckDB CLI unavailable, falling back to embedded engine")
			e.collector.IncrementCounter(metrics.BackendFallbacks)
		}
		rows, err = e.run(ctx, e.embedded, sql, timeout)
	}
	if err != nil {
		return nil, err
	}

	return converter.ToResult(rows), nil
}

// QueryRow implements repositories.Executor.
func (e *Executor) QueryRow(ctx context.Context, sql string, timeout time.Duration) (map[string]any, error) {
	res, err := e.Execute(ctx, sql, timeout)
	if err != nil {
		return nil, err
	}
	if row := res.Row(0); row != nil {
		return row, nil
	}
	return map[string]any{}, nil
}

func (e *Executor) run(ctx context.Context, backend Backend, sql string, timeout time.Duration) ([]*converter.RowObject, error) {
	start := time.Now()
	rows, err := backend.Run(ctx, sql, timeout)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = pkgerrors.GetCode(err)
	}
	e.queryLog.LogQuery(backend.Name(), sql, elapsed, err)
	metrics.RecordQuery(e.collector, backend.Name(), status, elapsed)

	return rows, err
}
