// Package pool holds the in-process DuckDB engine handle.
package pool

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/tally/pkg/errors"
)

// Config represents engine configuration.
type Config struct {
	DSN                string        `json:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold"`
}

func (c Config) withDefaults() Config {
	if c.DSN == "" {
		c.DSN = ":memory:"
	}
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = 4
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = time.Second
	}
	return c
}

// Engine is a lazily opened DuckDB database. The first caller opens it;
// concurrent first callers share that single open, and its outcome, error
// included, is kept for the life of the Engine.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	once    sync.Once
	db      *sql.DB
	openErr error
	opens   atomic.Int32
	opened  atomic.Bool
	closed  atomic.Bool
}

// New returns an engine that has not been opened yet.
func New(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// DB returns the database, opening it on first use.
func (e *Engine) DB(ctx context.Context) (*sql.DB, error) {
	if e.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeEngineUnavailable, "engine is closed")
	}
	e.once.Do(func() {
		e.db, e.openErr = e.open(ctx)
		e.opened.Store(e.openErr == nil)
	})
	return e.db, e.openErr
}

func (e *Engine) open(ctx context.Context) (*sql.DB, error) {
	e.opens.Add(1)
	e.logger.Info().
		Str("dsn", maskDSN(e.cfg.DSN)).
		Int("max_open", e.cfg.MaxOpenConnections).
		Msg("Opening embedded DuckDB engine")

	db, err := sql.Open("duckdb", e.cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeEngineUnavailable, "failed to open database")
	}
	db.SetMaxOpenConns(e.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(e.cfg.MaxOpenConnections)
	db.SetConnMaxIdleTime(e.cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeEngineUnavailable, "initial ping failed")
	}
	return db, nil
}

// Conn returns a dedicated connection. The caller closes it.
func (e *Engine) Conn(ctx context.Context) (*sql.Conn, error) {
	db, err := e.DB(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeEngineUnavailable, "failed to acquire connection")
	}
	return conn, nil
}

// HealthCheck runs SELECT 1 on the engine.
func (e *Engine) HealthCheck(ctx context.Context) error {
	db, err := e.DB(ctx)
	if err != nil {
		return err
	}
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil || result != 1 {
		if err == nil {
			err = pkgerrors.New(pkgerrors.CodeEngineUnavailable, "unexpected health check result")
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeEngineUnavailable, "health check query failed")
	}
	return nil
}

// Opened reports whether the database has been opened successfully.
func (e *Engine) Opened() bool {
	return e.opened.Load()
}

// Close closes the database if it was opened. Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Blocks until a concurrent first open has finished.
	e.once.Do(func() {})
	if e.db == nil {
		return nil
	}

	e.logger.Info().Msg("Closing embedded DuckDB engine")
	if err := e.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

// QueryLogger logs slow queries and query statistics.
type QueryLogger struct {
	logger    zerolog.Logger
	threshold time.Duration
	enabled   bool
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger zerolog.Logger, threshold time.Duration, enabled bool) *QueryLogger {
	return &QueryLogger{
		logger:    logger,
		threshold: threshold,
		enabled:   enabled,
	}
}

// LogQuery logs query execution details.
func (ql *QueryLogger) LogQuery(backend, query string, duration time.Duration, err error) {
	if !ql.enabled {
		return
	}

	logEvent := ql.logger.Debug()
	if duration > ql.threshold {
		logEvent = ql.logger.Warn().Bool("slow_query", true)
	}

	logEvent.
		Str("backend", backend).
		Dur("duration", duration).
		Str("query", TruncateQuery(query)).
		Bool("success", err == nil).
		Msg("Query executed")

	if err != nil {
		ql.logger.Error().
			Err(err).
			Str("backend", backend).
			Str("code", pkgerrors.GetCode(err)).
			Str("query", TruncateQuery(query)).
			Msg("Query execution failed")
	}
}

// TruncateQuery truncates long queries for logging.
func TruncateQuery(query string) string {
	const maxLen = 100
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}

// maskDSN hides passwords and tokens but keeps enough of the string to be
// recognisable in logs. ":memory:" and empty DSNs are returned verbatim.
func maskDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err == nil && looksLikeURL(u) {
		if ui := u.User; ui != nil {
			user := ui.Username()
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(user, "*****")
			} else {
				u.User = url.User(user)
			}
		}

		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func looksLikeURL(u *url.URL) bool {
	return u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != ""
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "pass"),
		strings.Contains(key, "token"),
		strings.Contains(key, "secret"),
		strings.HasSuffix(key, "key"):
		return true
	default:
		return false
	}
}
