package duckdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/infrastructure/pool"
)

// EmbeddedBackend runs queries on the in-process engine, one connection per
// call.
type EmbeddedBackend struct {
	engine  *pool.Engine
	dataset string
	logger  zerolog.Logger
}

// NewEmbeddedBackend returns a backend on engine.
func NewEmbeddedBackend(engine *pool.Engine, dataset string, logger zerolog.Logger) *EmbeddedBackend {
	return &EmbeddedBackend{
		engine:  engine,
		dataset: dataset,
		logger:  logger.With().Str("backend", BackendEmbedded).Logger(),
	}
}

// Name implements Backend.
func (b *EmbeddedBackend) Name() string { return BackendEmbedded }

type embeddedResult struct {
	rows []*converter.RowObject
	err  error
}

// Run implements Backend. The query races a timer; when the timer wins the
// query context is cancelled, which interrupts the running statement, and
// whatever the interrupted query reports is discarded.
func (b *EmbeddedBackend) Run(ctx context.Context, query string, timeout time.Duration) ([]*converter.RowObject, error) {
	if err := ensureDataset(b.dataset); err != nil {
		return nil, err
	}

	conn, err := b.engine.Conn(ctx)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithCancel(ctx)
	done := make(chan embeddedResult, 1)
	go func() {
		defer conn.Close()
		rows, err := b.run(queryCtx, conn, query)
		done <- embeddedResult{rows: rows, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-done:
		cancel()
		return res.rows, res.err
	case <-expired:
		cancel()
		b.logger.Debug().Dur("timeout", timeout).Msg("Interrupting embedded query")
		return nil, timeoutError(timeout)
	case <-ctx.Done():
		cancel()
		return nil, contextError(ctx.Err(), timeout)
	}
}

func (b *EmbeddedBackend) run(ctx context.Context, conn *sql.Conn, query string) ([]*converter.RowObject, error) {
	if _, err := conn.ExecContext(ctx, ViewSQL(b.dataset)); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, err.Error())
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, err.Error())
	}
	defer rows.Close()

	return scanRows(rows)
}

// scanRows reads every row into row objects, normalizing each value with
// its column's engine type.
func scanRows(rows *sql.Rows) ([]*converter.RowObject, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, "failed to read result columns")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, "failed to read result column types")
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var out []*converter.RowObject
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, "failed to scan row")
		}
		obj := converter.NewRowObject(len(columns))
		for i, name := range columns {
			obj.Set(name, converter.NormalizeColumn(types[i].DatabaseTypeName(), values[i]))
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, err.Error())
	}
	return out, nil
}
