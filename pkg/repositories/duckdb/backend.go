// Package duckdb executes guarded SQL against the survey dataset, either by
// spawning the DuckDB CLI or through the embedded go-duckdb engine.
package duckdb

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	pkgerrors "github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/guard"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
)

// DataTable is the relation the dataset is bound to on every call.
const DataTable = "data"

// Backend names used in logs and metric labels.
const (
	BackendCLI      = "cli"
	BackendEmbedded = "embedded"
)

// Backend runs a single statement and returns ordered row objects.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Run binds the dataset and runs sql. A zero timeout means no timeout.
	Run(ctx context.Context, sql string, timeout time.Duration) ([]*converter.RowObject, error)
}

// ViewSQL is the statement binding the parquet file at path as DataTable.
func ViewSQL(path string) string {
	lit := strings.ReplaceAll(path, "'", "''")
	return "CREATE OR REPLACE TEMP VIEW " + guard.QuoteIdentifier(DataTable) +
		" AS SELECT * FROM read_parquet('" + lit + "')"
}

// ensureDataset fails with PARQUET_NOT_FOUND when path does not exist.
func ensureDataset(path string) error {
	if _, err := os.Stat(path); err != nil {
		return pkgerrors.Newf(pkgerrors.CodeParquetNotFound, "Parquet file not found: %s", path).
			WithDetail("path", path)
	}
	return nil
}

func timeoutError(timeout time.Duration) error {
	return pkgerrors.Newf(pkgerrors.CodeQueryTimeout, "Query exceeded %dms timeout.", timeout.Milliseconds())
}

// contextError maps an ended caller context: an expired deadline is a
// timeout, a cancellation is a failed query.
func contextError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(timeout)
	}
	return pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, "Query cancelled.")
}

// IsMissingExecutable reports whether err carries exec.ErrNotFound, the only
// signal that moves the executor to the embedded engine.
func IsMissingExecutable(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
