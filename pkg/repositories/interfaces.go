// Package repositories defines interfaces for data access operations.
package repositories

import (
	"context"
	"time"

	"github.com/TFMV/tally/pkg/models"
)

// Executor runs guarded, read-only SQL against the survey dataset, which is
// bound as the relation "data" on every call.
type Executor interface {
	// Execute runs sql and returns its normalized result. A zero timeout
	// means no timeout.
	Execute(ctx context.Context, sql string, timeout time.Duration) (*models.QueryResult, error)
	// QueryRow runs sql and returns its first row, or an empty row.
	QueryRow(ctx context.Context, sql string, timeout time.Duration) (map[string]any, error)
}

// SchemaRepository provides column metadata.
type SchemaRepository interface {
	// Dataset returns the dataset description.
	Dataset() models.Dataset
	// Columns returns every column in file order.
	Columns() []models.Column
	// Column finds a column by name or display name.
	Column(nameOrLabel string) (models.Column, bool)
}
