// Package services contains the query service and the statistics engines
// built on the executor: associations, landmark effects and cohort profiles.
package services

import (
	"context"

	"github.com/TFMV/tally/pkg/models"
)

// QueryService runs caller-supplied and templated interactive queries.
type QueryService interface {
	// Execute guards and runs raw caller SQL.
	Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
	// Crosstab counts rows grouped by two schema columns.
	Crosstab(ctx context.Context, req *CrosstabRequest) (*models.Crosstab, error)
	// ColumnStats summarizes one schema column.
	ColumnStats(ctx context.Context, column string) (*models.ColumnStats, error)
}

// AssociationEngine computes the pairwise relationship graph.
type AssociationEngine interface {
	Compute(ctx context.Context, columns []models.Column) (*models.RelationshipSet, error)
}

// EffectProfiler computes landmark effect sizes.
type EffectProfiler interface {
	Landmarks(ctx context.Context) (*models.EffectSet, error)
}

// CohortProfiler compares filtered cohorts with the population.
type CohortProfiler interface {
	Sizes(ctx context.Context, cond Condition) (models.CohortSizes, error)
	Percentiles(ctx context.Context, cond Condition, metrics []string) ([]models.PercentileCard, error)
	OverIndexing(ctx context.Context, cond Condition, candidates []string, opts OverIndexOptions) ([]models.OverIndexEntry, error)
	Compare(ctx context.Context, condA, condB Condition, candidates []string, opts CompareOptions) ([]models.ComparisonEntry, error)
	CompareMetrics(ctx context.Context, condA, condB Condition, metrics []string) ([]models.MetricComparison, error)
	Histogram(ctx context.Context, cond Condition, metric string, bins int) (*models.Histogram, error)
	Summary(ctx context.Context, filters []models.Filter, metrics, candidates []string) (*models.CohortSummary, error)
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
