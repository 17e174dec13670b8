package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/tally/pkg/cache"
	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/models"
)

func TestCachedQueryService_Crosstab(t *testing.T) {
	exec := &mockExecutor{
		executeFunc: func(ctx context.Context, sql string) (*models.QueryResult, error) {
			return result([]string{"x", "y", "count"}, []any{"Liberal", 1.0, 12.0}), nil
		},
	}
	inner, _, _ := newTestQueryService(exec)
	collector := newMockMetricsCollector()
	svc := NewCachedQueryService(inner, cache.New[any](nil), collector)

	req := &CrosstabRequest{X: "politics", Y: "biomale", Filters: []models.Filter{models.Eq("age", nil)}}
	first, err := svc.Crosstab(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Crosstab(context.Background(), &CrosstabRequest{X: "politics", Y: "biomale", Filters: []models.Filter{models.Eq("age", nil)}})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, exec.Queries(), 1)
	assert.Equal(t, [][]string{
		{"op", "crosstab", "result", "miss"},
		{"op", "crosstab", "result", "hit"},
	}, collector.Labels(metrics.CacheLookups))

	// An empty set filter differs from an IS NULL filter.
	_, err = svc.Crosstab(context.Background(), &CrosstabRequest{X: "politics", Y: "biomale", Filters: []models.Filter{models.OneOf("age")}})
	require.NoError(t, err)
	assert.Len(t, exec.Queries(), 2)
}

func TestCachedQueryService_ErrorsNotCached(t *testing.T) {
	exec := &mockExecutor{}
	inner, _, _ := newTestQueryService(exec)
	svc := NewCachedQueryService(inner, cache.New[any](nil), nil)

	for i := 0; i < 2; i++ {
		_, err := svc.ColumnStats(context.Background(), "nope")
		assert.Equal(t, errors.CodeColumnNotFound, errors.GetCode(err))
	}
	assert.Empty(t, exec.Queries())

	_, err := svc.Crosstab(context.Background(), nil)
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))
}

func TestCachedQueryService_ExecuteBypassesCache(t *testing.T) {
	exec := &mockExecutor{}
	inner, _, _ := newTestQueryService(exec)
	results := cache.New[any](nil)
	svc := NewCachedQueryService(inner, results, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Execute(context.Background(), &models.QueryRequest{SQL: "SELECT 1"})
		require.NoError(t, err)
	}
	assert.Len(t, exec.Queries(), 2)
	assert.Zero(t, results.Len())
}
