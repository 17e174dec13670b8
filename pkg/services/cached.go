package services

import (
	"context"

	"github.com/TFMV/tally/pkg/cache"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/models"
)

// cachedQueryService memoizes crosstabs and column summaries. The dataset
// is immutable for the life of the process, so entries only age out by TTL
// or eviction. Raw SQL is never cached.
type cachedQueryService struct {
	QueryService
	results *cache.Cache[any]
	keys    cache.KeyGenerator
	metrics metrics.Collector
}

// NewCachedQueryService wraps inner with a result cache.
func NewCachedQueryService(inner QueryService, results *cache.Cache[any], collector metrics.Collector) QueryService {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &cachedQueryService{
		QueryService: inner,
		results:      results,
		keys:         cache.DefaultKeyGenerator{},
		metrics:      collector,
	}
}

// Crosstab returns a cached crosstab for identical requests.
func (s *cachedQueryService) Crosstab(ctx context.Context, req *CrosstabRequest) (*models.Crosstab, error) {
	if req == nil {
		return s.QueryService.Crosstab(ctx, req)
	}
	params := map[string]any{"x": req.X, "y": req.Y, "filters": filterKey(req.Filters)}
	if req.Limit != nil {
		params["limit"] = *req.Limit
	}
	return lookup(s, "crosstab", params, func() (*models.Crosstab, error) {
		return s.QueryService.Crosstab(ctx, req)
	})
}

// ColumnStats returns a cached column summary.
func (s *cachedQueryService) ColumnStats(ctx context.Context, column string) (*models.ColumnStats, error) {
	return lookup(s, "stats", map[string]any{"column": column}, func() (*models.ColumnStats, error) {
		return s.QueryService.ColumnStats(ctx, column)
	})
}

// lookup serves key from the cache or computes and stores it. Errors are
// not cached.
func lookup[T any](s *cachedQueryService, op string, params map[string]any, compute func() (T, error)) (T, error) {
	key := s.keys.GenerateKey(op, params)
	if key == "" {
		return compute()
	}
	if v, ok := s.results.Get(key); ok {
		if typed, ok := v.(T); ok {
			s.metrics.IncrementCounter(metrics.CacheLookups, "op", op, "result", "hit")
			return typed, nil
		}
	}
	s.metrics.IncrementCounter(metrics.CacheLookups, "op", op, "result", "miss")

	v, err := compute()
	if err != nil {
		return v, err
	}
	s.results.Put(key, v)
	return v, nil
}

// filterKey spells out set membership, which Filter's JSON form omits.
func filterKey(filters []models.Filter) []map[string]any {
	out := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		out = append(out, map[string]any{
			"column": f.Column,
			"value":  f.Value,
			"values": f.Values,
			"set":    f.IsSet,
		})
	}
	return out
}
