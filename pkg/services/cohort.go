package services

import (
	"context"
	"time"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
	"github.com/TFMV/tally/pkg/sqlbuild"
	"github.com/TFMV/tally/pkg/stats"
)

// Histogram bin bounds.
const (
	DefaultHistogramBins = 40
	MinHistogramBins     = 10
	MaxHistogramBins     = 80
)

// Condition is a cohort predicate over the data relation.
type Condition = sqlbuild.Fragment

// NewCondition builds a cohort predicate from equality and set filters. No
// filters select everyone.
func NewCondition(filters []models.Filter) Condition {
	return sqlbuild.Condition(filters)
}

// OverIndexOptions bound an over-indexing ranking.
type OverIndexOptions = stats.OverIndexOptions

// CompareOptions bound a two-cohort comparison.
type CompareOptions = stats.CompareOptions

// cohortProfiler implements CohortProfiler.
type cohortProfiler struct {
	exec    repositories.Executor
	schema  repositories.SchemaRepository
	logger  Logger
	timeout time.Duration
}

// NewCohortProfiler creates a cohort profiler. Metric and candidate columns
// are checked against schema.
func NewCohortProfiler(exec repositories.Executor, schema repositories.SchemaRepository, logger Logger, timeout time.Duration) CohortProfiler {
	return &cohortProfiler{
		exec:    exec,
		schema:  schema,
		logger:  logger,
		timeout: timeout,
	}
}

func dataTable() sqlbuild.Fragment { return sqlbuild.Table(duckdb.DataTable) }

// columns resolves names or display names to column names.
func (p *cohortProfiler) columns(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		col, ok := p.schema.Column(name)
		if !ok {
			return nil, errors.Newf(errors.CodeColumnNotFound, "Column '%s' not found.", name)
		}
		out = append(out, col.Name)
	}
	return out, nil
}

// execute runs a union of per-column statements.
func (p *cohortProfiler) execute(ctx context.Context, stmts []*sqlbuild.SelectBuilder) (*models.QueryResult, error) {
	var (
		sql string
		err error
	)
	if len(stmts) == 1 {
		sql, err = stmts[0].Build()
	} else {
		union := sqlbuild.UnionAll(stmts...)
		sql, err = union.String(), union.Err()
	}
	if err != nil {
		return nil, err
	}
	return p.exec.Execute(ctx, sql, p.timeout)
}

// Sizes counts the population and the cohort.
func (p *cohortProfiler) Sizes(ctx context.Context, cond Condition) (models.CohortSizes, error) {
	sql, err := sqlbuild.Select(
		sqlbuild.CountStar().Typed("DOUBLE").As("total_size"),
		sqlbuild.CountStar().Filter(cond).Typed("DOUBLE").As("cohort_size"),
	).From(dataTable()).Build()
	if err != nil {
		return models.CohortSizes{}, err
	}

	row, err := p.exec.QueryRow(ctx, sql, p.timeout)
	if err != nil {
		return models.CohortSizes{}, err
	}
	return models.CohortSizes{
		Total:  converter.FloatOr(row["total_size"], 0),
		Cohort: converter.FloatOr(row["cohort_size"], 0),
	}, nil
}

// Percentiles compares the cohort with the population on each metric. The
// global percentile is the share of the non-null population at or below the
// cohort median.
func (p *cohortProfiler) Percentiles(ctx context.Context, cond Condition, metrics []string) ([]models.PercentileCard, error) {
	names, err := p.columns(metrics)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.PercentileCard{}, nil
	}

	stmts := make([]*sqlbuild.SelectBuilder, 0, len(names))
	for _, name := range names {
		stmts = append(stmts, percentileStatement(name, cond))
	}

	result, err := p.execute(ctx, stmts)
	if err != nil {
		p.logger.Error("Percentile query failed", "error", err, "metrics", len(names))
		return nil, err
	}

	cards := make([]models.PercentileCard, 0, result.RowCount())
	for i := range result.Rows {
		row := result.Row(i)
		n := converter.FloatOr(row["cohort_n"], 0)
		card := models.PercentileCard{
			Metric:           converter.String(row["metric"]),
			CohortMedian:     converter.FloatPtr(row["cohort_median"]),
			CohortMean:       converter.FloatPtr(row["cohort_mean"]),
			CohortSD:         converter.FloatPtr(row["cohort_sd"]),
			CohortN:          n,
			GlobalMedian:     converter.FloatPtr(row["global_median"]),
			GlobalSD:         converter.FloatPtr(row["global_sd"]),
			GlobalPercentile: converter.FloatPtr(row["global_percentile"]),
			Reliability:      stats.Reliability(n),
			Confidence:       stats.ConfidenceLabel(n),
		}
		if card.CohortMedian != nil && card.CohortSD != nil {
			ci := stats.MedianCI(*card.CohortSD, n, *card.CohortMedian)
			card.MedianLower, card.MedianUpper = &ci.Lower, &ci.Upper
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func percentileStatement(metric string, cond Condition) *sqlbuild.SelectBuilder {
	q := sqlbuild.Col(metric)
	cohort := sqlbuild.Select(
		sqlbuild.QuantileCont(q, 0.5).Typed("DOUBLE").As("cohort_median"),
		sqlbuild.Avg(sqlbuild.CastDouble(q)).Typed("DOUBLE").As("cohort_mean"),
		sqlbuild.StddevSamp(sqlbuild.CastDouble(q)).Typed("DOUBLE").As("cohort_sd"),
		sqlbuild.CountStar().Typed("BIGINT").As("cohort_n"),
	).From(dataTable()).Where(cond, sqlbuild.IsNotNull(q))
	global := sqlbuild.Select(
		sqlbuild.QuantileCont(q, 0.5).Typed("DOUBLE").As("global_median"),
		sqlbuild.StddevSamp(sqlbuild.CastDouble(q)).Typed("DOUBLE").As("global_sd"),
	).From(dataTable()).Where(sqlbuild.IsNotNull(q))

	median := sqlbuild.Raw("(SELECT cohort_median FROM cohort)")
	atOrBelow := sqlbuild.Select(
		sqlbuild.Expr("100.0 * %s::DOUBLE / NULLIF(count(*)::DOUBLE, 0)", sqlbuild.SumIf(sqlbuild.Le(q, median))),
	).From(dataTable()).Where(sqlbuild.IsNotNull(q))

	return sqlbuild.Select(
		sqlbuild.Lit(metric).As("metric"),
		median.As("cohort_median"),
		sqlbuild.Raw("(SELECT cohort_mean FROM cohort)").As("cohort_mean"),
		sqlbuild.Raw("(SELECT cohort_sd FROM cohort)").As("cohort_sd"),
		sqlbuild.Raw("(SELECT cohort_n FROM cohort)").As("cohort_n"),
		sqlbuild.Raw("(SELECT global_median FROM global_stats)").As("global_median"),
		sqlbuild.Raw("(SELECT global_sd FROM global_stats)").As("global_sd"),
		sqlbuild.Expr("CASE WHEN %s IS NULL THEN NULL ELSE %s END", median, sqlbuild.Sub(atOrBelow)).As("global_percentile"),
	).
		With("cohort", cohort).
		With("global_stats", global)
}

// countsStatement counts each non-null value of column in two predicates.
func countsStatement(column string, first, second sqlbuild.Fragment) *sqlbuild.SelectBuilder {
	c := sqlbuild.Col(column)
	return sqlbuild.Select(
		sqlbuild.Lit(column).As("column_name"),
		sqlbuild.CastVarchar(c).As("value"),
		sqlbuild.SumIf(first).Typed("DOUBLE").As("count_a"),
		sqlbuild.SumIf(second).Typed("DOUBLE").As("count_b"),
	).
		From(dataTable()).
		Where(sqlbuild.IsNotNull(c)).
		GroupByOrdinal(1, 2)
}

// pairCounts fetches per (column, value) counts for two predicates plus the
// size of each, in one statement.
func (p *cohortProfiler) pairCounts(ctx context.Context, first, second Condition, candidates []string) ([]models.PairCounts, float64, float64, error) {
	stmts := make([]*sqlbuild.SelectBuilder, 0, len(candidates))
	for _, name := range candidates {
		stmts = append(stmts, countsStatement(name, first, second))
	}
	sizes := sqlbuild.Select(
		sqlbuild.CountStar().Filter(first).Typed("DOUBLE").As("size_a"),
		sqlbuild.CountStar().Filter(second).Typed("DOUBLE").As("size_b"),
	).From(dataTable())

	sql, err := sqlbuild.Select(
		sqlbuild.Raw("counts.*"),
		sqlbuild.Raw("sizes.size_a"),
		sqlbuild.Raw("sizes.size_b"),
	).
		WithRaw("counts", sqlbuild.UnionAll(stmts...)).
		With("sizes", sizes).
		From(sqlbuild.Raw("counts")).
		CrossJoin(sqlbuild.Raw("sizes")).
		Build()
	if err != nil {
		return nil, 0, 0, err
	}

	result, err := p.exec.Execute(ctx, sql, p.timeout)
	if err != nil {
		return nil, 0, 0, err
	}

	var sizeA, sizeB float64
	pairs := make([]models.PairCounts, 0, result.RowCount())
	for i := range result.Rows {
		row := result.Row(i)
		sizeA = converter.FloatOr(row["size_a"], 0)
		sizeB = converter.FloatOr(row["size_b"], 0)
		pairs = append(pairs, models.PairCounts{
			Column: converter.String(row["column_name"]),
			Value:  converter.String(row["value"]),
			CountA: converter.FloatOr(row["count_a"], 0),
			CountB: converter.FloatOr(row["count_b"], 0),
		})
	}
	return pairs, sizeA, sizeB, nil
}

// OverIndexing ranks the candidate values the cohort over- and under-indexes
// on relative to the population.
func (p *cohortProfiler) OverIndexing(ctx context.Context, cond Condition, candidates []string, opts OverIndexOptions) ([]models.OverIndexEntry, error) {
	names, err := p.columns(candidates)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.OverIndexEntry{}, nil
	}

	pairs, cohortSize, totalSize, err := p.pairCounts(ctx, cond, sqlbuild.True(), names)
	if err != nil {
		p.logger.Error("Over-indexing query failed", "error", err, "candidates", len(names))
		return nil, err
	}

	counts := make([]models.ValueCounts, len(pairs))
	for i, pc := range pairs {
		counts[i] = models.ValueCounts{Column: pc.Column, Value: pc.Value, CohortCount: pc.CountA, GlobalCount: pc.CountB}
	}
	return stats.RankOverIndex(counts, models.CohortSizes{Total: totalSize, Cohort: cohortSize}, opts), nil
}

// Compare ranks candidate values by the percentage-point gap between two
// cohorts.
func (p *cohortProfiler) Compare(ctx context.Context, condA, condB Condition, candidates []string, opts CompareOptions) ([]models.ComparisonEntry, error) {
	names, err := p.columns(candidates)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.ComparisonEntry{}, nil
	}

	pairs, sizeA, sizeB, err := p.pairCounts(ctx, condA, condB, names)
	if err != nil {
		p.logger.Error("Comparison query failed", "error", err, "candidates", len(names))
		return nil, err
	}
	return stats.RankComparison(pairs, sizeA, sizeB, opts), nil
}

// CompareMetrics reports medians, means, spreads and Cohen's d of two
// cohorts on each metric.
func (p *cohortProfiler) CompareMetrics(ctx context.Context, condA, condB Condition, metrics []string) ([]models.MetricComparison, error) {
	names, err := p.columns(metrics)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.MetricComparison{}, nil
	}

	stmts := make([]*sqlbuild.SelectBuilder, 0, len(names))
	for _, name := range names {
		q := sqlbuild.Col(name)
		v := sqlbuild.CastDouble(q)
		a := sqlbuild.And(condA, sqlbuild.IsNotNull(q))
		b := sqlbuild.And(condB, sqlbuild.IsNotNull(q))
		stmts = append(stmts, sqlbuild.Select(
			sqlbuild.Lit(name).As("metric"),
			sqlbuild.QuantileCont(q, 0.5).Filter(a).Typed("DOUBLE").As("median_a"),
			sqlbuild.QuantileCont(q, 0.5).Filter(b).Typed("DOUBLE").As("median_b"),
			sqlbuild.Avg(v).Filter(a).Typed("DOUBLE").As("mean_a"),
			sqlbuild.Avg(v).Filter(b).Typed("DOUBLE").As("mean_b"),
			sqlbuild.StddevSamp(v).Filter(a).Typed("DOUBLE").As("sd_a"),
			sqlbuild.StddevSamp(v).Filter(b).Typed("DOUBLE").As("sd_b"),
			sqlbuild.CountStar().Filter(a).Typed("BIGINT").As("n_a"),
			sqlbuild.CountStar().Filter(b).Typed("BIGINT").As("n_b"),
		).From(dataTable()))
	}

	result, err := p.execute(ctx, stmts)
	if err != nil {
		p.logger.Error("Metric comparison query failed", "error", err, "metrics", len(names))
		return nil, err
	}

	out := make([]models.MetricComparison, 0, result.RowCount())
	for i := range result.Rows {
		row := result.Row(i)
		mc := models.MetricComparison{
			Metric:  converter.String(row["metric"]),
			MedianA: converter.FloatPtr(row["median_a"]),
			MedianB: converter.FloatPtr(row["median_b"]),
			MeanA:   converter.FloatPtr(row["mean_a"]),
			MeanB:   converter.FloatPtr(row["mean_b"]),
			SDA:     converter.FloatPtr(row["sd_a"]),
			SDB:     converter.FloatPtr(row["sd_b"]),
			NA:      converter.FloatOr(row["n_a"], 0),
			NB:      converter.FloatOr(row["n_b"], 0),
		}
		if mc.MeanA != nil && mc.MeanB != nil && mc.SDA != nil && mc.SDB != nil {
			mc.CohenD = stats.CohenD(*mc.MeanA, *mc.SDA, mc.NA, *mc.MeanB, *mc.SDB, mc.NB)
		}
		out = append(out, mc)
	}
	return out, nil
}

// ClampBins resolves a requested histogram bin count.
func ClampBins(bins int) int {
	if bins == 0 {
		bins = DefaultHistogramBins
	}
	return min(MaxHistogramBins, max(MinHistogramBins, bins))
}

// Histogram bins metric into equal-width bins over its population range and
// counts the population and the cohort per bin. Every bin is reported; a
// degenerate range puts all values in bin 1.
func (p *cohortProfiler) Histogram(ctx context.Context, cond Condition, metric string, bins int) (*models.Histogram, error) {
	names, err := p.columns([]string{metric})
	if err != nil {
		return nil, err
	}
	name := names[0]
	bins = ClampBins(bins)

	q := sqlbuild.Col(name)
	bounds := sqlbuild.Select(
		sqlbuild.Min(sqlbuild.CastDouble(q)).As("min_val"),
		sqlbuild.Max(sqlbuild.CastDouble(q)).As("max_val"),
	).From(dataTable()).Where(sqlbuild.IsNotNull(q))

	bin := sqlbuild.Expr(
		"CASE WHEN bounds.max_val IS NULL OR bounds.min_val IS NULL OR bounds.max_val <= bounds.min_val THEN 1 "+
			"ELSE least(%s, greatest(1, CAST(floor((%s - bounds.min_val) / (bounds.max_val - bounds.min_val) * %s) + 1 AS INTEGER))) END",
		sqlbuild.Int(bins), sqlbuild.CastDouble(q), sqlbuild.Int(bins),
	)

	sql, err := sqlbuild.Select(
		bin.As("bin"),
		sqlbuild.CountStar().Typed("DOUBLE").As("global_count"),
		sqlbuild.CountStar().Filter(cond).Typed("DOUBLE").As("cohort_count"),
		sqlbuild.Raw("any_value(bounds.min_val)").As("min_val"),
		sqlbuild.Raw("any_value(bounds.max_val)").As("max_val"),
	).
		With("bounds", bounds).
		From(dataTable()).
		CrossJoin(sqlbuild.Raw("bounds")).
		Where(sqlbuild.IsNotNull(q)).
		GroupByOrdinal(1).
		OrderBy(sqlbuild.Int(1)).
		Build()
	if err != nil {
		return nil, err
	}

	result, err := p.exec.Execute(ctx, sql, p.timeout)
	if err != nil {
		p.logger.Error("Histogram query failed", "error", err, "metric", name)
		return nil, err
	}

	hist := &models.Histogram{Metric: name, Bins: make([]models.HistogramBin, bins)}
	for i := range result.Rows {
		row := result.Row(i)
		if hist.Min == nil {
			hist.Min = converter.FloatPtr(row["min_val"])
			hist.Max = converter.FloatPtr(row["max_val"])
		}
		b := int(converter.FloatOr(row["bin"], 0))
		if b < 1 || b > bins {
			continue
		}
		hist.Bins[b-1].GlobalCount += converter.FloatOr(row["global_count"], 0)
		hist.Bins[b-1].CohortCount += converter.FloatOr(row["cohort_count"], 0)
	}

	var lo, width float64
	if hist.Min != nil && hist.Max != nil && *hist.Max > *hist.Min {
		lo, width = *hist.Min, (*hist.Max-*hist.Min)/float64(bins)
	} else if hist.Min != nil {
		lo = *hist.Min
	}
	for i := range hist.Bins {
		hist.Bins[i].Bin = i + 1
		hist.Bins[i].Start = lo + float64(i)*width
		hist.Bins[i].End = lo + float64(i+1)*width
	}
	return hist, nil
}

// Summary builds the cohort profile for filters: sizes, percentile cards
// and the default over-indexing ranking.
func (p *cohortProfiler) Summary(ctx context.Context, filters []models.Filter, metrics, candidates []string) (*models.CohortSummary, error) {
	cond := NewCondition(filters)
	if err := cond.Err(); err != nil {
		return nil, err
	}

	sizes, err := p.Sizes(ctx, cond)
	if err != nil {
		return nil, err
	}
	cards, err := p.Percentiles(ctx, cond, metrics)
	if err != nil {
		return nil, err
	}
	over, err := p.OverIndexing(ctx, cond, candidates, OverIndexOptions{})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Cohort summary computed",
		"filters", len(filters),
		"cohort_size", sizes.Cohort,
		"total_size", sizes.Total)

	return &models.CohortSummary{
		TotalSize:    sizes.Total,
		CohortSize:   sizes.Cohort,
		CohortShare:  stats.Round(stats.Share(sizes.Cohort, sizes.Total)*100, 2),
		Percentiles:  cards,
		OverIndexing: over,
	}, nil
}
