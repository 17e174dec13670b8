package services

import (
	"context"
	"strings"
	"time"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/guard"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/infrastructure/pool"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
	"github.com/TFMV/tally/pkg/sqlbuild"
	"github.com/TFMV/tally/pkg/stats"
)

const (
	// DefaultCrosstabLimit bounds crosstab rows when the caller gives no limit.
	DefaultCrosstabLimit = 200
	// TopValuesLimit is the number of values reported for non-numeric columns.
	TopValuesLimit = 12
)

// CrosstabRequest asks for grouped counts of two columns.
type CrosstabRequest struct {
	X       string          `json:"x"`
	Y       string          `json:"y"`
	Filters []models.Filter `json:"filters,omitempty"`
	Limit   *float64        `json:"limit,omitempty"`
}

// queryService implements QueryService interface.
type queryService struct {
	exec    repositories.Executor
	schema  repositories.SchemaRepository
	logger  Logger
	metrics metrics.Collector
	timeout time.Duration
}

// NewQueryService creates a new query service. timeout bounds every query.
func NewQueryService(
	exec repositories.Executor,
	schema repositories.SchemaRepository,
	logger Logger,
	collector metrics.Collector,
	timeout time.Duration,
) QueryService {
	return &queryService{
		exec:    exec,
		schema:  schema,
		logger:  logger,
		metrics: collector,
		timeout: timeout,
	}
}

// Execute guards and runs raw caller SQL. Guard rejections are returned
// unchanged; the libinjection advisory is logged and counted only.
func (s *queryService) Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	timer := s.metrics.StartTimer("query_execution")
	defer timer.Stop()

	if req == nil {
		return nil, errors.New(errors.CodeInvalidRequest, "Request payload failed validation.")
	}

	if advisory := guard.Inspect(req.SQL); advisory.Suspicious {
		s.metrics.IncrementCounter(metrics.InjectionAdvisories)
		s.logger.Warn("SQL matches an injection fingerprint",
			"fingerprint", advisory.Fingerprint,
			"query", pool.TruncateQuery(req.SQL))
	}

	guarded, err := guard.Guard(req.SQL, req.Limit)
	if err != nil {
		code := errors.GetCode(err)
		s.metrics.IncrementCounter(metrics.GuardRejections, "code", code)
		s.logger.Debug("Query rejected by guard", "code", code, "query", pool.TruncateQuery(req.SQL))
		return nil, err
	}

	start := time.Now()
	result, err := s.exec.Execute(ctx, guarded.SQL, s.timeout)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("Query execution failed",
			"error", err,
			"code", errors.GetCode(err),
			"query", pool.TruncateQuery(guarded.Normalized),
			"execution_time", elapsed)
		return nil, err
	}

	s.logger.Info("Query executed successfully",
		"kind", guarded.Kind,
		"rows", result.RowCount(),
		"limit", guarded.Limit,
		"execution_time", elapsed)

	return &models.QueryResponse{
		Columns: result.Columns,
		Rows:    result.Rows,
		Meta: models.QueryMeta{
			Limit:         guarded.Limit,
			RowCount:      result.RowCount(),
			QueryKind:     guarded.Kind,
			ExecutionTime: elapsed,
		},
	}, nil
}

// Crosstab counts rows grouped by two schema columns, largest groups first.
func (s *queryService) Crosstab(ctx context.Context, req *CrosstabRequest) (*models.Crosstab, error) {
	if req == nil || strings.TrimSpace(req.X) == "" || strings.TrimSpace(req.Y) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "Query parameters failed validation.")
	}

	x, xok := s.schema.Column(req.X)
	y, yok := s.schema.Column(req.Y)
	if !xok || !yok {
		return nil, errors.New(errors.CodeColumnNotFound, "x or y column was not found in schema metadata.").
			WithDetail("x", req.X).
			WithDetail("y", req.Y)
	}

	limit := guard.ClampLimit(req.Limit, DefaultCrosstabLimit)
	query := sqlbuild.Select(
		sqlbuild.Col(x.Name).As("x"),
		sqlbuild.Col(y.Name).As("y"),
		sqlbuild.CountStar().Typed("BIGINT").As("count"),
	).
		From(sqlbuild.Table(duckdb.DataTable)).
		GroupByOrdinal(1, 2).
		OrderBy(sqlbuild.Col("count").Desc()).
		Limit(limit)
	if len(req.Filters) > 0 {
		query.Where(sqlbuild.Condition(req.Filters))
	}

	sql, err := query.Build()
	if err != nil {
		return nil, err
	}

	result, err := s.exec.Execute(ctx, sql, s.timeout)
	if err != nil {
		s.logger.Error("Crosstab query failed", "error", err, "x", x.Name, "y", y.Name)
		return nil, err
	}

	cells := make([]models.CrosstabCell, 0, result.RowCount())
	for _, row := range result.Rows {
		cells = append(cells, models.CrosstabCell{
			X:     cell(row, 0),
			Y:     cell(row, 1),
			Count: converter.FloatOr(cell(row, 2), 0),
		})
	}

	s.logger.Debug("Crosstab computed", "x", x.Name, "y", y.Name, "rows", len(cells), "limit", limit)
	return &models.Crosstab{X: x.Name, Y: y.Name, Rows: cells, Limit: limit}, nil
}

// ColumnStats reports null counts for any column, plus a numeric summary for
// numeric columns or the most frequent values for everything else.
func (s *queryService) ColumnStats(ctx context.Context, column string) (*models.ColumnStats, error) {
	meta, ok := s.schema.Column(column)
	if !ok {
		return nil, errors.Newf(errors.CodeColumnNotFound, "Column '%s' not found.", column)
	}
	col := sqlbuild.Col(meta.Name)

	countSQL, err := sqlbuild.Select(
		sqlbuild.CountStar().Typed("BIGINT").As("total_count"),
		sqlbuild.Func("count", col).Typed("BIGINT").As("non_null_count"),
	).From(sqlbuild.Table(duckdb.DataTable)).Build()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build count query")
	}
	counts, err := s.exec.QueryRow(ctx, countSQL, s.timeout)
	if err != nil {
		return nil, err
	}

	out := &models.ColumnStats{
		Column:       meta.Name,
		LogicalType:  meta.LogicalType,
		TotalCount:   converter.FloatOr(counts["total_count"], 0),
		NonNullCount: converter.FloatOr(counts["non_null_count"], 0),
	}
	out.NullCount = out.TotalCount - out.NonNullCount

	if meta.LogicalType == models.LogicalNumeric {
		out.Kind = "numeric"
		err = s.numericSummary(ctx, col, out)
	} else {
		out.Kind = "categorical"
		err = s.topValues(ctx, col, out)
	}
	if err != nil {
		s.logger.Error("Column statistics failed", "error", err, "column", meta.Name)
		return nil, err
	}
	return out, nil
}

func (s *queryService) numericSummary(ctx context.Context, col sqlbuild.Fragment, out *models.ColumnStats) error {
	sql, err := sqlbuild.Select(
		sqlbuild.Avg(col).Typed("DOUBLE").As("mean"),
		sqlbuild.StddevSamp(col).Typed("DOUBLE").As("stddev"),
		sqlbuild.Min(col).Typed("DOUBLE").As("min"),
		sqlbuild.QuantileCont(col, 0.25).Typed("DOUBLE").As("p25"),
		sqlbuild.Func("median", col).Typed("DOUBLE").As("median"),
		sqlbuild.QuantileCont(col, 0.75).Typed("DOUBLE").As("p75"),
		sqlbuild.Max(col).Typed("DOUBLE").As("max"),
	).
		From(sqlbuild.Table(duckdb.DataTable)).
		Where(sqlbuild.IsNotNull(col)).
		Build()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build summary query")
	}

	row, err := s.exec.QueryRow(ctx, sql, s.timeout)
	if err != nil {
		return err
	}
	out.Mean = converter.FloatPtr(row["mean"])
	out.Stddev = converter.FloatPtr(row["stddev"])
	out.Min = converter.FloatPtr(row["min"])
	out.P25 = converter.FloatPtr(row["p25"])
	out.Median = converter.FloatPtr(row["median"])
	out.P75 = converter.FloatPtr(row["p75"])
	out.Max = converter.FloatPtr(row["max"])
	return nil
}

func (s *queryService) topValues(ctx context.Context, col sqlbuild.Fragment, out *models.ColumnStats) error {
	sql, err := sqlbuild.Select(
		sqlbuild.CastVarchar(col).As("value"),
		sqlbuild.CountStar().Typed("BIGINT").As("count"),
	).
		From(sqlbuild.Table(duckdb.DataTable)).
		Where(sqlbuild.IsNotNull(col)).
		GroupByOrdinal(1).
		OrderBy(sqlbuild.Col("count").Desc()).
		Limit(TopValuesLimit).
		Build()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build top values query")
	}

	result, err := s.exec.Execute(ctx, sql, s.timeout)
	if err != nil {
		return err
	}

	out.TopValues = make([]models.ValueCount, 0, result.RowCount())
	for _, row := range result.Rows {
		count := converter.FloatOr(cell(row, 1), 0)
		var pct float64
		if out.NonNullCount > 0 {
			pct = stats.Round(count/out.NonNullCount*100, 2)
		}
		out.TopValues = append(out.TopValues, models.ValueCount{
			Value:      cell(row, 0),
			Count:      count,
			Percentage: pct,
		})
	}
	return nil
}

func cell(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}
