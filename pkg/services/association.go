package services

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/repositories/duckdb"
	"github.com/TFMV/tally/pkg/sqlbuild"
	"github.com/TFMV/tally/pkg/stats"
)

// Association defaults.
const (
	DefaultBatchSize           = 50
	DefaultMaxCategoricalPairs = 12000
	DefaultMinCorrelationN     = 500
	DefaultNoiseFloor          = 0.05
	DefaultTopPerColumn        = 20

	// Eligibility bounds.
	MaxNullRatio           = 0.7
	MaxEligibleCardinality = 100
	MinCategoricalLevels   = 2
	MaxCategoricalLevels   = 30

	clusterIterations = 12
	maxBridges        = 4
)

// AssociationOptions tune an association run. Zero values take the defaults.
type AssociationOptions struct {
	BatchSize           int
	MaxCategoricalPairs int
	MinCorrelationN     int64
	NoiseFloor          float64
	TopPerColumn        int
	Timeout             time.Duration
}

func (o AssociationOptions) withDefaults() AssociationOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxCategoricalPairs <= 0 {
		o.MaxCategoricalPairs = DefaultMaxCategoricalPairs
	}
	if o.MinCorrelationN <= 0 {
		o.MinCorrelationN = DefaultMinCorrelationN
	}
	if o.NoiseFloor <= 0 {
		o.NoiseFloor = DefaultNoiseFloor
	}
	if o.TopPerColumn <= 0 {
		o.TopPerColumn = DefaultTopPerColumn
	}
	return o
}

// associationEngine implements AssociationEngine.
type associationEngine struct {
	exec    repositories.Executor
	logger  Logger
	metrics metrics.Collector
	opts    AssociationOptions
	now     func() time.Time
}

// NewAssociationEngine creates an association engine.
func NewAssociationEngine(exec repositories.Executor, logger Logger, collector metrics.Collector, opts AssociationOptions) AssociationEngine {
	return &associationEngine{
		exec:    exec,
		logger:  logger,
		metrics: collector,
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// PartitionColumns splits columns into the categorical and numeric sets an
// association run considers. Columns that are mostly null, high-cardinality
// or free text are ineligible.
func PartitionColumns(columns []models.Column) (categorical, numeric []models.Column) {
	for _, col := range columns {
		if col.NullRatio >= MaxNullRatio ||
			col.ApproxCardinality >= MaxEligibleCardinality ||
			col.LogicalType == models.LogicalText {
			continue
		}
		switch col.LogicalType {
		case models.LogicalCategorical, models.LogicalBoolean:
			if col.ApproxCardinality >= MinCategoricalLevels && col.ApproxCardinality <= MaxCategoricalLevels {
				categorical = append(categorical, col)
			}
		case models.LogicalNumeric:
			numeric = append(numeric, col)
		}
	}
	return categorical, numeric
}

// relationshipGraph accumulates symmetric relationship entries per column.
type relationshipGraph struct {
	floor float64
	edges map[string][]models.Relationship
}

func (g *relationshipGraph) add(a, b string, metric models.RelationshipMetric, value float64, n int64, pattern string) bool {
	if !stats.IsFinite(value) || math.Abs(value) <= g.floor {
		return false
	}
	entry := models.Relationship{
		Metric:     metric,
		Value:      stats.Round(math.Abs(value), 4),
		N:          n,
		TopPattern: pattern,
	}
	if metric == models.MetricCorrelation {
		entry.Direction = "positive"
		if value < 0 {
			entry.Direction = "negative"
		}
	}
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		e := entry
		e.Column = pair[1]
		g.edges[pair[0]] = append(g.edges[pair[0]], e)
	}
	return true
}

// Compute runs every eligible pair and assembles the relationship graph.
// Failed pairs are logged and skipped; only cancellation aborts the run.
func (e *associationEngine) Compute(ctx context.Context, columns []models.Column) (*models.RelationshipSet, error) {
	categorical, numeric := PartitionColumns(columns)
	e.logger.Info("Computing associations",
		"columns", len(columns),
		"categorical", len(categorical),
		"numeric", len(numeric))

	byName := make(map[string]models.Column, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}

	graph := &relationshipGraph{floor: e.opts.NoiseFloor, edges: make(map[string][]models.Relationship)}
	set := &models.RelationshipSet{GeneratedAt: e.now().UTC()}

	if err := e.correlations(ctx, numeric, graph, set); err != nil {
		return nil, err
	}
	if err := e.cramers(ctx, categorical, graph, set); err != nil {
		return nil, err
	}

	set.Relationships = rankRelationships(graph.edges, e.opts.TopPerColumn)
	set.ColumnCount = len(set.Relationships)
	for _, rels := range set.Relationships {
		set.PairCount += len(rels)
	}
	set.Clusters, set.ClusterByColumn = clusterRelationships(set.Relationships, byName)

	e.metrics.RecordGauge(metrics.RelationshipsCurrent, float64(set.PairCount))
	e.logger.Info("Associations computed",
		"column_count", set.ColumnCount,
		"pair_count", set.PairCount,
		"clusters", len(set.Clusters),
		"skipped", set.Skipped,
		"failed", set.Failed)

	return set, nil
}

func (e *associationEngine) correlations(ctx context.Context, numeric []models.Column, graph *relationshipGraph, set *models.RelationshipSet) error {
	for i, anchor := range numeric {
		targets := numeric[i+1:]
		a := sqlbuild.Col(anchor.Name)

		for start := 0; start < len(targets); start += e.opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, errors.CodeQueryFailed, "association run cancelled")
			}
			batch := targets[start:min(start+e.opts.BatchSize, len(targets))]

			selects := make([]sqlbuild.Fragment, 0, 2*len(batch))
			for k, target := range batch {
				selects = append(selects, sqlbuild.Corr(a, sqlbuild.Col(target.Name)).As("corr_"+strconv.Itoa(k)))
			}
			for k, target := range batch {
				both := sqlbuild.And(sqlbuild.IsNotNull(a), sqlbuild.IsNotNull(sqlbuild.Col(target.Name)))
				selects = append(selects, sqlbuild.CountStar().Filter(both).Typed("BIGINT").As("n_"+strconv.Itoa(k)))
			}

			sql, err := sqlbuild.Select(selects...).From(sqlbuild.Table(duckdb.DataTable)).Build()
			if err == nil {
				var row map[string]any
				row, err = e.exec.QueryRow(ctx, sql, e.opts.Timeout)
				if err == nil {
					e.collectCorrelations(anchor, batch, row, graph)
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					return errors.Wrap(err, errors.CodeQueryFailed, "association run cancelled")
				}
				set.Failed += len(batch)
				e.logger.Warn("Correlation batch failed", "error", err, "anchor", anchor.Name, "targets", len(batch))
			}
		}
	}
	return nil
}

func (e *associationEngine) collectCorrelations(anchor models.Column, batch []models.Column, row map[string]any, graph *relationshipGraph) {
	for k, target := range batch {
		r, ok := converter.Float(row["corr_"+strconv.Itoa(k)])
		n := int64(converter.FloatOr(row["n_"+strconv.Itoa(k)], 0))
		if !ok || n < e.opts.MinCorrelationN {
			continue
		}
		e.metrics.IncrementCounter(metrics.PairsComputed, "metric", string(models.MetricCorrelation))
		graph.add(anchor.Name, target.Name, models.MetricCorrelation, r, n, correlationPattern(anchor, target, r))
	}
}

func (e *associationEngine) cramers(ctx context.Context, categorical []models.Column, graph *relationshipGraph, set *models.RelationshipSet) error {
	computed := 0
	for i, colA := range categorical {
		a := sqlbuild.Col(colA.Name)
		for _, colB := range categorical[i+1:] {
			if computed >= e.opts.MaxCategoricalPairs {
				set.Skipped++
				continue
			}
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, errors.CodeQueryFailed, "association run cancelled")
			}

			b := sqlbuild.Col(colB.Name)
			sql, err := sqlbuild.Select(
				sqlbuild.CastVarchar(a).As("a_val"),
				sqlbuild.CastVarchar(b).As("b_val"),
				sqlbuild.CountStar().Typed("BIGINT").As("cnt"),
			).
				From(sqlbuild.Table(duckdb.DataTable)).
				Where(sqlbuild.IsNotNull(a), sqlbuild.IsNotNull(b)).
				GroupByOrdinal(1, 2).
				Build()

			var result *models.QueryResult
			if err == nil {
				result, err = e.exec.Execute(ctx, sql, e.opts.Timeout)
			}
			if err != nil {
				if ctx.Err() != nil {
					return errors.Wrap(err, errors.CodeQueryFailed, "association run cancelled")
				}
				set.Failed++
				e.logger.Warn("Cramer's V pair failed", "error", err, "a", colA.Name, "b", colB.Name)
				continue
			}

			cells := make([]stats.Cell, 0, result.RowCount())
			for _, row := range result.Rows {
				cells = append(cells, stats.Cell{
					Row:   valueKey(cell(row, 0)),
					Col:   valueKey(cell(row, 1)),
					Count: converter.FloatOr(cell(row, 2), 0),
				})
			}
			table, ok := stats.CramersV(cells)
			if !ok {
				continue
			}

			graph.add(colA.Name, colB.Name, models.MetricCramersV, table.V, int64(table.N), liftPattern(table.Pattern))
			computed++
			e.metrics.IncrementCounter(metrics.PairsComputed, "metric", string(models.MetricCramersV))
		}
	}

	if set.Skipped > 0 {
		e.logger.Warn("Categorical pair budget exhausted", "budget", e.opts.MaxCategoricalPairs, "skipped", set.Skipped)
	}
	return nil
}

func valueKey(v any) string {
	if v == nil {
		return "NULL"
	}
	return converter.String(v)
}

func correlationPattern(anchor, target models.Column, r float64) string {
	direction := "higher"
	if r < 0 {
		direction = "lower"
	}
	return fmt.Sprintf("Higher %s tends to align with %s %s.",
		shortLabel(anchor.Label(), 34), direction, shortLabel(target.Label(), 34))
}

func liftPattern(p *stats.LiftPattern) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("People who chose %s were %.1fx more likely to also choose %s.",
		shortLabel(p.Row, 34), p.Lift, shortLabel(p.Col, 34))
}

// shortLabel truncates text to limit runes with an ellipsis.
func shortLabel(text string, limit int) string {
	if text == "" {
		return "Unknown"
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

// rankRelationships keeps the strongest entry per target, orders by value
// desc then target name, and keeps the top entries per source.
func rankRelationships(edges map[string][]models.Relationship, top int) map[string][]models.Relationship {
	out := make(map[string][]models.Relationship, len(edges))
	for source, rels := range edges {
		best := make(map[string]models.Relationship, len(rels))
		for _, rel := range rels {
			if existing, ok := best[rel.Column]; !ok || rel.Value > existing.Value {
				best[rel.Column] = rel
			}
		}

		ranked := make([]models.Relationship, 0, len(best))
		for _, rel := range best {
			ranked = append(ranked, rel)
		}
		slices.SortFunc(ranked, func(a, b models.Relationship) int {
			return cmp.Or(cmp.Compare(b.Value, a.Value), cmp.Compare(a.Column, b.Column))
		})
		if len(ranked) > top {
			ranked = ranked[:top]
		}
		if len(ranked) > 0 {
			out[source] = ranked
		}
	}
	return out
}

func clusterPrefix(tag models.CategoryTag) string {
	switch tag {
	case models.TagFetish:
		return "Fetish"
	case models.TagDemographic:
		return "Demographic"
	case models.TagOcean:
		return "Personality"
	case models.TagDerived:
		return "Derived"
	default:
		return "General"
	}
}

// clusterRelationships groups columns by weighted label propagation over the
// relationship graph. Nodes are visited by degree desc, then name; label
// ties break on the smaller label.
func clusterRelationships(rels map[string][]models.Relationship, byName map[string]models.Column) ([]models.Cluster, map[string]string) {
	nodes := make([]string, 0, len(rels))
	for node := range rels {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	degree := func(node string) int { return len(rels[node]) }

	adjacency := make(map[string]map[string]float64, len(nodes))
	link := func(from, to string, w float64) {
		if adjacency[from] == nil {
			adjacency[from] = make(map[string]float64)
		}
		adjacency[from][to] = max(adjacency[from][to], w)
	}
	for _, source := range nodes {
		for _, rel := range rels[source] {
			link(source, rel.Column, rel.Value)
			link(rel.Column, source, rel.Value)
		}
	}

	ordered := slices.Clone(nodes)
	slices.SortStableFunc(ordered, func(a, b string) int { return cmp.Compare(degree(b), degree(a)) })

	label := make(map[string]string, len(nodes))
	for _, node := range nodes {
		label[node] = node
	}

	for iter := 0; iter < clusterIterations; iter++ {
		changed := 0
		for _, node := range ordered {
			neighbors := adjacency[node]
			if len(neighbors) == 0 {
				continue
			}
			weights := make(map[string]float64)
			for neighbor, w := range neighbors {
				weights[label[neighbor]] += w
			}

			bestLabel, bestWeight := label[node], -1.0
			for _, l := range sortedKeys(weights) {
				if weights[l] > bestWeight {
					bestLabel, bestWeight = l, weights[l]
				}
			}
			if bestLabel != label[node] {
				label[node] = bestLabel
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	groups := make(map[string][]string)
	var order []string
	for _, node := range nodes {
		l := label[node]
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], node)
	}
	raw := make([][]string, 0, len(order))
	for _, l := range order {
		raw = append(raw, groups[l])
	}
	slices.SortStableFunc(raw, func(a, b []string) int { return cmp.Compare(len(b), len(a)) })

	clusterOf := make(map[string]string, len(nodes))
	index := make(map[string]int, len(raw))
	for i, members := range raw {
		id := "cluster-" + strconv.Itoa(i+1)
		index[id] = i
		for _, m := range members {
			clusterOf[m] = id
		}
	}

	clusters := make([]models.Cluster, 0, len(raw))
	for i, members := range raw {
		id := "cluster-" + strconv.Itoa(i+1)

		hub := slices.Clone(members)
		slices.SortStableFunc(hub, func(a, b string) int { return cmp.Compare(degree(b), degree(a)) })
		hubLabel := hub[0]
		if col, ok := byName[hub[0]]; ok {
			hubLabel = col.Label()
		}

		bridgeWeight := make(map[string]float64)
		for _, m := range members {
			for neighbor, w := range adjacency[m] {
				if other := clusterOf[neighbor]; other != "" && other != id {
					bridgeWeight[other] += w
				}
			}
		}
		bridges := sortedKeys(bridgeWeight)
		slices.SortStableFunc(bridges, func(a, b string) int {
			return cmp.Or(cmp.Compare(bridgeWeight[b], bridgeWeight[a]), cmp.Compare(index[a], index[b]))
		})
		if len(bridges) > maxBridges {
			bridges = bridges[:maxBridges]
		}

		clusters = append(clusters, models.Cluster{
			ID:        id,
			Label:     clusterPrefix(dominantTag(members, byName)) + " · " + shortLabel(hubLabel, 28),
			Members:   members,
			BridgesTo: bridges,
		})
	}
	return clusters, clusterOf
}

// dominantTag is the most common tag among members; ties go to the tag seen
// first. Untagged members count as other.
func dominantTag(members []string, byName map[string]models.Column) models.CategoryTag {
	counts := make(map[models.CategoryTag]int)
	var seen []models.CategoryTag
	for _, m := range members {
		tags := byName[m].Tags
		if len(tags) == 0 {
			tags = []models.CategoryTag{models.TagOther}
		}
		for _, t := range tags {
			if counts[t] == 0 {
				seen = append(seen, t)
			}
			counts[t]++
		}
	}
	best, bestCount := models.TagOther, -1
	for _, t := range seen {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
