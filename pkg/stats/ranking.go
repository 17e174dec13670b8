package stats

import (
	"cmp"
	"math"
	"slices"

	"github.com/TFMV/tally/pkg/models"
)

// Defaults for cohort ranking.
const (
	DefaultOverLimit       = 12
	DefaultUnderLimit      = 5
	DefaultOverIndexMin    = 30
	DefaultComparisonMin   = 20
	DefaultComparisonLimit = 20
	MaxComparisonLimit     = 100
)

// OverIndexOptions bound an over-indexing ranking. Zero values take the
// defaults; everything is clamped to at least 1.
type OverIndexOptions struct {
	TopLimit   int
	UnderLimit int
	MinCount   int
}

func (o OverIndexOptions) normalized() OverIndexOptions {
	return OverIndexOptions{
		TopLimit:   max(1, orDefault(o.TopLimit, DefaultOverLimit)),
		UnderLimit: max(1, orDefault(o.UnderLimit, DefaultUnderLimit)),
		MinCount:   max(1, orDefault(o.MinCount, DefaultOverIndexMin)),
	}
}

// CompareOptions bound a two-cohort comparison.
type CompareOptions struct {
	MinCount int
	Limit    int
}

func (o CompareOptions) normalized() CompareOptions {
	return CompareOptions{
		MinCount: max(1, orDefault(o.MinCount, DefaultComparisonMin)),
		Limit:    min(MaxComparisonLimit, max(1, orDefault(o.Limit, DefaultComparisonLimit))),
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Share is count/size, or 0 for an empty population.
func Share(count, size float64) float64 {
	if size == 0 {
		return 0
	}
	return count / size
}

// RankOverIndex scores (column, value) counts of a cohort against the
// population. Pairs where either count is below MinCount are suppressed.
// Over-indexed values (ratio >= 1) come first, by ratio desc then cohort
// count desc; under-indexed values follow, by ratio asc then cohort count
// desc. Remaining ties break on column then value.
func RankOverIndex(counts []models.ValueCounts, sizes models.CohortSizes, opts OverIndexOptions) []models.OverIndexEntry {
	opts = opts.normalized()
	minCount := float64(opts.MinCount)

	var over, under []models.OverIndexEntry
	for _, c := range counts {
		if c.CohortCount < minCount || c.GlobalCount < minCount {
			continue
		}

		cohortPct := Share(c.CohortCount, sizes.Cohort)
		globalPct := Share(c.GlobalCount, sizes.Total)
		if globalPct <= 0 {
			continue
		}
		ratio := cohortPct / globalPct
		ci := WilsonCI(c.CohortCount, sizes.Cohort)

		entry := models.OverIndexEntry{
			Column:      c.Column,
			Value:       c.Value,
			CohortCount: c.CohortCount,
			GlobalCount: c.GlobalCount,
			CohortPct:   cohortPct,
			GlobalPct:   globalPct,
			Ratio:       &ratio,
			CILower:     ci.Lower,
			CIUpper:     ci.Upper,
		}
		if ratio >= 1 {
			entry.Direction = models.DirectionOver
			over = append(over, entry)
		} else {
			entry.Direction = models.DirectionUnder
			under = append(under, entry)
		}
	}

	slices.SortStableFunc(over, func(a, b models.OverIndexEntry) int {
		return cmp.Or(
			cmp.Compare(*b.Ratio, *a.Ratio),
			cmp.Compare(b.CohortCount, a.CohortCount),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Value, b.Value),
		)
	})
	slices.SortStableFunc(under, func(a, b models.OverIndexEntry) int {
		return cmp.Or(
			cmp.Compare(*a.Ratio, *b.Ratio),
			cmp.Compare(b.CohortCount, a.CohortCount),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Value, b.Value),
		)
	})

	out := make([]models.OverIndexEntry, 0, min(len(over), opts.TopLimit)+min(len(under), opts.UnderLimit))
	out = append(out, over[:min(len(over), opts.TopLimit)]...)
	out = append(out, under[:min(len(under), opts.UnderLimit)]...)
	return out
}

// RankComparison orders (column, value) pairs by the percentage-point gap
// between two cohorts. Both counts must reach MinCount.
func RankComparison(pairs []models.PairCounts, sizeA, sizeB float64, opts CompareOptions) []models.ComparisonEntry {
	opts = opts.normalized()
	minCount := float64(opts.MinCount)

	entries := make([]models.ComparisonEntry, 0, len(pairs))
	for _, p := range pairs {
		if p.CountA < minCount || p.CountB < minCount {
			continue
		}
		pctA := Share(p.CountA, sizeA)
		pctB := Share(p.CountB, sizeB)
		entries = append(entries, models.ComparisonEntry{
			Column:   p.Column,
			Value:    p.Value,
			CountA:   p.CountA,
			CountB:   p.CountB,
			PctA:     pctA,
			PctB:     pctB,
			AbsDelta: math.Abs((pctA - pctB) * 100),
		})
	}

	slices.SortStableFunc(entries, func(a, b models.ComparisonEntry) int {
		return cmp.Or(
			cmp.Compare(b.AbsDelta, a.AbsDelta),
			cmp.Compare(b.CountA+b.CountB, a.CountA+a.CountB),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Value, b.Value),
		)
	})

	return entries[:min(len(entries), opts.Limit)]
}
