// Package stats holds the pure statistics used by the association engine and
// the cohort profiler. Nothing here touches the engine.
package stats

import (
	"math"
)

// Cell is one observed (row value, column value) count of a contingency table.
type Cell struct {
	Row   string
	Col   string
	Count float64
}

// LiftPattern is the contingency cell whose co-occurrence is most surprising.
type LiftPattern struct {
	Row   string
	Col   string
	Lift  float64
	Score float64
}

// Contingency is the outcome of a chi-square pass over a contingency table.
type Contingency struct {
	V       float64
	N       float64
	Rows    int
	Cols    int
	Pattern *LiftPattern
}

// MinPatternCount is the smallest observed count a lift pattern may rest on.
const MinPatternCount = 6

// CramersV computes Cramer's V from sparse cells. Missing cells count as
// zero. ok is false when the table has fewer than two distinct rows or
// columns, or no observations. Repeated (row, col) cells are summed.
func CramersV(cells []Cell) (Contingency, bool) {
	var (
		rowOrder []string
		colOrder []string
		rowTotal = make(map[string]float64)
		colTotal = make(map[string]float64)
		observed = make(map[[2]string]float64)
		total    float64
	)

	for _, c := range cells {
		if _, ok := rowTotal[c.Row]; !ok {
			rowOrder = append(rowOrder, c.Row)
		}
		if _, ok := colTotal[c.Col]; !ok {
			colOrder = append(colOrder, c.Col)
		}
		rowTotal[c.Row] += c.Count
		colTotal[c.Col] += c.Count
		observed[[2]string{c.Row, c.Col}] += c.Count
		total += c.Count
	}

	r, k := len(rowOrder), len(colOrder)
	if total <= 0 || r < 2 || k < 2 {
		return Contingency{N: total, Rows: r, Cols: k}, false
	}

	var chi2 float64
	var best *LiftPattern

	for _, a := range rowOrder {
		for _, b := range colOrder {
			expected := rowTotal[a] * colTotal[b] / total
			if expected <= 0 {
				continue
			}
			obs := observed[[2]string{a, b}]
			chi2 += (obs - expected) * (obs - expected) / expected

			lift := obs / expected
			score := lift * (obs / total)
			if obs >= MinPatternCount && (best == nil || score > best.Score) {
				best = &LiftPattern{Row: a, Col: b, Lift: lift, Score: score}
			}
		}
	}

	denom := total * float64(min(r-1, k-1))
	if denom <= 0 {
		return Contingency{N: total, Rows: r, Cols: k}, false
	}

	return Contingency{
		V:       math.Sqrt(chi2 / denom),
		N:       total,
		Rows:    r,
		Cols:    k,
		Pattern: best,
	}, true
}

// Round rounds x to places decimals, halves toward positive infinity.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(x*p+0.5) / p
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
