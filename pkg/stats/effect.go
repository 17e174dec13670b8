package stats

import (
	"math"
)

// CohenD is the standardized mean difference (meanA - meanB) / pooled sd.
// It returns 0 when either group has fewer than two observations or the
// pooled variance is not a positive finite number.
func CohenD(meanA, sdA, nA, meanB, sdB, nB float64) float64 {
	if nA < 2 || nB < 2 {
		return 0
	}
	numerator := (nA-1)*sdA*sdA + (nB-1)*sdB*sdB
	denominator := nA + nB - 2
	if denominator <= 0 {
		return 0
	}
	variance := numerator / denominator
	if !IsFinite(variance) || variance <= 0 {
		return 0
	}
	return (meanA - meanB) / math.Sqrt(variance)
}

// EffectNote describes the magnitude of an effect in words.
func EffectNote(effect float64) string {
	abs := math.Abs(effect)
	switch {
	case abs >= 0.5:
		return "one of the biggest in the dataset"
	case abs >= 0.3:
		return "large"
	case abs >= 0.2:
		return "moderate"
	case abs >= 0.1:
		return "noticeable"
	default:
		return "barely noticeable"
	}
}

// PercentileGap converts an effect into an approximate percentile-point gap.
// metric is "d" for standardized differences and "r" for correlations.
func PercentileGap(metric string, effect float64) int {
	abs := math.Abs(effect)
	if metric == "d" {
		return int(math.Max(1, math.Round(math.Min(40, abs*38))))
	}
	return int(math.Max(1, math.Round(math.Min(30, abs*55))))
}
