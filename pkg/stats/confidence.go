package stats

import (
	"math"
)

// Z95 is the two-sided 95% normal quantile.
const Z95 = 1.959963984540054

// Interval is a closed confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// WilsonCI is the Wilson score 95% interval for successes out of n.
func WilsonCI(successes, n float64) Interval {
	if !IsFinite(n) || n <= 0 {
		return Interval{Lower: 0, Upper: 1}
	}

	p := clamp01(successes / n)
	z2 := Z95 * Z95
	denom := 1 + z2/n
	center := p + z2/(2*n)
	margin := Z95 * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	return Interval{
		Lower: clamp01((center - margin) / denom),
		Upper: clamp01((center + margin) / denom),
	}
}

// MedianCI approximates a 95% interval for a median from the sample sd,
// using the asymptotic standard error 1.2533 * sd / sqrt(n).
func MedianCI(sd, n, median float64) Interval {
	if !IsFinite(n) || n <= 1 || !IsFinite(sd) {
		return Interval{Lower: median, Upper: median}
	}
	margin := Z95 * 1.2533 * sd / math.Sqrt(n)
	return Interval{Lower: median - margin, Upper: median + margin}
}

// Reliability maps a sample size onto (0, 1) with a sigmoid centred on 50.
func Reliability(n float64) float64 {
	if !IsFinite(n) || n <= 0 {
		return 0
	}
	const midpoint, steepness = 50.0, 0.033
	return clamp01(1 / (1 + math.Exp(-steepness*(n-midpoint))))
}

// Confidence labels, from least to most reliable.
const (
	ConfidenceTooFew      = "too few"
	ConfidenceExploratory = "exploratory"
	ConfidenceApproximate = "approximate"
	ConfidenceGood        = "good"
	ConfidenceHigh        = "high confidence"
)

// ConfidenceLabel buckets a sample size.
func ConfidenceLabel(n float64) string {
	switch {
	case n < 20:
		return ConfidenceTooFew
	case n < 40:
		return ConfidenceExploratory
	case n < 80:
		return ConfidenceApproximate
	case n < 150:
		return ConfidenceGood
	default:
		return ConfidenceHigh
	}
}
