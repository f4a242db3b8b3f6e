package oidivergence

import "math"

// ConfidenceComponents are the individual trust dimensions for a divergence
// result, each in [0,1].
type ConfidenceComponents struct {
	Sample       float64 `json:"sample"`
	Recency      float64 `json:"recency"`
	Completeness float64 `json:"completeness"`
	Significance float64 `json:"significance"`
}

// SampleConfidence maps sample size to trust. Piecewise ramps: tiny samples
// get a token score, mid-size samples ramp steadily, and very large samples
// asymptotically approach (never reach) 0.95.
func SampleConfidence(n int) float64 {
	switch {
	case n <= 2:
		return 0.15
	case n <= 5:
		return 0.25 + float64(n-3)*0.03 // 0.25 .. 0.31
	case n <= 15:
		return 0.40 + float64(n-6)*0.03 // 0.40 .. 0.67
	case n <= 30:
		return 0.70 + float64(n-16)*0.01 // 0.70 .. 0.84
	default:
		return 0.95 - 0.11*math.Exp(-float64(n-30)/20)
	}
}

// RecencyConfidence decays with data age at a 30-minute half-life, floored
// at 0.3 so stale data retains minimal trust rather than none.
func RecencyConfidence(ageMinutes, halfLifeMinutes float64) float64 {
	if ageMinutes <= 0 {
		return 1.0
	}
	if halfLifeMinutes <= 0 {
		halfLifeMinutes = 30
	}
	c := math.Exp(-math.Ln2 * ageMinutes / halfLifeMinutes)
	if c < 0.3 {
		return 0.3
	}
	return c
}

// CompletenessConfidence penalizes partial data on a square-root curve, which
// is gentler than a proportional penalty. Unknown expectations get the
// supplied default.
func CompletenessConfidence(expected, actual int, unknownDefault float64) float64 {
	if expected <= 0 {
		return unknownDefault
	}
	ratio := float64(actual) / float64(expected)
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return math.Sqrt(ratio)
}

// SignificanceConfidence buckets a p-value into trust levels. A nil p-value
// (method without significance testing) sits at the 0.5 midpoint.
func SignificanceConfidence(pValue *float64) float64 {
	if pValue == nil {
		return 0.5
	}
	p := *pValue
	switch {
	case p > 0.1:
		return 0.30
	case p > 0.05:
		return 0.60
	case p > 0.01:
		return 0.85
	default:
		return 0.95
	}
}

// CombinedConfidence is the minimum of the components: a single weak
// dimension caps overall trust.
func CombinedConfidence(c ConfidenceComponents) float64 {
	min := c.Sample
	for _, v := range []float64{c.Recency, c.Completeness, c.Significance} {
		if v < min {
			min = v
		}
	}
	return min
}
