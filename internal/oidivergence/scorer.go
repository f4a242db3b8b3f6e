package oidivergence

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/config"
)

// Divergence classifications.
const (
	TypeBullish = "bullish"
	TypeBearish = "bearish"
	TypeNeutral = "neutral"
)

// Correlation methods, selected by post-filter sample size.
const (
	MethodDirectionOnly   = "direction_only"
	MethodKendallTau      = "kendall_tau"
	MethodSpearmanBoot    = "spearman_bootstrap"
	MethodSpearmanPearson = "spearman_pearson"
)

// Confidence ceilings for the coarse small-sample methods.
const (
	directionOnlyCeiling = 0.15
	kendallTauCeiling    = 0.40
)

// Input carries the parallel change series plus optional freshness metadata.
// DataAgeMinutes 0 means fully fresh; ExpectedSamples 0 means the expected
// interval count is unknown.
type Input struct {
	PriceChanges    []float64 `json:"price_changes"`
	OIChanges       []float64 `json:"oi_changes"`
	DataAgeMinutes  float64   `json:"data_age_minutes,omitempty"`
	ExpectedSamples int       `json:"expected_samples,omitempty"`
}

// Result classifies the relationship between price and open-interest moves.
// Strength is always RawStrength discounted by Confidence.
type Result struct {
	Type                 string               `json:"type"`
	Strength             float64              `json:"strength"`
	RawStrength          float64              `json:"raw_strength"`
	Correlation          float64              `json:"correlation"`
	Method               string               `json:"method"`
	SampleSize           int                  `json:"sample_size"`
	Confidence           float64              `json:"confidence"`
	ConfidenceComponents ConfidenceComponents `json:"confidence_components"`
	ZScore               float64              `json:"z_score"`
	ZMean                float64              `json:"z_mean"`
	ZStd                 float64              `json:"z_std"`
	Reason               string               `json:"reason,omitempty"`
}

// Scorer detects price/open-interest divergence with a statistical method
// matched to the sample size: tiny samples get a sign comparison, small ones
// Kendall's tau, mid-size Spearman with a permutation p-value, and large ones
// Spearman cross-checked against Pearson. Immutable after construction and
// safe for concurrent use.
type Scorer struct {
	cfg     config.OIDivergenceConfig
	logger  *logrus.Logger
	backend StatsBackend

	// seed keeps permutation resampling deterministic so identical inputs
	// yield identical results.
	seed int64
}

// NewScorer validates the configuration and selects the gonum-backed
// statistics implementation.
func NewScorer(cfg config.OIDivergenceConfig, logger *logrus.Logger) (*Scorer, error) {
	return NewScorerWithBackend(cfg, logger, GonumBackend{})
}

// NewScorerWithBackend is NewScorer with an explicit statistics backend,
// used to exercise degraded-mode behavior.
func NewScorerWithBackend(cfg config.OIDivergenceConfig, logger *logrus.Logger, backend StatsBackend) (*Scorer, error) {
	if cfg.MinSamples < 1 {
		return nil, fmt.Errorf("min_samples must be >= 1, got %d", cfg.MinSamples)
	}
	if cfg.DivergenceThreshold == 0 {
		cfg.DivergenceThreshold = -0.3
	}
	if cfg.DivergenceThreshold >= 0 {
		return nil, fmt.Errorf("divergence_threshold must be negative, got %v", cfg.DivergenceThreshold)
	}
	if cfg.BootstrapResamples <= 0 {
		cfg.BootstrapResamples = 2000
	}
	if cfg.RecencyHalfLifeMinutes <= 0 {
		cfg.RecencyHalfLifeMinutes = 30
	}
	if cfg.DefaultCompleteness <= 0 || cfg.DefaultCompleteness > 1 {
		cfg.DefaultCompleteness = 0.5
	}
	return &Scorer{cfg: cfg, logger: logger, backend: backend, seed: 1}, nil
}

// Calculate classifies divergence for one pair of change series. It returns
// an error only for structural caller bugs (mismatched lengths); NaN/Inf rows
// are filtered pairwise and thin samples produce a neutral result with a
// reason instead of an error.
func (s *Scorer) Calculate(input Input) (*Result, error) {
	if len(input.PriceChanges) != len(input.OIChanges) {
		return nil, fmt.Errorf("series length mismatch: %d price changes vs %d oi changes",
			len(input.PriceChanges), len(input.OIChanges))
	}

	price, oi := filterPaired(input.PriceChanges, input.OIChanges)
	n := len(price)

	if n < s.cfg.MinSamples {
		return &Result{
			Type:       TypeNeutral,
			SampleSize: n,
			Reason:     fmt.Sprintf("insufficient samples: %d after filtering, need %d", n, s.cfg.MinSamples),
		}, nil
	}

	corr, method, pValue := s.correlate(price, oi, n)

	result := &Result{
		Type:        TypeNeutral,
		Correlation: corr,
		Method:      method,
		SampleSize:  n,
	}
	result.ZScore, result.ZMean, result.ZStd = rollingZScore(price)

	priceSum := sum(price)
	oiSum := sum(oi)
	switch {
	case corr >= s.cfg.DivergenceThreshold:
		result.Reason = "correlation above divergence threshold"
	case priceSum > 0 && oiSum < 0:
		result.Type = TypeBearish
	case priceSum < 0 && oiSum > 0:
		result.Type = TypeBullish
	default:
		result.Reason = "divergent correlation without opposing aggregate moves"
	}

	components := ConfidenceComponents{
		Sample:       SampleConfidence(n),
		Recency:      RecencyConfidence(input.DataAgeMinutes, s.cfg.RecencyHalfLifeMinutes),
		Completeness: CompletenessConfidence(input.ExpectedSamples, n, s.cfg.DefaultCompleteness),
		Significance: SignificanceConfidence(pValue),
	}
	confidence := CombinedConfidence(components)
	switch method {
	case MethodDirectionOnly:
		confidence = math.Min(confidence, directionOnlyCeiling)
	case MethodKendallTau:
		confidence = math.Min(confidence, kendallTauCeiling)
	}

	result.ConfidenceComponents = components
	result.Confidence = confidence
	if result.Type != TypeNeutral {
		result.RawStrength = math.Abs(corr)
	}
	result.Strength = result.RawStrength * confidence

	s.logger.WithFields(logrus.Fields{
		"type":        result.Type,
		"method":      method,
		"correlation": corr,
		"sample_size": n,
		"confidence":  confidence,
	}).Debug("Scored OI divergence")

	return result, nil
}

// correlate picks the method tier for the sample size and degrades to the
// direction-only comparison when the backend cannot supply the statistic.
func (s *Scorer) correlate(price, oi []float64, n int) (corr float64, method string, pValue *float64) {
	switch {
	case n < 3:
		return directionOnly(price, oi), MethodDirectionOnly, nil

	case n < 6:
		tau, ok := s.backend.KendallTau(price, oi)
		if !ok {
			return directionOnly(price, oi), MethodDirectionOnly, nil
		}
		return tau, MethodKendallTau, nil

	case n < 16:
		rho, ok := s.backend.Spearman(price, oi)
		if !ok {
			return directionOnly(price, oi), MethodDirectionOnly, nil
		}
		p := s.backend.PermutationPValue(price, oi, rho, s.cfg.BootstrapResamples, s.seed)
		return rho, MethodSpearmanBoot, p

	default:
		rho, ok := s.backend.Spearman(price, oi)
		if !ok {
			return directionOnly(price, oi), MethodDirectionOnly, nil
		}
		// Pearson's parametric assumptions are reasonable at this size; the
		// two estimates sanity-check each other.
		if r, rOK := s.backend.Pearson(price, oi); rOK && math.Signbit(r) != math.Signbit(rho) {
			s.logger.WithFields(logrus.Fields{
				"spearman": rho,
				"pearson":  r,
			}).Warn("Spearman and Pearson disagree on correlation sign")
		}
		return rho, MethodSpearmanPearson, s.backend.SpearmanPValue(rho, n)
	}
}

// directionOnly forces correlation to ±1 from the signs of the aggregate
// moves: opposing signs read as perfect anti-correlation.
func directionOnly(price, oi []float64) float64 {
	priceSum := sum(price)
	oiSum := sum(oi)
	if priceSum == 0 || oiSum == 0 {
		return 0
	}
	if (priceSum > 0) != (oiSum > 0) {
		return -1
	}
	return 1
}

// filterPaired drops index i from both series when either value is NaN/Inf.
func filterPaired(price, oi []float64) ([]float64, []float64) {
	outPrice := make([]float64, 0, len(price))
	outOI := make([]float64, 0, len(oi))
	for i := range price {
		if !isFinite(price[i]) || !isFinite(oi[i]) {
			continue
		}
		outPrice = append(outPrice, price[i])
		outOI = append(outOI, oi[i])
	}
	return outPrice, outOI
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// rollingZScore positions the latest value against the series mean and
// standard deviation. Zero when the series is too short or flat.
func rollingZScore(series []float64) (z, mean, std float64) {
	if len(series) < 2 {
		return 0, 0, 0
	}
	mean, std = stat.MeanStdDev(series, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, mean, 0
	}
	return (series[len(series)-1] - mean) / std, mean, std
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
