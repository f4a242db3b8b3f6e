package liquidation

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/config"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/models"
)

func parseAll(t *testing.T, raw []map[string]interface{}) []models.LiquidationEvent {
	t.Helper()
	events := make([]models.LiquidationEvent, 0, len(raw))
	for _, r := range raw {
		ev, err := models.ParseLiquidationEvent(r)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func testDecayConfig() config.LiquidationDecayConfig {
	return config.LiquidationDecayConfig{
		Enabled:              true,
		HalfLifeHours:        3.5,
		MinEffectiveWeight:   0.05,
		MinEvents:            1,
		UseSqrtTransform:     true,
		DecayFunction:        DecayExponential,
		PowerLawAlpha:        1.5,
		ImbalanceSensitivity: 1.5,
		Cascade: config.CascadeConfig{
			Enabled:       true,
			WindowMinutes: 5,
			MinEvents:     5,
			BoostDivisor:  180,
		},
	}
}

func newTestScorer(t *testing.T, cfg config.LiquidationDecayConfig) *Scorer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	scorer, err := NewScorer(cfg, logger)
	require.NoError(t, err)
	return scorer
}

func event(side string, qty float64, timestamp int64) map[string]interface{} {
	return map[string]interface{}{"side": side, "qty": qty, "timestamp": timestamp}
}

func TestNewScorerValidation(t *testing.T) {
	logger := logrus.New()

	tests := []struct {
		name   string
		mutate func(*config.LiquidationDecayConfig)
	}{
		{"non-positive half life", func(c *config.LiquidationDecayConfig) { c.HalfLifeHours = 0 }},
		{"negative half life", func(c *config.LiquidationDecayConfig) { c.HalfLifeHours = -1 }},
		{"weight floor at zero", func(c *config.LiquidationDecayConfig) { c.MinEffectiveWeight = 0 }},
		{"weight floor at one", func(c *config.LiquidationDecayConfig) { c.MinEffectiveWeight = 1 }},
		{"min events below one", func(c *config.LiquidationDecayConfig) { c.MinEvents = 0 }},
		{"unknown decay function", func(c *config.LiquidationDecayConfig) { c.DecayFunction = "hyperbolic" }},
		{"power law without alpha", func(c *config.LiquidationDecayConfig) {
			c.DecayFunction = DecayPowerLaw
			c.PowerLawAlpha = 0
		}},
		{"cascade window non-positive", func(c *config.LiquidationDecayConfig) { c.Cascade.WindowMinutes = 0 }},
		{"cascade min events below one", func(c *config.LiquidationDecayConfig) { c.Cascade.MinEvents = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDecayConfig()
			tt.mutate(&cfg)
			scorer, err := NewScorer(cfg, logger)
			assert.Error(t, err)
			assert.Nil(t, scorer)
		})
	}
}

func TestDerivedConstants(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())

	assert.InDelta(t, math.Ln2/3.5, scorer.DecayConstant(), 1e-12)
	assert.InDelta(t, -math.Log(0.05)/(math.Ln2/3.5), scorer.MaxAgeHours(), 1e-9)
}

func TestWeightForAgeExponential(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())

	assert.Equal(t, 1.0, scorer.WeightForAge(0))
	assert.InDelta(t, 0.5, scorer.WeightForAge(3.5), 1e-9)
	// Negative age clamps to age 0
	assert.Equal(t, 1.0, scorer.WeightForAge(-2))
	// Below the effective-weight floor clamps to exactly 0
	assert.Equal(t, 0.0, scorer.WeightForAge(1000))
}

func TestWeightForAgeLinear(t *testing.T) {
	cfg := testDecayConfig()
	cfg.DecayFunction = DecayLinear
	scorer := newTestScorer(t, cfg)

	assert.Equal(t, 1.0, scorer.WeightForAge(0))
	half := scorer.MaxAgeHours() / 2
	assert.InDelta(t, 0.5, scorer.WeightForAge(half), 1e-9)
	assert.Equal(t, 0.0, scorer.WeightForAge(scorer.MaxAgeHours()+1))
}

func TestWeightForAgePowerLaw(t *testing.T) {
	cfg := testDecayConfig()
	cfg.DecayFunction = DecayPowerLaw
	cfg.PowerLawAlpha = 1.5
	scorer := newTestScorer(t, cfg)

	assert.Equal(t, 1.0, scorer.WeightForAge(0))
	assert.InDelta(t, math.Pow(2, -1.5), scorer.WeightForAge(1), 1e-9)
}

func TestDetectCascade(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	t.Run("too few events in window", func(t *testing.T) {
		events := parseAll(t, []map[string]interface{}{
			event("buy", 100, now-1000),
			event("sell", 100, now-2000),
		})
		detected, boost := scorer.DetectCascade(events, now)
		assert.False(t, detected)
		assert.Equal(t, 1.0, boost)
	})

	t.Run("cascade with moderate intensity", func(t *testing.T) {
		// 6 events across 2 minutes: intensity 3/min, below the 10/min knee
		var raw []map[string]interface{}
		for i := 0; i < 6; i++ {
			raw = append(raw, event("buy", 100, now-int64(i)*24_000))
		}
		detected, boost := scorer.DetectCascade(parseAll(t, raw), now)
		assert.True(t, detected)
		assert.Equal(t, 1.0, boost)
	})

	t.Run("dense cascade boost stays within bounds", func(t *testing.T) {
		// 60 events within ~6 seconds: very high intensity, boost caps at 2
		var raw []map[string]interface{}
		for i := 0; i < 60; i++ {
			raw = append(raw, event("buy", 100, now-int64(i)*100))
		}
		detected, boost := scorer.DetectCascade(parseAll(t, raw), now)
		assert.True(t, detected)
		assert.GreaterOrEqual(t, boost, 1.0)
		assert.LessOrEqual(t, boost, 2.0)
		assert.Equal(t, 2.0, boost)
	})

	t.Run("disabled cascade detection", func(t *testing.T) {
		cfg := testDecayConfig()
		cfg.Cascade.Enabled = false
		off := newTestScorer(t, cfg)
		var raw []map[string]interface{}
		for i := 0; i < 60; i++ {
			raw = append(raw, event("buy", 100, now-int64(i)*100))
		}
		detected, boost := off.DetectCascade(parseAll(t, raw), now)
		assert.False(t, detected)
		assert.Equal(t, 1.0, boost)
	})
}

func TestScoreWorkedExample(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	result := scorer.Score([]map[string]interface{}{
		event("buy", 1000, now-1*3_600_000),
		event("sell", 400, now-4*3_600_000),
	}, now)

	k := math.Ln2 / 3.5
	expectedShort := math.Sqrt(1000) * math.Exp(-k*1)
	expectedLong := math.Sqrt(400) * math.Exp(-k*4)

	assert.InDelta(t, expectedShort, result.ShortLiquidations, 1e-6)
	assert.InDelta(t, expectedLong, result.LongLiquidations, 1e-6)
	assert.InDelta(t, 0.48, result.NetImbalance, 0.02)
	assert.InDelta(t, 0.62, result.RawScore, 0.02)
	assert.Equal(t, 2, result.EventCount)
	assert.False(t, result.CascadeDetected)
	assert.Greater(t, result.RawScore, 0.0, "batch should lean bullish")
}

func TestScoreInvariants(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	batches := [][]map[string]interface{}{
		{event("buy", 500, now-60_000)},
		{event("sell", 500, now-60_000)},
		{event("buy", 1, now-1000), event("sell", 100000, now-1000)},
		{
			event("buy", 250, now-30*60_000),
			event("sell", 1000, now-2*3_600_000),
			event("buy", 4000, now-6*3_600_000),
		},
	}

	for i, batch := range batches {
		t.Run(fmt.Sprintf("batch_%d", i), func(t *testing.T) {
			result := scorer.Score(batch, now)
			assert.GreaterOrEqual(t, result.LongLiquidations, 0.0)
			assert.GreaterOrEqual(t, result.ShortLiquidations, 0.0)
			assert.InDelta(t, result.LongLiquidations+result.ShortLiquidations, result.TotalLiquidations, 1e-9)
			assert.GreaterOrEqual(t, result.NetImbalance, -1.0)
			assert.LessOrEqual(t, result.NetImbalance, 1.0)
			assert.GreaterOrEqual(t, result.RawScore, -1.0)
			assert.LessOrEqual(t, result.RawScore, 1.0)
			assert.GreaterOrEqual(t, result.CascadeWeightBoost, 1.0)
			assert.LessOrEqual(t, result.CascadeWeightBoost, 2.0)
		})
	}
}

func TestScoreEmptyBatch(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())

	result := scorer.Score(nil, time.Now().UnixMilli())

	assert.Zero(t, result.TotalLiquidations)
	assert.Zero(t, result.RawScore)
	assert.Zero(t, result.EventCount)
	assert.NotEmpty(t, result.Warnings)
}

func TestScoreSkipsMalformedEvents(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	result := scorer.Score([]map[string]interface{}{
		event("buy", 500, now-60_000),
		{"side": "hold", "qty": 100.0, "timestamp": now},        // bad side
		{"side": "buy", "timestamp": now},                       // missing quantity
		{"side": "sell", "qty": 100.0},                          // missing timestamp
		event("sell", -5, now-60_000),                           // non-positive quantity
		event("buy", 100, now+10*60_000),                        // future beyond skew
		{"side": "buy", "qty": 100.0, "timestamp": "yesterday"}, // non-numeric timestamp
	}, now)

	assert.Equal(t, 1, result.EventCount)
	assert.Len(t, result.Warnings, 6)
}

func TestScoreAcceptsQuantityAliases(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	result := scorer.Score([]map[string]interface{}{
		{"side": "buy", "qty": 100.0, "timestamp": now - 1000},
		{"side": "buy", "amount": 100.0, "timestamp": now - 1000},
		{"side": "buy", "size": 100.0, "timestamp": now - 1000},
	}, now)

	assert.Equal(t, 3, result.EventCount)
	assert.Empty(t, result.Warnings)
}

func TestScoreFutureWithinSkewClamped(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	// 10 seconds ahead is inside the allowed skew: kept, age clamped to 0
	result := scorer.Score([]map[string]interface{}{
		event("buy", 100, now+10_000),
	}, now)

	assert.Equal(t, 1, result.EventCount)
	assert.InDelta(t, math.Sqrt(100), result.ShortLiquidations, 1e-9)
	assert.NotEmpty(t, result.Warnings)
}

func TestScoreMinEventsGate(t *testing.T) {
	cfg := testDecayConfig()
	cfg.MinEvents = 5
	scorer := newTestScorer(t, cfg)
	now := time.Now().UnixMilli()

	result := scorer.Score([]map[string]interface{}{
		event("buy", 1000, now-60_000),
		event("buy", 2000, now-120_000),
	}, now)

	// Weighted sums are still exposed for diagnostics
	assert.Greater(t, result.ShortLiquidations, 0.0)
	assert.Zero(t, result.NetImbalance)
	assert.Zero(t, result.RawScore)
	assert.NotEmpty(t, result.Warnings)
}

func TestScoreDisabledLegacyFallback(t *testing.T) {
	cfg := testDecayConfig()
	cfg.Enabled = false
	scorer := newTestScorer(t, cfg)
	now := time.Now().UnixMilli()

	result := scorer.Score([]map[string]interface{}{
		event("buy", 1000, now-48*3_600_000), // far past the decay horizon
		event("sell", 400, now-1000),
	}, now)

	// Equal-weight raw sums, no decay, no sqrt, no cascade, no score
	assert.Equal(t, 1000.0, result.ShortLiquidations)
	assert.Equal(t, 400.0, result.LongLiquidations)
	assert.Equal(t, 1400.0, result.TotalLiquidations)
	assert.Zero(t, result.RawScore)
	assert.False(t, result.CascadeDetected)
	assert.NotEmpty(t, result.Warnings)
}

func TestScoreIdempotent(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	batch := []map[string]interface{}{
		event("buy", 1000, now-3_600_000),
		event("sell", 400, now-2*3_600_000),
	}

	first := scorer.Score(batch, now)
	second := scorer.Score(batch, now)
	assert.Equal(t, first, second)
}

func TestScoreCascadeBoostAppliedToWindowOnly(t *testing.T) {
	scorer := newTestScorer(t, testDecayConfig())
	now := time.Now().UnixMilli()

	// 5 buys inside the window trigger a cascade; the lone old sell outside
	// the window must not be boosted.
	var raw []map[string]interface{}
	for i := 0; i < 5; i++ {
		raw = append(raw, event("buy", 10000, now-int64(i)*1000))
	}
	raw = append(raw, event("sell", 10000, now-3*3_600_000))

	result := scorer.Score(raw, now)
	require.True(t, result.CascadeDetected)

	oldWeight := scorer.WeightForAge(3)
	assert.InDelta(t, math.Sqrt(10000)*oldWeight, result.LongLiquidations, 1e-6)
}

func TestToConfluenceScale(t *testing.T) {
	tests := []struct {
		name     string
		raw      float64
		expected float64
	}{
		{"neutral", 0, 50},
		{"fully bullish", 1, 75},
		{"fully bearish", -1, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ToConfluenceScale(&Result{RawScore: tt.raw}, 50, 25)
			assert.Equal(t, tt.expected, score)
		})
	}

	t.Run("clamped to range", func(t *testing.T) {
		assert.Equal(t, 100.0, ToConfluenceScale(&Result{RawScore: 1}, 90, 25))
		assert.Equal(t, 0.0, ToConfluenceScale(&Result{RawScore: -1}, 10, 25))
	})
}
