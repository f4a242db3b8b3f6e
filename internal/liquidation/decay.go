package liquidation

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/config"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/models"
)

// Decay function names accepted in configuration.
const (
	DecayExponential = "exponential"
	DecayLinear      = "linear"
	DecayPowerLaw    = "power_law"
)

// maxClockSkewMs is how far into the future an event timestamp may sit
// before the event is discarded as malformed.
const maxClockSkewMs = 36_000

// Result is the outcome of scoring one batch of liquidation events. Weighted
// sums are in the sqrt-transformed domain when that option is enabled.
type Result struct {
	LongLiquidations    float64  `json:"long_liquidations"`
	ShortLiquidations   float64  `json:"short_liquidations"`
	TotalLiquidations   float64  `json:"total_liquidations"`
	NetImbalance        float64  `json:"net_imbalance"`
	RawScore            float64  `json:"raw_score"`
	EventCount          int      `json:"event_count"`
	EffectiveEvents     float64  `json:"effective_events"`
	OldestEventAgeHours float64  `json:"oldest_event_age_hours"`
	CascadeDetected     bool     `json:"cascade_detected"`
	CascadeWeightBoost  float64  `json:"cascade_weight_boost"`
	Warnings            []string `json:"warnings,omitempty"`
}

// Scorer converts raw liquidation feeds into a time-decay-weighted net
// imbalance score. Recent events weigh more than old ones, oversized events
// are compressed via an optional sqrt transform, and tightly clustered
// events get a cascade boost. A Scorer is immutable after construction and
// safe for concurrent use.
type Scorer struct {
	cfg    config.LiquidationDecayConfig
	logger *logrus.Logger

	decayConstant float64
	maxAgeHours   float64
}

// NewScorer validates the configuration and precomputes the derived decay
// constants. An invalid configuration is a construction error; callers must
// not proceed with a nil scorer.
func NewScorer(cfg config.LiquidationDecayConfig, logger *logrus.Logger) (*Scorer, error) {
	if cfg.HalfLifeHours <= 0 {
		return nil, fmt.Errorf("half_life_hours must be positive, got %v", cfg.HalfLifeHours)
	}
	if cfg.MinEffectiveWeight <= 0 || cfg.MinEffectiveWeight >= 1 {
		return nil, fmt.Errorf("min_effective_weight must be in (0,1), got %v", cfg.MinEffectiveWeight)
	}
	if cfg.MinEvents < 1 {
		return nil, fmt.Errorf("min_events must be >= 1, got %d", cfg.MinEvents)
	}
	switch cfg.DecayFunction {
	case DecayExponential, DecayLinear, DecayPowerLaw:
	case "":
		cfg.DecayFunction = DecayExponential
	default:
		return nil, fmt.Errorf("unknown decay_function %q", cfg.DecayFunction)
	}
	if cfg.DecayFunction == DecayPowerLaw && cfg.PowerLawAlpha <= 0 {
		return nil, fmt.Errorf("power_law_alpha must be positive, got %v", cfg.PowerLawAlpha)
	}
	if cfg.ImbalanceSensitivity <= 0 {
		cfg.ImbalanceSensitivity = 1.5
	}
	if cfg.Cascade.Enabled {
		if cfg.Cascade.WindowMinutes <= 0 {
			return nil, fmt.Errorf("cascade window_minutes must be positive, got %v", cfg.Cascade.WindowMinutes)
		}
		if cfg.Cascade.MinEvents < 1 {
			return nil, fmt.Errorf("cascade min_events must be >= 1, got %d", cfg.Cascade.MinEvents)
		}
		if cfg.Cascade.BoostDivisor <= 0 {
			cfg.Cascade.BoostDivisor = 180
		}
	}

	decayConstant := math.Ln2 / cfg.HalfLifeHours
	return &Scorer{
		cfg:           cfg,
		logger:        logger,
		decayConstant: decayConstant,
		maxAgeHours:   -math.Log(cfg.MinEffectiveWeight) / decayConstant,
	}, nil
}

// DecayConstant returns ln(2)/half_life, the exponential rate constant.
func (s *Scorer) DecayConstant() float64 { return s.decayConstant }

// MaxAgeHours returns the age at which the exponential weight crosses the
// effective-weight floor.
func (s *Scorer) MaxAgeHours() float64 { return s.maxAgeHours }

// WeightForAge returns the decay weight for an event of the given age.
// Weights below the configured floor clamp to exactly 0, which is how stale
// events drop out without an explicit cutoff list. Negative ages are treated
// as age 0.
func (s *Scorer) WeightForAge(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}

	var weight float64
	switch s.cfg.DecayFunction {
	case DecayLinear:
		weight = math.Max(0, 1-ageHours/s.maxAgeHours)
	case DecayPowerLaw:
		weight = math.Pow(1+ageHours, -s.cfg.PowerLawAlpha)
	default:
		weight = math.Exp(-s.decayConstant * ageHours)
	}

	if weight < s.cfg.MinEffectiveWeight {
		return 0
	}
	return weight
}

// DetectCascade looks for a burst of events inside the configured window
// ending at nowMs. The boost grows with event intensity (events per minute)
// and caps at 2x. Only events inside the window receive the boost.
func (s *Scorer) DetectCascade(events []models.LiquidationEvent, nowMs int64) (bool, float64) {
	if !s.cfg.Cascade.Enabled {
		return false, 1.0
	}

	windowMs := int64(s.cfg.Cascade.WindowMinutes * 60_000)
	cutoff := nowMs - windowMs

	var count int
	var earliest, latest int64
	for _, ev := range events {
		if ev.Timestamp < cutoff {
			continue
		}
		if count == 0 || ev.Timestamp < earliest {
			earliest = ev.Timestamp
		}
		if ev.Timestamp > latest {
			latest = ev.Timestamp
		}
		count++
	}

	if count < s.cfg.Cascade.MinEvents {
		return false, 1.0
	}

	spanMinutes := math.Max(float64(latest-earliest)/60_000, 0.1)
	intensity := float64(count) / spanMinutes
	boost := 1.0 + (intensity-10)/s.cfg.Cascade.BoostDivisor
	if boost < 1.0 {
		boost = 1.0
	}
	if boost > 2.0 {
		boost = 2.0
	}

	s.logger.WithFields(logrus.Fields{
		"events_in_window": count,
		"span_minutes":     spanMinutes,
		"intensity":        intensity,
		"boost":            boost,
	}).Debug("Liquidation cascade detected")

	return true, boost
}

// Score aggregates a batch of raw liquidation records into a Result.
// Malformed records are skipped and noted in Warnings; the call itself never
// fails. Pass nowMs=0 to use the current wall clock.
func (s *Scorer) Score(rawEvents []map[string]interface{}, nowMs int64) *Result {
	if nowMs == 0 {
		nowMs = time.Now().UnixMilli()
	}

	if !s.cfg.Enabled {
		return s.legacyScore(rawEvents)
	}

	result := &Result{CascadeWeightBoost: 1.0}
	if len(rawEvents) == 0 {
		result.Warnings = append(result.Warnings, "no liquidation events supplied")
		return result
	}

	events := make([]models.LiquidationEvent, 0, len(rawEvents))
	for i, raw := range rawEvents {
		ev, err := models.ParseLiquidationEvent(raw)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("event %d skipped: %v", i, err))
			continue
		}
		if ev.Timestamp > nowMs+maxClockSkewMs {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event %d skipped: timestamp %d is in the future", i, ev.Timestamp))
			continue
		}
		events = append(events, ev)
	}

	detected, boost := s.DetectCascade(events, nowMs)
	result.CascadeDetected = detected
	result.CascadeWeightBoost = boost
	cascadeCutoff := nowMs - int64(s.cfg.Cascade.WindowMinutes*60_000)

	var longWeighted, shortWeighted, totalWeight, oldestAge float64
	var included int
	for i, ev := range events {
		ageHours := float64(nowMs-ev.Timestamp) / 3_600_000
		if ageHours < 0 {
			// Inside the allowed skew; treat as just-now.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event %d has negative age, clamped to 0", i))
			ageHours = 0
		}

		weight := s.WeightForAge(ageHours)
		if weight == 0 {
			continue
		}

		qty := ev.Quantity.InexactFloat64()
		if qty <= 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event %d skipped: non-positive quantity", i))
			continue
		}
		if s.cfg.UseSqrtTransform {
			qty = math.Sqrt(qty)
		}

		effectiveWeight := weight
		if detected && ev.Timestamp >= cascadeCutoff {
			effectiveWeight *= boost
		}

		contribution := qty * effectiveWeight
		if ev.Side == models.LiquidationSideBuy {
			shortWeighted += contribution
		} else {
			longWeighted += contribution
		}

		totalWeight += weight
		included++
		if ageHours > oldestAge {
			oldestAge = ageHours
		}
	}

	result.LongLiquidations = longWeighted
	result.ShortLiquidations = shortWeighted
	result.TotalLiquidations = longWeighted + shortWeighted
	result.EventCount = included
	result.EffectiveEvents = totalWeight
	result.OldestEventAgeHours = oldestAge

	if included < s.cfg.MinEvents {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("only %d events after filtering, need %d for a directional signal", included, s.cfg.MinEvents))
		return result
	}

	if total := shortWeighted + longWeighted; total > 0 {
		result.NetImbalance = (shortWeighted - longWeighted) / total
	}
	result.RawScore = math.Tanh(result.NetImbalance * s.cfg.ImbalanceSensitivity)

	s.logger.WithFields(logrus.Fields{
		"event_count":      included,
		"effective_events": totalWeight,
		"net_imbalance":    result.NetImbalance,
		"raw_score":        result.RawScore,
		"cascade":          detected,
	}).Debug("Scored liquidation batch")

	return result
}

// legacyScore is the pre-decay aggregation kept behind the enabled flag for
// feature-flag rollback: every well-formed event counts with weight 1 and no
// directional score is produced.
func (s *Scorer) legacyScore(rawEvents []map[string]interface{}) *Result {
	result := &Result{
		CascadeWeightBoost: 1.0,
		Warnings:           []string{"decay weighting disabled, using legacy equal-weight sums"},
	}

	var longSum, shortSum float64
	for i, raw := range rawEvents {
		ev, err := models.ParseLiquidationEvent(raw)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("event %d skipped: %v", i, err))
			continue
		}
		qty := ev.Quantity.InexactFloat64()
		if qty <= 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("event %d skipped: non-positive quantity", i))
			continue
		}
		if ev.Side == models.LiquidationSideBuy {
			shortSum += qty
		} else {
			longSum += qty
		}
		result.EventCount++
	}

	result.LongLiquidations = longSum
	result.ShortLiquidations = shortSum
	result.TotalLiquidations = longSum + shortSum
	result.EffectiveEvents = float64(result.EventCount)
	if total := shortSum + longSum; total > 0 {
		result.NetImbalance = (shortSum - longSum) / total
	}
	return result
}

// ToConfluenceScale maps a raw score onto the 0-100 scale the confluence
// engine blends, centered on neutral.
func ToConfluenceScale(result *Result, neutral, scale float64) float64 {
	score := neutral + result.RawScore*scale
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
