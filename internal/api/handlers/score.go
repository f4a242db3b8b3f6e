package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/cache"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/liquidation"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/oidivergence"
)

// Confluence-scale parameters: raw scores map onto 0-100 centered at 50.
const (
	confluenceNeutral = 50.0
	confluenceScale   = 25.0
)

// ScoreHandler exposes the two scoring cores over HTTP and keeps the latest
// per-symbol snapshot in the score cache.
type ScoreHandler struct {
	liquidationScorer *liquidation.Scorer
	divergenceScorer  *oidivergence.Scorer
	scoreCache        *cache.RedisScoreCache
	logger            *logrus.Logger
}

// NewScoreHandler wires the scorers and cache into an HTTP handler.
func NewScoreHandler(liq *liquidation.Scorer, div *oidivergence.Scorer, scoreCache *cache.RedisScoreCache, logger *logrus.Logger) *ScoreHandler {
	return &ScoreHandler{
		liquidationScorer: liq,
		divergenceScorer:  div,
		scoreCache:        scoreCache,
		logger:            logger,
	}
}

// LiquidationScoreRequest is one batch of raw liquidation feed records for a
// symbol. NowMs is optional and defaults to the server clock; callers replay
// historical batches by pinning it.
type LiquidationScoreRequest struct {
	Symbol string                   `json:"symbol" binding:"required"`
	Events []map[string]interface{} `json:"events"`
	NowMs  int64                    `json:"now_ms"`
}

// LiquidationScoreResponse wraps the scoring result with its 0-100
// confluence-scale projection.
type LiquidationScoreResponse struct {
	RequestID       string              `json:"request_id"`
	Symbol          string              `json:"symbol"`
	Result          *liquidation.Result `json:"result"`
	ConfluenceScore float64             `json:"confluence_score"`
}

// ScoreLiquidations scores a liquidation batch. Malformed individual events
// never fail the request; they surface in the result warnings.
func (h *ScoreHandler) ScoreLiquidations(c *gin.Context) {
	var req LiquidationScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result := h.liquidationScorer.Score(req.Events, req.NowMs)
	response := LiquidationScoreResponse{
		RequestID:       uuid.New().String(),
		Symbol:          req.Symbol,
		Result:          result,
		ConfluenceScore: liquidation.ToConfluenceScale(result, confluenceNeutral, confluenceScale),
	}

	h.storeSnapshot(c, req.Symbol, func(snapshot *cache.ScoreSnapshot) {
		snapshot.Liquidation = result
		snapshot.ConfluenceScore = response.ConfluenceScore
	})

	c.JSON(http.StatusOK, response)
}

// DivergenceScoreRequest carries the parallel change series for a symbol.
type DivergenceScoreRequest struct {
	Symbol          string    `json:"symbol" binding:"required"`
	PriceChanges    []float64 `json:"price_changes"`
	OIChanges       []float64 `json:"oi_changes"`
	DataAgeMinutes  float64   `json:"data_age_minutes"`
	ExpectedSamples int       `json:"expected_samples"`
}

// DivergenceScoreResponse wraps the divergence classification.
type DivergenceScoreResponse struct {
	RequestID string               `json:"request_id"`
	Symbol    string               `json:"symbol"`
	Result    *oidivergence.Result `json:"result"`
}

// ScoreDivergence classifies price/OI divergence. Mismatched series lengths
// are a caller bug and return 400; thin or dirty data returns a neutral
// result instead of an error.
func (h *ScoreHandler) ScoreDivergence(c *gin.Context) {
	var req DivergenceScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.divergenceScorer.Calculate(oidivergence.Input{
		PriceChanges:    req.PriceChanges,
		OIChanges:       req.OIChanges,
		DataAgeMinutes:  req.DataAgeMinutes,
		ExpectedSamples: req.ExpectedSamples,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.storeSnapshot(c, req.Symbol, func(snapshot *cache.ScoreSnapshot) {
		snapshot.Divergence = result
	})

	c.JSON(http.StatusOK, DivergenceScoreResponse{
		RequestID: uuid.New().String(),
		Symbol:    req.Symbol,
		Result:    result,
	})
}

// GetSnapshot returns the cached latest scores for a symbol.
func (h *ScoreHandler) GetSnapshot(c *gin.Context) {
	symbol := c.Param("symbol")
	snapshot, ok := h.scoreCache.Get(c.Request.Context(), symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for symbol " + symbol})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// storeSnapshot merges the update into the symbol's cached snapshot. Cache
// failures are logged, never surfaced: scoring responses do not depend on
// the cache being reachable.
func (h *ScoreHandler) storeSnapshot(c *gin.Context, symbol string, update func(*cache.ScoreSnapshot)) {
	if h.scoreCache == nil {
		return
	}

	ctx := c.Request.Context()
	snapshot, ok := h.scoreCache.Get(ctx, symbol)
	if !ok {
		snapshot = &cache.ScoreSnapshot{ID: uuid.New().String(), Symbol: symbol}
	}
	update(snapshot)

	if err := h.scoreCache.Set(ctx, snapshot); err != nil {
		h.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to cache score snapshot")
	}
}
