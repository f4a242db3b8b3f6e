package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/liquidation"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/oidivergence"
)

// ScoreSnapshot is the latest scoring state for a symbol, kept hot for the
// API so repeat reads within a cycle skip recomputation.
type ScoreSnapshot struct {
	ID              string               `json:"id"`
	Symbol          string               `json:"symbol"`
	Liquidation     *liquidation.Result  `json:"liquidation,omitempty"`
	Divergence      *oidivergence.Result `json:"divergence,omitempty"`
	ConfluenceScore float64              `json:"confluence_score"`
	ComputedAt      time.Time            `json:"computed_at"`
	ExpiresAt       time.Time            `json:"expires_at"`
}

// ScoreCacheStats tracks cache performance.
type ScoreCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// RedisScoreCache stores per-symbol score snapshots in Redis with a TTL.
type RedisScoreCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.Mutex
	stats ScoreCacheStats
}

// NewRedisScoreCache creates a Redis-backed score snapshot cache.
func NewRedisScoreCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisScoreCache {
	return &RedisScoreCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "score_snapshot:",
		logger: logger,
	}
}

// Get retrieves the cached snapshot for a symbol.
func (c *RedisScoreCache) Get(ctx context.Context, symbol string) (*ScoreSnapshot, bool) {
	data, err := c.redis.Get(ctx, c.prefix+symbol).Result()
	if err == redis.Nil {
		c.miss()
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Redis error reading score snapshot")
		c.miss()
		return nil, false
	}

	var snapshot ScoreSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to decode cached score snapshot")
		c.miss()
		return nil, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return &snapshot, true
}

// Set stores a snapshot for a symbol, stamping its expiry from the cache TTL.
func (c *RedisScoreCache) Set(ctx context.Context, snapshot *ScoreSnapshot) error {
	now := time.Now()
	snapshot.ComputedAt = now
	snapshot.ExpiresAt = now.Add(c.ttl)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode score snapshot for %s: %w", snapshot.Symbol, err)
	}

	if err := c.redis.Set(ctx, c.prefix+snapshot.Symbol, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache score snapshot for %s: %w", snapshot.Symbol, err)
	}

	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()
	return nil
}

// Invalidate removes the snapshot for a symbol.
func (c *RedisScoreCache) Invalidate(ctx context.Context, symbol string) error {
	return c.redis.Del(ctx, c.prefix+symbol).Err()
}

// Stats returns a copy of the hit/miss counters.
func (c *RedisScoreCache) Stats() ScoreCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *RedisScoreCache) miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}
