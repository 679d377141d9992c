package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/models"
)

// entry is the stored form of one candle dataset.
type entry struct {
	StoredAt int64           `json:"stored_at"`
	TTLSec   int64           `json:"ttl_sec"`
	Candles  []models.Candle `json:"candles"`
}

// CandleCache caches candle datasets keyed by (symbol, exchange,
// interval) in Redis, with an in-process map standing in when Redis is
// unreachable. A cache hit returns the dataset exactly as stored.
type CandleCache struct {
	rdb    *redis.Client
	policy Policy
	now    func() time.Time
	log    zerolog.Logger

	mu    sync.RWMutex
	local map[string]entry

	degraded   bool
	degradedMu sync.Mutex
}

// NewCandleCache builds the cache. rdb may be nil; the cache then runs
// entirely in-process.
func NewCandleCache(rdb *redis.Client, log zerolog.Logger) *CandleCache {
	return &CandleCache{
		rdb:   rdb,
		now:   time.Now,
		log:   log.With().Str("component", "candle_cache").Logger(),
		local: make(map[string]entry),
	}
}

func candleKey(symbol, exchange string, interval models.Timeframe) string {
	return fmt.Sprintf("candles:%s:%s:%s", exchange, symbol, interval)
}

// Get returns the cached dataset if present and still fresh. A stale or
// missing entry returns ok=false; Redis errors degrade to the local map
// rather than failing the lookup.
func (c *CandleCache) Get(ctx context.Context, symbol, exchange string, interval models.Timeframe) ([]models.Candle, bool) {
	key := candleKey(symbol, exchange, interval)

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			return nil, false
		case err != nil:
			c.markDegraded(err)
		default:
			c.markHealthy()
			var e entry
			if jsonErr := json.Unmarshal(raw, &e); jsonErr != nil {
				c.log.Warn().Err(jsonErr).Str("key", key).Msg("corrupt cache entry, dropping")
				c.rdb.Del(ctx, key)
				metrics.CacheLookups.WithLabelValues("miss").Inc()
				return nil, false
			}
			if c.stale(e) {
				metrics.CacheLookups.WithLabelValues("stale").Inc()
				return nil, false
			}
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return e.Candles, true
		}
	}

	c.mu.RLock()
	e, ok := c.local[key]
	c.mu.RUnlock()
	if !ok || c.stale(e) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.Candles, true
}

// Set stores the dataset with a TTL chosen by the policy for the current
// market status. Storage errors are logged and swallowed; the cache is
// best-effort.
func (c *CandleCache) Set(ctx context.Context, symbol, exchange string, interval models.Timeframe, status models.MarketStatus, candles []models.Candle) {
	_, ttl := c.policy.SourceFor(interval, status)
	key := candleKey(symbol, exchange, interval)
	e := entry{
		StoredAt: c.now().UnixMilli(),
		TTLSec:   int64(ttl / time.Second),
		Candles:  candles,
	}

	if c.rdb != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			if err = c.rdb.Set(ctx, key, raw, ttl).Err(); err == nil {
				c.markHealthy()
				return
			}
		}
		c.markDegraded(err)
	}

	c.mu.Lock()
	c.local[key] = e
	c.mu.Unlock()
}

// Invalidate drops the cached dataset for (symbol, exchange, interval).
func (c *CandleCache) Invalidate(ctx context.Context, symbol, exchange string, interval models.Timeframe) {
	key := candleKey(symbol, exchange, interval)
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			c.markDegraded(err)
		}
	}
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
}

// InvalidateSymbol drops all intervals for a symbol, used when a closed
// candle arrives for it.
func (c *CandleCache) InvalidateSymbol(ctx context.Context, symbol, exchange string) {
	for _, tf := range models.CanonicalTimeframes {
		c.Invalidate(ctx, symbol, exchange, tf)
	}
}

// Degraded reports whether Redis is currently unreachable.
func (c *CandleCache) Degraded() bool {
	c.degradedMu.Lock()
	defer c.degradedMu.Unlock()
	return c.degraded
}

// SetClock overrides the wall clock, for tests.
func (c *CandleCache) SetClock(now func() time.Time) { c.now = now }

func (c *CandleCache) stale(e entry) bool {
	stored := time.UnixMilli(e.StoredAt)
	return c.policy.ShouldInvalidate(stored, c.now(), time.Duration(e.TTLSec)*time.Second)
}

func (c *CandleCache) markDegraded(err error) {
	c.degradedMu.Lock()
	defer c.degradedMu.Unlock()
	if !c.degraded {
		c.log.Warn().Err(err).Msg("redis unreachable, serving from in-process cache")
		c.degraded = true
	}
}

func (c *CandleCache) markHealthy() {
	c.degradedMu.Lock()
	defer c.degradedMu.Unlock()
	if c.degraded {
		c.log.Info().Msg("redis connection recovered")
		c.degraded = false
	}
}
