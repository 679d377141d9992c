// Package cache implements the market-hours-aware candle cache. The
// cache is purely a freshness contract: the engine functions identically
// with the cache empty or the backing store absent.
package cache

import (
	"time"

	"market-analysis-engine/internal/models"
)

// SourceClass labels where fresh data for a request should come from.
type SourceClass string

const (
	SourceLive       SourceClass = "live"
	SourceRecent     SourceClass = "recent"
	SourceHistorical SourceClass = "historical"
)

// ttlTable maps interval x session-open to cache TTL seconds.
var ttlTable = map[models.Timeframe][2]int{
	//                 OPEN, CLOSED
	models.TF1m:  {60, 3600},
	models.TF5m:  {300, 3600},
	models.TF15m: {900, 3600},
	models.TF30m: {900, 3600},
	models.TF1h:  {3600, 7200},
	models.TF1d:  {3600, 86400},
}

// Policy decides data source and TTL per (interval, market status).
type Policy struct{}

// SourceFor returns the recommended source and cache TTL for a request.
// Live data is only recommended while the session is open and the
// interval is intraday.
func (Policy) SourceFor(interval models.Timeframe, status models.MarketStatus) (SourceClass, time.Duration) {
	row, ok := ttlTable[interval]
	if !ok {
		row = [2]int{300, 3600}
	}
	if status.Trading() {
		if interval == models.TF1d {
			return SourceRecent, time.Duration(row[0]) * time.Second
		}
		return SourceLive, time.Duration(row[0]) * time.Second
	}
	return SourceHistorical, time.Duration(row[1]) * time.Second
}

// ShouldInvalidate reports whether a cached dataset written at storedAt
// with the given TTL is stale at now.
func (Policy) ShouldInvalidate(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) >= ttl
}
