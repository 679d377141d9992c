package models

import "fmt"

// Tick is a single trade/quote update from the broker feed. Immutable.
type Tick struct {
	Token        int64   `json:"token"`
	Price        float64 `json:"price"`
	VolumeTraded float64 `json:"volume_traded"`
	Timestamp    int64   `json:"timestamp"` // UTC epoch ms
	Bid          float64 `json:"bid,omitempty"`
	Ask          float64 `json:"ask,omitempty"`
}

// MaxClockSkew is the largest tolerated distance between a tick timestamp
// and the wall clock before the tick is treated as malformed.
const MaxClockSkew = int64(3600_000) // 1h in ms

// CheckWellFormed rejects ticks that would corrupt downstream state:
// missing price or an obviously skewed clock. nowMs is the wall clock.
func (t Tick) CheckWellFormed(nowMs int64) error {
	if t.Price <= 0 {
		return fmt.Errorf("tick for token %d missing price", t.Token)
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("tick for token %d missing timestamp", t.Token)
	}
	skew := t.Timestamp - nowMs
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return fmt.Errorf("tick for token %d clock skew %dms exceeds 1h", t.Token, skew)
	}
	if t.VolumeTraded < 0 {
		return fmt.Errorf("tick for token %d negative volume", t.Token)
	}
	return nil
}

// MarketStatus is a coarse session state hint used by the cache policy
// and the tick gate. Derived from wall clock plus the exchange calendar.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketClosed  MarketStatus = "CLOSED"
	MarketWeekend MarketStatus = "WEEKEND"
	MarketHoliday MarketStatus = "HOLIDAY"
	MarketPre     MarketStatus = "PRE"
	MarketPost    MarketStatus = "POST"
)

// Trading reports whether the session is accepting live ticks.
func (s MarketStatus) Trading() bool {
	return s == MarketOpen
}
