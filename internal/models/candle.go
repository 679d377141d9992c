package models

import (
	"fmt"
	"time"
)

// Timeframe represents a candle aggregation interval.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// CanonicalTimeframes is the fixed set used by the multi-timeframe pass.
var CanonicalTimeframes = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF1d}

// Duration returns the wall-clock span of one bucket of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF30m:
		return 30 * time.Minute
	case TF1h:
		return time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// DurationMs returns the bucket span in milliseconds.
func (tf Timeframe) DurationMs() int64 {
	return tf.Duration().Milliseconds()
}

// ParseTimeframe validates and converts a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if tf.Duration() == 0 {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// BucketStart returns the start of the bucket containing ts (epoch ms).
// Buckets are half-open [start, end): a tick at exactly the bucket end
// belongs to the next bucket.
func (tf Timeframe) BucketStart(ts int64) int64 {
	d := tf.DurationMs()
	return (ts / d) * d
}

// Candle is one OHLCV bar for a (token, timeframe) pair.
// Start and End are UTC epoch milliseconds with End-Start equal to the
// timeframe duration.
type Candle struct {
	Token     int64     `json:"token"`
	Timeframe Timeframe `json:"timeframe"`
	Start     int64     `json:"start"`
	End       int64     `json:"end"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the structural candle invariants.
func (c Candle) Validate() error {
	if c.Start >= c.End {
		return fmt.Errorf("candle start %d not before end %d", c.Start, c.End)
	}
	if d := c.Timeframe.DurationMs(); d != 0 && c.End-c.Start != d {
		return fmt.Errorf("candle span %dms does not match timeframe %s", c.End-c.Start, c.Timeframe)
	}
	lo, hi := c.Open, c.Open
	if c.Close < lo {
		lo = c.Close
	}
	if c.Close > hi {
		hi = c.Close
	}
	if c.Low > lo {
		return fmt.Errorf("candle low %.8f above body low %.8f", c.Low, lo)
	}
	if c.High < hi {
		return fmt.Errorf("candle high %.8f below body high %.8f", c.High, hi)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative candle volume %.8f", c.Volume)
	}
	return nil
}

// Contains reports whether a tick timestamp falls inside this candle's
// half-open bucket.
func (c Candle) Contains(ts int64) bool {
	return ts >= c.Start && ts < c.End
}

// VolumeMode declares how a feed adapter reports traded volume.
// The aggregator must never guess; every Provider declares its mode.
type VolumeMode int

const (
	// VolumeCumulative means ticks carry the cumulative session volume;
	// per-bar volume is the delta against the previous bar close.
	VolumeCumulative VolumeMode = iota
	// VolumeDelta means ticks carry per-trade quantity that sums directly.
	VolumeDelta
)

func (m VolumeMode) String() string {
	if m == VolumeCumulative {
		return "cumulative"
	}
	return "delta"
}
