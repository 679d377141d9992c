// Package patterns detects candlestick chart patterns over candle
// history. Detection is geometric only; interpretation belongs to the
// pattern analyzer.
package patterns

import (
	"math"

	"market-analysis-engine/internal/models"
)

// Kind names a supported chart pattern.
type Kind string

const (
	MorningStar      Kind = "morning_star"
	EveningStar      Kind = "evening_star"
	ShootingStar     Kind = "shooting_star"
	Hammer           Kind = "hammer"
	BullishEngulfing Kind = "bullish_engulfing"
	BearishEngulfing Kind = "bearish_engulfing"
	Doji             Kind = "doji"
	BullishFlag      Kind = "bullish_flag"
	BearishFlag      Kind = "bearish_flag"
)

// Match is one detected pattern occurrence.
type Match struct {
	Kind        Kind        `json:"kind"`
	Direction   models.Bias `json:"direction"`
	CandleIndex int         `json:"candle_index"`
	Confidence  float64     `json:"confidence"` // 0.0-1.0
	// Geometry holds the raw price points that define the pattern. The
	// context builder drops this block first under size pressure.
	Geometry map[string]float64 `json:"geometry,omitempty"`
}

// Detector scans candle slices for pattern occurrences.
type Detector struct {
	minBodyFrac float64 // minimum body as a fraction of the bar range
}

// NewDetector builds a detector. minBodyFrac defaults to 0.6 when
// non-positive, matching the star-pattern body requirement.
func NewDetector(minBodyFrac float64) *Detector {
	if minBodyFrac <= 0 {
		minBodyFrac = 0.6
	}
	return &Detector{minBodyFrac: minBodyFrac}
}

// Detect scans the whole slice and returns all matches in index order.
func (d *Detector) Detect(candles []models.Candle) []Match {
	var matches []Match
	for i := range candles {
		c := candles[i]
		var prev *models.Candle
		if i > 0 {
			prev = &candles[i-1]
		}
		if m, ok := d.singleCandle(c, prev, i); ok {
			matches = append(matches, m)
		}
		if i >= 1 {
			if m, ok := d.engulfing(candles[i-1], c, i); ok {
				matches = append(matches, m)
			}
		}
		if i >= 2 {
			if m, ok := d.star(candles[i-2], candles[i-1], c, i); ok {
				matches = append(matches, m)
			}
		}
		if i >= 14 {
			if m, ok := d.flag(candles[:i+1], i); ok {
				matches = append(matches, m)
			}
		}
	}
	return matches
}

func (d *Detector) star(c1, c2, c3 models.Candle, idx int) (Match, bool) {
	body1 := math.Abs(c1.Close - c1.Open)
	range1 := c1.High - c1.Low
	body2 := math.Abs(c2.Close - c2.Open)
	body3 := math.Abs(c3.Close - c3.Open)
	range3 := c3.High - c3.Low
	if range1 == 0 || range3 == 0 {
		return Match{}, false
	}
	longFirst := body1 >= range1*d.minBodyFrac
	smallMiddle := body2 <= body1*0.4
	longLast := body3 >= range3*d.minBodyFrac
	if !longFirst || !smallMiddle || !longLast {
		return Match{}, false
	}
	mid1 := (c1.Open + c1.Close) / 2

	confidence := 0.7
	if body3 > body1*1.2 {
		confidence += 0.1
	}
	geometry := map[string]float64{
		"c1_open": c1.Open, "c1_close": c1.Close,
		"c2_open": c2.Open, "c2_close": c2.Close,
		"c3_open": c3.Open, "c3_close": c3.Close,
	}

	// Morning star: bearish, indecision, bullish closing above c1 midpoint.
	if c1.Close < c1.Open && c3.Close > c3.Open && c3.Close >= mid1 {
		return Match{Kind: MorningStar, Direction: models.BiasBullish, CandleIndex: idx,
			Confidence: confidence, Geometry: geometry}, true
	}
	// Evening star: the mirror image.
	if c1.Close > c1.Open && c3.Close < c3.Open && c3.Close <= mid1 {
		return Match{Kind: EveningStar, Direction: models.BiasBearish, CandleIndex: idx,
			Confidence: confidence, Geometry: geometry}, true
	}
	return Match{}, false
}

func (d *Detector) singleCandle(c models.Candle, prev *models.Candle, idx int) (Match, bool) {
	body := math.Abs(c.Close - c.Open)
	upper := c.High - math.Max(c.Open, c.Close)
	lower := math.Min(c.Open, c.Close) - c.Low
	barRange := c.High - c.Low
	if barRange == 0 {
		return Match{}, false
	}
	geometry := map[string]float64{"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close}

	// Doji: negligible body.
	if body <= barRange*0.05 {
		return Match{Kind: Doji, Direction: models.BiasNeutral, CandleIndex: idx,
			Confidence: 0.5, Geometry: geometry}, true
	}
	// Shooting star: long upper wick after an up candle.
	if upper >= body*2 && lower <= body*0.3 {
		if prev == nil || prev.Close > prev.Open {
			return Match{Kind: ShootingStar, Direction: models.BiasBearish, CandleIndex: idx,
				Confidence: 0.65, Geometry: geometry}, true
		}
	}
	// Hammer: long lower wick after a down candle.
	if lower >= body*2 && upper <= body*0.3 {
		if prev == nil || prev.Close < prev.Open {
			return Match{Kind: Hammer, Direction: models.BiasBullish, CandleIndex: idx,
				Confidence: 0.65, Geometry: geometry}, true
		}
	}
	return Match{}, false
}

func (d *Detector) engulfing(prev, cur models.Candle, idx int) (Match, bool) {
	prevBody := math.Abs(prev.Close - prev.Open)
	curBody := math.Abs(cur.Close - cur.Open)
	if prevBody == 0 || curBody <= prevBody {
		return Match{}, false
	}
	geometry := map[string]float64{
		"prev_open": prev.Open, "prev_close": prev.Close,
		"open": cur.Open, "close": cur.Close,
	}
	if prev.Close < prev.Open && cur.Close > cur.Open &&
		cur.Open <= prev.Close && cur.Close >= prev.Open {
		return Match{Kind: BullishEngulfing, Direction: models.BiasBullish, CandleIndex: idx,
			Confidence: 0.7, Geometry: geometry}, true
	}
	if prev.Close > prev.Open && cur.Close < cur.Open &&
		cur.Open >= prev.Close && cur.Close <= prev.Open {
		return Match{Kind: BearishEngulfing, Direction: models.BiasBearish, CandleIndex: idx,
			Confidence: 0.7, Geometry: geometry}, true
	}
	return Match{}, false
}

// flag looks for a strong pole followed by a shallow counter-trend
// consolidation over the last 15 bars.
func (d *Detector) flag(candles []models.Candle, idx int) (Match, bool) {
	n := len(candles)
	pole := candles[n-15 : n-5]
	cons := candles[n-5:]

	poleMove := pole[len(pole)-1].Close - pole[0].Open
	if pole[0].Open == 0 {
		return Match{}, false
	}
	polePct := poleMove / pole[0].Open * 100

	consMove := cons[len(cons)-1].Close - cons[0].Open
	geometry := map[string]float64{
		"pole_start": pole[0].Open, "pole_end": pole[len(pole)-1].Close,
		"cons_start": cons[0].Open, "cons_end": cons[len(cons)-1].Close,
	}

	// Pole must be at least 3% and the consolidation must lean against it
	// but retrace less than half of it.
	if polePct >= 3 && consMove <= 0 && math.Abs(consMove) < math.Abs(poleMove)*0.5 {
		return Match{Kind: BullishFlag, Direction: models.BiasBullish, CandleIndex: idx,
			Confidence: 0.6, Geometry: geometry}, true
	}
	if polePct <= -3 && consMove >= 0 && math.Abs(consMove) < math.Abs(poleMove)*0.5 {
		return Match{Kind: BearishFlag, Direction: models.BiasBearish, CandleIndex: idx,
			Confidence: 0.6, Geometry: geometry}, true
	}
	return Match{}, false
}
