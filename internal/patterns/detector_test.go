package patterns

import (
	"testing"

	"market-analysis-engine/internal/models"
)

func bar(open, high, low, close float64) models.Candle {
	return models.Candle{Open: open, High: high, Low: low, Close: close}
}

func kinds(matches []Match) map[Kind]Match {
	out := make(map[Kind]Match, len(matches))
	for _, m := range matches {
		out[m.Kind] = m
	}
	return out
}

func TestDetectDoji(t *testing.T) {
	d := NewDetector(0)
	matches := d.Detect([]models.Candle{bar(100, 102, 98, 100.1)})
	m, ok := kinds(matches)[Doji]
	if !ok {
		t.Fatalf("doji not detected: %v", matches)
	}
	if m.Direction != models.BiasNeutral {
		t.Fatalf("doji direction: %s", m.Direction)
	}
}

func TestDetectHammerAfterDownCandle(t *testing.T) {
	d := NewDetector(0)
	candles := []models.Candle{
		bar(105, 106, 103, 103.5), // down candle
		bar(100, 101.1, 96, 101),  // long lower wick, tiny upper
	}
	m, ok := kinds(d.Detect(candles))[Hammer]
	if !ok {
		t.Fatal("hammer not detected")
	}
	if m.Direction != models.BiasBullish || m.CandleIndex != 1 {
		t.Fatalf("hammer: %+v", m)
	}
}

func TestDetectShootingStarAfterUpCandle(t *testing.T) {
	d := NewDetector(0)
	candles := []models.Candle{
		bar(100, 102, 99.5, 101.8), // up candle
		bar(102, 106, 102, 102.3),  // long upper wick, no lower
	}
	m, ok := kinds(d.Detect(candles))[ShootingStar]
	if !ok {
		t.Fatal("shooting star not detected")
	}
	if m.Direction != models.BiasBearish {
		t.Fatalf("shooting star direction: %s", m.Direction)
	}
}

func TestDetectBullishEngulfing(t *testing.T) {
	d := NewDetector(0)
	candles := []models.Candle{
		bar(102, 102.5, 99.5, 100),  // bearish
		bar(99.8, 104, 99.6, 103.5), // body engulfs the previous body
	}
	m, ok := kinds(d.Detect(candles))[BullishEngulfing]
	if !ok {
		t.Fatal("bullish engulfing not detected")
	}
	if m.Direction != models.BiasBullish || m.Confidence != 0.7 {
		t.Fatalf("engulfing: %+v", m)
	}
}

func TestDetectBearishEngulfing(t *testing.T) {
	d := NewDetector(0)
	candles := []models.Candle{
		bar(100, 102.5, 99.8, 102),  // bullish
		bar(102.2, 102.6, 98, 99.5), // body engulfs the previous body
	}
	if _, ok := kinds(d.Detect(candles))[BearishEngulfing]; !ok {
		t.Fatal("bearish engulfing not detected")
	}
}

func TestDetectMorningStar(t *testing.T) {
	d := NewDetector(0)
	candles := []models.Candle{
		bar(110, 110.5, 104.5, 105),   // long bearish
		bar(104.8, 105.6, 104.2, 105), // indecision
		bar(105.2, 111, 105, 110.5),   // long bullish closing above c1 midpoint
	}
	m, ok := kinds(d.Detect(candles))[MorningStar]
	if !ok {
		t.Fatal("morning star not detected")
	}
	if m.Direction != models.BiasBullish || m.CandleIndex != 2 {
		t.Fatalf("morning star: %+v", m)
	}
	if m.Geometry["c1_open"] != 110 {
		t.Fatalf("geometry missing: %+v", m.Geometry)
	}
}

func TestDetectEveningStar(t *testing.T) {
	d := NewDetector(0)
	candles := []models.Candle{
		bar(105, 110.6, 104.8, 110),     // long bullish
		bar(110.2, 110.9, 109.6, 110.1), // indecision
		bar(110, 110.2, 104.4, 105),     // long bearish closing below c1 midpoint
	}
	if _, ok := kinds(d.Detect(candles))[EveningStar]; !ok {
		t.Fatal("evening star not detected")
	}
}

func TestDetectBullishFlag(t *testing.T) {
	d := NewDetector(0)
	var candles []models.Candle
	// Pole: ten bars climbing 100 -> 110.
	price := 100.0
	for i := 0; i < 10; i++ {
		candles = append(candles, bar(price, price+1.2, price-0.2, price+1))
		price += 1
	}
	// Consolidation: five bars drifting slightly lower.
	for i := 0; i < 5; i++ {
		candles = append(candles, bar(price, price+0.3, price-0.6, price-0.4))
		price -= 0.4
	}
	m, ok := kinds(d.Detect(candles))[BullishFlag]
	if !ok {
		t.Fatal("bullish flag not detected")
	}
	if m.Direction != models.BiasBullish {
		t.Fatalf("flag direction: %s", m.Direction)
	}
}

func TestNoMatchesOnQuietSeries(t *testing.T) {
	d := NewDetector(0)
	// Modest-bodied bars with balanced wicks trigger nothing.
	var candles []models.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, bar(100, 101, 99, 100.5))
	}
	for _, m := range d.Detect(candles) {
		if m.Kind != Doji {
			t.Fatalf("unexpected match on quiet series: %+v", m)
		}
	}
}
