// Package synthesis reconciles analyzer output into a final decision:
// deterministic prior levels, a bounded LLM context, and a validated
// (or deterministically substituted) trading plan.
package synthesis

import (
	"math"

	"market-analysis-engine/internal/models"
)

// horizonBand holds the ATR multipliers for one horizon: entry half-width,
// stop distance, and the two target distances.
type horizonBand struct {
	entry   float64
	stop    float64
	targets [2]float64
}

var horizonBands = map[models.Horizon]horizonBand{
	models.HorizonShort:  {entry: 0.5, stop: 1.5, targets: [2]float64{2.5, 4.5}},
	models.HorizonMedium: {entry: 1.0, stop: 2.5, targets: [2]float64{4.0, 7.0}},
	models.HorizonLong:   {entry: 1.5, stop: 4.0, targets: [2]float64{6.5, 11.0}},
}

// DeriveLevels computes the deterministic prior levels from the current
// price and ATR. These anchor the final decision: the model may refine
// them slightly but never replace them wholesale.
func DeriveLevels(currentPrice, atr float64, bias models.Bias) models.TradingLevels {
	if currentPrice <= 0 || atr <= 0 {
		return models.TradingLevels{}
	}
	return models.TradingLevels{
		ShortTerm:  deriveHorizon(currentPrice, atr, bias, horizonBands[models.HorizonShort]),
		MediumTerm: deriveHorizon(currentPrice, atr, bias, horizonBands[models.HorizonMedium]),
		LongTerm:   deriveHorizon(currentPrice, atr, bias, horizonBands[models.HorizonLong]),
	}
}

func deriveHorizon(p, atr float64, bias models.Bias, band horizonBand) models.HorizonLevels {
	switch bias {
	case models.BiasBearish:
		return models.HorizonLevels{
			EntryLow:  RoundPrice(p),
			EntryHigh: RoundPrice(p + band.entry*atr),
			StopLoss:  RoundPrice(p + band.stop*atr),
			Targets: []float64{
				RoundPrice(p - band.targets[0]*atr),
				RoundPrice(p - band.targets[1]*atr),
			},
		}
	case models.BiasBullish:
		return models.HorizonLevels{
			EntryLow:  RoundPrice(p - band.entry*atr),
			EntryHigh: RoundPrice(p),
			StopLoss:  RoundPrice(p - band.stop*atr),
			Targets: []float64{
				RoundPrice(p + band.targets[0]*atr),
				RoundPrice(p + band.targets[1]*atr),
			},
		}
	default:
		return models.HorizonLevels{
			EntryLow:  RoundPrice(p - band.entry*atr),
			EntryHigh: RoundPrice(p + band.entry*atr),
			StopLoss:  RoundPrice(p - band.stop*atr),
			Targets: []float64{
				RoundPrice(p + band.targets[0]*atr),
				RoundPrice(p + band.targets[1]*atr),
			},
		}
	}
}

// RoundPrice rounds to 4 decimal places, the price precision used in
// every synthesis artifact.
func RoundPrice(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// RoundPct rounds to 2 decimal places, the percentage precision used in
// every synthesis artifact.
func RoundPct(v float64) float64 {
	return math.Round(v*100) / 100
}
