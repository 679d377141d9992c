package agents

import (
	"context"
	"fmt"

	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/patterns"
)

// recentPatternWindow limits scoring to patterns near the right edge;
// a hammer 80 bars ago says nothing about today.
const recentPatternWindow = 10

// PatternAgent scans base-timeframe candles for chart patterns and
// scores the directional lean of the recent ones.
type PatternAgent struct {
	detector *patterns.Detector
	tf       models.Timeframe
}

// NewPatternAgent builds the pattern analyzer over the given timeframe.
func NewPatternAgent(tf models.Timeframe) *PatternAgent {
	return &PatternAgent{detector: patterns.NewDetector(0), tf: tf}
}

func (a *PatternAgent) Spec() Spec {
	return Spec{ID: AgentPatterns}
}

func (a *PatternAgent) Run(_ context.Context, in Inputs) models.AgentResult {
	candles := in.BaseCandles(a.tf)
	if len(candles) < 3 {
		return models.FailedResult(AgentPatterns, fmt.Errorf("need at least 3 candles, have %d", len(candles)))
	}

	matches := a.detector.Detect(candles)
	recent := make([]patterns.Match, 0, len(matches))
	cutoff := len(candles) - recentPatternWindow
	for _, m := range matches {
		if m.CandleIndex >= cutoff {
			recent = append(recent, m)
		}
	}

	bias, confidence := scorePatterns(recent)

	detected := make([]map[string]interface{}, 0, len(recent))
	for _, m := range recent {
		entry := map[string]interface{}{
			"kind":         string(m.Kind),
			"direction":    string(m.Direction),
			"candle_index": m.CandleIndex,
			"confidence":   m.Confidence,
		}
		if len(m.Geometry) > 0 {
			entry["geometry"] = m.Geometry
		}
		detected = append(detected, entry)
	}

	return models.OKResult(AgentPatterns, confidence, map[string]interface{}{
		"bias":          string(bias),
		"patterns":      detected,
		"total_scanned": len(candles),
	})
}

// scorePatterns sums confidence-weighted direction votes. A bare doji
// set yields a neutral, low-confidence read.
func scorePatterns(matches []patterns.Match) (models.Bias, float64) {
	if len(matches) == 0 {
		return models.BiasNeutral, 25
	}
	var bull, bear float64
	for _, m := range matches {
		switch m.Direction {
		case models.BiasBullish:
			bull += m.Confidence
		case models.BiasBearish:
			bear += m.Confidence
		}
	}
	net := bull - bear
	total := bull + bear
	if total == 0 {
		return models.BiasNeutral, 30
	}
	confidence := 40 + 45*minFloat(total, 1.5)/1.5
	switch {
	case net > 0.3:
		return models.BiasBullish, confidence
	case net < -0.3:
		return models.BiasBearish, confidence
	default:
		return models.BiasNeutral, 40
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
