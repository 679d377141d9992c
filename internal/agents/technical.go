package agents

import (
	"context"
	"fmt"

	"market-analysis-engine/internal/models"
)

// Agent IDs. Stable identifiers, part of the artifact contract.
const (
	AgentTechnical = "technical_indicators"
	AgentPatterns  = "pattern_detection"
	AgentVolume    = "volume_regime"
	AgentSector    = "sector_strength"
	AgentML        = "ml_prediction"
)

// TechnicalAgent reads the precomputed indicator snapshot into a bias
// with per-indicator detail.
type TechnicalAgent struct{}

func (TechnicalAgent) Spec() Spec {
	return Spec{ID: AgentTechnical}
}

func (TechnicalAgent) Run(_ context.Context, in Inputs) models.AgentResult {
	if in.Indicators == nil {
		return models.FailedResult(AgentTechnical, fmt.Errorf("no indicator snapshot available"))
	}
	s := *in.Indicators
	bias, confidence := s.Bias()

	payload := map[string]interface{}{
		"bias":           string(bias),
		"rsi_14":         s.RSI14,
		"macd":           s.MACD,
		"macd_signal":    s.MACDSignal,
		"macd_histogram": s.MACDHist,
		"sma_20":         s.SMA20,
		"sma_50":         s.SMA50,
		"ema_9":          s.EMA9,
		"ema_21":         s.EMA21,
		"atr_14":         s.ATR14,
		"adx_14":         s.ADX14,
		"bb_upper":       s.BBUpper,
		"bb_middle":      s.BBMiddle,
		"bb_lower":       s.BBLower,
		"stoch_k":        s.StochK,
		"stoch_d":        s.StochD,
		"pivot_point":    s.PivotPoint,
		"support_1":      s.Support1,
		"resistance_1":   s.Resistance1,
		"momentum_10":    s.Momentum10,
	}
	return models.OKResult(AgentTechnical, confidence, payload)
}
