package agents

import (
	"context"
	"fmt"

	"market-analysis-engine/internal/models"
)

// volumeLookback is how many bars the regime classification considers.
const volumeLookback = 20

// VolumeAgent classifies the volume regime: whether recent volume flows
// with or against price (accumulation vs distribution).
type VolumeAgent struct {
	tf models.Timeframe
}

// NewVolumeAgent builds the volume analyzer over the given timeframe.
func NewVolumeAgent(tf models.Timeframe) *VolumeAgent {
	return &VolumeAgent{tf: tf}
}

func (a *VolumeAgent) Spec() Spec {
	return Spec{ID: AgentVolume}
}

func (a *VolumeAgent) Run(_ context.Context, in Inputs) models.AgentResult {
	candles := in.BaseCandles(a.tf)
	if len(candles) < volumeLookback {
		return models.FailedResult(AgentVolume, fmt.Errorf("need %d candles, have %d", volumeLookback, len(candles)))
	}
	window := candles[len(candles)-volumeLookback:]

	var upVol, downVol, totalVol float64
	for _, c := range window {
		totalVol += c.Volume
		switch {
		case c.Close > c.Open:
			upVol += c.Volume
		case c.Close < c.Open:
			downVol += c.Volume
		}
	}
	if totalVol <= 0 {
		return models.FailedResult(AgentVolume, fmt.Errorf("no volume traded in window"))
	}

	// Recent half vs prior half says whether participation is growing.
	half := len(window) / 2
	var priorVol, recentVol float64
	for i, c := range window {
		if i < half {
			priorVol += c.Volume
		} else {
			recentVol += c.Volume
		}
	}
	volumeTrend := "flat"
	if priorVol > 0 {
		ratio := recentVol / priorVol
		if ratio > 1.25 {
			volumeTrend = "expanding"
		} else if ratio < 0.8 {
			volumeTrend = "contracting"
		}
	}

	upFrac := upVol / totalVol
	regime := "neutral"
	bias := models.BiasNeutral
	confidence := 40.0
	switch {
	case upFrac >= 0.6:
		regime = "accumulation"
		bias = models.BiasBullish
		confidence = 40 + 100*(upFrac-0.6)
	case upFrac <= 0.4:
		regime = "distribution"
		bias = models.BiasBearish
		confidence = 40 + 100*(0.4-upFrac)
	}
	if volumeTrend == "expanding" && bias != models.BiasNeutral {
		confidence += 10
	}

	return models.OKResult(AgentVolume, confidence, map[string]interface{}{
		"bias":             string(bias),
		"regime":           regime,
		"volume_trend":     volumeTrend,
		"up_volume_frac":   upFrac,
		"lookback_candles": len(window),
	})
}
