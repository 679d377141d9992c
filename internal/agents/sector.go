package agents

import (
	"context"
	"fmt"
	"sort"

	"market-analysis-engine/internal/models"
)

// sectorLookback is the bar count over which relative returns compare.
const sectorLookback = 20

// SectorAgent ranks the symbol's return against its sector peers. A
// symbol outrunning its peers gets a bullish relative-strength read.
type SectorAgent struct {
	tf models.Timeframe
}

// NewSectorAgent builds the sector analyzer over the given timeframe.
func NewSectorAgent(tf models.Timeframe) *SectorAgent {
	return &SectorAgent{tf: tf}
}

func (a *SectorAgent) Spec() Spec {
	return Spec{ID: AgentSector}
}

func (a *SectorAgent) Run(_ context.Context, in Inputs) models.AgentResult {
	own := periodReturn(in.BaseCandles(a.tf), sectorLookback)
	if own == nil {
		return models.FailedResult(AgentSector, fmt.Errorf("insufficient own history for relative strength"))
	}
	if len(in.Peers) == 0 {
		return models.FailedResult(AgentSector, fmt.Errorf("no sector peers available"))
	}

	type peerReturn struct {
		Symbol string  `json:"symbol"`
		Return float64 `json:"return_pct"`
	}
	peerReturns := make([]peerReturn, 0, len(in.Peers))
	for _, peer := range in.Peers {
		r := periodReturn(in.PeerCandles[peer], sectorLookback)
		if r == nil {
			continue
		}
		peerReturns = append(peerReturns, peerReturn{Symbol: peer, Return: *r})
	}
	if len(peerReturns) == 0 {
		return models.FailedResult(AgentSector, fmt.Errorf("no peer history available"))
	}

	// Percentile rank of own return within the peer set.
	sort.Slice(peerReturns, func(i, j int) bool { return peerReturns[i].Return < peerReturns[j].Return })
	below := 0
	var peerSum float64
	for _, pr := range peerReturns {
		peerSum += pr.Return
		if pr.Return < *own {
			below++
		}
	}
	rank := float64(below) / float64(len(peerReturns))
	peerAvg := peerSum / float64(len(peerReturns))

	bias := models.BiasNeutral
	confidence := 40.0
	switch {
	case rank >= 0.7 && *own > peerAvg:
		bias = models.BiasBullish
		confidence = 45 + 40*rank
	case rank <= 0.3 && *own < peerAvg:
		bias = models.BiasBearish
		confidence = 45 + 40*(1-rank)
	}

	matrix := make([]map[string]interface{}, 0, len(peerReturns))
	for _, pr := range peerReturns {
		matrix = append(matrix, map[string]interface{}{
			"symbol":     pr.Symbol,
			"return_pct": pr.Return,
		})
	}
	return models.OKResult(AgentSector, confidence, map[string]interface{}{
		"bias":            string(bias),
		"own_return_pct":  *own,
		"peer_avg_pct":    peerAvg,
		"percentile_rank": rank,
		"peer_matrix":     matrix,
	})
}

// periodReturn computes the percent return over the last lookback bars,
// nil when history is too short or the base close is zero.
func periodReturn(candles []models.Candle, lookback int) *float64 {
	if len(candles) < lookback+1 {
		return nil
	}
	base := candles[len(candles)-lookback-1].Close
	last := candles[len(candles)-1].Close
	if base == 0 {
		return nil
	}
	r := (last - base) / base * 100
	return &r
}
