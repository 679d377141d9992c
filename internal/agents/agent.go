// Package agents holds the analyzer registry and the parallel executor
// that runs analyzers in dependency order with per-agent isolation.
package agents

import (
	"context"
	"time"

	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/models"
)

// DefaultTimeout bounds a single analyzer run.
const DefaultTimeout = 20 * time.Second

// Inputs is the read-only bundle handed to every analyzer. Each agent
// receives its own shallow copy; analyzers must not mutate candle
// slices.
type Inputs struct {
	Symbol       string
	Exchange     string
	CurrentPrice float64
	MarketStatus models.MarketStatus

	// Candles holds history per timeframe, most recent last.
	Candles map[models.Timeframe][]models.Candle

	// Indicators is the precomputed snapshot over the base timeframe.
	Indicators *indicators.Snapshot

	// Peers and PeerCandles back the sector analyzer.
	Peers       []string
	PeerCandles map[string][]models.Candle

	// PriorResults carries completed upstream agent results, keyed by
	// agent ID. Populated only for agents that declared the dependency.
	PriorResults map[string]models.AgentResult
}

// BaseCandles returns history for the given timeframe, nil when absent.
func (in Inputs) BaseCandles(tf models.Timeframe) []models.Candle {
	if in.Candles == nil {
		return nil
	}
	return in.Candles[tf]
}

// clone copies the map headers so one agent's bookkeeping cannot leak
// into another's view. Candle slices are shared read-only.
func (in Inputs) clone() Inputs {
	out := in
	out.Candles = make(map[models.Timeframe][]models.Candle, len(in.Candles))
	for tf, cs := range in.Candles {
		out.Candles[tf] = cs
	}
	out.PriorResults = make(map[string]models.AgentResult, len(in.PriorResults))
	for id, r := range in.PriorResults {
		out.PriorResults[id] = r
	}
	return out
}

// Spec declares an analyzer's identity and scheduling contract.
type Spec struct {
	// ID is the stable agent identifier used in results and wire output.
	ID string

	// DependsOn lists agent IDs whose results must be available before
	// this agent runs. A failed or skipped dependency skips this agent.
	DependsOn []string

	// Timeout bounds one run; zero means DefaultTimeout.
	Timeout time.Duration
}

// Analyzer is one independent analysis unit. Run must honor ctx and
// return a result rather than panicking; the executor still recovers
// panics as a last line of defense.
type Analyzer interface {
	Spec() Spec
	Run(ctx context.Context, in Inputs) models.AgentResult
}
