// Package mtf runs the multi-timeframe pass: fetch candles per
// timeframe in parallel, read a bias per timeframe, and fold the reads
// into an alignment score.
package mtf

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/cache"
	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/models"
)

// candleLimit is how many bars each timeframe fetch requests.
const candleLimit = 100

// TimeframeRead is one timeframe's directional read. Unavailable
// timeframes stay in the output with a reason; they never vanish.
type TimeframeRead struct {
	Timeframe  models.Timeframe `json:"timeframe"`
	Available  bool             `json:"available"`
	Bias       models.Bias      `json:"bias,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Result is the folded multi-timeframe view.
type Result struct {
	Reads []TimeframeRead `json:"reads"`

	// Alignment is (bullish - bearish) / available, in [-1, 1].
	Alignment float64 `json:"alignment"`

	// Used counts timeframes that produced a read.
	Used int `json:"used"`

	// ConflictingTimeframes lists reads that disagree with the majority
	// direction, empty when the view is coherent.
	ConflictingTimeframes []models.Timeframe `json:"conflicting_timeframes,omitempty"`
}

// Dominant returns the majority bias of the view.
func (r *Result) Dominant() models.Bias {
	switch {
	case r.Alignment > 0:
		return models.BiasBullish
	case r.Alignment < 0:
		return models.BiasBearish
	default:
		return models.BiasNeutral
	}
}

// Aggregator fetches and reads all canonical timeframes.
type Aggregator struct {
	provider marketdata.Provider
	cache    *cache.CandleCache
	log      zerolog.Logger
}

// NewAggregator builds the multi-timeframe aggregator. cache may be nil.
func NewAggregator(provider marketdata.Provider, candleCache *cache.CandleCache, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		provider: provider,
		cache:    candleCache,
		log:      log.With().Str("component", "mtf").Logger(),
	}
}

// Analyze fetches every canonical timeframe in parallel and folds the
// reads. Individual timeframe failures degrade the view, never abort it.
func (a *Aggregator) Analyze(ctx context.Context, symbol, exchange string, status models.MarketStatus) *Result {
	reads := make([]TimeframeRead, len(models.CanonicalTimeframes))

	var wg sync.WaitGroup
	for i, tf := range models.CanonicalTimeframes {
		wg.Add(1)
		go func(i int, tf models.Timeframe) {
			defer wg.Done()
			reads[i] = a.readTimeframe(ctx, symbol, exchange, tf, status)
		}(i, tf)
	}
	wg.Wait()

	return fold(reads)
}

func (a *Aggregator) readTimeframe(ctx context.Context, symbol, exchange string, tf models.Timeframe, status models.MarketStatus) TimeframeRead {
	candles, err := a.fetch(ctx, symbol, exchange, tf, status)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("timeframe fetch failed")
		return TimeframeRead{Timeframe: tf, Available: false, Reason: err.Error()}
	}
	if len(candles) < 30 {
		return TimeframeRead{Timeframe: tf, Available: false, Reason: "insufficient history"}
	}
	bias, confidence := indicators.Compute(candles).Bias()
	return TimeframeRead{Timeframe: tf, Available: true, Bias: bias, Confidence: confidence}
}

func (a *Aggregator) fetch(ctx context.Context, symbol, exchange string, tf models.Timeframe, status models.MarketStatus) ([]models.Candle, error) {
	if a.cache != nil {
		if candles, ok := a.cache.Get(ctx, symbol, exchange, tf); ok {
			return candles, nil
		}
	}
	candles, err := a.provider.HistoricalCandles(ctx, symbol, exchange, tf, candleLimit)
	if err != nil {
		return nil, err
	}
	if a.cache != nil && len(candles) > 0 {
		a.cache.Set(ctx, symbol, exchange, tf, status, candles)
	}
	return candles, nil
}

// fold computes alignment and flags conflicting reads.
func fold(reads []TimeframeRead) *Result {
	res := &Result{Reads: reads}
	bull, bear := 0, 0
	for _, r := range reads {
		if !r.Available {
			continue
		}
		res.Used++
		switch r.Bias {
		case models.BiasBullish:
			bull++
		case models.BiasBearish:
			bear++
		}
	}
	if res.Used == 0 {
		return res
	}
	res.Alignment = float64(bull-bear) / float64(res.Used)

	// A read fighting a clear majority is worth surfacing.
	if math.Abs(res.Alignment) > 0 {
		majority := models.BiasBullish
		if res.Alignment < 0 {
			majority = models.BiasBearish
		}
		for _, r := range reads {
			if r.Available && r.Bias != models.BiasNeutral && r.Bias != majority {
				res.ConflictingTimeframes = append(res.ConflictingTimeframes, r.Timeframe)
			}
		}
	}
	return res
}
