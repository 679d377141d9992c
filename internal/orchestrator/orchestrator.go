// Package orchestrator drives one analysis end to end: fetch data,
// derive priors, run analyzers, fold timeframes, synthesize, persist.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/agents"
	"market-analysis-engine/internal/cache"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/enginerr"
	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/llm"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/markethours"
	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
	"market-analysis-engine/internal/synthesis"
)

// Config bounds the pipeline.
type Config struct {
	// OverallTimeout caps one full analysis; zero means 180s.
	OverallTimeout time.Duration

	// FetchTimeout caps the data step; zero means 30s.
	FetchTimeout time.Duration

	// MaxPending bounds concurrent analyses; requests beyond it are
	// rejected as overloaded rather than queued unboundedly. Zero means 8.
	MaxPending int

	// BaseTimeframe is the timeframe analyzers read; empty means 1d.
	BaseTimeframe models.Timeframe

	// CandleLimit is how much base history the data step requests; zero
	// means 200.
	CandleLimit int

	// DebounceWindow throttles closed-candle re-analyses per symbol;
	// zero means 60s.
	DebounceWindow time.Duration
}

func (c *Config) fill() {
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 180 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 8
	}
	if c.BaseTimeframe == "" {
		c.BaseTimeframe = models.TF1d
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 200
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 60 * time.Second
	}
}

// Options select per-request behavior.
type Options struct {
	IncludeMTF    bool
	IncludeSector bool
	IncludeML     bool

	// ForceLive bypasses the candle cache for the base fetch.
	ForceLive bool

	// TimeoutMs overrides the overall timeout when positive.
	TimeoutMs int

	// Tier is the starting model tier; empty means primary.
	Tier llm.ModelTier
}

// Orchestrator runs the analysis pipeline.
type Orchestrator struct {
	cfg      Config
	provider marketdata.Provider
	cache    *cache.CandleCache
	executor *agents.Executor
	mtf      *mtf.Aggregator
	synth    *synthesis.Synthesizer
	store    database.Store
	calendar *markethours.Calendar
	log      zerolog.Logger

	sem chan struct{}

	debounceMu sync.Mutex
	lastRerun  map[string]time.Time
}

// New builds the orchestrator. store may be a NoopStore; cache may be nil.
func New(cfg Config, provider marketdata.Provider, candleCache *cache.CandleCache,
	executor *agents.Executor, mtfAgg *mtf.Aggregator, synth *synthesis.Synthesizer,
	store database.Store, calendar *markethours.Calendar, log zerolog.Logger) *Orchestrator {

	cfg.fill()
	if store == nil {
		store = database.NoopStore{}
	}
	return &Orchestrator{
		cfg:       cfg,
		provider:  provider,
		cache:     candleCache,
		executor:  executor,
		mtf:       mtfAgg,
		synth:     synth,
		store:     store,
		calendar:  calendar,
		log:       log.With().Str("component", "orchestrator").Logger(),
		sem:       make(chan struct{}, cfg.MaxPending),
		lastRerun: make(map[string]time.Time),
	}
}

// Analyze runs one full analysis. Cancellation produces an error, never
// a half-built decision.
func (o *Orchestrator) Analyze(ctx context.Context, symbol, exchange string, opts Options) (*models.Decision, error) {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	default:
		metrics.AnalysesTotal.WithLabelValues("overloaded").Inc()
		return nil, enginerr.Newf(enginerr.Overloaded, "analysis queue full (%d pending)", o.cfg.MaxPending)
	}

	timeout := o.cfg.OverallTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := uuid.NewString()
	log := o.log.With().Str("symbol", symbol).Str("request_id", requestID).Logger()
	started := time.Now()

	decision, results, mtfView, price, err := o.run(runCtx, log, symbol, exchange, opts, requestID)
	if err != nil {
		outcome := "failed"
		if enginerr.Is(err, enginerr.Cancelled) {
			outcome = "cancelled"
		} else if enginerr.Is(err, enginerr.DataUnavailable) {
			outcome = "data_unavailable"
		}
		metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}

	log.Info().
		Str("trend", string(decision.Trend)).
		Float64("confidence", decision.ConfidencePct).
		Bool("partial", decision.Meta.Partial).
		Dur("took", time.Since(started)).
		Msg("analysis complete")
	metrics.AnalysesTotal.WithLabelValues("ok").Inc()

	o.persist(symbol, exchange, price, decision, results, mtfView)
	return decision, nil
}

func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger, symbol, exchange string, opts Options, requestID string) (*models.Decision, map[string]models.AgentResult, *mtf.Result, float64, error) {
	status := models.MarketOpen
	if o.calendar != nil {
		status = o.calendar.Status(time.Now())
	}

	// Data step. The only hard-fail step: nothing downstream can run
	// without base candles and a price.
	candles, price, err := o.fetchBase(ctx, symbol, exchange, status, opts.ForceLive)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	snapshot := indicators.Compute(candles)
	bias, _ := snapshot.Bias()
	priors := synthesis.DeriveLevels(price, snapshot.ATR14, bias)

	inputs := agents.Inputs{
		Symbol:       symbol,
		Exchange:     exchange,
		CurrentPrice: price,
		MarketStatus: status,
		Candles:      map[models.Timeframe][]models.Candle{o.cfg.BaseTimeframe: candles},
		Indicators:   &snapshot,
	}
	if opts.IncludeSector {
		o.loadSector(ctx, log, symbol, exchange, &inputs)
	}

	// Analyzer and multi-timeframe steps run concurrently; both degrade
	// to partial output on failure.
	var (
		wg      sync.WaitGroup
		results map[string]models.AgentResult
		execErr error
		mtfView *mtf.Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results, execErr = o.executor.Execute(ctx, o.selectAgents(opts), inputs)
	}()
	if opts.IncludeMTF && o.mtf != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mtfView = o.mtf.Analyze(ctx, symbol, exchange, status)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, nil, nil, 0, enginerr.Wrap(enginerr.Cancelled, "analysis cancelled", ctx.Err())
	}
	if execErr != nil {
		return nil, nil, nil, 0, enginerr.Wrap(enginerr.Internal, "analyzer selection", execErr)
	}

	partial := false
	for _, r := range results {
		if r.Status != models.AgentOK {
			partial = true
			log.Warn().Str("agent", r.AgentID).Str("status", string(r.Status)).Str("reason", r.Error).Msg("analyzer did not complete")
		}
	}

	decision, err := o.synth.Synthesize(ctx, synthesis.Request{
		Symbol:       symbol,
		CurrentPrice: price,
		Results:      results,
		MTFView:      mtfView,
		Priors:       priors,
		Tier:         opts.Tier,
		RequestID:    requestID,
		Partial:      partial,
	})
	if err != nil {
		return nil, nil, nil, 0, err
	}
	return decision, results, mtfView, price, nil
}

// fetchBase loads base-timeframe candles and the current price.
func (o *Orchestrator) fetchBase(ctx context.Context, symbol, exchange string, status models.MarketStatus, forceLive bool) ([]models.Candle, float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	var candles []models.Candle
	if o.cache != nil && !forceLive {
		if cached, ok := o.cache.Get(fetchCtx, symbol, exchange, o.cfg.BaseTimeframe); ok {
			candles = cached
		}
	}
	if candles == nil {
		fetched, err := o.provider.HistoricalCandles(fetchCtx, symbol, exchange, o.cfg.BaseTimeframe, o.cfg.CandleLimit)
		if err != nil {
			return nil, 0, enginerr.Wrap(enginerr.DataUnavailable, "historical candles", err)
		}
		candles = fetched
		if o.cache != nil && len(candles) > 0 {
			o.cache.Set(fetchCtx, symbol, exchange, o.cfg.BaseTimeframe, status, candles)
		}
	}
	if len(candles) == 0 {
		return nil, 0, enginerr.Newf(enginerr.DataUnavailable, "no candle history for %s", symbol)
	}

	price, err := o.provider.CurrentPrice(fetchCtx, symbol, exchange)
	if err != nil || price <= 0 {
		// Fall back to the last close rather than failing the run.
		price = candles[len(candles)-1].Close
	}
	if price <= 0 {
		return nil, 0, enginerr.Newf(enginerr.DataUnavailable, "no usable price for %s", symbol)
	}
	return candles, price, nil
}

// loadSector fetches peers and their history; failures simply leave the
// sector inputs empty and the sector agent reports itself failed.
func (o *Orchestrator) loadSector(ctx context.Context, log zerolog.Logger, symbol, exchange string, inputs *agents.Inputs) {
	peers, err := o.provider.SectorPeers(ctx, symbol, exchange)
	if err != nil {
		log.Warn().Err(err).Msg("sector peers unavailable")
		return
	}
	inputs.Peers = peers
	inputs.PeerCandles = make(map[string][]models.Candle, len(peers))
	for _, peer := range peers {
		candles, err := o.provider.HistoricalCandles(ctx, peer, exchange, o.cfg.BaseTimeframe, 30)
		if err != nil {
			log.Warn().Err(err).Str("peer", peer).Msg("peer history unavailable")
			continue
		}
		inputs.PeerCandles[peer] = candles
	}
}

func (o *Orchestrator) selectAgents(opts Options) []string {
	ids := []string{agents.AgentTechnical, agents.AgentPatterns, agents.AgentVolume}
	if opts.IncludeSector {
		ids = append(ids, agents.AgentSector)
	}
	if opts.IncludeML {
		ids = append(ids, agents.AgentML)
	}
	return ids
}

// persist writes the record off the request path; a slow or down
// database never delays the response.
func (o *Orchestrator) persist(symbol, exchange string, price float64, decision *models.Decision, results map[string]models.AgentResult, mtfView *mtf.Result) {
	rec := &database.AnalysisRecord{
		StockSymbol:       symbol,
		Exchange:          exchange,
		AnalysisTimestamp: time.UnixMilli(decision.Timestamp),
		AnalysisType:      "full",
		CurrentPrice:      price,
		AIAnalysis:        decision,
		Signals:           results,
		SectorContext:     decision.SectorContext,
		MTFContext:        decision.MTFContext,
		Meta:              decision.Meta,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.store.SaveAnalysis(ctx, rec); err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Msg("failed to persist analysis")
		}
	}()
}

// OnClosedCandle schedules a debounced background re-analysis after a
// closed candle for the symbol. At most one rerun per symbol per
// debounce window; the candle cache is invalidated either way.
func (o *Orchestrator) OnClosedCandle(symbol, exchange string, tf models.Timeframe) {
	if o.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		o.cache.Invalidate(ctx, symbol, exchange, tf)
		cancel()
	}

	o.debounceMu.Lock()
	last, seen := o.lastRerun[symbol]
	now := time.Now()
	if seen && now.Sub(last) < o.cfg.DebounceWindow {
		o.debounceMu.Unlock()
		return
	}
	o.lastRerun[symbol] = now
	o.debounceMu.Unlock()

	go func() {
		_, err := o.Analyze(context.Background(), symbol, exchange, Options{IncludeMTF: true})
		if err != nil && !enginerr.Is(err, enginerr.Overloaded) {
			o.log.Warn().Err(err).Str("symbol", symbol).Msg("closed-candle re-analysis failed")
		}
	}()
}
