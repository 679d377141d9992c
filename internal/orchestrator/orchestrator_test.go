package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/agents"
	"market-analysis-engine/internal/cache"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/enginerr"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
	"market-analysis-engine/internal/synthesis"
)

// fakeProvider serves one canned candle series for every request.
type fakeProvider struct {
	mu       sync.Mutex
	candles  []models.Candle
	histErr  error
	price    float64
	priceErr error
	peers    []string
	block    chan struct{} // when non-nil, history calls wait on it
}

func (p *fakeProvider) HistoricalCandles(ctx context.Context, _, _ string, interval models.Timeframe, _ int) ([]models.Candle, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.histErr != nil {
		return nil, p.histErr
	}
	return p.candles, nil
}

func (p *fakeProvider) CurrentPrice(context.Context, string, string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price, p.priceErr
}

func (p *fakeProvider) SectorPeers(context.Context, string, string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers, nil
}

func (p *fakeProvider) VolumeMode() models.VolumeMode { return models.VolumeDelta }

// fakeStore records persisted analyses on a channel.
type fakeStore struct{ saved chan *database.AnalysisRecord }

func (s *fakeStore) SaveAnalysis(_ context.Context, rec *database.AnalysisRecord) error {
	s.saved <- rec
	return nil
}

func (s *fakeStore) RecentAnalyses(context.Context, string, int) ([]database.AnalysisRecord, error) {
	return nil, nil
}

func trendingCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	price := 100.0
	dur := models.TF1d.DurationMs()
	for i := range out {
		price += 0.8
		out[i] = models.Candle{
			Token:     1594,
			Timeframe: models.TF1d,
			Start:     int64(i) * dur,
			End:       int64(i+1) * dur,
			Open:      price - 0.8,
			High:      price + 0.5,
			Low:       price - 1.0,
			Close:     price,
			Volume:    1000 + float64(i%5)*40,
		}
	}
	return out
}

func fullRegistry(t *testing.T) *agents.Executor {
	t.Helper()
	reg := agents.NewRegistry()
	for _, a := range []agents.Analyzer{
		agents.TechnicalAgent{},
		agents.NewPatternAgent(models.TF1d),
		agents.NewVolumeAgent(models.TF1d),
		agents.NewSectorAgent(models.TF1d),
		agents.NewMLAgent(models.TF1d),
	} {
		if err := reg.Register(a); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return agents.NewExecutor(reg, zerolog.Nop())
}

func newTestOrchestrator(t *testing.T, cfg Config, provider *fakeProvider, candleCache *cache.CandleCache, store database.Store) *Orchestrator {
	t.Helper()
	synth := synthesis.NewSynthesizer(nil, zerolog.Nop())
	mtfAgg := mtf.NewAggregator(provider, candleCache, zerolog.Nop())
	return New(cfg, provider, candleCache, fullRegistry(t), mtfAgg, synth, store, nil, zerolog.Nop())
}

func TestAnalyzeEndToEndWithoutModel(t *testing.T) {
	provider := &fakeProvider{
		candles: trendingCandles(60),
		price:   148.5,
		peers:   []string{"TCS", "WIPRO"},
	}
	store := &fakeStore{saved: make(chan *database.AnalysisRecord, 4)}
	orch := newTestOrchestrator(t, Config{}, provider, nil, store)

	d, err := orch.Analyze(context.Background(), "INFY", "NSE", Options{
		IncludeMTF:    true,
		IncludeSector: true,
		IncludeML:     true,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Symbol != "INFY" {
		t.Fatalf("symbol: %q", d.Symbol)
	}
	if d.Trend != models.TrendBullish {
		t.Fatalf("uptrend data should produce a bullish decision, got %s", d.Trend)
	}
	if d.Meta.RequestID == "" {
		t.Fatal("decision missing request id")
	}
	if len(d.ShortTerm.EntryRange) != 2 || d.ShortTerm.StopLoss == 0 {
		t.Fatalf("short plan incomplete: %+v", d.ShortTerm)
	}

	select {
	case rec := <-store.saved:
		if rec.StockSymbol != "INFY" || rec.AIAnalysis == nil {
			t.Fatalf("persisted record incomplete: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("analysis was never persisted")
	}
}

func TestAnalyzeFailsHardWhenDataUnavailable(t *testing.T) {
	provider := &fakeProvider{histErr: errors.New("upstream 502")}
	orch := newTestOrchestrator(t, Config{}, provider, nil, nil)

	_, err := orch.Analyze(context.Background(), "INFY", "NSE", Options{})
	if err == nil {
		t.Fatal("expected error with no candle history")
	}
	if !enginerr.Is(err, enginerr.DataUnavailable) {
		t.Fatalf("expected data_unavailable, got %v", err)
	}

	provider.mu.Lock()
	provider.histErr = nil
	provider.candles = nil
	provider.mu.Unlock()
	_, err = orch.Analyze(context.Background(), "INFY", "NSE", Options{})
	if !enginerr.Is(err, enginerr.DataUnavailable) {
		t.Fatalf("empty history must be data_unavailable, got %v", err)
	}
}

func TestAnalyzeRejectsWhenOverloaded(t *testing.T) {
	provider := &fakeProvider{
		candles: trendingCandles(60),
		price:   148.5,
		block:   make(chan struct{}),
	}
	orch := newTestOrchestrator(t, Config{MaxPending: 1}, provider, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Analyze(context.Background(), "INFY", "NSE", Options{})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the first request occupy the slot

	_, err := orch.Analyze(context.Background(), "TCS", "NSE", Options{})
	if !enginerr.Is(err, enginerr.Overloaded) {
		t.Fatalf("expected overloaded, got %v", err)
	}
	if !enginerr.Retryable(err) {
		t.Fatal("overload must be marked retryable")
	}

	close(provider.block)
	if err := <-done; err != nil {
		t.Fatalf("first request should complete: %v", err)
	}
}

func TestAnalyzePriceFallsBackToLastClose(t *testing.T) {
	candles := trendingCandles(60)
	lastClose := candles[len(candles)-1].Close
	provider := &fakeProvider{
		candles:  candles,
		priceErr: errors.New("quote feed down"),
	}
	orch := newTestOrchestrator(t, Config{}, provider, nil, nil)

	d, err := orch.Analyze(context.Background(), "INFY", "NSE", Options{IncludeMTF: true})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Deterministic bullish plans anchor the entry high at the price used.
	if got := d.ShortTerm.EntryRange[1]; got != synthesis.RoundPrice(lastClose) {
		t.Fatalf("price fallback: entry high %v, last close %v", got, lastClose)
	}
}

func TestAnalyzeSurfacesCancellation(t *testing.T) {
	provider := &fakeProvider{candles: trendingCandles(60), price: 148.5}
	orch := newTestOrchestrator(t, Config{}, provider, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := orch.Analyze(ctx, "INFY", "NSE", Options{})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if !enginerr.Is(err, enginerr.Cancelled) && !enginerr.Is(err, enginerr.DataUnavailable) {
		t.Fatalf("unexpected error kind: %v", err)
	}
}

func TestOnClosedCandleInvalidatesCache(t *testing.T) {
	// The rerun itself fails fast so nothing re-populates the cache.
	provider := &fakeProvider{histErr: errors.New("feed down")}
	candleCache := cache.NewCandleCache(nil, zerolog.Nop())
	orch := newTestOrchestrator(t, Config{DebounceWindow: time.Hour}, provider, candleCache, nil)

	ctx := context.Background()
	candleCache.Set(ctx, "INFY", "NSE", models.TF1d, models.MarketOpen, trendingCandles(60))

	orch.OnClosedCandle("INFY", "NSE", models.TF1d)
	if _, ok := candleCache.Get(ctx, "INFY", "NSE", models.TF1d); ok {
		t.Fatal("closed candle must invalidate the cached interval")
	}
}

func TestOnClosedCandleDebouncesReruns(t *testing.T) {
	provider := &fakeProvider{candles: trendingCandles(60), price: 148.5}
	store := &fakeStore{saved: make(chan *database.AnalysisRecord, 8)}
	orch := newTestOrchestrator(t, Config{DebounceWindow: time.Hour}, provider, nil, store)

	orch.OnClosedCandle("INFY", "NSE", models.TF1d)
	orch.OnClosedCandle("INFY", "NSE", models.TF1d)

	select {
	case <-store.saved:
	case <-time.After(3 * time.Second):
		t.Fatal("closed candle never triggered a re-analysis")
	}
	select {
	case <-store.saved:
		t.Fatal("second closed candle inside the window must not rerun")
	case <-time.After(300 * time.Millisecond):
	}
}
