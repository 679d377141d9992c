package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/agents"
	"market-analysis-engine/internal/cache"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/markethours"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
	"market-analysis-engine/internal/orchestrator"
	"market-analysis-engine/internal/synthesis"
)

// staticProvider serves one canned series for every request.
type staticProvider struct {
	candles []models.Candle
	err     error
}

func (p *staticProvider) HistoricalCandles(context.Context, string, string, models.Timeframe, int) ([]models.Candle, error) {
	return p.candles, p.err
}

func (p *staticProvider) CurrentPrice(context.Context, string, string) (float64, error) {
	return 148.5, nil
}

func (p *staticProvider) SectorPeers(context.Context, string, string) ([]string, error) {
	return []string{"TCS"}, nil
}

func (p *staticProvider) VolumeMode() models.VolumeMode { return models.VolumeDelta }

func seedCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	price := 100.0
	dur := models.TF1d.DurationMs()
	for i := range out {
		price += 0.8
		out[i] = models.Candle{
			Token: 1594, Timeframe: models.TF1d,
			Start: int64(i) * dur, End: int64(i+1) * dur,
			Open: price - 0.8, High: price + 0.5, Low: price - 1, Close: price,
			Volume: 1000,
		}
	}
	return out
}

func newTestServer(t *testing.T, provider *staticProvider, candleCache *cache.CandleCache) *Server {
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
	exec := agents.NewExecutor(reg, zerolog.Nop())
	synth := synthesis.NewSynthesizer(nil, zerolog.Nop())
	mtfAgg := mtf.NewAggregator(provider, candleCache, zerolog.Nop())
	orch := orchestrator.New(orchestrator.Config{}, provider, candleCache, exec, mtfAgg, synth,
		database.NoopStore{}, markethours.NewCalendar(), zerolog.Nop())

	instruments := marketdata.NewInstrumentMap(nil, zerolog.Nop())
	instruments.Load([]marketdata.Instrument{
		{Token: 1594, Symbol: "INFY", Exchange: "NSE"},
	})

	return NewServer(ServerConfig{AllowOrigins: []string{"*"}}, orch, nil,
		instruments, markethours.NewCalendar(), candleCache, database.NoopStore{}, zerolog.Nop())
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestAnalyzeEndpointReturnsDecision(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodPost, "/api/v1/analyze", `{"symbol": "INFY"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var d models.Decision
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if d.Symbol != "INFY" || d.Trend == "" {
		t.Fatalf("incomplete decision: %+v", d)
	}
}

func TestAnalyzeEndpointRequiresSymbol(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodPost, "/api/v1/analyze", `{"exchange": "NSE"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyzeEndpointRejectsUnknownOptionKeys(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodPost, "/api/v1/analyze",
		`{"symbol": "INFY", "options": {"include_mtf": true, "turbo": true}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown option key must be rejected, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyzeEndpointRejectsUnknownModelTier(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodPost, "/api/v1/analyze",
		`{"symbol": "INFY", "options": {"llm_model_tier": "turbo"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown model tier must be rejected, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyzeEndpointMapsDataUnavailable(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: nil}, nil)

	w := do(s, http.MethodPost, "/api/v1/analyze", `{"symbol": "INFY"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for missing data, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["kind"] != "data_unavailable" {
		t.Fatalf("error kind: %v", body["kind"])
	}
}

func TestMappingEndpoints(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodGet, "/api/v1/mapping/token-to-symbol/1594", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "INFY") {
		t.Fatalf("token lookup: %d %s", w.Code, w.Body.String())
	}
	if w := do(s, http.MethodGet, "/api/v1/mapping/token-to-symbol/999", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown token: %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/mapping/token-to-symbol/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("non-integer token: %d", w.Code)
	}

	w = do(s, http.MethodGet, "/api/v1/mapping/symbol-to-token?symbol=INFY", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "1594") {
		t.Fatalf("symbol lookup: %d %s", w.Code, w.Body.String())
	}
	if w := do(s, http.MethodGet, "/api/v1/mapping/symbol-to-token", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing symbol: %d", w.Code)
	}
}

func TestMarketStatusEndpoint(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodGet, "/api/v1/market/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["status"]; !ok {
		t.Fatalf("missing status field: %v", body)
	}
	if _, ok := body["is_trading"]; !ok {
		t.Fatalf("missing is_trading field: %v", body)
	}
}

func TestClearIntervalCacheEndpoint(t *testing.T) {
	candleCache := cache.NewCandleCache(nil, zerolog.Nop())
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, candleCache)

	ctx := context.Background()
	candleCache.Set(ctx, "INFY", "NSE", models.TF1d, models.MarketClosed, seedCandles(10))

	if w := do(s, http.MethodPost, "/api/v1/market/optimization/clear-interval-cache", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing symbol: %d", w.Code)
	}

	w := do(s, http.MethodPost, "/api/v1/market/optimization/clear-interval-cache?symbol=INFY&interval=1d", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}
	if _, ok := candleCache.Get(ctx, "INFY", "NSE", models.TF1d); ok {
		t.Fatal("cache entry survived the clear endpoint")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &staticProvider{candles: seedCandles(60)}, nil)

	w := do(s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}
