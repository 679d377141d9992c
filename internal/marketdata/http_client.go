package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/models"
)

// HTTPClientConfig configures the broker REST adapter.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient fetches candles and quotes from the broker's REST API.
// The broker reports cumulative session volume on its tick feed, so the
// adapter declares VolumeCumulative.
type HTTPClient struct {
	cfg        HTTPClientConfig
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPClient builds the REST adapter.
func NewHTTPClient(cfg HTTPClientConfig, log zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("component", "marketdata_http").Logger(),
	}
}

// VolumeMode declares the broker feed's volume semantics.
func (c *HTTPClient) VolumeMode() models.VolumeMode { return models.VolumeCumulative }

type wireCandle struct {
	Start  int64   `json:"start"`
	End    int64   `json:"end"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HistoricalCandles fetches up to limit bars, most recent last.
func (c *HTTPClient) HistoricalCandles(ctx context.Context, symbol, exchange string, interval models.Timeframe, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("exchange", exchange)
	q.Set("interval", string(interval))
	q.Set("limit", strconv.Itoa(limit))

	var wire []wireCandle
	if err := c.getJSON(ctx, "/v1/candles?"+q.Encode(), &wire); err != nil {
		return nil, fmt.Errorf("historical candles for %s: %w", symbol, err)
	}

	candles := make([]models.Candle, 0, len(wire))
	for _, w := range wire {
		candles = append(candles, models.Candle{
			Timeframe: interval,
			Start:     w.Start,
			End:       w.End,
			Open:      w.Open,
			High:      w.High,
			Low:       w.Low,
			Close:     w.Close,
			Volume:    w.Volume,
		})
	}
	return candles, nil
}

// CurrentPrice fetches the last traded price.
func (c *HTTPClient) CurrentPrice(ctx context.Context, symbol, exchange string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("exchange", exchange)
	var out struct {
		LastPrice float64 `json:"last_price"`
	}
	if err := c.getJSON(ctx, "/v1/quote?"+q.Encode(), &out); err != nil {
		return 0, fmt.Errorf("quote for %s: %w", symbol, err)
	}
	return out.LastPrice, nil
}

// SectorPeers returns the sector benchmark set for the symbol.
func (c *HTTPClient) SectorPeers(ctx context.Context, symbol, exchange string) ([]string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("exchange", exchange)
	var out struct {
		Peers []string `json:"peers"`
	}
	if err := c.getJSON(ctx, "/v1/sector/peers?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("sector peers for %s: %w", symbol, err)
	}
	return out.Peers, nil
}

// Instruments fetches the broker's full instrument universe; it
// satisfies InstrumentSource.
func (c *HTTPClient) Instruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	if err := c.getJSON(ctx, "/v1/instruments", &out); err != nil {
		return nil, fmt.Errorf("instrument universe: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return json.Unmarshal(body, dest)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
