package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"market-analysis-engine/internal/models"
)

// MockClient generates deterministic synthetic candles. The series for a
// given (symbol, interval) is stable across calls, which the cache tests
// rely on. It declares per-trade volume deltas.
type MockClient struct {
	BasePrice float64
	now       func() time.Time
}

// NewMockClient builds the mock provider.
func NewMockClient() *MockClient {
	return &MockClient{BasePrice: 100.0, now: time.Now}
}

// VolumeMode declares the synthetic feed's volume semantics.
func (m *MockClient) VolumeMode() models.VolumeMode { return models.VolumeDelta }

// HistoricalCandles produces a seeded random walk ending at the current
// bucket boundary.
func (m *MockClient) HistoricalCandles(_ context.Context, symbol, exchange string, interval models.Timeframe, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	rng := rand.New(rand.NewSource(int64(seed(symbol + exchange + string(interval)))))
	dur := interval.DurationMs()
	end := interval.BucketStart(m.now().UnixMilli())
	start := end - int64(limit)*dur

	price := m.BasePrice * (0.5 + rng.Float64())
	candles := make([]models.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		drift := math.Sin(float64(i)/9.0) * 0.004
		shock := (rng.Float64() - 0.5) * 0.01
		open := price
		close := open * (1 + drift + shock)
		hi := math.Max(open, close) * (1 + rng.Float64()*0.003)
		lo := math.Min(open, close) * (1 - rng.Float64()*0.003)
		candles = append(candles, models.Candle{
			Timeframe: interval,
			Start:     start + int64(i)*dur,
			End:       start + int64(i+1)*dur,
			Open:      open,
			High:      hi,
			Low:       lo,
			Close:     close,
			Volume:    1000 + rng.Float64()*9000,
		})
		price = close
	}
	return candles, nil
}

// CurrentPrice returns the close of the latest synthetic bar.
func (m *MockClient) CurrentPrice(ctx context.Context, symbol, exchange string) (float64, error) {
	candles, err := m.HistoricalCandles(ctx, symbol, exchange, models.TF1m, 1)
	if err != nil {
		return 0, err
	}
	return candles[len(candles)-1].Close, nil
}

// SectorPeers returns a fixed synthetic benchmark set.
func (m *MockClient) SectorPeers(_ context.Context, symbol, _ string) ([]string, error) {
	return []string{symbol + "_PEER1", symbol + "_PEER2", "SECTOR_INDEX"}, nil
}

// Instruments returns a small fixed universe; it satisfies
// InstrumentSource.
func (m *MockClient) Instruments(_ context.Context) ([]Instrument, error) {
	return []Instrument{
		{Token: 1594, Symbol: "INFY", Exchange: "NSE", Sector: "IT", TickSize: 0.05},
		{Token: 2885, Symbol: "RELIANCE", Exchange: "NSE", Sector: "Energy", TickSize: 0.05},
		{Token: 11536, Symbol: "TCS", Exchange: "NSE", Sector: "IT", TickSize: 0.05},
		{Token: 1333, Symbol: "HDFCBANK", Exchange: "NSE", Sector: "Banking", TickSize: 0.05},
		{Token: 4963, Symbol: "ICICIBANK", Exchange: "NSE", Sector: "Banking", TickSize: 0.05},
	}, nil
}

// SetClock overrides the wall clock, for tests.
func (m *MockClient) SetClock(now func() time.Time) { m.now = now }

func seed(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
