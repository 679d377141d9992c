// Package marketdata adapts external candle/instrument sources behind a
// narrow Provider interface. The engine never talks to a broker API
// directly.
package marketdata

import (
	"context"

	"market-analysis-engine/internal/models"
)

// Provider supplies historical candles and instrument metadata. Each
// adapter declares its tick volume mode explicitly; the aggregator must
// not guess (feeds disagree on cumulative vs per-trade volume).
type Provider interface {
	// HistoricalCandles returns up to limit candles for the symbol and
	// interval, most recent last. Returning an empty slice without error
	// is treated upstream as DataUnavailable.
	HistoricalCandles(ctx context.Context, symbol, exchange string, interval models.Timeframe, limit int) ([]models.Candle, error)

	// CurrentPrice returns the latest traded price.
	CurrentPrice(ctx context.Context, symbol, exchange string) (float64, error)

	// SectorPeers returns the symbols benchmarked against symbol by the
	// sector analyzer, including the sector index itself.
	SectorPeers(ctx context.Context, symbol, exchange string) ([]string, error)

	// VolumeMode declares how this feed reports tick volume.
	VolumeMode() models.VolumeMode
}
