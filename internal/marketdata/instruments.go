package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Instrument is one tradeable entry of the broker's symbol universe.
type Instrument struct {
	Token    int64   `json:"token"`
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Sector   string  `json:"sector,omitempty"`
	TickSize float64 `json:"tick_size,omitempty"`
}

// InstrumentSource loads the full instrument universe, typically from
// the broker's daily dump.
type InstrumentSource func(ctx context.Context) ([]Instrument, error)

// InstrumentMap is the token<->symbol lookup table. The hot path is
// read-only; a single writer refreshes the table on a slow timer.
type InstrumentMap struct {
	mu       sync.RWMutex
	byToken  map[int64]Instrument
	bySymbol map[string]Instrument // key: exchange + ":" + symbol
	source   InstrumentSource
	log      zerolog.Logger
}

// NewInstrumentMap builds an empty map backed by source.
func NewInstrumentMap(source InstrumentSource, log zerolog.Logger) *InstrumentMap {
	return &InstrumentMap{
		byToken:  make(map[int64]Instrument),
		bySymbol: make(map[string]Instrument),
		source:   source,
		log:      log.With().Str("component", "instruments").Logger(),
	}
}

// Refresh reloads the table from the source, replacing it atomically.
func (m *InstrumentMap) Refresh(ctx context.Context) error {
	if m.source == nil {
		return fmt.Errorf("no instrument source configured")
	}
	instruments, err := m.source(ctx)
	if err != nil {
		return fmt.Errorf("instrument refresh: %w", err)
	}
	byToken := make(map[int64]Instrument, len(instruments))
	bySymbol := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		byToken[inst.Token] = inst
		bySymbol[symbolKey(inst.Exchange, inst.Symbol)] = inst
	}
	m.mu.Lock()
	m.byToken = byToken
	m.bySymbol = bySymbol
	m.mu.Unlock()
	m.log.Info().Int("instruments", len(instruments)).Msg("instrument map refreshed")
	return nil
}

// RunRefresher refreshes the map on a slow timer until ctx is cancelled.
func (m *InstrumentMap) RunRefresher(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 24 * time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.log.Warn().Err(err).Msg("instrument refresh failed, keeping previous table")
			}
		}
	}
}

// ByToken resolves a token to its instrument.
func (m *InstrumentMap) ByToken(token int64) (Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.byToken[token]
	return inst, ok
}

// BySymbol resolves (exchange, symbol) to its instrument.
func (m *InstrumentMap) BySymbol(exchange, symbol string) (Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.bySymbol[symbolKey(exchange, symbol)]
	return inst, ok
}

// Load replaces the table directly; used by tests and static fixtures.
func (m *InstrumentMap) Load(instruments []Instrument) {
	byToken := make(map[int64]Instrument, len(instruments))
	bySymbol := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		byToken[inst.Token] = inst
		bySymbol[symbolKey(inst.Exchange, inst.Symbol)] = inst
	}
	m.mu.Lock()
	m.byToken = byToken
	m.bySymbol = bySymbol
	m.mu.Unlock()
}

func symbolKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}
