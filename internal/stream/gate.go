package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/models"
)

// Verdict is the gate's decision for one tick.
type Verdict int

const (
	Accept Verdict = iota
	DropDuplicate
	DropMalformed
)

// DefaultDedupWindow applies while the market is closed; during open
// hours the window is zero and everything passes.
const DefaultDedupWindow = 30 * time.Second

// StatusFunc reports the market status at a point in time.
type StatusFunc func(time.Time) models.MarketStatus

// Gate drops duplicate and malformed ticks before they reach the
// aggregator. Per-token state is only touched from the owning ingest
// goroutine; the lock exists for the snapshot accessors.
type Gate struct {
	mu          sync.Mutex
	last        map[int64]models.Tick
	lastAdmitMs map[int64]int64
	window      time.Duration
	status      StatusFunc
	now         func() time.Time

	malformed int64
	duplicate int64

	log zerolog.Logger
}

// NewGate builds a gate. status decides whether the dedup window is in
// force; a nil status treats the market as always open.
func NewGate(status StatusFunc, window time.Duration, log zerolog.Logger) *Gate {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if status == nil {
		status = func(time.Time) models.MarketStatus { return models.MarketOpen }
	}
	return &Gate{
		last:        make(map[int64]models.Tick),
		lastAdmitMs: make(map[int64]int64),
		window:      window,
		status:      status,
		now:         time.Now,
		log:         log.With().Str("component", "tick_gate").Logger(),
	}
}

// Admit decides whether the tick enters the pipeline. A rejected tick
// never propagates an error upward; rejections are counted instead.
func (g *Gate) Admit(tick models.Tick) Verdict {
	now := g.now()
	nowMs := now.UnixMilli()

	if err := tick.CheckWellFormed(nowMs); err != nil {
		g.mu.Lock()
		g.malformed++
		g.mu.Unlock()
		metrics.TicksDropped.WithLabelValues("malformed").Inc()
		g.log.Debug().Err(err).Int64("token", tick.Token).Msg("rejected malformed tick")
		return DropMalformed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, seen := g.last[tick.Token]
	if !seen {
		// First tick ever seen for a token is always admitted.
		g.admitLocked(tick, nowMs)
		return Accept
	}

	if !g.status(now).Trading() {
		age := time.Duration(nowMs-g.lastAdmitMs[tick.Token]) * time.Millisecond
		if tick.Price == prev.Price && tick.VolumeTraded == prev.VolumeTraded && age < g.window {
			g.duplicate++
			metrics.TicksDropped.WithLabelValues("duplicate").Inc()
			return DropDuplicate
		}
	}

	g.admitLocked(tick, nowMs)
	return Accept
}

func (g *Gate) admitLocked(tick models.Tick, nowMs int64) {
	g.last[tick.Token] = tick
	g.lastAdmitMs[tick.Token] = nowMs
	metrics.TicksAdmitted.Inc()
}

// Counters returns the running (malformed, duplicate) reject counts.
func (g *Gate) Counters() (malformed, duplicate int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.malformed, g.duplicate
}

// SetClock overrides the wall clock, for tests.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }
