package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/models"
)

// ClosedCandleFunc observes finalized candles, e.g. to trigger
// on-rolling-bar re-analysis.
type ClosedCandleFunc func(models.Candle)

// IngestConfig configures the broker feed connection.
type IngestConfig struct {
	URL             string
	Tokens          []int64
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	MalformedWindow time.Duration // rolling window for the error-threshold envelope
	MalformedLimit  int           // rejects within the window before surfacing
}

// DefaultIngestConfig returns the defaults used when fields are zero.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ReconnectMin:    time.Second,
		ReconnectMax:    30 * time.Second,
		MalformedWindow: time.Minute,
		MalformedLimit:  50,
	}
}

// Ingest connects to the broker tick feed, pushes every admitted tick
// through the gate and aggregator, and republishes tick envelopes on the
// hub. A single bad message never kills the stream.
type Ingest struct {
	cfg  IngestConfig
	gate *Gate
	agg  *Aggregator
	hub  *Hub
	log  zerolog.Logger

	mu             sync.Mutex
	rejectTimes    []time.Time
	thresholdFired bool
}

// NewIngest wires the live tick path together.
func NewIngest(cfg IngestConfig, gate *Gate, agg *Aggregator, hub *Hub, log zerolog.Logger) *Ingest {
	def := DefaultIngestConfig()
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.MalformedWindow <= 0 {
		cfg.MalformedWindow = def.MalformedWindow
	}
	if cfg.MalformedLimit <= 0 {
		cfg.MalformedLimit = def.MalformedLimit
	}
	return &Ingest{
		cfg:  cfg,
		gate: gate,
		agg:  agg,
		hub:  hub,
		log:  log.With().Str("component", "ingest").Logger(),
	}
}

// Run maintains the feed connection until ctx is cancelled, reconnecting
// with exponential backoff on any read or dial failure.
func (in *Ingest) Run(ctx context.Context) {
	delay := in.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := in.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A successful session earns a fresh backoff schedule.
			delay = in.cfg.ReconnectMin
		}
		in.log.Warn().Err(err).Dur("retry_in", delay).Msg("feed connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > in.cfg.ReconnectMax {
			delay = in.cfg.ReconnectMax
		}
	}
}

// consume runs one feed session. The bool reports whether a connection
// was established at all, which resets the reconnect backoff.
func (in *Ingest) consume(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, in.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if len(in.cfg.Tokens) > 0 {
		sub := map[string]interface{}{"action": "subscribe", "tokens": in.cfg.Tokens}
		if err := conn.WriteJSON(sub); err != nil {
			return true, err
		}
	}

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	in.log.Info().Str("url", in.cfg.URL).Int("tokens", len(in.cfg.Tokens)).Msg("feed connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		in.HandleMessage(raw)
	}
}

// HandleMessage parses one feed frame and routes the tick. Exposed for
// replay and tests.
func (in *Ingest) HandleMessage(raw []byte) {
	var tick models.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		in.recordReject("unparseable feed frame")
		return
	}
	in.HandleTick(tick)
}

// HandleTick pushes a tick through gate and aggregator and fans the tick
// envelope out to subscribers.
func (in *Ingest) HandleTick(tick models.Tick) {
	switch in.gate.Admit(tick) {
	case Accept:
		in.hub.Publish(models.TickEnvelope(tick))
		in.agg.Fold(tick)
	case DropMalformed:
		in.recordReject("malformed tick")
	case DropDuplicate:
		// Counted by the gate; nothing to surface.
	}
}

// recordReject tracks malformed-input rejects over a rolling window and
// publishes a backend_error envelope once the threshold is crossed.
func (in *Ingest) recordReject(reason string) {
	now := time.Now()
	in.mu.Lock()
	cutoff := now.Add(-in.cfg.MalformedWindow)
	kept := in.rejectTimes[:0]
	for _, t := range in.rejectTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	in.rejectTimes = append(kept, now)
	over := len(in.rejectTimes) >= in.cfg.MalformedLimit
	fire := over && !in.thresholdFired
	in.thresholdFired = over
	count := len(in.rejectTimes)
	in.mu.Unlock()

	if fire {
		in.hub.Publish(models.ErrorEnvelope(
			"malformed feed input rate exceeded threshold",
			map[string]interface{}{"reason": reason, "count": count, "window": in.cfg.MalformedWindow.String()},
			now.UnixMilli(),
		))
		in.log.Error().Str("reason", reason).Int("count", count).Msg("malformed input threshold crossed")
	}
}
