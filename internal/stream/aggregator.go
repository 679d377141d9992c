package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/models"
)

// EmitFunc receives envelopes produced by the aggregator.
type EmitFunc func(models.Envelope)

// bucketState is the open candle for one (token, timeframe) pair plus
// the cumulative-volume anchor when the feed reports session totals.
type bucketState struct {
	candle    models.Candle
	cumAtOpen float64 // cumulative session volume at bar open
	lastCum   float64 // latest cumulative reading inside the bar
	hasCum    bool
}

// tokenWorker owns all aggregation state for one token. Every tick for
// that token is serialized through its mailbox, so bucket mutation needs
// no locks on the hot path.
type tokenWorker struct {
	token      int64
	timeframes []models.Timeframe
	volumeMode models.VolumeMode
	mailbox    chan models.Tick
	states     map[models.Timeframe]*bucketState
	emit       EmitFunc
	lateDrops  int64
	log        zerolog.Logger
}

// Aggregator folds admitted ticks into OHLCV buckets per (token,
// timeframe) and emits rolling snapshots on every tick plus a closed
// candle when a bucket boundary is crossed.
type Aggregator struct {
	mu         sync.RWMutex
	workers    map[int64]*tokenWorker
	timeframes []models.Timeframe
	volumeMode models.VolumeMode
	emit       EmitFunc
	mailboxCap int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger
}

// NewAggregator builds an aggregator for the given timeframes. The
// volume mode comes from the feed adapter's declaration; the aggregator
// never guesses.
func NewAggregator(timeframes []models.Timeframe, mode models.VolumeMode, emit EmitFunc, log zerolog.Logger) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	if len(timeframes) == 0 {
		timeframes = models.CanonicalTimeframes
	}
	return &Aggregator{
		workers:    make(map[int64]*tokenWorker),
		timeframes: timeframes,
		volumeMode: mode,
		emit:       emit,
		mailboxCap: 1024,
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With().Str("component", "aggregator").Logger(),
	}
}

// Fold routes a tick to its token's worker, spawning the worker on the
// first tick for that token.
func (a *Aggregator) Fold(tick models.Tick) {
	a.mu.RLock()
	w, ok := a.workers[tick.Token]
	a.mu.RUnlock()
	if !ok {
		w = a.spawnWorker(tick.Token)
	}
	select {
	case w.mailbox <- tick:
	case <-a.ctx.Done():
	}
}

// Close stops all workers and emits any still-open candles as closed.
func (a *Aggregator) Close() {
	a.cancel()
	a.mu.Lock()
	for _, w := range a.workers {
		close(w.mailbox)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Aggregator) spawnWorker(token int64) *tokenWorker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.workers[token]; ok {
		return w
	}
	w := &tokenWorker{
		token:      token,
		timeframes: a.timeframes,
		volumeMode: a.volumeMode,
		mailbox:    make(chan models.Tick, a.mailboxCap),
		states:     make(map[models.Timeframe]*bucketState, len(a.timeframes)),
		emit:       a.emit,
		log:        a.log.With().Int64("token", token).Logger(),
	}
	a.workers[token] = w
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		w.run()
	}()
	return w
}

func (w *tokenWorker) run() {
	for tick := range w.mailbox {
		w.fold(tick)
	}
	// Shutdown: freeze whatever is open so no bar is silently lost.
	for _, st := range w.states {
		w.emit(models.CandleEnvelope(st.candle, models.StageClosed, st.candle.End))
		metrics.CandlesClosed.WithLabelValues(string(st.candle.Timeframe)).Inc()
	}
}

func (w *tokenWorker) fold(tick models.Tick) {
	for _, tf := range w.timeframes {
		w.foldTimeframe(tf, tick)
	}
}

func (w *tokenWorker) foldTimeframe(tf models.Timeframe, tick models.Tick) {
	start := tf.BucketStart(tick.Timestamp)
	st, exists := w.states[tf]

	if exists && start < st.candle.Start {
		// Late tick from an already-frozen bucket.
		w.lateDrops++
		metrics.TicksDropped.WithLabelValues("stale").Inc()
		return
	}

	if exists && start > st.candle.Start {
		// Boundary crossed: freeze and emit, then start fresh. A tick at
		// exactly the old bucket's end lands here because buckets are
		// half-open.
		w.emit(models.CandleEnvelope(st.candle, models.StageClosed, tick.Timestamp))
		metrics.CandlesClosed.WithLabelValues(string(tf)).Inc()
		exists = false
	}

	if !exists {
		st = w.openBucket(tf, start, tick)
		w.states[tf] = st
		w.emit(models.CandleEnvelope(st.candle, models.StageRolling, tick.Timestamp))
		return
	}

	c := &st.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	w.applyVolume(st, tick)

	w.emit(models.CandleEnvelope(*c, models.StageRolling, tick.Timestamp))
}

func (w *tokenWorker) openBucket(tf models.Timeframe, start int64, tick models.Tick) *bucketState {
	st := &bucketState{
		candle: models.Candle{
			Token:     tick.Token,
			Timeframe: tf,
			Start:     start,
			End:       start + tf.DurationMs(),
			Open:      tick.Price,
			High:      tick.Price,
			Low:       tick.Price,
			Close:     tick.Price,
		},
	}
	if w.volumeMode == models.VolumeCumulative {
		// First bar volume starts at zero against the session total; the
		// anchor carries forward from the previous bar when we have one.
		if prev, ok := w.states[tf]; ok && prev.hasCum {
			st.cumAtOpen = prev.lastCum
		} else {
			st.cumAtOpen = tick.VolumeTraded
		}
		st.lastCum = tick.VolumeTraded
		st.hasCum = true
		st.candle.Volume = tick.VolumeTraded - st.cumAtOpen
		if st.candle.Volume < 0 {
			st.candle.Volume = 0 // session reset
			st.cumAtOpen = tick.VolumeTraded
		}
	} else {
		st.candle.Volume = tick.VolumeTraded
	}
	return st
}

func (w *tokenWorker) applyVolume(st *bucketState, tick models.Tick) {
	if w.volumeMode == models.VolumeCumulative {
		st.lastCum = tick.VolumeTraded
		vol := tick.VolumeTraded - st.cumAtOpen
		if vol < 0 {
			// Cumulative counter reset mid-bar (new session); re-anchor.
			st.cumAtOpen = tick.VolumeTraded
			vol = 0
		}
		st.candle.Volume = vol
		return
	}
	st.candle.Volume += tick.VolumeTraded
}
