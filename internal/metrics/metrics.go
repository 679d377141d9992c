// Package metrics registers the engine's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksAdmitted counts ticks that passed the gate.
	TicksAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_ticks_admitted_total",
		Help: "Ticks admitted by the tick gate",
	})

	// TicksDropped counts gate rejections by reason (duplicate, malformed, stale).
	TicksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_ticks_dropped_total",
		Help: "Ticks dropped by the tick gate",
	}, []string{"reason"})

	// CandlesClosed counts finalized candles per timeframe.
	CandlesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_candles_closed_total",
		Help: "Closed candles emitted by the aggregator",
	}, []string{"timeframe"})

	// SubscriberDrops counts envelopes discarded under back-pressure.
	SubscriberDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_subscriber_drops_total",
		Help: "Envelopes dropped for slow subscribers",
	}, []string{"subscriber"})

	// AnalyzerDuration observes per-analyzer wall time.
	AnalyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_analyzer_duration_seconds",
		Help:    "Analyzer execution time",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent", "status"})

	// LLMAttempts counts LLM calls by tier and outcome.
	LLMAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_llm_attempts_total",
		Help: "LLM generation attempts",
	}, []string{"tier", "outcome"})

	// CacheLookups counts candle cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_cache_lookups_total",
		Help: "Candle cache lookups",
	}, []string{"result"})

	// AnalysesTotal counts orchestrated analyses by outcome.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_analyses_total",
		Help: "End-to-end analysis requests",
	}, []string{"outcome"})
)
