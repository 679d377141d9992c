package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/enginerr"
	"market-analysis-engine/internal/llm"
	"market-analysis-engine/internal/models"
)

// cannedBackend replays responses (or errors) in order.
type cannedBackend struct {
	replies []string
	err     error
	calls   int
}

func (b *cannedBackend) Provider() llm.Provider { return llm.ProviderClaude }

func (b *cannedBackend) Complete(_ context.Context, _, _, _ string, _ int) (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	if b.calls > len(b.replies) {
		return "", errors.New("no canned reply left")
	}
	return b.replies[b.calls-1], nil
}

func newTestSynthesizer(backend llm.Backend) *Synthesizer {
	var client *llm.Client
	if backend != nil {
		client = llm.NewClient(llm.ClientConfig{
			Primary:     llm.TierConfig{Backend: backend, Model: "model-a"},
			MaxAttempts: 1,
			InitialWait: time.Millisecond,
		}, zerolog.Nop())
	}
	return NewSynthesizer(client, zerolog.Nop())
}

// Priors from DeriveLevels(100, 2, bullish):
// short  entry [99,100]  stop 97  targets [105,109]
// medium entry [98,100]  stop 95  targets [108,114]
// long   entry [97,100]  stop 92  targets [113,122]
const validBullishDoc = `{
  "trend": "Bullish",
  "short_term":  {"bias": "bullish", "confidence_pct": 80, "entry_range": [99, 100], "stop_loss": 97, "targets": [105, 109], "rationale": "momentum continuation"},
  "medium_term": {"bias": "bullish", "confidence_pct": 60, "entry_range": [98, 100], "stop_loss": 95, "targets": [108, 114], "rationale": "trend intact"},
  "long_term":   {"bias": "bullish", "confidence_pct": 40, "entry_range": [97, 100], "stop_loss": 92, "targets": [113, 122], "rationale": "structural uptrend"},
  "risks": ["earnings next week"],
  "must_watch_levels": [97, 99]
}`

// Same plans but the model mislabels the trend; the synthesizer must
// recompute it from the horizon biases.
const mislabeledTrendDoc = `{
  "trend": "Bearish",
  "short_term":  {"bias": "bullish", "confidence_pct": 80, "entry_range": [99, 100], "stop_loss": 97, "targets": [105, 109], "rationale": "momentum continuation"},
  "medium_term": {"bias": "bullish", "confidence_pct": 60, "entry_range": [98, 100], "stop_loss": 95, "targets": [108, 114], "rationale": "trend intact"},
  "long_term":   {"bias": "bullish", "confidence_pct": 40, "entry_range": [97, 100], "stop_loss": 92, "targets": [113, 122], "rationale": "structural uptrend"},
  "risks": ["earnings next week"],
  "must_watch_levels": [97, 99]
}`

// Stop above entry on the short horizon: never valid for a bullish plan.
const brokenOrderingDoc = `{
  "trend": "Bullish",
  "short_term":  {"bias": "bullish", "confidence_pct": 80, "entry_range": [99, 100], "stop_loss": 101, "targets": [105, 109], "rationale": "bad"},
  "medium_term": {"bias": "bullish", "confidence_pct": 60, "entry_range": [98, 100], "stop_loss": 95, "targets": [108, 114], "rationale": "ok"},
  "long_term":   {"bias": "bullish", "confidence_pct": 40, "entry_range": [97, 100], "stop_loss": 92, "targets": [113, 122], "rationale": "ok"},
  "risks": ["earnings next week"],
  "must_watch_levels": [97, 99]
}`

func bullishRequest() Request {
	return Request{
		Symbol:       "INFY",
		CurrentPrice: 100,
		Results:      okResults(),
		MTFView:      fullMTFView(),
		Priors:       DeriveLevels(100, 2, models.BiasBullish),
		RequestID:    "req-1",
	}
}

func TestSynthesizeAcceptsValidModelDecision(t *testing.T) {
	backend := &cannedBackend{replies: []string{validBullishDoc}}
	s := newTestSynthesizer(backend)

	d, err := s.Synthesize(context.Background(), bullishRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if d.Trend != models.TrendBullish {
		t.Fatalf("trend: got %s", d.Trend)
	}
	// 0.5*80 + 0.3*60 + 0.2*40 = 66.
	if d.ConfidencePct != 66 {
		t.Fatalf("weighted confidence: got %v want 66", d.ConfidencePct)
	}
	if d.ShortTerm.EntryRange[0] != 99 || d.ShortTerm.EntryRange[1] != 100 {
		t.Fatalf("short entry range: %v", d.ShortTerm.EntryRange)
	}
	if d.Meta.LLMFallback || d.Meta.Adjustment != "" {
		t.Fatalf("accepted decision carries degradation flags: %+v", d.Meta)
	}
	if d.Meta.ModelTier != string(llm.TierPrimary) {
		t.Fatalf("model tier: %q", d.Meta.ModelTier)
	}
	if d.Meta.RequestID != "req-1" {
		t.Fatalf("request id lost: %+v", d.Meta)
	}
	if len(d.MTFContext) == 0 {
		t.Fatal("mtf context not attached")
	}
	if d.TradingStrategy == "" {
		t.Fatal("trading strategy missing from accepted decision")
	}
}

func TestSynthesizeRecomputesTrendFromHorizons(t *testing.T) {
	backend := &cannedBackend{replies: []string{mislabeledTrendDoc}}
	s := newTestSynthesizer(backend)

	d, err := s.Synthesize(context.Background(), bullishRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if d.Trend != models.TrendBullish {
		t.Fatalf("trend must come from the horizon biases, got %s", d.Trend)
	}
}

func TestSynthesizeAcceptsBearishDecision(t *testing.T) {
	// Priors from DeriveLevels(100, 2, bearish):
	// short entry [100,101] stop 103 targets [95,91]
	doc := `{
	  "trend": "Bearish",
	  "short_term":  {"bias": "bearish", "confidence_pct": 70, "entry_range": [100, 101], "stop_loss": 103, "targets": [95, 91], "rationale": "breakdown"},
	  "medium_term": {"bias": "bearish", "confidence_pct": 60, "entry_range": [100, 102], "stop_loss": 105, "targets": [92, 86], "rationale": "lower highs"},
	  "long_term":   {"bias": "bearish", "confidence_pct": 50, "entry_range": [100, 103], "stop_loss": 108, "targets": [87, 78], "rationale": "distribution"},
	  "risks": ["short squeeze"],
	  "must_watch_levels": [103, 100]
	}`
	backend := &cannedBackend{replies: []string{doc}}
	s := newTestSynthesizer(backend)

	req := bullishRequest()
	req.Priors = DeriveLevels(100, 2, models.BiasBearish)

	d, err := s.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if d.Trend != models.TrendBearish {
		t.Fatalf("trend: got %s", d.Trend)
	}
	if d.ShortTerm.StopLoss != 103 {
		t.Fatalf("bearish stop: %v", d.ShortTerm.StopLoss)
	}
}

func TestSynthesizeWithoutClientProducesDeterministicDecision(t *testing.T) {
	s := newTestSynthesizer(nil)
	req := bullishRequest()

	d, err := s.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	// Dominant MTF bias is bullish with alignment 1: confidence 25+25*1.
	if d.Trend != models.TrendBullish {
		t.Fatalf("trend should follow mtf alignment, got %s", d.Trend)
	}
	if d.ConfidencePct != 50 {
		t.Fatalf("deterministic confidence: got %v want 50", d.ConfidencePct)
	}
	if d.ShortTerm.EntryRange[0] != 99 || d.ShortTerm.EntryRange[1] != 100 || d.ShortTerm.StopLoss != 97 {
		t.Fatalf("short plan must come straight from priors: %+v", d.ShortTerm)
	}
	if len(d.MustWatchLevels) == 0 {
		t.Fatal("must-watch levels missing from deterministic decision")
	}
	if len(d.Risks) == 0 {
		t.Fatal("deterministic decision must disclose reduced confidence as a risk")
	}
	if d.TradingStrategy == "" {
		t.Fatal("deterministic decision must carry a trading strategy")
	}
}

func TestSynthesizeFallsBackWhenModelUnreachable(t *testing.T) {
	backend := &cannedBackend{err: errors.New("connection refused")}
	s := newTestSynthesizer(backend)

	d, err := s.Synthesize(context.Background(), bullishRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !d.Meta.LLMFallback {
		t.Fatal("unreachable model must set the llm_fallback flag")
	}
	if d.Meta.Adjustment != "" {
		t.Fatalf("outage is not a contract violation: %+v", d.Meta)
	}
	if d.ShortTerm.StopLoss != 97 {
		t.Fatalf("fallback levels must come from priors: %+v", d.ShortTerm)
	}
}

func TestSynthesizeForcesPriorsAfterRepeatedViolations(t *testing.T) {
	// Initial response and the repair both violate the ordering chain.
	backend := &cannedBackend{replies: []string{brokenOrderingDoc, brokenOrderingDoc}}
	s := newTestSynthesizer(backend)

	d, err := s.Synthesize(context.Background(), bullishRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected initial + repair call, got %d", backend.calls)
	}
	if d.Meta.Adjustment != "levels_forced" {
		t.Fatalf("expected levels_forced adjustment, got %+v", d.Meta)
	}
	if d.Meta.LLMFallback {
		t.Fatal("contract violation is not an outage")
	}
	if d.ShortTerm.StopLoss != 97 || d.ShortTerm.EntryRange[0] != 99 {
		t.Fatalf("forced plan must come from priors: %+v", d.ShortTerm)
	}
}

func TestSynthesizeSurfacesCancellation(t *testing.T) {
	backend := &cannedBackend{err: errors.New("context cut the call short")}
	s := newTestSynthesizer(backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Synthesize(ctx, bullishRequest())
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !enginerr.Is(err, enginerr.Cancelled) {
		t.Fatalf("expected cancelled kind, got %v", err)
	}
}
