package models

import (
	"fmt"
	"math"
	"strings"
)

// Bias is the directional read for a horizon or timeframe.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// Trend is the decision-level direction. Same vocabulary as Bias but
// capitalized on the wire, matching the persisted record contract.
type Trend string

const (
	TrendBullish Trend = "Bullish"
	TrendBearish Trend = "Bearish"
	TrendNeutral Trend = "Neutral"
)

// Horizon identifies one of the three analysis windows of a decision.
type Horizon string

const (
	HorizonShort  Horizon = "short_term"
	HorizonMedium Horizon = "medium_term"
	HorizonLong   Horizon = "long_term"
)

// Horizons in weighting order: shortest first, weighted highest.
var Horizons = []Horizon{HorizonShort, HorizonMedium, HorizonLong}

// HorizonConfidenceWeights is the documented, deterministic weighting for
// the decision-level confidence: 0.5*short + 0.3*medium + 0.2*long.
var HorizonConfidenceWeights = map[Horizon]float64{
	HorizonShort:  0.5,
	HorizonMedium: 0.3,
	HorizonLong:   0.2,
}

// HorizonLevels are the deterministic entry/stop/target prices derived
// during indicator synthesis, before the LLM ever runs. They are the
// consistency anchor for the final decision.
type HorizonLevels struct {
	EntryLow  float64   `json:"entry_low"`
	EntryHigh float64   `json:"entry_high"`
	StopLoss  float64   `json:"stop_loss"`
	Targets   []float64 `json:"targets"`
}

// Empty reports whether no levels were derived for the horizon.
func (h HorizonLevels) Empty() bool {
	return h.EntryLow == 0 && h.EntryHigh == 0 && h.StopLoss == 0 && len(h.Targets) == 0
}

// TradingLevels holds prior levels for all three horizons.
type TradingLevels struct {
	ShortTerm  HorizonLevels `json:"short_term"`
	MediumTerm HorizonLevels `json:"medium_term"`
	LongTerm   HorizonLevels `json:"long_term"`
}

// ForHorizon returns the levels of one horizon.
func (t TradingLevels) ForHorizon(h Horizon) HorizonLevels {
	switch h {
	case HorizonShort:
		return t.ShortTerm
	case HorizonMedium:
		return t.MediumTerm
	default:
		return t.LongTerm
	}
}

// HorizonPlan is the final per-horizon trading plan inside a Decision.
type HorizonPlan struct {
	Bias          Bias      `json:"bias"`
	ConfidencePct float64   `json:"confidence_pct"`
	EntryRange    []float64 `json:"entry_range"` // [lo, hi]
	StopLoss      float64   `json:"stop_loss"`
	Targets       []float64 `json:"targets"`
	Rationale     string    `json:"rationale"`
}

// ValidateOrdering enforces the per-horizon inequality chain:
// bullish: stop < entry.lo <= entry.hi < t1 < t2 < ...
// bearish: stop > entry.hi >= entry.lo > t1 > t2 > ...
// neutral plans only need a well-formed entry range and ordered targets.
func (p HorizonPlan) ValidateOrdering() error {
	if len(p.EntryRange) != 2 {
		return fmt.Errorf("entry_range must have exactly two prices, got %d", len(p.EntryRange))
	}
	if len(p.Targets) < 1 {
		return fmt.Errorf("at least one target required")
	}
	lo, hi := p.EntryRange[0], p.EntryRange[1]
	switch p.Bias {
	case BiasBullish:
		if !(p.StopLoss < lo && lo <= hi && hi < p.Targets[0]) {
			return fmt.Errorf("bullish chain violated: stop=%.4f entry=[%.4f,%.4f] t1=%.4f",
				p.StopLoss, lo, hi, p.Targets[0])
		}
		for i := 1; i < len(p.Targets); i++ {
			if p.Targets[i] <= p.Targets[i-1] {
				return fmt.Errorf("bullish targets not ascending at index %d", i)
			}
		}
	case BiasBearish:
		if !(p.StopLoss > hi && hi >= lo && lo > p.Targets[0]) {
			return fmt.Errorf("bearish chain violated: stop=%.4f entry=[%.4f,%.4f] t1=%.4f",
				p.StopLoss, lo, hi, p.Targets[0])
		}
		for i := 1; i < len(p.Targets); i++ {
			if p.Targets[i] >= p.Targets[i-1] {
				return fmt.Errorf("bearish targets not descending at index %d", i)
			}
		}
	case BiasNeutral:
		if lo > hi {
			return fmt.Errorf("entry range inverted: [%.4f,%.4f]", lo, hi)
		}
	default:
		return fmt.Errorf("unknown bias %q", p.Bias)
	}
	if p.ConfidencePct < 0 || p.ConfidencePct > 100 {
		return fmt.Errorf("confidence %.2f out of [0,100]", p.ConfidencePct)
	}
	return nil
}

// DecisionMeta carries the reduced-confidence flags a UI must check.
type DecisionMeta struct {
	Partial     bool   `json:"partial,omitempty"`
	LLMFallback bool   `json:"llm_fallback,omitempty"`
	Adjustment  string `json:"adjustment,omitempty"` // "levels_forced" when priors were forced in
	ModelTier   string `json:"model_tier,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Decision is the final reconciled analysis output.
type Decision struct {
	Symbol          string                 `json:"symbol"`
	Timestamp       int64                  `json:"timestamp"`
	Trend           Trend                  `json:"trend"`
	ConfidencePct   float64                `json:"confidence_pct"`
	ShortTerm       HorizonPlan            `json:"short_term"`
	MediumTerm      HorizonPlan            `json:"medium_term"`
	LongTerm        HorizonPlan            `json:"long_term"`
	Risks           []string               `json:"risks"`
	MustWatchLevels []float64              `json:"must_watch_levels"`
	TradingStrategy string                 `json:"trading_strategy"`
	MTFContext      map[string]interface{} `json:"mtf_context,omitempty"`
	SectorContext   map[string]interface{} `json:"sector_context,omitempty"`
	Meta            DecisionMeta           `json:"meta"`
}

// Plan returns the plan for one horizon.
func (d *Decision) Plan(h Horizon) *HorizonPlan {
	switch h {
	case HorizonShort:
		return &d.ShortTerm
	case HorizonMedium:
		return &d.MediumTerm
	default:
		return &d.LongTerm
	}
}

// WeightedConfidence computes the documented decision-level confidence
// from the horizon confidences.
func (d *Decision) WeightedConfidence() float64 {
	sum := HorizonConfidenceWeights[HorizonShort]*d.ShortTerm.ConfidencePct +
		HorizonConfidenceWeights[HorizonMedium]*d.MediumTerm.ConfidencePct +
		HorizonConfidenceWeights[HorizonLong]*d.LongTerm.ConfidencePct
	return math.Round(sum)
}

// ConsistentTrend derives the trend the horizon biases support: Bullish
// or Bearish requires at least two agreeing horizons, otherwise Neutral.
func (d *Decision) ConsistentTrend() Trend {
	bull, bear := 0, 0
	for _, h := range Horizons {
		switch d.Plan(h).Bias {
		case BiasBullish:
			bull++
		case BiasBearish:
			bear++
		}
	}
	switch {
	case bull >= 2:
		return TrendBullish
	case bear >= 2:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// NormalizeRisks de-duplicates and strips empty risk strings in place.
func (d *Decision) NormalizeRisks() {
	seen := make(map[string]struct{}, len(d.Risks))
	out := d.Risks[:0]
	for _, r := range d.Risks {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	d.Risks = out
}
