package synthesis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"market-analysis-engine/internal/models"
)

// maxLevelDeviation is how far (fractionally) the one level the model is
// allowed to move may sit from its deterministic prior.
const maxLevelDeviation = 0.02

// levelEpsilon separates float noise from a genuine change of a level.
const levelEpsilon = 1e-9

// wireDecision is the schema the model must produce.
type wireDecision struct {
	Trend           string             `json:"trend"`
	ShortTerm       models.HorizonPlan `json:"short_term"`
	MediumTerm      models.HorizonPlan `json:"medium_term"`
	LongTerm        models.HorizonPlan `json:"long_term"`
	Risks           []string           `json:"risks"`
	MustWatchLevels []float64          `json:"must_watch_levels"`
	TradingStrategy string             `json:"trading_strategy"`
}

func (w *wireDecision) plan(h models.Horizon) *models.HorizonPlan {
	switch h {
	case models.HorizonShort:
		return &w.ShortTerm
	case models.HorizonMedium:
		return &w.MediumTerm
	default:
		return &w.LongTerm
	}
}

// parseDecision unmarshals the model output without judging it.
func parseDecision(raw json.RawMessage) (*wireDecision, error) {
	var w wireDecision
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decision JSON does not match schema: %w", err)
	}
	return &w, nil
}

// validateDecision enforces the full output contract: schema presence,
// per-horizon ordering chains, and consistency with the prior levels.
func validateDecision(raw json.RawMessage, priors models.TradingLevels) error {
	w, err := parseDecision(raw)
	if err != nil {
		return err
	}
	switch models.Trend(w.Trend) {
	case models.TrendBullish, models.TrendBearish, models.TrendNeutral:
	default:
		return fmt.Errorf("trend %q not one of Bullish/Bearish/Neutral", w.Trend)
	}
	if len(w.Risks) == 0 {
		return fmt.Errorf("risks must not be empty")
	}
	for _, h := range models.Horizons {
		p := w.plan(h)
		if err := p.ValidateOrdering(); err != nil {
			return fmt.Errorf("%s: %w", h, err)
		}
		if err := checkAgainstPriors(*p, priors.ForHorizon(h)); err != nil {
			return fmt.Errorf("%s: %w", h, err)
		}
	}
	return nil
}

// checkAgainstPriors requires the plan to use the prior levels verbatim,
// with one exception: the model may move a single endpoint by at most 2%
// provided the rationale explains the change. Empty priors (no ATR
// available) impose no constraint.
func checkAgainstPriors(p models.HorizonPlan, prior models.HorizonLevels) error {
	if prior.Empty() {
		return nil
	}
	checks := []struct {
		name       string
		got, prior float64
	}{
		{"entry low", p.EntryRange[0], prior.EntryLow},
		{"entry high", p.EntryRange[1], prior.EntryHigh},
		{"stop_loss", p.StopLoss, prior.StopLoss},
	}
	for i, t := range p.Targets {
		if i < len(prior.Targets) {
			checks = append(checks, struct {
				name       string
				got, prior float64
			}{fmt.Sprintf("target %d", i+1), t, prior.Targets[i]})
		}
	}
	changed := 0
	for _, c := range checks {
		if c.prior == 0 {
			continue
		}
		dev := math.Abs(c.got-c.prior) / math.Abs(c.prior)
		if dev <= levelEpsilon {
			continue
		}
		if dev > maxLevelDeviation {
			return fmt.Errorf("%s %.4f deviates %.2f%% from prior %.4f (limit %.0f%%)",
				c.name, c.got, dev*100, c.prior, maxLevelDeviation*100)
		}
		changed++
		if changed > 1 {
			return fmt.Errorf("%s changed in addition to another level; only one prior level may move", c.name)
		}
	}
	if changed == 1 && strings.TrimSpace(p.Rationale) == "" {
		return fmt.Errorf("a prior level was changed without a rationale")
	}
	return nil
}
