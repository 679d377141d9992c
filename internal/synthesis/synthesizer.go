package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/enginerr"
	"market-analysis-engine/internal/llm"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
)

// Request carries everything the synthesizer needs for one decision.
type Request struct {
	Symbol       string
	CurrentPrice float64
	Results      map[string]models.AgentResult
	MTFView      *mtf.Result
	Priors       models.TradingLevels
	Tier         llm.ModelTier
	RequestID    string

	// Partial marks that upstream analyzers failed; it propagates into
	// the decision meta untouched.
	Partial bool
}

// Synthesizer turns analyzer output into a final decision. The model
// refines the deterministic priors; when it misbehaves twice the priors
// are forced in, and when it is unreachable a deterministic decision is
// produced instead.
type Synthesizer struct {
	llm     *llm.Client
	builder *ContextBuilder
	log     zerolog.Logger
	now     func() time.Time
}

// NewSynthesizer builds the synthesizer. client may be nil, which
// routes every request straight to the deterministic path.
func NewSynthesizer(client *llm.Client, log zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		llm:     client,
		builder: NewContextBuilder(),
		log:     log.With().Str("component", "synthesizer").Logger(),
		now:     time.Now,
	}
}

// Synthesize produces the decision for one analysis run. It returns an
// error only on cancellation or when the context itself cannot be
// built; model failures degrade to deterministic output.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*models.Decision, error) {
	sctx, err := s.builder.Build(req.Symbol, req.CurrentPrice, req.Results, req.MTFView, req.Priors)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.Internal, "build synthesis context", err)
	}

	if s.llm == nil {
		return s.fallbackDecision(req, sctx, ""), nil
	}

	userPrompt, err := buildUserPrompt(sctx)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.Internal, "build synthesis prompt", err)
	}

	resp, err := s.llm.GenerateJSON(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         req.Tier,
		Validate: func(raw json.RawMessage) error {
			return validateDecision(raw, req.Priors)
		},
		RepairPrompt: func(raw string, cause error) string {
			return buildRepairPrompt(sctx, raw, cause)
		},
	})
	switch {
	case err == nil:
		return s.acceptedDecision(req, sctx, resp)
	case enginerr.Is(err, enginerr.Cancelled):
		return nil, err
	case enginerr.Is(err, enginerr.ValidationFailure):
		// The model had its repair chance and still violated the
		// contract: force the deterministic priors in.
		s.log.Warn().Str("symbol", req.Symbol).Err(err).Msg("forcing prior levels after repeated contract violations")
		return s.fallbackDecision(req, sctx, "levels_forced"), nil
	default:
		s.log.Error().Str("symbol", req.Symbol).Err(err).Msg("model unreachable, producing deterministic decision")
		d := s.fallbackDecision(req, sctx, "")
		d.Meta.LLMFallback = true
		return d, nil
	}
}

// acceptedDecision converts a validated model response into the final
// decision, recomputing the derived fields the model is not trusted
// with.
func (s *Synthesizer) acceptedDecision(req Request, sctx *models.Context, resp *llm.Response) (*models.Decision, error) {
	w, err := parseDecision(resp.JSON)
	if err != nil {
		// Validation already parsed this document; a failure here is a bug.
		return nil, enginerr.Wrap(enginerr.Internal, "re-parse validated decision", err)
	}

	d := &models.Decision{
		Symbol:          req.Symbol,
		Timestamp:       s.now().UnixMilli(),
		ShortTerm:       w.ShortTerm,
		MediumTerm:      w.MediumTerm,
		LongTerm:        w.LongTerm,
		Risks:           w.Risks,
		MustWatchLevels: roundAll(w.MustWatchLevels),
		Meta: models.DecisionMeta{
			Partial:   req.Partial,
			ModelTier: string(resp.Tier),
			RequestID: req.RequestID,
		},
	}
	s.attachContexts(d, sctx, req.MTFView)

	// Trend and decision confidence are derived, never taken from the
	// model: trend needs two agreeing horizons, confidence is the
	// documented weighting.
	d.Trend = d.ConsistentTrend()
	d.ConfidencePct = d.WeightedConfidence()
	d.NormalizeRisks()
	roundPlans(d)
	d.TradingStrategy = strings.TrimSpace(w.TradingStrategy)
	if d.TradingStrategy == "" {
		d.TradingStrategy = strategySummary(d)
	}
	return d, nil
}

// fallbackDecision builds the deterministic decision used when the
// model is unavailable or untrustworthy. Levels come straight from the
// priors; direction comes from the multi-timeframe alignment.
func (s *Synthesizer) fallbackDecision(req Request, sctx *models.Context, adjustment string) *models.Decision {
	bias := models.BiasNeutral
	alignment := 0.0
	if req.MTFView != nil && req.MTFView.Used > 0 {
		alignment = req.MTFView.Alignment
		bias = req.MTFView.Dominant()
	}
	confidence := RoundPct(25 + 25*math.Abs(alignment))

	d := &models.Decision{
		Symbol:    req.Symbol,
		Timestamp: s.now().UnixMilli(),
		Risks:     []string{"decision produced without model assistance; reduced confidence"},
		Meta: models.DecisionMeta{
			Partial:    req.Partial,
			Adjustment: adjustment,
			RequestID:  req.RequestID,
		},
	}
	for _, h := range models.Horizons {
		*d.Plan(h) = planFromPriors(req.Priors.ForHorizon(h), bias, confidence)
	}
	s.attachContexts(d, sctx, req.MTFView)

	d.Trend = d.ConsistentTrend()
	d.ConfidencePct = d.WeightedConfidence()
	d.TradingStrategy = strategySummary(d)
	if !req.Priors.ForHorizon(models.HorizonShort).Empty() {
		d.MustWatchLevels = roundAll([]float64{
			req.Priors.ShortTerm.StopLoss,
			req.Priors.ShortTerm.EntryLow,
			req.Priors.ShortTerm.EntryHigh,
		})
	}
	roundPlans(d)
	return d
}

func planFromPriors(levels models.HorizonLevels, bias models.Bias, confidence float64) models.HorizonPlan {
	rationale := fmt.Sprintf("volatility-derived levels, %s multi-timeframe alignment", bias)
	if levels.Empty() {
		return models.HorizonPlan{
			Bias:          models.BiasNeutral,
			ConfidencePct: 0,
			EntryRange:    []float64{0, 0},
			Targets:       []float64{0},
			Rationale:     "no volatility data to derive levels",
		}
	}
	return models.HorizonPlan{
		Bias:          bias,
		ConfidencePct: confidence,
		EntryRange:    []float64{levels.EntryLow, levels.EntryHigh},
		StopLoss:      levels.StopLoss,
		Targets:       append([]float64(nil), levels.Targets...),
		Rationale:     rationale,
	}
}

// strategySummary renders the short-horizon plan as the one-line
// trading_strategy of the persisted record. Used when the model did not
// supply one and on every deterministic decision.
func strategySummary(d *models.Decision) string {
	p := d.ShortTerm
	if len(p.EntryRange) != 2 || len(p.Targets) == 0 || p.EntryRange[1] == 0 {
		return fmt.Sprintf("%s outlook; no actionable levels derived", d.Trend)
	}
	return fmt.Sprintf("%s: enter %.2f-%.2f, stop %.2f, first target %.2f",
		d.Trend, p.EntryRange[0], p.EntryRange[1], p.StopLoss, p.Targets[0])
}

// attachContexts embeds the MTF and sector views the caller may want to
// persist alongside the decision.
func (s *Synthesizer) attachContexts(d *models.Decision, sctx *models.Context, mtfView *mtf.Result) {
	if mtfView != nil && mtfView.Used > 0 {
		d.MTFContext = map[string]interface{}{
			"alignment": RoundPct(mtfView.Alignment),
			"used":      mtfView.Used,
			"dominant":  string(mtfView.Dominant()),
		}
	}
	if sctx.SectorSignals.Status == models.SectionOK {
		d.SectorContext = sctx.SectorSignals.Data
	}
}

func roundPlans(d *models.Decision) {
	for _, h := range models.Horizons {
		p := d.Plan(h)
		p.ConfidencePct = RoundPct(p.ConfidencePct)
		p.EntryRange = roundAll(p.EntryRange)
		p.StopLoss = RoundPrice(p.StopLoss)
		p.Targets = roundAll(p.Targets)
	}
	d.ConfidencePct = RoundPct(d.ConfidencePct)
}

func roundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = RoundPrice(v)
	}
	return out
}
