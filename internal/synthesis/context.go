package synthesis

import (
	"encoding/json"
	"fmt"

	"market-analysis-engine/internal/agents"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
)

// DefaultContextBytes bounds the serialized synthesis context. The
// builder sheds low-priority detail to stay under it; prior levels and
// the current price are never shed.
const DefaultContextBytes = 16 * 1024

// ContextBuilder assembles the bounded model context from analyzer
// results.
type ContextBuilder struct {
	MaxBytes int
}

// NewContextBuilder builds a builder with the default size ceiling.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{MaxBytes: DefaultContextBytes}
}

// Build folds agent results, the multi-timeframe view and the prior
// levels into a context. Missing analyzers appear as explicitly
// unavailable sections.
func (b *ContextBuilder) Build(symbol string, currentPrice float64, results map[string]models.AgentResult, mtfView *mtf.Result, priors models.TradingLevels) (*models.Context, error) {
	ctx := &models.Context{
		Symbol:             symbol,
		CurrentPrice:       RoundPrice(currentPrice),
		TechnicalSignals:   sectionFor(results, agents.AgentTechnical),
		PatternSignals:     sectionFor(results, agents.AgentPatterns),
		VolumeSignals:      sectionFor(results, agents.AgentVolume),
		SectorSignals:      sectionFor(results, agents.AgentSector),
		MLSignals:          sectionFor(results, agents.AgentML),
		MTFSignals:         mtfSection(mtfView),
		PriorTradingLevels: priors,
	}
	ctx.DataQuality = dataQuality(ctx)

	if err := b.shrinkToFit(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// sectionFor converts one agent result into a context section, rounding
// numeric payload values to the artifact precision.
func sectionFor(results map[string]models.AgentResult, agentID string) models.ContextSection {
	r, ok := results[agentID]
	if !ok {
		return models.UnavailableSection("analyzer did not run")
	}
	switch r.Status {
	case models.AgentOK:
		data := roundNumbers(r.Payload).(map[string]interface{})
		data["confidence"] = RoundPct(r.Confidence)
		return models.AvailableSection(data)
	case models.AgentTimeout:
		return models.UnavailableSection("analyzer timed out")
	case models.AgentSkipped:
		return models.UnavailableSection(r.Error)
	default:
		return models.UnavailableSection(r.Error)
	}
}

func mtfSection(view *mtf.Result) models.ContextSection {
	if view == nil || view.Used == 0 {
		return models.UnavailableSection("no timeframe produced a read")
	}
	reads := make([]map[string]interface{}, 0, len(view.Reads))
	for _, r := range view.Reads {
		entry := map[string]interface{}{
			"timeframe": string(r.Timeframe),
			"available": r.Available,
		}
		if r.Available {
			entry["bias"] = string(r.Bias)
			entry["confidence"] = RoundPct(r.Confidence)
		} else {
			entry["reason"] = r.Reason
		}
		reads = append(reads, entry)
	}
	data := map[string]interface{}{
		"alignment":  RoundPct(view.Alignment),
		"used":       view.Used,
		"dominant":   string(view.Dominant()),
		"timeframes": reads,
	}
	if len(view.ConflictingTimeframes) > 0 {
		conflicts := make([]string, 0, len(view.ConflictingTimeframes))
		for _, tf := range view.ConflictingTimeframes {
			conflicts = append(conflicts, string(tf))
		}
		data["conflicting_timeframes"] = conflicts
	}
	return models.AvailableSection(data)
}

// dataQuality summarizes how much of the signal surface is present.
func dataQuality(ctx *models.Context) string {
	sections := []models.ContextSection{
		ctx.TechnicalSignals, ctx.PatternSignals, ctx.VolumeSignals,
		ctx.MTFSignals, ctx.SectorSignals, ctx.MLSignals,
	}
	ok := 0
	for _, s := range sections {
		if s.Status == models.SectionOK {
			ok++
		}
	}
	switch {
	case ok == len(sections):
		return "full"
	case ok >= len(sections)/2:
		return "partial"
	case ok > 0:
		return "minimal"
	default:
		return "empty"
	}
}

// shrinkToFit sheds detail blocks in fixed priority order until the
// serialized context fits: pattern geometry first, then per-timeframe
// detail, then the sector peer matrix.
func (b *ContextBuilder) shrinkToFit(ctx *models.Context) error {
	max := b.MaxBytes
	if max <= 0 {
		max = DefaultContextBytes
	}
	if size(ctx) <= max {
		return nil
	}

	dropPatternGeometry(ctx)
	if size(ctx) <= max {
		return nil
	}
	dropMTFDetail(ctx)
	if size(ctx) <= max {
		return nil
	}
	dropSectorMatrix(ctx)
	if size(ctx) <= max {
		return nil
	}
	return fmt.Errorf("context still %d bytes after shedding detail, ceiling %d", size(ctx), max)
}

func size(ctx *models.Context) int {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return len(raw)
}

func dropPatternGeometry(ctx *models.Context) {
	if ctx.PatternSignals.Status != models.SectionOK {
		return
	}
	list, ok := ctx.PatternSignals.Data["patterns"].([]map[string]interface{})
	if !ok {
		return
	}
	for _, p := range list {
		delete(p, "geometry")
	}
}

func dropMTFDetail(ctx *models.Context) {
	if ctx.MTFSignals.Status != models.SectionOK {
		return
	}
	delete(ctx.MTFSignals.Data, "timeframes")
}

func dropSectorMatrix(ctx *models.Context) {
	if ctx.SectorSignals.Status != models.SectionOK {
		return
	}
	delete(ctx.SectorSignals.Data, "peer_matrix")
}

// roundNumbers walks a payload rounding every float to price precision.
func roundNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return RoundPrice(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = roundNumbers(val)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, m := range t {
			out[i] = roundNumbers(m).(map[string]interface{})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = roundNumbers(e)
		}
		return out
	case map[string]float64:
		out := make(map[string]interface{}, len(t))
		for k, f := range t {
			out[k] = RoundPrice(f)
		}
		return out
	default:
		return v
	}
}
