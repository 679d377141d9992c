package synthesis

import (
	"reflect"
	"strings"
	"testing"

	"market-analysis-engine/internal/agents"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
)

func okResults() map[string]models.AgentResult {
	return map[string]models.AgentResult{
		agents.AgentTechnical: models.OKResult(agents.AgentTechnical, 70, map[string]interface{}{"rsi_14": 55.123456}),
		agents.AgentPatterns:  models.OKResult(agents.AgentPatterns, 60, map[string]interface{}{"patterns": []map[string]interface{}{}}),
		agents.AgentVolume:    models.OKResult(agents.AgentVolume, 50, map[string]interface{}{"volume_ratio": 1.2}),
		agents.AgentSector:    models.OKResult(agents.AgentSector, 55, map[string]interface{}{"rank": 0.8}),
		agents.AgentML:        models.OKResult(agents.AgentML, 45, map[string]interface{}{"score": 0.2}),
	}
}

func fullMTFView() *mtf.Result {
	return &mtf.Result{
		Reads: []mtf.TimeframeRead{
			{Timeframe: models.TF1h, Available: true, Bias: models.BiasBullish, Confidence: 70},
			{Timeframe: models.TF1d, Available: true, Bias: models.BiasBullish, Confidence: 65},
		},
		Alignment: 1,
		Used:      2,
	}
}

func TestContextBuilderMarksUnavailableSections(t *testing.T) {
	results := map[string]models.AgentResult{
		agents.AgentTechnical: models.OKResult(agents.AgentTechnical, 70, map[string]interface{}{"rsi_14": 55.0}),
		agents.AgentPatterns:  models.TimeoutResult(agents.AgentPatterns),
		agents.AgentVolume:    models.SkippedResult(agents.AgentVolume, "dependency failed"),
	}

	ctx, err := NewContextBuilder().Build("INFY", 1594.123456, results, nil, models.TradingLevels{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ctx.TechnicalSignals.Status != models.SectionOK {
		t.Fatalf("technical section should be ok: %+v", ctx.TechnicalSignals)
	}
	if ctx.TechnicalSignals.Data["confidence"] != 70.0 {
		t.Fatalf("confidence not folded into section: %v", ctx.TechnicalSignals.Data)
	}
	if ctx.PatternSignals.Status != models.SectionUnavailable || ctx.PatternSignals.Reason == "" {
		t.Fatalf("timed-out analyzer must appear unavailable with a reason: %+v", ctx.PatternSignals)
	}
	if ctx.VolumeSignals.Status != models.SectionUnavailable {
		t.Fatalf("skipped analyzer must appear unavailable: %+v", ctx.VolumeSignals)
	}
	if ctx.SectorSignals.Status != models.SectionUnavailable {
		t.Fatalf("absent analyzer must appear unavailable: %+v", ctx.SectorSignals)
	}
	if ctx.MTFSignals.Status != models.SectionUnavailable {
		t.Fatalf("nil mtf view must appear unavailable: %+v", ctx.MTFSignals)
	}
	if ctx.CurrentPrice != 1594.1235 {
		t.Fatalf("price not rounded: %v", ctx.CurrentPrice)
	}
	if ctx.DataQuality != "minimal" {
		t.Fatalf("one ok section of six should be minimal, got %q", ctx.DataQuality)
	}
}

func TestContextBuilderDataQualityFull(t *testing.T) {
	ctx, err := NewContextBuilder().Build("INFY", 1594, okResults(), fullMTFView(), models.TradingLevels{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ctx.DataQuality != "full" {
		t.Fatalf("expected full, got %q", ctx.DataQuality)
	}
}

func TestContextBuilderShedsPatternGeometryFirst(t *testing.T) {
	results := okResults()
	results[agents.AgentPatterns] = models.OKResult(agents.AgentPatterns, 60, map[string]interface{}{
		"patterns": []map[string]interface{}{
			{"kind": "double_bottom", "geometry": strings.Repeat("x", 8192)},
		},
	})
	priors := DeriveLevels(100, 2, models.BiasBullish)

	b := &ContextBuilder{MaxBytes: 4096}
	ctx, err := b.Build("INFY", 100, results, fullMTFView(), priors)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	list := ctx.PatternSignals.Data["patterns"].([]map[string]interface{})
	if _, kept := list[0]["geometry"]; kept {
		t.Fatal("geometry should be the first detail shed")
	}
	if list[0]["kind"] != "double_bottom" {
		t.Fatal("pattern identity must survive geometry shedding")
	}
	if _, kept := ctx.MTFSignals.Data["timeframes"]; !kept {
		t.Fatal("timeframe detail shed before it was needed")
	}
	if !reflect.DeepEqual(ctx.PriorTradingLevels, priors) {
		t.Fatal("prior levels must never be shed")
	}
}

func TestContextBuilderShedsMTFThenSectorMatrix(t *testing.T) {
	results := okResults()
	results[agents.AgentSector] = models.OKResult(agents.AgentSector, 55, map[string]interface{}{
		"rank":        0.8,
		"peer_matrix": map[string]interface{}{"filler": strings.Repeat("y", 8192)},
	})
	priors := DeriveLevels(100, 2, models.BiasBullish)

	b := &ContextBuilder{MaxBytes: 2048}
	ctx, err := b.Build("INFY", 100, results, fullMTFView(), priors)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, kept := ctx.MTFSignals.Data["timeframes"]; kept {
		t.Fatal("timeframe detail should have been shed")
	}
	if _, kept := ctx.SectorSignals.Data["peer_matrix"]; kept {
		t.Fatal("peer matrix should have been shed")
	}
	if ctx.SectorSignals.Data["rank"] != 0.8 {
		t.Fatal("sector rank must survive matrix shedding")
	}
	if !reflect.DeepEqual(ctx.PriorTradingLevels, priors) {
		t.Fatal("prior levels must never be shed")
	}
}

func TestContextBuilderErrorsWhenIrreducible(t *testing.T) {
	results := okResults()
	results[agents.AgentTechnical] = models.OKResult(agents.AgentTechnical, 70, map[string]interface{}{
		"blob": strings.Repeat("z", 64*1024),
	})
	b := &ContextBuilder{MaxBytes: 1024}
	if _, err := b.Build("INFY", 100, results, nil, models.TradingLevels{}); err == nil {
		t.Fatal("expected error when the context cannot shrink under the ceiling")
	}
}
