package models

// SectionStatus marks whether an analyzer section made it into the
// synthesis context. Failed or skipped agents appear explicitly as
// unavailable, never silently omitted.
const (
	SectionOK          = "ok"
	SectionUnavailable = "unavailable"
)

// ContextSection is one analyzer family's contribution to the synthesis
// context.
type ContextSection struct {
	Status string                 `json:"status"`
	Reason string                 `json:"reason,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// AvailableSection wraps an ok payload.
func AvailableSection(data map[string]interface{}) ContextSection {
	return ContextSection{Status: SectionOK, Data: data}
}

// UnavailableSection records why a section is missing.
func UnavailableSection(reason string) ContextSection {
	return ContextSection{Status: SectionUnavailable, Reason: reason}
}

// Context is the bounded, structured input handed to the synthesizer.
// PriorTradingLevels is the authoritative seed for the final decision;
// it and CurrentPrice survive every size-ceiling drop.
type Context struct {
	Symbol             string         `json:"symbol"`
	CurrentPrice       float64        `json:"current_price"`
	DataQuality        string         `json:"data_quality"`
	TechnicalSignals   ContextSection `json:"technical_signals"`
	PatternSignals     ContextSection `json:"pattern_signals"`
	VolumeSignals      ContextSection `json:"volume_signals"`
	MTFSignals         ContextSection `json:"mtf_signals"`
	SectorSignals      ContextSection `json:"sector_signals"`
	MLSignals          ContextSection `json:"ml_signals"`
	PriorTradingLevels TradingLevels  `json:"prior_trading_levels"`
}
