package synthesis

import (
	"encoding/json"
	"fmt"

	"market-analysis-engine/internal/models"
)

const systemPrompt = `You are a disciplined market analyst. You receive a structured JSON
context with technical, pattern, volume, multi-timeframe, sector and
model-prediction signals for one symbol, plus deterministic prior
trading levels derived from volatility.

Rules you must follow:
1. Respond with ONLY a JSON document matching the requested schema. No
   markdown, no prose outside the JSON.
2. Treat prior_trading_levels as the anchor. You may refine a level by
   at most 2 percent when the signals justify it; never invent levels
   far from the priors.
3. Respect price ordering. Bullish plans: stop_loss < entry low <=
   entry high < first target, targets ascending. Bearish plans: the
   mirror image, targets descending.
4. Sections marked "unavailable" carry no information. Do not guess
   what they would have said; reduce confidence instead.
5. Confidence is 0-100 per horizon and should reflect signal agreement,
   not certainty theater.`

// decisionSchema is shown to the model verbatim so the response shape
// is never ambiguous.
const decisionSchema = `{
  "trend": "Bullish|Bearish|Neutral",
  "short_term":  {"bias": "bullish|bearish|neutral", "confidence_pct": 0, "entry_range": [0, 0], "stop_loss": 0, "targets": [0, 0], "rationale": ""},
  "medium_term": {"bias": "bullish|bearish|neutral", "confidence_pct": 0, "entry_range": [0, 0], "stop_loss": 0, "targets": [0, 0], "rationale": ""},
  "long_term":   {"bias": "bullish|bearish|neutral", "confidence_pct": 0, "entry_range": [0, 0], "stop_loss": 0, "targets": [0, 0], "rationale": ""},
  "risks": [""],
  "must_watch_levels": [0],
  "trading_strategy": ""
}`

// buildUserPrompt renders the context and schema into the user turn.
func buildUserPrompt(ctx *models.Context) (string, error) {
	raw, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal synthesis context: %w", err)
	}
	return fmt.Sprintf(
		"Analyze %s at current price %.4f.\n\nContext:\n%s\n\nRespond with ONLY a JSON document of this shape:\n%s",
		ctx.Symbol, ctx.CurrentPrice, string(raw), decisionSchema), nil
}

// buildRepairPrompt reinforces the violated rule alongside the model's
// previous output.
func buildRepairPrompt(ctx *models.Context, previous string, cause error) string {
	priors, _ := json.Marshal(ctx.PriorTradingLevels)
	return fmt.Sprintf(
		"Your previous response violated the output contract.\n\nViolation: %s\n\nPrevious response:\n%s\n\n"+
			"Reminder: levels must stay within 2 percent of these priors and obey the price ordering rules:\n%s\n\n"+
			"Respond again with ONLY the corrected JSON document of the required shape:\n%s",
		cause, previous, string(priors), decisionSchema)
}
