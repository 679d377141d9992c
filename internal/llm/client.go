package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/circuit"
	"market-analysis-engine/internal/enginerr"
	"market-analysis-engine/internal/metrics"
)

// ModelTier selects which configured model handles a request.
type ModelTier string

const (
	TierPrimary  ModelTier = "primary"
	TierFallback ModelTier = "fallback"
)

// TierConfig binds a backend and model name to a tier.
type TierConfig struct {
	Backend Backend
	Model   string
}

// ClientConfig configures the tiered client.
type ClientConfig struct {
	Primary     TierConfig
	Fallback    TierConfig
	MaxTokens   int
	MaxAttempts int           // attempts per tier on transient failures
	InitialWait time.Duration // first backoff interval
}

// Client routes completion requests across model tiers with retries and
// JSON schema validation.
type Client struct {
	cfg      ClientConfig
	log      zerolog.Logger
	breakers map[ModelTier]*circuit.Breaker
}

// NewClient builds the tiered client. Fallback may be zero-valued, in
// which case only the primary tier is used.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = 500 * time.Millisecond
	}
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "llm_client").Logger(),
		breakers: map[ModelTier]*circuit.Breaker{
			TierPrimary:  circuit.NewBreaker(circuit.Config{}),
			TierFallback: circuit.NewBreaker(circuit.Config{}),
		},
	}
}

// Request is one JSON-producing completion request.
type Request struct {
	SystemPrompt string
	UserPrompt   string

	// Tier is the starting tier; empty means primary.
	Tier ModelTier

	// Validate checks the extracted JSON document against the expected
	// schema. A validation failure triggers exactly one repair re-prompt
	// per tier before the response is surfaced as invalid.
	Validate func(raw json.RawMessage) error

	// RepairPrompt builds the re-prompt sent after a validation failure.
	// When nil a generic repair instruction is used.
	RepairPrompt func(raw string, cause error) string
}

// Response carries the model output and which tier produced it.
type Response struct {
	Raw      string
	JSON     json.RawMessage
	Tier     ModelTier
	Model    string
	Provider Provider
}

// GenerateJSON runs the request against the starting tier, retrying
// transient failures with exponential backoff, then falls through to
// the fallback tier. Validation failures get one repair re-prompt per
// tier. All tiers exhausted returns an llm_failure error.
func (c *Client) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	tiers := c.tierOrder(req.Tier)
	var lastErr error
	for _, tier := range tiers {
		tc := c.tierConfig(tier)
		if tc.Backend == nil {
			continue
		}
		resp, err := c.runTier(ctx, tier, tc, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, enginerr.Wrap(enginerr.Cancelled, "llm request cancelled", ctx.Err())
		}
		c.log.Warn().Err(err).Str("tier", string(tier)).Str("model", tc.Model).Msg("model tier exhausted")
	}
	if enginerr.Is(lastErr, enginerr.ValidationFailure) {
		// The caller distinguishes "model kept violating the schema" from
		// "model unreachable"; keep the kind visible.
		return nil, lastErr
	}
	return nil, enginerr.Wrap(enginerr.LLMFailure, "all model tiers exhausted", lastErr)
}

// runTier performs up to MaxAttempts completions on one tier plus at
// most one repair round after a schema violation.
func (c *Client) runTier(ctx context.Context, tier ModelTier, tc TierConfig, req Request) (*Response, error) {
	br := c.breakers[tier]
	if err := br.Allow(); err != nil {
		return nil, err
	}

	raw, err := c.completeWithRetry(ctx, tc, req.SystemPrompt, req.UserPrompt)
	if err != nil {
		br.RecordFailure(err)
		metrics.LLMAttempts.WithLabelValues(string(tier), "error").Inc()
		return nil, err
	}
	br.RecordSuccess()

	doc, verr := c.extractAndValidate(raw, req.Validate)
	if verr == nil {
		metrics.LLMAttempts.WithLabelValues(string(tier), "ok").Inc()
		return &Response{Raw: raw, JSON: doc, Tier: tier, Model: tc.Model, Provider: tc.Backend.Provider()}, nil
	}

	// One repair round: show the model its own output and the violation.
	metrics.LLMAttempts.WithLabelValues(string(tier), "invalid").Inc()
	c.log.Warn().Err(verr).Str("tier", string(tier)).Msg("schema violation, sending repair prompt")
	repairPrompt := c.repairPrompt(req, raw, verr)
	raw, err = c.completeWithRetry(ctx, tc, req.SystemPrompt, repairPrompt)
	if err != nil {
		br.RecordFailure(err)
		metrics.LLMAttempts.WithLabelValues(string(tier), "error").Inc()
		return nil, err
	}
	br.RecordSuccess()
	doc, verr = c.extractAndValidate(raw, req.Validate)
	if verr != nil {
		metrics.LLMAttempts.WithLabelValues(string(tier), "invalid").Inc()
		return nil, enginerr.Wrap(enginerr.ValidationFailure, "response failed schema validation after repair", verr)
	}
	metrics.LLMAttempts.WithLabelValues(string(tier), "ok").Inc()
	return &Response{Raw: raw, JSON: doc, Tier: tier, Model: tc.Model, Provider: tc.Backend.Provider()}, nil
}

func (c *Client) completeWithRetry(ctx context.Context, tc TierConfig, systemPrompt, userPrompt string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialWait
	policy.RandomizationFactor = 0.3
	retrier := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx)

	var out string
	op := func() error {
		raw, err := tc.Backend.Complete(ctx, tc.Model, systemPrompt, userPrompt, c.cfg.MaxTokens)
		if err != nil {
			if Transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = raw
		return nil
	}
	if err := backoff.Retry(op, retrier); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) extractAndValidate(raw string, validate func(json.RawMessage) error) (json.RawMessage, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (c *Client) repairPrompt(req Request, raw string, cause error) string {
	if req.RepairPrompt != nil {
		return req.RepairPrompt(raw, cause)
	}
	return fmt.Sprintf(
		"Your previous response did not satisfy the required JSON schema.\n\nProblem: %s\n\nPrevious response:\n%s\n\nOriginal request:\n%s\n\nRespond again with ONLY the corrected JSON document.",
		cause, truncate(raw, 4000), req.UserPrompt)
}

func (c *Client) tierOrder(start ModelTier) []ModelTier {
	if start == TierFallback {
		return []ModelTier{TierFallback}
	}
	return []ModelTier{TierPrimary, TierFallback}
}

func (c *Client) tierConfig(tier ModelTier) TierConfig {
	if tier == TierFallback {
		return c.cfg.Fallback
	}
	return c.cfg.Primary
}

// ExtractJSON pulls the first complete JSON object out of a model
// response, tolerating markdown code fences and surrounding prose.
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := stripMarkdownCodeBlock(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				doc := json.RawMessage(s[start : i+1])
				if !json.Valid(doc) {
					return nil, fmt.Errorf("malformed JSON object in response")
				}
				return doc, nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object in response")
}

// stripMarkdownCodeBlock removes ```json fences that models wrap around
// structured output.
func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
