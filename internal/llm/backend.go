// Package llm wraps chat-completion providers behind a retrying,
// tier-aware client that returns schema-validated JSON.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider identifies a chat-completion vendor.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// Backend performs a single completion call against one provider. It
// reports transport-level failures as errors; refusals come back as
// normal text for the caller to judge.
type Backend interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int) (string, error)
	Provider() Provider
}

// transientError marks failures worth retrying (timeouts, 5xx, 429).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient reports whether err is a retryable provider failure.
func Transient(err error) bool {
	var t *transientError
	for err != nil {
		if te, ok := err.(*transientError); ok {
			t = te
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return t != nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPBackend talks to one provider's REST endpoint.
type HTTPBackend struct {
	provider   Provider
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend builds a backend for the provider. baseURL overrides
// the vendor default when non-empty, for tests and proxies.
func NewHTTPBackend(provider Provider, apiKey, baseURL string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if baseURL == "" {
		switch provider {
		case ProviderClaude:
			baseURL = "https://api.anthropic.com"
		case ProviderDeepSeek:
			baseURL = "https://api.deepseek.com"
		default:
			baseURL = "https://api.openai.com"
		}
	}
	return &HTTPBackend{
		provider:   provider,
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Provider returns the vendor this backend targets.
func (b *HTTPBackend) Provider() Provider { return b.provider }

// Complete performs one completion call.
func (b *HTTPBackend) Complete(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if b.provider == ProviderClaude {
		return b.completeClaude(ctx, model, systemPrompt, userPrompt, maxTokens)
	}
	return b.completeOpenAI(ctx, model, systemPrompt, userPrompt, maxTokens)
}

type claudeRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *HTTPBackend) completeClaude(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	req := claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: userPrompt}},
	}
	respBody, err := b.post(ctx, "/v1/messages", req, map[string]string{
		"x-api-key":         b.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var resp claudeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		err := fmt.Errorf("API error: %s - %s", resp.Error.Type, resp.Error.Message)
		if resp.Error.Type == "overloaded_error" || resp.Error.Type == "api_error" {
			return "", &transientError{err}
		}
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return resp.Content[0].Text, nil
}

type openAIRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (b *HTTPBackend) completeOpenAI(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	req := openAIRequest{
		Model: model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: maxTokens,
	}
	respBody, err := b.post(ctx, "/v1/chat/completions", req, map[string]string{
		"Authorization": "Bearer " + b.apiKey,
	})
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", b.provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload interface{}, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("provider status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
