// Package vault fetches model-provider API keys from HashiCorp Vault.
// When Vault is disabled the client serves keys from its seed map so
// local development needs no Vault instance.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string // KV v2 mount, e.g. "secret"
	SecretPath string // path under the mount, e.g. "llm-providers"
	CACert     string
}

// Client reads provider API keys. Keys are cached after first read;
// provider key rotation requires a restart or an explicit Invalidate.
type Client struct {
	api  *api.Client
	cfg  Config
	log  zerolog.Logger
	mu   sync.RWMutex
	keys map[string]string // provider name -> api key
}

// NewClient builds the client. seed provides keys (typically from the
// environment) used directly when Vault is disabled and as a fallback
// for providers missing from the Vault secret.
func NewClient(cfg Config, seed map[string]string, log zerolog.Logger) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		log:  log.With().Str("component", "vault").Logger(),
		keys: make(map[string]string, len(seed)),
	}
	for k, v := range seed {
		c.keys[k] = v
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}
	apiClient, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	apiClient.SetToken(cfg.Token)
	c.api = apiClient
	return c, nil
}

// ProviderKey returns the API key for a model provider ("claude",
// "openai", "deepseek").
func (c *Client) ProviderKey(ctx context.Context, provider string) (string, error) {
	c.mu.RLock()
	key, ok := c.keys[provider]
	c.mu.RUnlock()
	if ok && key != "" {
		return key, nil
	}
	if c.api == nil {
		return "", fmt.Errorf("no API key for provider %q and vault disabled", provider)
	}

	secret, err := c.api.KVv2(c.cfg.MountPath).Get(ctx, c.cfg.SecretPath)
	if err != nil {
		return "", fmt.Errorf("read provider keys from vault: %w", err)
	}
	raw, ok := secret.Data[provider]
	if !ok {
		return "", fmt.Errorf("provider %q not present in vault secret", provider)
	}
	key, ok = raw.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("provider %q key in vault is not a string", provider)
	}

	c.mu.Lock()
	c.keys[provider] = key
	c.mu.Unlock()
	c.log.Info().Str("provider", provider).Msg("provider key loaded from vault")
	return key, nil
}

// Invalidate drops a cached key, forcing a re-read on next use.
func (c *Client) Invalidate(provider string) {
	c.mu.Lock()
	delete(c.keys, provider)
	c.mu.Unlock()
}
