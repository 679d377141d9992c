// Package config loads the engine configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full engine configuration.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	MarketData MarketDataConfig
	Stream     StreamConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Vault      VaultConfig
	LLM        LLMConfig
	Analysis   AnalysisConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	AllowOrigins []string
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console writer instead of JSON
}

type MarketDataConfig struct {
	// MockMode serves deterministic synthetic data instead of the broker
	// API; useful for development and demos.
	MockMode bool
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

type StreamConfig struct {
	Enabled      bool
	FeedURL      string
	Tokens       []int64
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
	CACert     string
}

type LLMConfig struct {
	PrimaryProvider  string // claude, openai, deepseek
	PrimaryModel     string
	FallbackProvider string
	FallbackModel    string
	MaxTokens        int
	Timeout          time.Duration

	// Seed keys from the environment; Vault overrides when enabled.
	ClaudeAPIKey   string
	OpenAIAPIKey   string
	DeepSeekAPIKey string
}

type AnalysisConfig struct {
	OverallTimeout time.Duration
	MaxPending     int
	BaseTimeframe  string
	CandleLimit    int
	DebounceWindow time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			AllowOrigins: splitList(getEnvOrDefault("CORS_ALLOW_ORIGINS", "*")),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		MarketData: MarketDataConfig{
			MockMode: getEnvBool("MARKETDATA_MOCK_MODE", false),
			BaseURL:  getEnvOrDefault("MARKETDATA_BASE_URL", ""),
			APIKey:   getEnvOrDefault("MARKETDATA_API_KEY", ""),
			Timeout:  getEnvDuration("MARKETDATA_TIMEOUT", 15*time.Second),
		},
		Stream: StreamConfig{
			Enabled:      getEnvBool("STREAM_ENABLED", false),
			FeedURL:      getEnvOrDefault("STREAM_FEED_URL", ""),
			Tokens:       splitInt64List(getEnvOrDefault("STREAM_TOKENS", "")),
			ReconnectMin: getEnvDuration("STREAM_RECONNECT_MIN", time.Second),
			ReconnectMax: getEnvDuration("STREAM_RECONNECT_MAX", 30*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Database: getEnvOrDefault("DB_NAME", "market_analysis"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		Vault: VaultConfig{
			Enabled:    getEnvBool("VAULT_ENABLED", false),
			Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
			Token:      getEnvOrDefault("VAULT_TOKEN", ""),
			MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
			SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "llm-providers"),
			CACert:     getEnvOrDefault("VAULT_CA_CERT", ""),
		},
		LLM: LLMConfig{
			PrimaryProvider:  getEnvOrDefault("LLM_PRIMARY_PROVIDER", "claude"),
			PrimaryModel:     getEnvOrDefault("LLM_PRIMARY_MODEL", "claude-sonnet-4-20250514"),
			FallbackProvider: getEnvOrDefault("LLM_FALLBACK_PROVIDER", "openai"),
			FallbackModel:    getEnvOrDefault("LLM_FALLBACK_MODEL", "gpt-4o-mini"),
			MaxTokens:        getEnvInt("LLM_MAX_TOKENS", 2048),
			Timeout:          getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			ClaudeAPIKey:     getEnvOrDefault("CLAUDE_API_KEY", ""),
			OpenAIAPIKey:     getEnvOrDefault("OPENAI_API_KEY", ""),
			DeepSeekAPIKey:   getEnvOrDefault("DEEPSEEK_API_KEY", ""),
		},
		Analysis: AnalysisConfig{
			OverallTimeout: getEnvDuration("ANALYSIS_TIMEOUT", 180*time.Second),
			MaxPending:     getEnvInt("ANALYSIS_MAX_PENDING", 8),
			BaseTimeframe:  getEnvOrDefault("ANALYSIS_BASE_TIMEFRAME", "1d"),
			CandleLimit:    getEnvInt("ANALYSIS_CANDLE_LIMIT", 200),
			DebounceWindow: getEnvDuration("ANALYSIS_DEBOUNCE_WINDOW", 60*time.Second),
		},
	}

	if !cfg.MarketData.MockMode && cfg.MarketData.BaseURL == "" {
		return nil, fmt.Errorf("MARKETDATA_BASE_URL required unless MARKETDATA_MOCK_MODE=true")
	}
	if cfg.Stream.Enabled && cfg.Stream.FeedURL == "" {
		return nil, fmt.Errorf("STREAM_FEED_URL required when STREAM_ENABLED=true")
	}
	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitInt64List(s string) []int64 {
	var out []int64
	for _, part := range splitList(s) {
		n, err := strconv.ParseInt(part, 10, 64)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}
