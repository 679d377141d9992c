package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"market-analysis-engine/config"
	"market-analysis-engine/internal/agents"
	"market-analysis-engine/internal/api"
	"market-analysis-engine/internal/cache"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/llm"
	"market-analysis-engine/internal/logging"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/markethours"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/mtf"
	"market-analysis-engine/internal/orchestrator"
	"market-analysis-engine/internal/stream"
	"market-analysis-engine/internal/synthesis"
	"market-analysis-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	calendar := markethours.NewCalendar()

	// Market data provider.
	var provider marketdata.Provider
	var instrumentSource marketdata.InstrumentSource
	if cfg.MarketData.MockMode {
		mock := marketdata.NewMockClient()
		provider = mock
		instrumentSource = mock.Instruments
		log.Warn().Msg("serving synthetic market data (mock mode)")
	} else {
		httpClient := marketdata.NewHTTPClient(marketdata.HTTPClientConfig{
			BaseURL: cfg.MarketData.BaseURL,
			APIKey:  cfg.MarketData.APIKey,
			Timeout: cfg.MarketData.Timeout,
		}, log)
		provider = httpClient
		instrumentSource = httpClient.Instruments
	}

	instruments := marketdata.NewInstrumentMap(instrumentSource, log)
	if err := instruments.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial instrument refresh failed, token mapping will be empty")
	}
	go instruments.RunRefresher(ctx, 24*time.Hour)

	// Candle cache.
	var candleCache *cache.CandleCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		candleCache = cache.NewCandleCache(rdb, log)
	} else {
		candleCache = cache.NewCandleCache(nil, log)
	}

	// Persistence.
	var store database.Store = database.NoopStore{}
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, database.Config{
			Host: cfg.Database.Host, Port: cfg.Database.Port,
			User: cfg.Database.User, Password: cfg.Database.Password,
			Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("database migration failed")
		}
		store = database.NewRepository(db)
	}

	// Model client: provider keys come from Vault, seeded from the env.
	llmClient := buildLLMClient(ctx, cfg, log)

	// Analyzers.
	baseTF, err := models.ParseTimeframe(cfg.Analysis.BaseTimeframe)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid base timeframe")
	}
	registry := agents.NewRegistry()
	for _, a := range []agents.Analyzer{
		agents.TechnicalAgent{},
		agents.NewPatternAgent(baseTF),
		agents.NewVolumeAgent(baseTF),
		agents.NewSectorAgent(baseTF),
		agents.NewMLAgent(baseTF),
	} {
		if err := registry.Register(a); err != nil {
			log.Fatal().Err(err).Msg("analyzer registration failed")
		}
	}
	executor := agents.NewExecutor(registry, log)

	mtfAgg := mtf.NewAggregator(provider, candleCache, log)
	synth := synthesis.NewSynthesizer(llmClient, log)

	orch := orchestrator.New(orchestrator.Config{
		OverallTimeout: cfg.Analysis.OverallTimeout,
		MaxPending:     cfg.Analysis.MaxPending,
		BaseTimeframe:  baseTF,
		CandleLimit:    cfg.Analysis.CandleLimit,
		DebounceWindow: cfg.Analysis.DebounceWindow,
	}, provider, candleCache, executor, mtfAgg, synth, store, calendar, log)

	// Live tick path.
	var hub *stream.Hub
	if cfg.Stream.Enabled {
		hub = stream.NewHub(stream.DefaultSubscriberBuffer, log)
		gate := stream.NewGate(calendar.Status, stream.DefaultDedupWindow, log)
		agg := stream.NewAggregator(models.CanonicalTimeframes, provider.VolumeMode(), func(env models.Envelope) {
			hub.Publish(env)
			if env.Type == models.EnvelopeCandle && env.Stage == models.StageClosed {
				if inst, ok := instruments.ByToken(env.Token); ok {
					orch.OnClosedCandle(inst.Symbol, inst.Exchange, env.Timeframe)
				}
			}
		}, log)
		defer agg.Close()

		ingest := stream.NewIngest(stream.IngestConfig{
			URL:          cfg.Stream.FeedURL,
			Tokens:       cfg.Stream.Tokens,
			ReconnectMin: cfg.Stream.ReconnectMin,
			ReconnectMax: cfg.Stream.ReconnectMax,
		}, gate, agg, hub, log)
		go ingest.Run(ctx)
	}

	server := api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		AllowOrigins: cfg.Server.AllowOrigins,
	}, orch, hub, instruments, calendar, candleCache, store, log)

	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("shutdown complete")
}

// buildLLMClient resolves provider keys and assembles the tiered client.
// Missing keys degrade to fewer tiers; no keys at all means the
// deterministic synthesis path only.
func buildLLMClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) *llm.Client {
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
		CACert:     cfg.Vault.CACert,
	}, map[string]string{
		string(llm.ProviderClaude):   cfg.LLM.ClaudeAPIKey,
		string(llm.ProviderOpenAI):   cfg.LLM.OpenAIAPIKey,
		string(llm.ProviderDeepSeek): cfg.LLM.DeepSeekAPIKey,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("vault client failed")
	}

	tier := func(providerName, model string) llm.TierConfig {
		if providerName == "" || model == "" {
			return llm.TierConfig{}
		}
		key, err := vaultClient.ProviderKey(ctx, providerName)
		if err != nil {
			log.Warn().Err(err).Str("provider", providerName).Msg("model tier unavailable")
			return llm.TierConfig{}
		}
		backend := llm.NewHTTPBackend(llm.Provider(providerName), key, "", cfg.LLM.Timeout)
		return llm.TierConfig{Backend: backend, Model: model}
	}

	primary := tier(cfg.LLM.PrimaryProvider, cfg.LLM.PrimaryModel)
	fallback := tier(cfg.LLM.FallbackProvider, cfg.LLM.FallbackModel)
	if primary.Backend == nil && fallback.Backend == nil {
		log.Warn().Msg("no model provider configured, decisions will be deterministic")
		return nil
	}
	return llm.NewClient(llm.ClientConfig{
		Primary:   primary,
		Fallback:  fallback,
		MaxTokens: cfg.LLM.MaxTokens,
	}, log)
}
