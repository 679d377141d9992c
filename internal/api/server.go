// Package api exposes the engine over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/cache"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/markethours"
	"market-analysis-engine/internal/orchestrator"
	"market-analysis-engine/internal/stream"
)

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Host         string
	Port         int
	AllowOrigins []string
}

// Server wires the engine components to routes.
type Server struct {
	cfg          ServerConfig
	router       *gin.Engine
	http         *http.Server
	orchestrator *orchestrator.Orchestrator
	hub          *stream.Hub
	instruments  *marketdata.InstrumentMap
	calendar     *markethours.Calendar
	candleCache  *cache.CandleCache
	store        database.Store
	log          zerolog.Logger
}

// NewServer builds the server and registers routes. hub may be nil when
// the live stream is disabled.
func NewServer(cfg ServerConfig, orch *orchestrator.Orchestrator, hub *stream.Hub,
	instruments *marketdata.InstrumentMap, calendar *markethours.Calendar,
	candleCache *cache.CandleCache, store database.Store, log zerolog.Logger) *Server {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:          cfg,
		router:       router,
		orchestrator: orch,
		hub:          hub,
		instruments:  instruments,
		calendar:     calendar,
		candleCache:  candleCache,
		store:        store,
		log:          log.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.POST("/analyze", s.handleAnalyze)
		api.GET("/analyses/:symbol", s.handleRecentAnalyses)
		api.GET("/market/status", s.handleMarketStatus)
		api.POST("/market/optimization/clear-interval-cache", s.handleClearIntervalCache)
		api.GET("/mapping/token-to-symbol/:token", s.handleTokenToSymbol)
		api.GET("/mapping/symbol-to-token", s.handleSymbolToToken)
	}

	if s.hub != nil {
		s.router.GET("/ws/stream", s.handleStream)
	}
}

// Run serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
