package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"market-analysis-engine/internal/enginerr"
	"market-analysis-engine/internal/llm"
	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/orchestrator"
)

// analyzeRequest is the POST /analyze body.
type analyzeRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Options  struct {
		IncludeMTF    *bool  `json:"include_mtf"`
		IncludeSector *bool  `json:"include_sector"`
		IncludeML     *bool  `json:"include_ml"`
		ForceLive     bool   `json:"force_live"`
		TimeoutMs     int    `json:"timeout_ms"`
		LLMModelTier  string `json:"llm_model_tier"`
	} `json:"options"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	// Unknown option keys are a client error, not something to guess at.
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	var req analyzeRequest
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	if req.Exchange == "" {
		req.Exchange = "NSE"
	}

	var tier llm.ModelTier
	switch req.Options.LLMModelTier {
	case "", "auto":
	case string(llm.TierPrimary), string(llm.TierFallback):
		tier = llm.ModelTier(req.Options.LLMModelTier)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "llm_model_tier must be one of primary, fallback, auto"})
		return
	}

	opts := orchestrator.Options{
		IncludeMTF:    boolOr(req.Options.IncludeMTF, true),
		IncludeSector: boolOr(req.Options.IncludeSector, true),
		IncludeML:     boolOr(req.Options.IncludeML, true),
		ForceLive:     req.Options.ForceLive,
		TimeoutMs:     req.Options.TimeoutMs,
		Tier:          tier,
	}

	decision, err := s.orchestrator.Analyze(c.Request.Context(), req.Symbol, req.Exchange, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleRecentAnalyses(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.store.RecentAnalyses(c.Request.Context(), symbol, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "analyses": records})
}

func (s *Server) handleMarketStatus(c *gin.Context) {
	now := time.Now()
	status := s.calendar.Status(now)
	resp := gin.H{
		"status":     string(status),
		"is_trading": status.Trading(),
		"as_of":      now.UnixMilli(),
	}
	if !status.Trading() {
		resp["next_open"] = s.calendar.NextOpen(now).UnixMilli()
	}
	c.JSON(http.StatusOK, resp)
}

// handleClearIntervalCache drops cached candles for a symbol, or one
// interval of it.
func (s *Server) handleClearIntervalCache(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol query parameter required"})
		return
	}
	exchange := c.DefaultQuery("exchange", "NSE")
	if s.candleCache == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": false, "reason": "cache disabled"})
		return
	}
	if interval := c.Query("interval"); interval != "" {
		tf, err := models.ParseTimeframe(interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.candleCache.Invalidate(c.Request.Context(), symbol, exchange, tf)
	} else {
		s.candleCache.InvalidateSymbol(c.Request.Context(), symbol, exchange)
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleTokenToSymbol(c *gin.Context) {
	token, err := strconv.ParseInt(c.Param("token"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token must be an integer"})
		return
	}
	inst, ok := s.instruments.ByToken(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) handleSymbolToToken(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol query parameter required"})
		return
	}
	exchange := c.DefaultQuery("exchange", "NSE")
	inst, ok := s.instruments.BySymbol(exchange, symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().UnixMilli()}
	if s.candleCache != nil && s.candleCache.Degraded() {
		resp["cache"] = "degraded"
	}
	if s.hub != nil {
		resp["stream_subscribers"] = s.hub.SubscriberCount()
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps engine error kinds onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := enginerr.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "kind": string(enginerr.KindOf(err))}
	if enginerr.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
