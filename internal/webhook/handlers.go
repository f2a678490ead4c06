package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alpha_executor/internal/models"
	"alpha_executor/internal/storage"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

func (s *Server) handleWebhook(c *gin.Context) {
	receivedAt := s.now()
	body, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	// authenticate before revealing anything about the expected shape
	if !s.secretMatches(gjson.GetBytes(body, "passphrase").String()) {
		s.log.Warn("webhook rejected: bad passphrase", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := validatePayload(s.schema, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := parseSignal(body, receivedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sig := in.Signal

	// the order may already be at the broker when the caller hangs up
	ctx := context.WithoutCancel(c.Request.Context())
	bots, err := s.store.FindActiveBots(ctx, sig.Symbol, sig.Timeframe)
	if err != nil {
		s.log.Error("bot lookup failed", zap.String("symbol", sig.Symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bot lookup failed"})
		return
	}
	log := s.log.With(zap.String("symbol", sig.Symbol), zap.String("timeframe", sig.Timeframe), zap.String("action", string(sig.Action)))
	if len(bots) == 0 {
		log.Info("signal ignored: no active bot")
		c.JSON(http.StatusOK, gin.H{"signal": sig, "results": []models.ExecutionResult{}, "message": "no active bot for symbol and timeframe"})
		return
	}

	results := make([]models.ExecutionResult, len(bots))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallel)
	for i, bot := range bots {
		i, bot := i, bot
		g.Go(func() error {
			results[i] = s.exec.Execute(ctx, bot, sig)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("signal dispatched", zap.Int("bots", len(bots)))
	c.JSON(http.StatusOK, gin.H{"signal": sig, "results": results})
}

func (s *Server) secretMatches(got string) bool {
	if s.cfg.Secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) == 1
}

func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.secretMatches(c.GetHeader("X-Api-Key")) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleTrades(c *gin.Context) {
	f := storage.TradeFilter{Limit: defaultTradeLimit, Symbol: strings.ToUpper(c.Query("symbol"))}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = min(n, maxTradeLimit)
	}
	if v := c.Query("bot_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id must be a positive integer"})
			return
		}
		f.BotConfigID = id
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = t
	}
	trades, err := s.store.ListTrades(c.Request.Context(), f)
	if err != nil {
		s.log.Error("list trades failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list trades failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) handleBots(c *gin.Context) {
	bots, err := s.store.ListBotConfigs(c.Request.Context())
	if err != nil {
		s.log.Error("list bots failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list bots failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

func (s *Server) handleSetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
			return
		}
		bot, err := s.store.SetBotActive(c.Request.Context(), id, active)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		case err != nil:
			s.log.Error("toggle bot failed", zap.Int64("bot_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
		s.log.Info("bot toggled", zap.Int64("bot_id", id), zap.Bool("active", active))
		c.JSON(http.StatusOK, gin.H{"bot": bot})
	}
}
