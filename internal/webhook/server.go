// Package webhook turns HTTP alerts into signals for the execution engine and serves a
// small read API over the trade log and bot table.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"alpha_executor/internal/models"
	"alpha_executor/internal/storage"
)

// Executor runs one signal against one bot.
type Executor interface {
	Execute(ctx context.Context, bot models.BotConfig, sig models.Signal) models.ExecutionResult
}

// Store is what the handlers read and toggle.
type Store interface {
	FindActiveBots(ctx context.Context, symbol, timeframe string) ([]models.BotConfig, error)
	ListBotConfigs(ctx context.Context) ([]models.BotConfig, error)
	SetBotActive(ctx context.Context, id int64, active bool) (*models.BotConfig, error)
	ListTrades(ctx context.Context, f storage.TradeFilter) ([]models.TradeRecord, error)
}

// Config for the HTTP listener.
type Config struct {
	Addr string
	// Secret, when set, must match the payload passphrase and the X-Api-Key header on /api.
	Secret string
	// MaxParallel bounds how many bots one alert executes at once.
	MaxParallel int
}

// Server is the HTTP ingress.
type Server struct {
	cfg    Config
	router *gin.Engine
	exec   Executor
	store  Store
	schema *jsonschema.Schema
	log    *zap.Logger
	now    func() time.Time
}

// NewServer wires the routes.
func NewServer(cfg Config, exec Executor, store Store, log *zap.Logger) (*Server, error) {
	if exec == nil || store == nil {
		return nil, errors.New("webhook: executor and store are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{cfg: cfg, router: router, exec: exec, store: store, schema: schema, log: log.Named("webhook"), now: time.Now}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhook", s.handleWebhook)

	api := router.Group("/api", s.requireKey())
	api.GET("/trades", s.handleTrades)
	api.GET("/bots", s.handleBots)
	api.POST("/bots/:id/enable", s.handleSetActive(true))
	api.POST("/bots/:id/disable", s.handleSetActive(false))
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("webhook listening", zap.String("addr", s.cfg.Addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}
