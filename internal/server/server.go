// Package server exposes bots over HTTP. It is a thin adapter: all
// conversation behavior lives in the root package and pkg/convo.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatkit-dev/chatkit"
	"github.com/chatkit-dev/chatkit/pkg/convo"
	"github.com/chatkit-dev/chatkit/pkg/store"
)

// Server hosts one or more bots behind a gin router.
type Server struct {
	router  *gin.Engine
	bots    map[string]*chatkit.Bot
	logger  *slog.Logger
	limiter *turnLimiter

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithRateLimit overrides the default turn rate limits.
func WithRateLimit(globalPerSecond, clientPerSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = newTurnLimiter(globalPerSecond, clientPerSecond, burst)
	}
}

// New builds a server for the given bots, keyed by bot name.
func New(bots []*chatkit.Bot, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		router:  router,
		bots:    make(map[string]*chatkit.Bot, len(bots)),
		logger:  logger,
		limiter: newTurnLimiter(100, 10, 20),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, b := range bots {
		s.bots[b.Catalog().Bot] = b
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/v1")
	bots := v1.Group("/bots/:bot")
	bots.POST("/converse", rateLimitMiddleware(s.limiter), s.converse)
	bots.GET("/conversations/:id/history", s.history)
	bots.GET("/conversations/:id/fulfillments", s.fulfillments)
}

// Router returns the underlying gin engine, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Run serves until the context is canceled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// converseRequest is the POST /converse body. The input accepts either a
// bare string utterance or the structured {type, value, context} form.
type converseRequest struct {
	ConversationID string      `json:"conversation_id"`
	Input          convo.Input `json:"input"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) converse(c *gin.Context) {
	bot, ok := s.bots[c.Param("bot")]
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown bot"})
		return
	}

	var req converseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := req.Input.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	reply, err := bot.Converse(c.Request.Context(), req.ConversationID, req.Input)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, convo.ErrConversationComplete) {
			status = http.StatusConflict
		}
		s.logger.Error("turn failed", "bot", c.Param("bot"), "error", err)
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) history(c *gin.Context) {
	bot, ok := s.bots[c.Param("bot")]
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown bot"})
		return
	}
	txs, err := bot.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (s *Server) fulfillments(c *gin.Context) {
	bot, ok := s.bots[c.Param("bot")]
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown bot"})
		return
	}
	records, err := bot.Fulfillments(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []*store.FulfillmentRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"fulfillments": records})
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
