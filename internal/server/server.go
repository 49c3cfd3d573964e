// Package server is the admin HTTP surface: health, metrics, queue state and
// a synchronous extraction endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cookclip/internal/acquisition"
	"cookclip/internal/bot"
	"cookclip/internal/gate"
	"cookclip/internal/logging"
	"cookclip/internal/messaging"
	"cookclip/internal/observability"
)

const (
	defaultExtractTimeout = 15 * time.Minute
	shutdownTimeout       = 10 * time.Second
	requestIDHeader       = "X-Request-ID"
)

// Extractor runs the pipeline for one link. *bot.Bot satisfies it.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, sink messaging.Sink) (bot.Extraction, error)
}

// Queue exposes gate state. *gate.Gate satisfies it.
type Queue interface {
	Snapshot() gate.Snapshot
}

// Config tunes the server.
type Config struct {
	Addr           string
	ExtractTimeout time.Duration
	Debug          bool
}

// Deps are the server's collaborators. Metrics may be nil.
type Deps struct {
	Extractor Extractor
	Queue     Queue
	Metrics   *observability.Metrics
	Logger    logging.Logger
}

// Server wraps a gin engine.
type Server struct {
	cfg     Config
	deps    Deps
	logger  logging.Logger
	engine  *gin.Engine
	started time.Time
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type extractRequest struct {
	URL string `json:"url" binding:"required"`
}

type queuedRequest struct {
	gate.Request
	Position int `json:"position"`
}

type queueResponse struct {
	Active *gate.Request   `json:"active,omitempty"`
	Queued []queuedRequest `json:"queued"`
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logging.OrNop(deps.Logger),
		engine:  gin.New(),
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/queue", s.handleQueue)
		v1.POST("/extract", s.handleExtract)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			s.logger.Warn("%s %s -> %d (%v) [%s]", c.Request.Method, c.FullPath(), status, time.Since(start), id)
			return
		}
		s.logger.Debug("%s %s -> %d (%v) [%s]", c.Request.Method, c.FullPath(), status, time.Since(start), id)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleQueue(c *gin.Context) {
	if s.deps.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "queue unavailable"})
		return
	}
	snap := s.deps.Queue.Snapshot()
	resp := queueResponse{Active: snap.Active, Queued: make([]queuedRequest, 0, len(snap.Queued))}
	for i, req := range snap.Queued {
		resp.Queued = append(resp.Queued, queuedRequest{Request: req, Position: i + 1})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleExtract(c *gin.Context) {
	if s.deps.Extractor == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "extraction unavailable"})
		return
	}
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ExtractTimeout)
	defer cancel()
	res, err := s.deps.Extractor.Extract(ctx, req.URL, messaging.NopSink{})
	if err != nil {
		status, body := s.errorFor(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) errorFor(err error) (int, errorResponse) {
	var failure *acquisition.Failure
	switch {
	case errors.Is(err, bot.ErrInvalidURL):
		return http.StatusBadRequest, errorResponse{Error: "invalid url", Details: err.Error()}
	case errors.Is(err, gate.ErrClosed):
		return http.StatusServiceUnavailable, errorResponse{Error: "shutting down"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: "extraction timed out"}
	case errors.As(err, &failure):
		return http.StatusUnprocessableEntity, errorResponse{
			Error:   failure.Message,
			Details: err.Error(),
			Stage:   string(failure.Stage),
			Kind:    failure.Kind.String(),
		}
	default:
		s.logger.Error("extract: %v", err)
		return http.StatusInternalServerError, errorResponse{Error: "extraction failed", Details: err.Error()}
	}
}
