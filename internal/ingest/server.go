// Package ingest is a development collection endpoint: it accepts event
// batches and the session-scoped calls of the pipeline, validates them and
// stores them in SQLite.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// maxBatchBytes caps a single /api/events body.
const maxBatchBytes = 4 << 20

// Server routes collector requests to a Store.
type Server struct {
	store    *Store
	logger   *zap.Logger
	clock    clockwork.Clock
	gatherer prometheus.Gatherer
	ingested *prometheus.CounterVec
	rejected prometheus.Counter
	router   *gin.Engine
}

// ServerOptions configures a Server. Zero values select defaults.
type ServerOptions struct {
	Logger   *zap.Logger
	Clock    clockwork.Clock
	Registry *prometheus.Registry
}

func NewServer(store *Store, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	f := promauto.With(opts.Registry)
	s := &Server{
		store:    store,
		logger:   opts.Logger.Named("ingest"),
		clock:    opts.Clock,
		gatherer: opts.Registry,
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Events stored by kind.",
		}, []string{"kind"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "ingest",
			Name:      "batches_rejected_total",
			Help:      "Batches refused as malformed.",
		}),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.POST("/events", s.handleEvents)
	api.POST("/session/start", s.handleSessionStart)
	api.POST("/session/:id/end", s.handleSessionEnd)
	api.POST("/session/:id/focus", s.handleFocus)
	api.POST("/session/:id/slide-change", s.handleSlideChange)
	api.POST("/session/:id/quiz-result", s.handleQuizResult)
	return r
}

// requestLogger logs each request once it completes.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status_code", c.Writer.Status()),
			zap.Duration("duration", duration),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Debug("request completed", fields...)
		}
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
}

func (s *Server) handleEvents(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBatchBytes+1))
	if err != nil || len(body) > maxBatchBytes {
		s.reject(c, "Invalid payload")
		return
	}
	var batch []event.Event
	if err := json.Unmarshal(body, &batch); err != nil {
		var ve *event.ValidationError
		if errors.As(err, &ve) {
			s.reject(c, ve.Error())
			return
		}
		s.reject(c, "Invalid payload")
		return
	}
	if err := s.store.InsertEvents(c.Request.Context(), batch); err != nil {
		s.logger.Error("failed to store events", zap.Int("events", len(batch)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, transport.Ack{Status: "error", Message: "Failed to store events"})
		return
	}
	for _, e := range batch {
		s.ingested.WithLabelValues(string(e.Kind())).Inc()
	}
	s.logger.Info("received events", zap.Int("count", len(batch)))
	c.JSON(http.StatusOK, transport.Ack{Status: "success", Count: len(batch)})
}

func (s *Server) reject(c *gin.Context, msg string) {
	s.rejected.Inc()
	c.JSON(http.StatusBadRequest, transport.Ack{Status: "error", Message: msg})
}

func (s *Server) handleSessionStart(c *gin.Context) {
	var req transport.SessionStart
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, "Invalid payload")
		return
	}
	now := s.clock.Now()
	if !s.stored(c, s.store.StartSession(c.Request.Context(), req, now)) {
		return
	}
	c.JSON(http.StatusOK, transport.SessionStarted{SessionID: req.SessionID, StartedAt: now.UTC()})
}

func (s *Server) handleSessionEnd(c *gin.Context) {
	var req transport.SessionEnd
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, "Invalid payload")
		return
	}
	req.SessionID = c.Param("id")
	if s.stored(c, s.store.EndSession(c.Request.Context(), req, s.clock.Now())) {
		c.JSON(http.StatusOK, gin.H{"status": "ended", "session_id": req.SessionID})
	}
}

func (s *Server) handleFocus(c *gin.Context) {
	var req transport.FocusSample
	if err := c.ShouldBindJSON(&req); err != nil || req.FocusScore < 0 || req.FocusScore > 1 {
		s.reject(c, "Invalid payload")
		return
	}
	req.SessionID = c.Param("id")
	if s.stored(c, s.store.InsertFocus(c.Request.Context(), req, s.clock.Now())) {
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleSlideChange(c *gin.Context) {
	var req transport.SlideChange
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, "Invalid payload")
		return
	}
	if s.stored(c, s.store.InsertSlideChange(c.Request.Context(), c.Param("id"), req, s.clock.Now())) {
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleQuizResult(c *gin.Context) {
	var req transport.QuizResult
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, "Invalid payload")
		return
	}
	if s.stored(c, s.store.InsertQuizResult(c.Request.Context(), c.Param("id"), req, s.clock.Now())) {
		c.Status(http.StatusNoContent)
	}
}

// stored writes a 500 for err and reports whether the handler may continue.
func (s *Server) stored(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	s.logger.Error("failed to store request", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, transport.Ack{Status: "error", Message: "storage failure"})
	return false
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("collector listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("collector failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down collector")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("collector forced to shutdown: %w", err)
	}
	return nil
}
