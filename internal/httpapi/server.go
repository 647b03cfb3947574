// Package httpapi serves the read-only REST surface: health, object views,
// quota status, search and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/tracker"
	"github.com/signalsfoundry/satellite-tracker/model"
)

// RequestIDHeader carries a caller-supplied request id.
const RequestIDHeader = "X-Request-ID"

// Tracker is the read side used by the REST handlers.
type Tracker interface {
	Snapshot() []model.ObjectView
	View(id int) (model.ObjectView, error)
	QuotaStatus() model.QuotaStatus
	Search(ctx context.Context, term string, limit int) []model.ObjectView
}

// Server bundles the gin engine and its dependencies.
type Server struct {
	addr    string
	tracker Tracker
	metrics http.Handler
	log     logging.Logger
	engine  *gin.Engine
}

// New constructs a server with routes and middleware. metrics may be nil to
// omit /metrics.
func New(addr string, t Tracker, metrics http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	s := &Server{addr: addr, tracker: t, metrics: metrics, log: log, engine: engine}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info(ctx, "serving HTTP API", logging.String("addr", s.addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.engine.Group("/api")
	{
		api.GET("/objects", s.handleListObjects)
		api.GET("/objects/:id", s.handleGetObject)
		api.GET("/quota", s.handleQuota)
		api.GET("/search", s.handleSearch)
	}
}

func (s *Server) handleListObjects(c *gin.Context) {
	objects := s.tracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"data": objects,
		"meta": gin.H{"count": len(objects)},
	})
}

func (s *Server) handleGetObject(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "object id must be a positive integer"})
		return
	}

	view, err := s.tracker.View(id)
	if errors.Is(err, tracker.ErrUnknownObject) {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) handleQuota(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.tracker.QuotaStatus()})
}

func (s *Server) handleSearch(c *gin.Context) {
	term := c.Query("q")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	results := s.tracker.Search(ctx, term, limit)
	c.JSON(http.StatusOK, gin.H{
		"data": results,
		"meta": gin.H{"count": len(results), "term": term},
	})
}

// requestLogger attaches a request id and a request-scoped logger to every
// request and logs the outcome.
func requestLogger(base logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(RequestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
		))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, logging.RequestIDFromContext(ctx))

		start := time.Now()
		c.Next()

		reqLog.Debug(ctx, "http request",
			logging.Int("status", c.Writer.Status()),
			logging.Duration("duration", time.Since(start)),
		)
	}
}
