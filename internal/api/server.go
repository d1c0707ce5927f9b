// Package api exposes the HTTP ops surface: health and metrics, provider
// circuit status, and session turns.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"medvoice/internal/metrics"
	"medvoice/internal/privacy"
	"medvoice/internal/provider"
	"medvoice/internal/session"
)

// Config sizes the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
	ServiceName  string
	Version      string
}

// Deps are the collaborators the handlers use.
type Deps struct {
	Registry *provider.Registry
	Sessions *session.Manager
	Privacy  *privacy.Router
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server wraps the gin router in an http.Server with graceful shutdown.
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Logging(deps.Logger))
	router.Use(Recovery(deps.Logger))
	router.Use(CORS(DefaultCORSConfig()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"version":   cfg.Version,
			"timestamp": time.Now().Unix(),
		})
	})
	if deps.Metrics != nil {
		handler := promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})
		router.GET("/metrics", gin.WrapH(handler))
	}
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": cfg.ServiceName,
			"version": cfg.Version,
			"endpoints": gin.H{
				"health":    "/health",
				"metrics":   "/metrics",
				"providers": "/api/v1/providers",
				"sessions":  "/api/v1/sessions",
			},
		})
	})

	v1 := router.Group("/api/v1")
	{
		ph := &providerHandler{registry: deps.Registry}
		providers := v1.Group("/providers")
		{
			providers.GET("", ph.List)
			providers.GET("/:name", ph.Get)
			providers.POST("/:name/reset", ph.Reset)
		}

		sh := &sessionHandler{sessions: deps.Sessions, privacy: deps.Privacy}
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", sh.List)
			sessions.GET("/:id", sh.Get)
			sessions.DELETE("/:id", sh.Remove)
			sessions.POST("/:id/phi/clear", sh.ClearPHI)
			sessions.POST("/:id/turns", sh.Turn)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		cfg:        cfg,
		router:     router,
		httpServer: httpServer,
		logger:     deps.Logger,
	}
}

// Start begins serving in the background. The returned channel reports a
// listen failure and closes when the listener stops.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	return errs
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() *gin.Engine { return s.router }
