// Package api exposes the import pipeline over HTTP: run triggering and
// polling, catalog statistics and operational metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/observability"
)

// Server runs the HTTP API.
type Server struct {
	cfg    config.ServerConfig
	router *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router and wires middleware and routes. The /api/v1
// group requires the configured access key when one is set; /health and
// /metrics stay open.
func NewServer(cfg config.ServerConfig, h *Handler, metrics *observability.Metrics, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware())

	r.GET("/health", h.HealthCheck)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/api/v1")
	if cfg.AccessKey != "" {
		v1.Use(accessKeyMiddleware(cfg.AccessKey))
	}
	{
		v1.POST("/imports", h.CreateImport)
		v1.GET("/imports", h.ListImports)
		v1.GET("/imports/:id", h.GetImport)
		v1.GET("/stats", h.GetStats)
	}

	return &Server{
		cfg:    cfg,
		router: r,
		logger: logger.With("component", "api"),
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Router exposes the underlying gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.http.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Access-Key, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func accessKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Access-Key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access key required"})
			return
		}
		if provided != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}
		c.Next()
	}
}
