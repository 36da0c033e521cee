package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hackare/hackare/pkg/safego"
)

// Config tunes the asset server.
type Config struct {
	Host string
	Port int    // default 8080, must be >= 1024 unless running privileged
	Mode string // debug, release
}

// Server serves the bundle over HTTP with graceful shutdown.
type Server struct {
	server *http.Server
	bundle *Bundle
	logger *zap.Logger
}

// NewServer validates the port and builds the router.
func NewServer(cfg Config, bundle *Bundle, logger *zap.Logger) (*Server, error) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Port < 1024 && os.Geteuid() != 0 {
		return nil, fmt.Errorf("port %d requires privileges; use a port >= 1024", cfg.Port)
	}
	if cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}

	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"entries": bundle.Len(),
			"time":    time.Now().Unix(),
		})
	})

	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		content, contentType, ok := bundle.Get(c.Request.URL.Path)
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, contentType, content)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		bundle: bundle,
		logger: logger.With(zap.String("component", "web")),
	}, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting asset server",
		zap.String("address", s.server.Addr),
		zap.Int("entries", s.bundle.Len()),
	)

	safego.Go(s.logger, "asset-server", func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Asset server error", zap.Error(err))
		}
	})
	return nil
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping asset server")
	return s.server.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestPath := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", requestPath),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
