// Package server exposes the control service over a local HTTP surface
// for the notebook front-end. The core library itself speaks no protocol;
// this adapter is optional and bound to localhost by default.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/webuictl/internal/control"
	"github.com/danmuck/webuictl/internal/observability"
)

// Config shapes the HTTP adapter.
type Config struct {
	Addr        string
	CorsOrigins []string
}

// Server wraps a gin router around one control service.
type Server struct {
	cfg       Config
	svc       *control.Service
	router    *gin.Engine
	startedAt time.Time
}

// New assembles the router with the standard middleware stack.
func New(cfg Config, svc *control.Service, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9800"
	}
	if len(cfg.CorsOrigins) == 0 {
		cfg.CorsOrigins = []string{"http://localhost:8888"}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(logger))
	router.Use(observability.RequestMetricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{cfg: cfg, svc: svc, router: router, startedAt: time.Now()}
	s.registerRoutes()
	return s
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	return s.router.Run(s.cfg.Addr)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
