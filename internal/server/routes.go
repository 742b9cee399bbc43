package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/webuictl/internal/centralize"
	"github.com/danmuck/webuictl/internal/provision"
	"github.com/danmuck/webuictl/internal/registry"
	"github.com/danmuck/webuictl/internal/supervise"
)

type launchBody struct {
	Profile   string   `json:"profile"`
	ExtraArgs []string `json:"extra_args"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.startedAt).String(),
			"component": "webuictl-api",
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(s.startedAt).String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": s.svc.Tools()})
	})

	s.router.GET("/status", func(c *gin.Context) {
		snap, err := s.svc.Status("all")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tools": snap})
	})

	s.router.GET("/tools/:tool/status", func(c *gin.Context) {
		snap, err := s.svc.Status(c.Param("tool"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tools": snap})
	})

	s.router.GET("/tools/:tool/logs", func(c *gin.Context) {
		n := 50
		if raw := c.Query("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
				return
			}
			n = parsed
		}
		lines, err := s.svc.Tail(c.Param("tool"), n)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tool": c.Param("tool"), "lines": lines})
	})

	s.router.POST("/tools/:tool/setup", func(c *gin.Context) {
		results, err := s.svc.Setup(c.Request.Context(), c.Param("tool"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	s.router.POST("/setup", func(c *gin.Context) {
		results, err := s.svc.Setup(c.Request.Context(), "all")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	s.router.POST("/tools/:tool/launch", func(c *gin.Context) {
		var body launchBody
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		st, err := s.svc.Launch(c.Request.Context(), c.Param("tool"), body.Profile, body.ExtraArgs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tool": st})
	})

	s.router.POST("/tools/:tool/stop", func(c *gin.Context) {
		state, err := s.svc.Stop(c.Request.Context(), c.Param("tool"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tool": c.Param("tool"), "state": state})
	})

	s.router.DELETE("/tools/:tool/error", func(c *gin.Context) {
		if err := s.svc.ClearError(c.Param("tool")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tool": c.Param("tool"), "cleared": true})
	})
}

// respondError maps the error taxonomy onto HTTP statuses so the
// front-end can render actionable messages.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrUnknownTool), errors.Is(err, supervise.ErrNoRecord):
		status = http.StatusNotFound
	case errors.Is(err, supervise.ErrAlreadyRunning), errors.Is(err, supervise.ErrPortConflict),
		errors.Is(err, supervise.ErrNotErrored), errors.Is(err, supervise.ErrLifecycleOrder):
		status = http.StatusConflict
	case errors.Is(err, provision.ErrProvision), errors.Is(err, centralize.ErrConfigWrite),
		errors.Is(err, centralize.ErrTemplate):
		status = http.StatusFailedDependency
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
