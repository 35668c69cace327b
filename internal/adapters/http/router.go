package http

import (
	"context"
	"net/http"

	"github.com/dkeye/lanrelay/internal/app/orch"
	"github.com/dkeye/lanrelay/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ReadyFunc reports whether every listener is up.
type ReadyFunc func() bool

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ready ReadyFunc) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if ready != nil && !ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            "ready",
			"users":             o.Registry.Len(),
			"event_subscribers": o.Events.Subscribers(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	h := &handlers{orch: o}
	api.GET("/users", h.listUsers)
	api.DELETE("/users/:username", h.kickUser)
	api.GET("/presenter", h.presenter)
	api.GET("/transfers", h.transfers)

	events := &EventStream{Bus: o.Events}
	api.GET("/ws/events", func(c *gin.Context) {
		events.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type handlers struct {
	orch *orch.Orchestrator
}

func (h *handlers) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.orch.Users()})
}

func (h *handlers) kickUser(c *gin.Context) {
	name := c.Param("username")
	if !h.orch.Kick(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such user"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("username", name).Str("remote", c.ClientIP()).Msg("user kicked via api")
	c.Status(http.StatusNoContent)
}

func (h *handlers) presenter(c *gin.Context) {
	name, active := h.orch.Presenter.Current()
	c.JSON(http.StatusOK, gin.H{"presenter": name, "active": active})
}

func (h *handlers) transfers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strict_coverage": h.orch.Transfers.Strict(),
		"pending":         h.orch.Transfers.Pending(),
	})
}
