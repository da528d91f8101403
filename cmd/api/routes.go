package main

import (
	"database/sql"
	"net/http"
	"time"

	"channel-platform/internal/audit"
	"channel-platform/internal/httpapi"
	"channel-platform/internal/rbac"
	"channel-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	Handlers httpapi.Handlers
	AuthMW   gin.HandlerFunc
	DB       *sql.DB
	Metrics  *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.Handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})))

	// Gateway webhooks (public).
	r.POST("/api/v1/channels/webhook/evolution", h.EvolutionWebhook)

	v1 := r.Group("/api/v1")
	v1.Use(d.AuthMW, audit.RequestMeta())
	{
		// Listing and creation resolve the tenant themselves so admins can act
		// without a client.
		ch := v1.Group("/channels")
		ch.GET("", h.ListChannels)
		ch.POST("", h.CreateChannel)
		ch.DELETE("/:instance", h.DeleteChannel)

		inst := ch.Group("/:instance")
		inst.Use(rbac.RequireClient())
		{
			inst.POST("/connect", h.ConnectChannel)
			inst.GET("/state", h.ChannelState)
			inst.DELETE("/logout", h.LogoutChannel)
			inst.GET("/qr", h.ChannelQR)

			inst.GET("/evoai", h.GetIntegration)
			inst.POST("/evoai", h.LinkAgent)
			inst.POST("/evoai/settings", h.ConfigureAgent)
			inst.DELETE("/evoai", h.UnlinkAgent)
			inst.GET("/evoai/sessions", h.BotSessions)
			inst.POST("/evoai/sessions/status", h.ChangeSessionStatus)
			inst.POST("/evoai/ignore-jid", h.IgnoreJID)
		}

		// ADMIN routes
		admin := v1.Group("/admin/channels")
		admin.Use(rbac.RequireAdmin())
		{
			admin.GET("", h.AdminListChannels)
			admin.POST("/claim", h.AdminClaimChannel)
			admin.GET("/raw", h.AdminRaw)
		}
	}
}
