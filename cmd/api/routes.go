package main

import (
	"database/sql"
	"net/http"
	"time"

	"callcenter/internal/auth"
	"callcenter/internal/httpapi"
	"callcenter/internal/rbac"
	"callcenter/internal/telephony"
	"callcenter/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	DB       *sql.DB // optional; enables /readyz
	Auth     *auth.Manager
	API      httpapi.Handlers
	Webhooks telephony.WebhookHandler

	// DevRoutes exposes POST /v1/auth/dev-token. Never enabled in production.
	DevRoutes bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.DB == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		if err := utils.HealthCheck(c.Request.Context(), d.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Authenticated by vendor signatures.
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/twilio/voice", d.Webhooks.HandleTwilioVoice)
		hooks.POST("/twilio/status", d.Webhooks.HandleTwilioStatus)
		hooks.POST("/telnyx", d.Webhooks.HandleTelnyx)
	}

	if d.DevRoutes {
		r.POST("/v1/auth/dev-token", d.API.DevToken)
	}

	h := d.API
	managers := rbac.RequireAnyRole(rbac.RoleManager)
	everyone := rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleManager)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.Auth))
	v1.Use(everyone)
	{
		v1.GET("/me", h.Me)

		p := v1.Group("/prospects/:id")
		{
			p.GET("", h.GetProspect)
			p.GET("/can-call", h.CanCall)
			p.POST("/start-call", h.StartCall)
			p.POST("/end-call", h.EndCall)
			p.GET("/calls", h.CallHistory)
			p.POST("/status", h.ChangeStatus)
			p.GET("/status-history", h.StatusHistory)
			p.GET("/assignment", h.GetAssignment)
			p.POST("/assignment", managers, h.AssignLead)
			p.GET("/audit", managers, h.ProspectAudit)
		}

		v1.GET("/active-calls", managers, h.ActiveCalls)

		reports := v1.Group("/reports")
		reports.Use(managers)
		{
			reports.GET("/calls", h.CallsReport)
			reports.GET("/conversions", h.ConversionsReport)
		}
	}
}
