package main

import (
	"github.com/gin-gonic/gin"

	"callhub/internal/webhook"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h *webhook.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Platform webhook. Authentication happens inside the handler via the
	// notification validator; the route itself stays public.
	r.POST("/webhooks/calls", h.HandleNotifications)

	// Read-only inspection of call sessions and their history.
	v1 := r.Group("/v1")
	{
		v1.GET("/calls", h.ListActiveCalls)
		v1.GET("/calls/:call_id", h.GetCall)
	}
}
