// Package api exposes alert ingestion, live state, SLA queries and the
// state change stream over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"health-service/internal/logging"
)

// NewRouter wires the handler under basePath.
func NewRouter(h *Handler, logger *logging.Logger, basePath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	api := r.Group(basePath)
	{
		// Ingestion
		api.POST("/alerts", h.PostAlerts)

		// State
		api.GET("/environments/:envId/state", h.GetEnvironmentState)
		api.GET("/environments/:envId/elements/:elementId/state", h.GetElementState)
		api.GET("/environments/:envId/stream", h.Stream)

		// SLA
		api.GET("/environments/:envId/sla", h.GetEnvironmentSla)
		api.GET("/environments/:envId/elements/:elementId/sla", h.GetElementSla)
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
