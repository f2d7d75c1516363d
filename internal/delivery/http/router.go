package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/roadwatch/backend/internal/resilience"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler, limiter *resilience.RateLimiter) {
	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1", RateLimit(limiter, resilience.RuleGeneral))
	{
		// Snapshot and analytics endpoints
		api.Get("/snapshot", handler.GetSnapshot)
		api.Get("/analytics", handler.GetAnalytics)

		// Archived incidents (heavier queries, tighter budget)
		api.Get("/incidents/history",
			RateLimit(limiter, resilience.RuleBulk), handler.GetIncidentHistory)

		// Detector boundary (write-heavy budget)
		api.Post("/incidents/report",
			RateLimit(limiter, resilience.RuleWrite), handler.ReportIncident)
	}
}
