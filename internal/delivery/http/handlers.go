package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/roadwatch/backend/internal/analytics"
	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/internal/ingest"
	"github.com/roadwatch/backend/internal/registry"
	"github.com/roadwatch/backend/internal/schedule"
	"github.com/roadwatch/backend/pkg/geo"
)

// Handler contains all HTTP handlers
type Handler struct {
	aggregator *ingest.Aggregator
	registry   *registry.Registry
	repo       domain.IncidentRepository
	scheduler  *schedule.Scheduler
}

// NewHandler creates a new handler
func NewHandler(
	aggregator *ingest.Aggregator,
	reg *registry.Registry,
	repo domain.IncidentRepository,
	scheduler *schedule.Scheduler,
) *Handler {
	return &Handler{
		aggregator: aggregator,
		registry:   reg,
		repo:       repo,
		scheduler:  scheduler,
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := h.repo.Health(c.Context()); err != nil {
		dbStatus = err.Error()
	}

	return c.JSON(fiber.Map{
		"status":      "ok",
		"service":     "roadwatch-backend",
		"version":     "1.0.0",
		"database":    dbStatus,
		"connections": h.registry.Len(),
		"breakers":    h.aggregator.BreakerStates(),
		"jobs":        h.scheduler.Statuses(),
	})
}

// GetSnapshot returns the latest published snapshot with its analytics.
// While upstream providers are failing this still serves the
// last-known-good snapshot rather than an error.
func (h *Handler) GetSnapshot(c *fiber.Ctx) error {
	snap := h.aggregator.Latest()
	if snap == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "No snapshot published yet")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": domain.SnapshotPayload{
			Snapshot:  snap,
			Analytics: analytics.Summarize(snap),
		},
	})
}

// GetAnalytics returns only the classifier aggregates.
func (h *Handler) GetAnalytics(c *fiber.Ctx) error {
	snap := h.aggregator.Latest()
	if snap == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "No snapshot published yet")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    analytics.Summarize(snap),
	})
}

// GetIncidentHistory returns archived incidents within a time range
func (h *Handler) GetIncidentHistory(c *fiber.Ctx) error {
	ctx := c.Context()

	hours := c.QueryInt("hours", 24)
	if hours < 1 || hours > 720 { // max 30 days
		hours = 24
	}

	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)

	data, err := h.repo.GetIncidentHistory(ctx, from, to)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch incident history")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

// reportRequest is the detector-boundary payload for incident candidates.
type reportRequest struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Source      string  `json:"source"`
}

// ReportIncident accepts an incident candidate from an external
// detector. Duplicates are accepted but flagged, never an error.
func (h *Handler) ReportIncident(c *fiber.Ctx) error {
	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	source := req.Source
	if source == "" {
		source = "detector"
	}

	duplicate, err := h.aggregator.ReportIncident(domain.Incident{
		Location:    geo.Point{Latitude: req.Latitude, Longitude: req.Longitude},
		Category:    domain.Category(req.Category),
		Description: req.Description,
		Source:      source,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidReport) {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid incident coordinates")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to accept report")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":   true,
		"duplicate": duplicate,
	})
}
