// Package ws is the broadcast boundary: it carries snapshot events to
// all clients and geofenced alerts to specific clients over persistent
// websocket connections.
package ws

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/roadwatch/backend/internal/analytics"
	"github.com/roadwatch/backend/internal/dispatch"
	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/internal/ingest"
	"github.com/roadwatch/backend/internal/registry"
	"github.com/roadwatch/backend/internal/resilience"
)

// clientMessage is the union of messages a client may send.
type clientMessage struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Handler owns the websocket endpoint and snapshot fan-out.
type Handler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	aggregator *ingest.Aggregator
	limiter    *resilience.RateLimiter
	logger     *slog.Logger
}

// NewHandler wires the websocket boundary.
func NewHandler(
	reg *registry.Registry,
	dispatcher *dispatch.Dispatcher,
	aggregator *ingest.Aggregator,
	limiter *resilience.RateLimiter,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   reg,
		dispatcher: dispatcher,
		aggregator: aggregator,
		limiter:    limiter,
		logger:     logger,
	}
}

// Register mounts the websocket route on the fiber app. Connection
// attempts draw from the auth budget keyed by caller IP, so a client
// hammering the upgrade endpoint cannot grow the registry unchecked.
func (h *Handler) Register(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if retryAfter, err := h.limiter.Allow(c.IP(), resilience.RuleAuth); err != nil {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Seconds())+1))
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many connection attempts")
		}
		c.Locals("user_id", c.Query("user_id"))
		return c.Next()
	})
	app.Get("/ws", websocket.New(h.handle))
}

// OnSnapshot is the aggregator subscriber: broadcast the unfiltered
// snapshot to everyone, then unicast geofenced alerts per client.
func (h *Handler) OnSnapshot(snap *domain.TrafficSnapshot) {
	h.registry.Broadcast(domain.Event{
		Type: domain.EventSnapshot,
		Data: domain.SnapshotPayload{
			Snapshot:  snap,
			Analytics: analytics.Summarize(snap),
		},
	})

	notifications := h.dispatcher.DispatchSnapshot(snap, h.registry.Snapshot())
	h.dispatcher.Deliver(h.registry, notifications)
}

// handle runs one connection's lifecycle: admit, ack, stream, tear down.
func (h *Handler) handle(conn *websocket.Conn) {
	connectionID := uuid.NewString()
	userID, _ := conn.Locals("user_id").(string)

	sink := newSink(conn)
	h.registry.Add(connectionID, userID, sink)
	defer h.registry.Remove(connectionID)

	h.logger.Info("client connected", "connection_id", connectionID, "user_id", userID)

	if err := sink.Send(domain.Event{
		Type: domain.EventConnected,
		Data: domain.ConnectedPayload{ConnectionID: connectionID, ServerTime: time.Now()},
	}); err != nil {
		return
	}

	// New clients get the current snapshot immediately, not at the
	// next cycle.
	if snap := h.aggregator.Latest(); snap != nil {
		_ = sink.Send(domain.Event{
			Type: domain.EventSnapshot,
			Data: domain.SnapshotPayload{
				Snapshot:  snap,
				Analytics: analytics.Summarize(snap),
			},
		})
	}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			h.logger.Info("client disconnected", "connection_id", connectionID)
			return
		}

		switch msg.Type {
		case "location":
			h.handleLocation(connectionID, sink, msg)
		case "ping":
			// Pings share the connection's write budget with location
			// updates; an over-budget ping is dropped without a reply.
			if _, err := h.limiter.Allow("ws:"+connectionID, resilience.RuleWrite); err == nil {
				_ = h.registry.Touch(connectionID)
			}
		default:
			_ = sink.Send(errorEvent("unknown message type"))
		}
	}
}

// handleLocation validates and stores a position update, then dispatches
// any geofenced incidents the client has not yet seen this cycle.
func (h *Handler) handleLocation(connectionID string, sink *wsSink, msg clientMessage) {
	if retryAfter, err := h.limiter.Allow("ws:"+connectionID, resilience.RuleWrite); err != nil {
		_ = sink.Send(domain.Event{
			Type: domain.EventError,
			Data: fiber.Map{
				"message":             "Too many location updates",
				"retry_after_seconds": int(retryAfter.Seconds()) + 1,
			},
		})
		return
	}

	if err := h.registry.UpdateLocation(connectionID, msg.Latitude, msg.Longitude); err != nil {
		if errors.Is(err, registry.ErrInvalidLocation) {
			// Last good location is retained; tell the client and move on.
			_ = sink.Send(errorEvent("invalid coordinates"))
		}
		return
	}

	snap := h.aggregator.Latest()
	client, ok := h.registry.Get(connectionID)
	if snap == nil || !ok {
		return
	}
	if payload, matched := h.dispatcher.DispatchFor(snap, client); matched {
		_ = sink.Send(domain.Event{Type: domain.EventAlerts, Data: payload})
	}
}

func errorEvent(message string) domain.Event {
	return domain.Event{Type: domain.EventError, Data: fiber.Map{"message": message}}
}
