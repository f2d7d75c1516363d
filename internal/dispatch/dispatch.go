// Package dispatch matches snapshot incidents against connected clients
// and produces targeted, unicast notifications. Broadcasting the full
// snapshot is a separate, unfiltered event; everything here is per-client.
package dispatch

import (
	"log/slog"
	"time"

	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/internal/registry"
	"github.com/roadwatch/backend/internal/resilience"
	"github.com/roadwatch/backend/pkg/geo"
)

// Notification is one unicast payload addressed to a connection.
type Notification struct {
	ConnectionID string
	Payload      domain.AlertsPayload
}

// Dispatcher computes geofence matches over a read-only registry snapshot.
type Dispatcher struct {
	radiusKM float64
	dedup    *resilience.DedupCache
	logger   *slog.Logger
}

// New builds a dispatcher with the configured geofence radius.
func New(radiusKM float64, dedup *resilience.DedupCache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{radiusKM: radiusKM, dedup: dedup, logger: logger}
}

// RadiusKM exposes the configured radius.
func (d *Dispatcher) RadiusKM() float64 { return d.radiusKM }

// DispatchSnapshot matches every client with a known location against
// the snapshot. Matches are collected into one payload per client so a
// busy cycle does not become a notification storm.
func (d *Dispatcher) DispatchSnapshot(snap *domain.TrafficSnapshot, clients []domain.ConnectedClient) []Notification {
	if snap == nil || len(clients) == 0 {
		return nil
	}

	incidents := snap.Incidents()
	out := make([]Notification, 0, len(clients))
	for _, client := range clients {
		payload, ok := d.match(snap, incidents, client)
		if !ok {
			continue
		}
		out = append(out, Notification{ConnectionID: client.ConnectionID, Payload: payload})
	}
	return out
}

// DispatchFor matches a single client, used when that client's location
// changes between cycles. Pairs already notified within the current
// snapshot cycle stay suppressed.
func (d *Dispatcher) DispatchFor(snap *domain.TrafficSnapshot, client domain.ConnectedClient) (domain.AlertsPayload, bool) {
	if snap == nil {
		return domain.AlertsPayload{}, false
	}
	return d.match(snap, snap.Incidents(), client)
}

func (d *Dispatcher) match(snap *domain.TrafficSnapshot, incidents []domain.Incident, client domain.ConnectedClient) (domain.AlertsPayload, bool) {
	if !client.HasLocation() {
		return domain.AlertsPayload{}, false
	}

	var matched []domain.Incident
	for _, inc := range incidents {
		// Malformed geometry is skipped, never aborts matching.
		if !geo.Valid(inc.Location) {
			d.logger.Debug("skipping incident with invalid geometry", "incident_id", inc.ID)
			continue
		}
		if geo.Distance(*client.LastLocation, inc.Location) > d.radiusKM {
			continue
		}
		key := resilience.NotificationKey(inc.ID, client.ConnectionID, snap.Timestamp)
		if d.dedup.Seen(key) {
			continue
		}
		matched = append(matched, inc)
	}

	if len(matched) == 0 {
		return domain.AlertsPayload{}, false
	}
	return domain.AlertsPayload{
		ConnectionID: client.ConnectionID,
		RadiusKM:     d.radiusKM,
		Incidents:    matched,
		Timestamp:    time.Now(),
	}, true
}

// Deliver sends notifications over the registry as unicast events. A
// dead connection only logs; the read loop owns its teardown.
func (d *Dispatcher) Deliver(reg *registry.Registry, notifications []Notification) {
	for _, n := range notifications {
		event := domain.Event{Type: domain.EventAlerts, Data: n.Payload}
		if err := reg.Send(n.ConnectionID, event); err != nil {
			d.logger.Debug("targeted send failed",
				"connection_id", n.ConnectionID,
				"error", err,
			)
		}
	}
}
