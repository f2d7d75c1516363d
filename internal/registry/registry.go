// Package registry tracks live client connections and their last known
// position. The registry is the sole owner of mutable connection state;
// every read handed out is a point-in-time copy, so dispatch never
// observes a registry being concurrently mutated.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/pkg/geo"
)

var (
	// ErrInvalidLocation rejects non-numeric or out-of-range coordinates.
	// The client's last good location is retained.
	ErrInvalidLocation = errors.New("registry: invalid location")

	// ErrUnknownConnection is returned for operations on a connection id
	// that is not (or no longer) registered.
	ErrUnknownConnection = errors.New("registry: unknown connection")
)

// Sink is the transport handle for one connection. The websocket layer
// implements it; tests substitute fakes.
type Sink interface {
	Send(event domain.Event) error
	Close() error
}

type entry struct {
	client domain.ConnectedClient
	sink   Sink
}

// Registry serializes all mutations behind one mutex (single-writer
// discipline) even though the transport delivers events concurrently.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*entry
	userCap int
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a registry enforcing the per-user connection cap.
func New(userCap int, logger *slog.Logger) *Registry {
	if userCap < 1 {
		userCap = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[string]*entry),
		userCap: userCap,
		logger:  logger,
		now:     time.Now,
	}
}

// Add admits a connection. If the user already holds the cap, the
// oldest of their connections is closed and removed first, so the live
// count never exceeds the cap.
func (r *Registry) Add(connectionID, userID string, sink Sink) domain.ConnectedClient {
	var evicted *entry

	r.mu.Lock()
	if userID != "" {
		if oldest := r.oldestAtCapLocked(userID); oldest != "" {
			evicted = r.clients[oldest]
			delete(r.clients, oldest)
		}
	}

	now := r.now()
	e := &entry{
		client: domain.ConnectedClient{
			ConnectionID:   connectionID,
			UserID:         userID,
			ConnectedAt:    now,
			LastActivityAt: now,
		},
		sink: sink,
	}
	r.clients[connectionID] = e
	client := e.client
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Info("evicting oldest connection for user",
			"user_id", userID,
			"connection_id", evicted.client.ConnectionID,
		)
		r.closeSink(evicted)
	}
	return client
}

// oldestAtCapLocked returns the connection id to evict, or "" when the
// user is under the cap. Callers hold r.mu.
func (r *Registry) oldestAtCapLocked(userID string) string {
	var (
		count  int
		oldest string
		when   time.Time
	)
	for id, e := range r.clients {
		if e.client.UserID != userID {
			continue
		}
		count++
		if oldest == "" || e.client.ConnectedAt.Before(when) {
			oldest = id
			when = e.client.ConnectedAt
		}
	}
	if count < r.userCap {
		return ""
	}
	return oldest
}

// Remove drops a connection without closing its sink; the transport
// has already torn the socket down by the time this runs.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[connectionID]; !ok {
		return false
	}
	delete(r.clients, connectionID)
	return true
}

// UpdateLocation stores a client's position and refreshes its activity
// timestamp. Invalid coordinates are rejected and the last good
// location is retained.
func (r *Registry) UpdateLocation(connectionID string, lat, lon float64) error {
	if !geo.ValidCoords(lat, lon) {
		return ErrInvalidLocation
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	e.client.LastLocation = &geo.Point{Latitude: lat, Longitude: lon}
	e.client.LastActivityAt = r.now()
	return nil
}

// Touch refreshes the activity timestamp.
func (r *Registry) Touch(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	e.client.LastActivityAt = r.now()
	return nil
}

// Get returns a copy of one client.
func (r *Registry) Get(connectionID string) (domain.ConnectedClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[connectionID]
	if !ok {
		return domain.ConnectedClient{}, false
	}
	return e.client, true
}

// Snapshot returns copies of all entries ordered by connection time.
// The dispatcher iterates this copy, never the live map.
func (r *Registry) Snapshot() []domain.ConnectedClient {
	r.mu.Lock()
	out := make([]domain.ConnectedClient, 0, len(r.clients))
	for _, e := range r.clients {
		out = append(out, e.client)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the live connection count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// SweepStale evicts connections inactive for longer than window and
// returns their ids. Runs on the shared scheduler cadence.
func (r *Registry) SweepStale(window time.Duration) []string {
	cutoff := r.now().Add(-window)

	r.mu.Lock()
	var stale []*entry
	for id, e := range r.clients {
		if e.client.LastActivityAt.Before(cutoff) {
			stale = append(stale, e)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, e := range stale {
		ids = append(ids, e.client.ConnectionID)
		r.logger.Info("evicting stale connection",
			"connection_id", e.client.ConnectionID,
			"last_activity_at", e.client.LastActivityAt,
		)
		r.closeSink(e)
	}
	return ids
}

// Send delivers one event to a single connection.
func (r *Registry) Send(connectionID string, event domain.Event) error {
	r.mu.Lock()
	e, ok := r.clients[connectionID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConnection
	}
	return e.sink.Send(event)
}

// Broadcast delivers one event to every live connection. Sends happen
// outside the lock over a point-in-time copy; a failed send only logs,
// the read loop handles the disconnect.
func (r *Registry) Broadcast(event domain.Event) {
	r.mu.Lock()
	sinks := make(map[string]Sink, len(r.clients))
	for id, e := range r.clients {
		sinks[id] = e.sink
	}
	r.mu.Unlock()

	for id, sink := range sinks {
		if err := sink.Send(event); err != nil {
			r.logger.Debug("broadcast send failed", "connection_id", id, "error", err)
		}
	}
}

func (r *Registry) closeSink(e *entry) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Close(); err != nil {
		r.logger.Debug("sink close failed",
			"connection_id", e.client.ConnectionID,
			"error", err,
		)
	}
}
