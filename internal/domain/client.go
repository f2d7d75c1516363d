package domain

import (
	"time"

	"github.com/roadwatch/backend/pkg/geo"
)

// ConnectedClient is the registry's view of one live connection. The
// registry owns the mutable entry; everything handed out is a copy.
type ConnectedClient struct {
	ConnectionID   string     `json:"connection_id"`
	UserID         string     `json:"user_id,omitempty"`
	LastLocation   *geo.Point `json:"last_location,omitempty"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// HasLocation reports whether the client ever sent a valid location.
func (c ConnectedClient) HasLocation() bool {
	return c.LastLocation != nil
}
