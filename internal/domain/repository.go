package domain

import (
	"context"
	"time"
)

// IncidentRepository defines the interface for snapshot archival.
// This follows the Dependency Inversion Principle - domain defines the interface
type IncidentRepository interface {
	// SaveSnapshot persists all incidents of one snapshot cycle
	SaveSnapshot(ctx context.Context, snapshot *TrafficSnapshot) error

	// GetIncidentHistory retrieves archived incidents within a time range
	GetIncidentHistory(ctx context.Context, from, to time.Time) ([]Incident, error)

	// Health checks database connectivity
	Health(ctx context.Context) error
}
