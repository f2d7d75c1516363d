package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/roadwatch/backend/internal/domain"
)

const mockRetention = 1000

// MockRepository implements domain.IncidentRepository for dev/demo mode
// without a database. Incidents are kept in memory, capped to the most
// recent entries.
type MockRepository struct {
	mu        sync.Mutex
	incidents []domain.Incident
}

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

// SaveSnapshot keeps incidents in memory.
func (r *MockRepository) SaveSnapshot(_ context.Context, snapshot *domain.TrafficSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, snapshot.Incidents()...)
	if len(r.incidents) > mockRetention {
		r.incidents = r.incidents[len(r.incidents)-mockRetention:]
	}
	return nil
}

// GetIncidentHistory filters the in-memory archive by time range.
func (r *MockRepository) GetIncidentHistory(_ context.Context, from, to time.Time) ([]domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var results []domain.Incident
	for _, inc := range r.incidents {
		if inc.Timestamp.Before(from) || inc.Timestamp.After(to) {
			continue
		}
		results = append(results, inc)
	}
	return results, nil
}

// Health always returns nil in mock mode
func (r *MockRepository) Health(_ context.Context) error {
	return nil
}
