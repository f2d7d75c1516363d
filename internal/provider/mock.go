package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/pkg/geo"
)

const mockName = "mock"

// MockSource generates synthetic incidents following daily rush-hour
// patterns. It serves development mode when no provider API key is
// configured, and tests that need a deterministic feed.
type MockSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewMockSource creates a seeded synthetic feed.
func NewMockSource(seed int64) *MockSource {
	return &MockSource{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// Name implements Source.
func (m *MockSource) Name() string { return mockName }

// FetchRegion synthesizes incidents clustered around the region anchor.
func (m *MockSource) FetchRegion(_ context.Context, region domain.Region) ([]domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	congestion := m.congestionIndex(now.Hour(), now.Weekday())
	count := int(congestion / 25) // 0..4 incidents per region

	incidents := make([]domain.Incident, 0, count)
	for i := 0; i < count; i++ {
		// Random offset within ~1km of the anchor
		latOffset := (m.rng.Float64() - 0.5) * 0.02
		lonOffset := (m.rng.Float64() - 0.5) * 0.02

		cat := domain.Categories[m.rng.Intn(len(domain.Categories))]
		magnitude := 1 + m.rng.Intn(4)

		incidents = append(incidents, domain.Incident{
			ID:        fmt.Sprintf("mock-%s-%d-%d", region.Name, now.Unix(), i),
			Timestamp: now,
			Location: geo.Point{
				Latitude:  region.Latitude + latOffset,
				Longitude: region.Longitude + lonOffset,
			},
			Category:       cat,
			DelayMagnitude: magnitude,
			Source:         mockName,
			Region:         region.Name,
			Status:         "active",
			Description:    fmt.Sprintf("synthetic %s near %s", cat, region.Name),
		})
	}
	return incidents, nil
}

// congestionIndex returns 0-100 based on time patterns
func (m *MockSource) congestionIndex(hour int, weekday time.Weekday) float64 {
	// Weekend: less traffic
	if weekday == time.Saturday || weekday == time.Sunday {
		return 25 + m.rng.Float64()*20
	}

	// Rush hours
	switch {
	case hour >= 7 && hour <= 9: // Morning rush
		return 70 + m.rng.Float64()*25
	case hour >= 17 && hour <= 19: // Evening rush
		return 75 + m.rng.Float64()*20
	case hour >= 12 && hour <= 14: // Lunch
		return 50 + m.rng.Float64()*15
	case hour >= 22 || hour <= 5: // Night
		return 10 + m.rng.Float64()*10
	default:
		return 35 + m.rng.Float64()*20
	}
}
