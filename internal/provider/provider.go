// Package provider fetches and normalizes incident data from external
// traffic and weather feeds. Provider-specific payload shapes never
// leave this package; everything downstream sees domain.Incident.
package provider

import (
	"context"
	"fmt"

	"github.com/roadwatch/backend/internal/domain"
)

// Source is one upstream feed, fetched per monitored region. Each call
// is independently guarded by the caller's circuit breaker.
type Source interface {
	Name() string
	FetchRegion(ctx context.Context, region domain.Region) ([]domain.Incident, error)
}

// FetchError covers timeouts, non-2xx responses and malformed payloads.
// The region is skipped for the cycle; the cycle itself never aborts.
type FetchError struct {
	Provider   string
	Region     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: region %q: status %d", e.Provider, e.Region, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: region %q: %v", e.Provider, e.Region, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
