package resilience

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/roadwatch/backend/internal/domain"
)

// dedupCapacity bounds the fingerprint store; with tens of clients and
// ~100 incidents/minute the working set stays far below this.
const dedupCapacity = 8192

// DedupCache suppresses repeated processing of the same logical event
// within a short time bucket. Entries expire on their own; nothing is
// persisted beyond the current cycle's horizon.
type DedupCache struct {
	ttl   time.Duration
	cache *expirable.LRU[string, struct{}]
}

// NewDedupCache builds a TTL-bounded fingerprint store.
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{
		ttl:   ttl,
		cache: expirable.NewLRU[string, struct{}](dedupCapacity, nil, ttl),
	}
}

// Seen records key and reports whether it was already present.
func (d *DedupCache) Seen(key string) bool {
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}

// Contains checks without recording.
func (d *DedupCache) Contains(key string) bool {
	_, ok := d.cache.Get(key)
	return ok
}

// Len returns the live fingerprint count.
func (d *DedupCache) Len() int {
	return d.cache.Len()
}

// NotificationKey fingerprints one (incident, client) delivery within a
// snapshot cycle, so the same client is never notified twice about the
// same incident in one cycle.
func NotificationKey(incidentID, connectionID string, snapshotAt time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", incidentID, connectionID, snapshotAt.Unix())
	return fmt.Sprintf("notify:%x", h.Sum64())
}

// ContentKey fingerprints the physical event behind an incident report,
// independent of which detector produced it and of timestamp basis:
// category plus coordinates rounded to ~100m. The temporal scope of the
// fingerprint is the cache TTL, so keys seeded from archived incidents
// match keys computed from fresh provider fetches.
func ContentKey(inc domain.Incident) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%.3f|%.3f",
		inc.Category,
		inc.Location.Latitude,
		inc.Location.Longitude,
	)
	return fmt.Sprintf("content:%x", h.Sum64())
}
