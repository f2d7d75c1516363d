package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/backend/internal/domain"
)

// fakeClock hands out strictly increasing timestamps so connection
// ordering is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.Event
	closed bool
}

func (s *fakeSink) Send(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestRegistry(userCap int) (*Registry, *fakeClock) {
	r := New(userCap, nil)
	clock := newFakeClock()
	r.now = clock.Now
	return r, clock
}

func TestAddAndSnapshotOrdering(t *testing.T) {
	r, _ := newTestRegistry(10)

	r.Add("c1", "alice", &fakeSink{})
	r.Add("c2", "bob", &fakeSink{})
	r.Add("c3", "", &fakeSink{})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c1", snap[0].ConnectionID)
	assert.Equal(t, "c2", snap[1].ConnectionID)
	assert.Equal(t, "c3", snap[2].ConnectionID)
}

func TestUserConnectionCapEvictsOldest(t *testing.T) {
	r, _ := newTestRegistry(3)

	first := &fakeSink{}
	r.Add("c1", "alice", first)
	r.Add("c2", "alice", &fakeSink{})
	r.Add("c3", "alice", &fakeSink{})
	require.Equal(t, 3, r.Len())

	// The 4th connection for the same user evicts exactly the oldest.
	r.Add("c4", "alice", &fakeSink{})
	assert.Equal(t, 3, r.Len())
	assert.True(t, first.Closed())

	_, exists := r.Get("c1")
	assert.False(t, exists)
	_, exists = r.Get("c4")
	assert.True(t, exists)
}

func TestUserCapDoesNotAffectOtherUsers(t *testing.T) {
	r, _ := newTestRegistry(1)

	aliceSink := &fakeSink{}
	r.Add("c1", "alice", aliceSink)
	r.Add("c2", "bob", &fakeSink{})

	assert.Equal(t, 2, r.Len())
	assert.False(t, aliceSink.Closed())
}

func TestAnonymousConnectionsBypassCap(t *testing.T) {
	r, _ := newTestRegistry(1)

	r.Add("c1", "", &fakeSink{})
	r.Add("c2", "", &fakeSink{})
	assert.Equal(t, 2, r.Len())
}

func TestUpdateLocation(t *testing.T) {
	r, _ := newTestRegistry(3)
	r.Add("c1", "alice", &fakeSink{})

	require.NoError(t, r.UpdateLocation("c1", 43.25, 76.95))
	client, ok := r.Get("c1")
	require.True(t, ok)
	require.True(t, client.HasLocation())
	assert.Equal(t, 43.25, client.LastLocation.Latitude)

	// Invalid coordinates are rejected and the last good location kept.
	err := r.UpdateLocation("c1", 120.0, 76.95)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	client, _ = r.Get("c1")
	assert.Equal(t, 43.25, client.LastLocation.Latitude)

	assert.ErrorIs(t, r.UpdateLocation("nope", 43.0, 76.0), ErrUnknownConnection)
}

func TestSweepStale(t *testing.T) {
	r, clock := newTestRegistry(10)

	r.Add("old", "alice", &fakeSink{})
	clock.Advance(40 * time.Minute)
	fresh := &fakeSink{}
	r.Add("fresh", "bob", fresh)

	evicted := r.SweepStale(30 * time.Minute)
	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, 1, r.Len())
	assert.False(t, fresh.Closed())
}

func TestTouchPreventsSweep(t *testing.T) {
	r, clock := newTestRegistry(10)

	r.Add("c1", "alice", &fakeSink{})
	clock.Advance(20 * time.Minute)
	require.NoError(t, r.Touch("c1"))
	clock.Advance(20 * time.Minute)

	// Last activity was 20 minutes ago, inside the 30 minute window.
	assert.Empty(t, r.SweepStale(30*time.Minute))
	assert.Equal(t, 1, r.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	r, _ := newTestRegistry(10)
	r.Add("c1", "alice", &fakeSink{})

	snap := r.Snapshot()
	snap[0].UserID = "mallory"

	client, _ := r.Get("c1")
	assert.Equal(t, "alice", client.UserID)
}

func TestSendAndBroadcast(t *testing.T) {
	r, _ := newTestRegistry(10)
	s1 := &fakeSink{}
	s2 := &fakeSink{}
	r.Add("c1", "alice", s1)
	r.Add("c2", "bob", s2)

	require.NoError(t, r.Send("c1", domain.Event{Type: domain.EventAlerts}))
	assert.Len(t, s1.events, 1)
	assert.Empty(t, s2.events)

	r.Broadcast(domain.Event{Type: domain.EventSnapshot})
	assert.Len(t, s1.events, 2)
	assert.Len(t, s2.events, 1)

	assert.ErrorIs(t, r.Send("nope", domain.Event{}), ErrUnknownConnection)
}

func TestRemove(t *testing.T) {
	r, _ := newTestRegistry(10)
	r.Add("c1", "alice", &fakeSink{})

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Remove("c1"))
	assert.Equal(t, 0, r.Len())
}
