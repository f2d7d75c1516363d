package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/internal/provider"
	"github.com/roadwatch/backend/internal/resilience"
	"github.com/roadwatch/backend/pkg/geo"
)

var (
	regionCenter  = domain.Region{Name: "City Center", Latitude: 43.2389, Longitude: 76.8897}
	regionAirport = domain.Region{Name: "Airport", Latitude: 43.3521, Longitude: 77.0405}

	errUpstream = errors.New("upstream down")
)

// stubSource returns canned incidents per region, or fails regions
// listed in failRegions. calls counts real invocations, so breaker
// short-circuiting is observable.
type stubSource struct {
	name        string
	byRegion    map[string][]domain.Incident
	failRegions map[string]bool
	failAll     bool
	calls       atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchRegion(_ context.Context, region domain.Region) ([]domain.Incident, error) {
	s.calls.Add(1)
	if s.failAll || s.failRegions[region.Name] {
		return nil, errUpstream
	}
	return s.byRegion[region.Name], nil
}

func incidentIn(region domain.Region, id string, cat domain.Category) domain.Incident {
	return domain.Incident{
		ID:             id,
		Timestamp:      time.Now(),
		Location:       geo.Point{Latitude: region.Latitude + 0.002, Longitude: region.Longitude - 0.001},
		Category:       cat,
		DelayMagnitude: 2,
		Source:         "stub",
		Region:         region.Name,
		Status:         "active",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(t *testing.T, sources ...provider.Source) *Aggregator {
	t.Helper()
	return New(Options{
		Sources:      sources,
		Regions:      []domain.Region{regionCenter, regionAirport},
		ContentDedup: resilience.NewDedupCache(time.Minute),
		Breaker: func(name string) *resilience.Guard {
			return resilience.NewGuard(name, 2, time.Minute, quietLogger())
		},
		Logger: quietLogger(),
	})
}

func TestRunCyclePublishesSnapshot(t *testing.T) {
	src := &stubSource{
		name: "stub",
		byRegion: map[string][]domain.Incident{
			regionCenter.Name:  {incidentIn(regionCenter, "i1", domain.CategoryAccident)},
			regionAirport.Name: {incidentIn(regionAirport, "i2", domain.CategoryJam)},
		},
	}
	agg := newTestAggregator(t, src)

	require.Nil(t, agg.Latest(), "nothing published before the first cycle")
	agg.RunCycle(context.Background())

	snap := agg.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Count())
	require.Len(t, snap.Regions[regionCenter.Name], 1)
	require.Len(t, snap.Regions[regionAirport.Name], 1)

	// Every incident in a snapshot carries the snapshot's timestamp.
	for _, inc := range snap.Incidents() {
		assert.Equal(t, snap.Timestamp, inc.Timestamp)
	}
}

func TestPartialSnapshotOnRegionFailure(t *testing.T) {
	src := &stubSource{
		name: "stub",
		byRegion: map[string][]domain.Incident{
			regionCenter.Name: {incidentIn(regionCenter, "i1", domain.CategoryAccident)},
		},
		failRegions: map[string]bool{regionAirport.Name: true},
	}
	agg := newTestAggregator(t, src)

	agg.RunCycle(context.Background())

	snap := agg.Latest()
	require.NotNil(t, snap, "one failed region never aborts the cycle")
	assert.Len(t, snap.Regions[regionCenter.Name], 1)
	assert.Empty(t, snap.Regions[regionAirport.Name])
}

func TestLastKnownGoodRetainedWhenAllFetchesFail(t *testing.T) {
	src := &stubSource{
		name: "stub",
		byRegion: map[string][]domain.Incident{
			regionCenter.Name: {incidentIn(regionCenter, "i1", domain.CategoryAccident)},
		},
	}
	agg := newTestAggregator(t, src)

	agg.RunCycle(context.Background())
	good := agg.Latest()
	require.NotNil(t, good)
	require.Equal(t, 1, good.Count())

	src.failAll = true
	agg.RunCycle(context.Background())

	assert.Same(t, good, agg.Latest(), "failed cycle must not wipe good data")
}

func TestFirstCycleWithNoDataStillPublishes(t *testing.T) {
	src := &stubSource{name: "stub", failAll: true}
	agg := newTestAggregator(t, src)

	agg.RunCycle(context.Background())

	snap := agg.Latest()
	require.NotNil(t, snap, "with no previous snapshot an empty one is published")
	assert.Zero(t, snap.Count())
}

func TestCrossSourceContentDedup(t *testing.T) {
	// Aligned so both sightings fall into the same dedup bucket.
	at := time.Now().Truncate(time.Minute)
	original := incidentIn(regionCenter, "a-1", domain.CategoryAccident)
	original.Timestamp = at

	twin := original
	twin.ID = "b-1"
	twin.Source = "other"
	twin.Timestamp = at.Add(5 * time.Second)

	srcA := &stubSource{name: "stub-a", byRegion: map[string][]domain.Incident{
		regionCenter.Name: {original},
	}}
	srcB := &stubSource{name: "stub-b", byRegion: map[string][]domain.Incident{
		regionCenter.Name: {twin},
	}}
	agg := newTestAggregator(t, srcA, srcB)

	agg.RunCycle(context.Background())

	snap := agg.Latest()
	require.NotNil(t, snap)
	require.Len(t, snap.Regions[regionCenter.Name], 1,
		"same physical event from two detectors counts once")
	assert.Equal(t, "a-1", snap.Regions[regionCenter.Name][0].ID)
}

func TestBreakerShortCircuitsFailingSource(t *testing.T) {
	failing := &stubSource{name: "flaky", failAll: true}
	healthy := &stubSource{name: "stub", byRegion: map[string][]domain.Incident{
		regionCenter.Name: {incidentIn(regionCenter, "i1", domain.CategoryJam)},
	}}

	agg := New(Options{
		Sources: []provider.Source{failing, healthy},
		Regions: []domain.Region{regionCenter},
		Breaker: func(name string) *resilience.Guard {
			return resilience.NewGuard(name, 2, time.Minute, quietLogger())
		},
		Logger: quietLogger(),
	})

	// Threshold 2: the breaker opens during cycle two, then cycle three
	// never reaches the flaky source.
	for i := 0; i < 3; i++ {
		agg.RunCycle(context.Background())
	}
	assert.Equal(t, int32(2), failing.calls.Load())
	assert.Equal(t, int32(3), healthy.calls.Load(), "healthy source is unaffected")

	states := agg.BreakerStates()
	assert.Equal(t, "open", states["flaky"])
	assert.Equal(t, "closed", states["stub"])

	snap := agg.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Count(), "healthy data still flows around the open breaker")
}

func TestReportIncidentValidation(t *testing.T) {
	agg := newTestAggregator(t)

	_, err := agg.ReportIncident(domain.Incident{
		Location: geo.Point{Latitude: 123.0, Longitude: 76.9},
	})
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestReportIncidentMergedIntoNextCycle(t *testing.T) {
	agg := newTestAggregator(t, &stubSource{name: "stub"})

	// No region given: the report lands in the nearest monitored region.
	dup, err := agg.ReportIncident(domain.Incident{
		Location: geo.Point{Latitude: 43.3510, Longitude: 77.0400},
		Category: domain.CategoryDebris,
	})
	require.NoError(t, err)
	assert.False(t, dup)

	agg.RunCycle(context.Background())

	snap := agg.Latest()
	require.NotNil(t, snap)
	require.Len(t, snap.Regions[regionAirport.Name], 1)
	reported := snap.Regions[regionAirport.Name][0]
	assert.NotEmpty(t, reported.ID, "missing ID is generated")
	assert.Equal(t, domain.CategoryDebris, reported.Category)
	assert.Equal(t, snap.Timestamp, reported.Timestamp)

	// The queue drains: the next cycle does not replay the report.
	agg.RunCycle(context.Background())
	assert.Empty(t, agg.Latest().Regions[regionAirport.Name])
}

func TestReportIncidentDuplicate(t *testing.T) {
	agg := newTestAggregator(t)
	report := domain.Incident{
		Location:  geo.Point{Latitude: 43.2401, Longitude: 76.8890},
		Category:  domain.CategoryAccident,
		Timestamp: time.Now(),
	}

	dup, err := agg.ReportIncident(report)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = agg.ReportIncident(report)
	require.NoError(t, err)
	assert.True(t, dup, "an equivalent report within the window is flagged")
}

// stubRepo serves a canned archive for warm-up tests.
type stubRepo struct {
	history []domain.Incident
}

func (r *stubRepo) SaveSnapshot(context.Context, *domain.TrafficSnapshot) error { return nil }

func (r *stubRepo) GetIncidentHistory(context.Context, time.Time, time.Time) ([]domain.Incident, error) {
	return r.history, nil
}

func (r *stubRepo) Health(context.Context) error { return nil }

func TestWarmDedupSuppressesReplayedArchive(t *testing.T) {
	// The archived copy carries the cycle timestamp; the post-restart
	// fetch of the same ongoing event carries the provider's start time.
	archived := incidentIn(regionCenter, "a-1", domain.CategoryAccident)
	archived.Timestamp = time.Now().Add(-2 * time.Minute)

	refetched := archived
	refetched.ID = "tt-77"
	refetched.Source = "tomtom"
	refetched.Timestamp = time.Now().Add(-20 * time.Minute)

	src := &stubSource{name: "stub", byRegion: map[string][]domain.Incident{
		regionCenter.Name: {refetched},
	}}
	agg := New(Options{
		Sources:      []provider.Source{src},
		Regions:      []domain.Region{regionCenter},
		Repo:         &stubRepo{history: []domain.Incident{archived}},
		ContentDedup: resilience.NewDedupCache(5 * time.Minute),
		Breaker: func(name string) *resilience.Guard {
			return resilience.NewGuard(name, 2, time.Minute, quietLogger())
		},
		Logger: quietLogger(),
	})

	agg.WarmDedup(context.Background(), 5*time.Minute)
	agg.RunCycle(context.Background())

	snap := agg.Latest()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Regions[regionCenter.Name],
		"events already archived before the restart are not re-ingested")
}

func TestSubscribersSeePublishedSnapshot(t *testing.T) {
	src := &stubSource{name: "stub", byRegion: map[string][]domain.Incident{
		regionCenter.Name: {incidentIn(regionCenter, "i1", domain.CategoryAccident)},
	}}
	agg := newTestAggregator(t, src)

	var got *domain.TrafficSnapshot
	agg.Subscribe(func(s *domain.TrafficSnapshot) { got = s })

	agg.RunCycle(context.Background())

	require.NotNil(t, got)
	assert.Same(t, agg.Latest(), got)
}
