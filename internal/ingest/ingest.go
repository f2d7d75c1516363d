// Package ingest runs the snapshot cycle: fetch every monitored region
// from every source behind its circuit breaker, deduplicate, classify
// into a fresh snapshot and publish it. A snapshot is always fully
// built before anyone can observe it.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/internal/provider"
	"github.com/roadwatch/backend/internal/resilience"
	"github.com/roadwatch/backend/pkg/geo"
)

// ErrInvalidReport rejects manual incident reports with unusable coordinates.
var ErrInvalidReport = errors.New("ingest: invalid incident report")

// archiveTimeout bounds the async snapshot persistence.
const archiveTimeout = 5 * time.Second

// Options wires an Aggregator.
type Options struct {
	Sources      []provider.Source
	Regions      []domain.Region
	Repo         domain.IncidentRepository
	ContentDedup *resilience.DedupCache
	Breaker      func(name string) *resilience.Guard
	Logger       *slog.Logger
	Mock         bool
}

// Aggregator owns the latest published snapshot and the pending queue
// of manually reported incidents.
type Aggregator struct {
	sources      []provider.Source
	regions      []domain.Region
	repo         domain.IncidentRepository
	contentDedup *resilience.DedupCache
	guards       map[string]*resilience.Guard
	logger       *slog.Logger
	mock         bool

	mu     sync.RWMutex
	latest *domain.TrafficSnapshot

	pendingMu sync.Mutex
	pending   []domain.Incident

	subMu       sync.Mutex
	subscribers []func(*domain.TrafficSnapshot)

	wgBg sync.WaitGroup // tracks background archive goroutines for graceful shutdown
}

// New builds the aggregator; one breaker guard per source.
func New(opts Options) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	guards := make(map[string]*resilience.Guard, len(opts.Sources))
	for _, src := range opts.Sources {
		guards[src.Name()] = opts.Breaker(src.Name())
	}
	return &Aggregator{
		sources:      opts.Sources,
		regions:      opts.Regions,
		repo:         opts.Repo,
		contentDedup: opts.ContentDedup,
		guards:       guards,
		logger:       opts.Logger,
		mock:         opts.Mock,
	}
}

// Subscribe registers a callback invoked after each snapshot publish.
// Register everything before the first cycle runs.
func (a *Aggregator) Subscribe(fn func(*domain.TrafficSnapshot)) {
	a.subMu.Lock()
	a.subscribers = append(a.subscribers, fn)
	a.subMu.Unlock()
}

// Latest returns the last published snapshot, nil before the first
// cycle. While a breaker is open this is the caller's fallback: the
// last-known-good data instead of an error.
func (a *Aggregator) Latest() *domain.TrafficSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// BreakerStates reports each source's breaker for health output.
func (a *Aggregator) BreakerStates() map[string]string {
	out := make(map[string]string, len(a.guards))
	for name, g := range a.guards {
		out[name] = g.State()
	}
	return out
}

// RunCycle performs one full ingestion pass. A failed region is skipped
// for the cycle; partial snapshots are acceptable and the cycle never
// aborts because one region failed.
func (a *Aggregator) RunCycle(ctx context.Context) {
	started := time.Now()
	snapshot := &domain.TrafficSnapshot{
		Timestamp: started,
		Regions:   make(map[string][]domain.Incident, len(a.regions)),
		IsMock:    a.mock,
	}

	fetched, succeeded, skipped := 0, 0, 0
	for _, region := range a.regions {
		snapshot.Regions[region.Name] = []domain.Incident{}
		for _, src := range a.sources {
			incidents, err := a.fetchGuarded(ctx, src, region)
			if err != nil {
				skipped++
				if errors.Is(err, resilience.ErrCircuitOpen) {
					a.logger.Debug("upstream short-circuited",
						"provider", src.Name(), "region", region.Name)
				} else {
					a.logger.Warn("region fetch failed",
						"provider", src.Name(), "region", region.Name, "error", err)
				}
				continue
			}
			succeeded++
			for _, inc := range incidents {
				if a.duplicateContent(inc) {
					continue
				}
				inc.Timestamp = started // all snapshot incidents share one timestamp
				snapshot.Regions[region.Name] = append(snapshot.Regions[region.Name], inc)
				fetched++
			}
		}
	}

	pending := a.drainPending()
	for _, inc := range pending {
		inc.Timestamp = started
		snapshot.Regions[inc.Region] = append(snapshot.Regions[inc.Region], inc)
		fetched++
	}

	// When every upstream fetch failed and nothing was reported, keep
	// serving the last-known-good snapshot instead of wiping it with an
	// empty one.
	if succeeded == 0 && len(pending) == 0 && a.Latest() != nil {
		a.logger.Warn("all upstream fetches failed, retaining previous snapshot",
			"skipped_fetches", skipped)
		return
	}

	a.publish(snapshot)
	a.archiveAsync(snapshot)

	a.logger.Info("ingestion cycle complete",
		"incidents", fetched,
		"skipped_fetches", skipped,
		"duration", time.Since(started),
	)
}

func (a *Aggregator) fetchGuarded(ctx context.Context, src provider.Source, region domain.Region) ([]domain.Incident, error) {
	guard := a.guards[src.Name()]
	out, err := guard.Execute(func() (any, error) {
		return src.FetchRegion(ctx, region)
	})
	if err != nil {
		return nil, err
	}
	incidents, _ := out.([]domain.Incident)
	return incidents, nil
}

// duplicateContent suppresses the same physical event reported by
// multiple sources within the dedup TTL.
func (a *Aggregator) duplicateContent(inc domain.Incident) bool {
	if a.contentDedup == nil {
		return false
	}
	if a.contentDedup.Seen(resilience.ContentKey(inc)) {
		a.logger.Debug("duplicate incident suppressed",
			"incident_id", inc.ID, "source", inc.Source)
		return true
	}
	return false
}

// publish swaps the fully built snapshot in and notifies subscribers.
// Readers only ever see complete snapshots.
func (a *Aggregator) publish(snapshot *domain.TrafficSnapshot) {
	a.mu.Lock()
	a.latest = snapshot
	a.mu.Unlock()

	a.subMu.Lock()
	subs := make([]func(*domain.TrafficSnapshot), len(a.subscribers))
	copy(subs, a.subscribers)
	a.subMu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

func (a *Aggregator) archiveAsync(snapshot *domain.TrafficSnapshot) {
	if a.repo == nil || snapshot.Count() == 0 {
		return
	}
	a.wgBg.Add(1)
	go func() {
		defer a.wgBg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := a.repo.SaveSnapshot(ctx, snapshot); err != nil {
			a.logger.Error("failed to archive snapshot", "error", err)
		}
	}()
}

// WaitBackground blocks until background archive goroutines complete.
// Call during graceful shutdown to avoid dropped writes.
func (a *Aggregator) WaitBackground() {
	a.wgBg.Wait()
}

// ReportIncident accepts a candidate from an external detector, applies
// content deduplication and queues it for the next cycle. The duplicate
// return is true when an equivalent report was already seen.
func (a *Aggregator) ReportIncident(inc domain.Incident) (duplicate bool, err error) {
	if !geo.Valid(inc.Location) {
		return false, ErrInvalidReport
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now()
	}
	if inc.Category == "" {
		inc.Category = domain.CategoryOther
	}
	if inc.Status == "" {
		inc.Status = "reported"
	}
	if inc.Region == "" {
		inc.Region = a.nearestRegion(inc.Location)
	}

	if a.duplicateContent(inc) {
		return true, nil
	}

	a.pendingMu.Lock()
	a.pending = append(a.pending, inc)
	a.pendingMu.Unlock()
	return false, nil
}

func (a *Aggregator) drainPending() []domain.Incident {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

func (a *Aggregator) nearestRegion(p geo.Point) string {
	best := ""
	bestDist := 0.0
	for _, region := range a.regions {
		d := geo.Distance(p, region.Anchor())
		if best == "" || d < bestDist {
			best = region.Name
			bestDist = d
		}
	}
	return best
}

// WarmDedup seeds content fingerprints from recently archived incidents
// so a restart does not replay alerts for events already processed.
func (a *Aggregator) WarmDedup(ctx context.Context, lookback time.Duration) {
	if a.repo == nil || a.contentDedup == nil {
		return
	}
	to := time.Now()
	history, err := a.repo.GetIncidentHistory(ctx, to.Add(-lookback), to)
	if err != nil {
		a.logger.Warn("dedup warm-up skipped", "error", err)
		return
	}
	for _, inc := range history {
		a.contentDedup.Seen(resilience.ContentKey(inc))
	}
	a.logger.Info("dedup cache warmed", "entries", len(history))
}
