// Package analytics derives severity, category and location aggregates
// from a traffic snapshot. All functions are pure; an empty or nil
// snapshot yields zero-valued, well-formed results.
package analytics

import (
	"sort"

	"github.com/roadwatch/backend/internal/domain"
)

// CriticalLabel names the critical-incident aggregate in payloads.
const CriticalLabel = "critical_incidents"

// CriticalIncidents counts incidents whose delay magnitude strictly
// exceeds the critical threshold.
func CriticalIncidents(s *domain.TrafficSnapshot) domain.CriticalSummary {
	count := 0
	for _, inc := range s.Incidents() {
		if inc.Critical() {
			count++
		}
	}
	return domain.CriticalSummary{Label: CriticalLabel, Count: count}
}

// CategoryBreakdown returns count and percentage per category. Every
// category in the fixed vocabulary appears, zero counts included, so
// chart axes stay stable across cycles.
func CategoryBreakdown(s *domain.TrafficSnapshot) []domain.CategoryCount {
	counts := make(map[domain.Category]int, len(domain.Categories))
	total := 0
	for _, inc := range s.Incidents() {
		cat := inc.Category
		if !knownCategory(cat) {
			cat = domain.CategoryOther
		}
		counts[cat]++
		total++
	}

	out := make([]domain.CategoryCount, 0, len(domain.Categories))
	for _, cat := range domain.Categories {
		cc := domain.CategoryCount{Category: cat, Count: counts[cat]}
		if total > 0 {
			cc.Percent = float64(counts[cat]) / float64(total) * 100
		}
		out = append(out, cc)
	}
	return out
}

// LocationBreakdown groups incidents by monitored region name. Regions
// with zero incidents are omitted. Output is sorted by amount descending,
// name ascending for ties, so consumers see a stable ordering.
func LocationBreakdown(s *domain.TrafficSnapshot) []domain.LocationCount {
	out := make([]domain.LocationCount, 0)
	if s == nil {
		return out
	}
	for name, incidents := range s.Regions {
		if len(incidents) == 0 {
			continue
		}
		out = append(out, domain.LocationCount{Location: name, Amount: len(incidents)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Location < out[j].Location
	})
	return out
}

// Summarize bundles the three aggregates for one snapshot.
func Summarize(s *domain.TrafficSnapshot) domain.AnalyticsSummary {
	return domain.AnalyticsSummary{
		Critical:   CriticalIncidents(s),
		Categories: CategoryBreakdown(s),
		Locations:  LocationBreakdown(s),
	}
}

func knownCategory(c domain.Category) bool {
	for _, known := range domain.Categories {
		if c == known {
			return true
		}
	}
	return false
}
