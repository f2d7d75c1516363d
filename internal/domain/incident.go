package domain

import (
	"time"

	"github.com/roadwatch/backend/pkg/geo"
)

// Category classifies a road incident.
type Category string

const (
	CategoryAccident  Category = "accident"
	CategoryJam       Category = "jam"
	CategoryWeather   Category = "weather"
	CategoryRoadWorks Category = "roadworks"
	CategoryDebris    Category = "debris"
	CategoryOther     Category = "other"
)

// Categories is the fixed vocabulary, in stable render order. Analytics
// consumers rely on every category appearing even when its count is zero.
var Categories = []Category{
	CategoryAccident,
	CategoryJam,
	CategoryWeather,
	CategoryRoadWorks,
	CategoryDebris,
	CategoryOther,
}

// CriticalDelayThreshold is the magnitude above which an incident counts
// as critical. Strictly greater-than; a magnitude of exactly 3 is not critical.
const CriticalDelayThreshold = 3

// Incident represents a normalized road event. Once classified into a
// snapshot it is never mutated; the next snapshot supersedes it.
type Incident struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Location       geo.Point   `json:"location"`
	Path           []geo.Point `json:"path,omitempty"`
	Category       Category    `json:"category"`
	DelayMagnitude int         `json:"delay_magnitude"` // 0 (none) .. 4 (major), >4 reserved
	Source         string      `json:"source"`
	Region         string      `json:"region"`
	Status         string      `json:"status"`
	Description    string      `json:"description,omitempty"`
}

// Critical reports whether the incident exceeds the delay threshold.
func (i Incident) Critical() bool {
	return i.DelayMagnitude > CriticalDelayThreshold
}

// TrafficSnapshot is one ingestion cycle's view of all monitored regions.
// It fully replaces the previous snapshot; there is no incremental merge.
type TrafficSnapshot struct {
	Timestamp time.Time             `json:"timestamp"`
	Regions   map[string][]Incident `json:"regions"`
	IsMock    bool                  `json:"is_mock"`
}

// Incidents flattens all regions into a single slice.
func (s *TrafficSnapshot) Incidents() []Incident {
	if s == nil {
		return nil
	}
	var out []Incident
	for _, region := range s.Regions {
		out = append(out, region...)
	}
	return out
}

// Count returns the total incident count across regions.
func (s *TrafficSnapshot) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, region := range s.Regions {
		n += len(region)
	}
	return n
}

// Region is a monitored geographic anchor.
type Region struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Anchor returns the region center as a geo.Point.
func (r Region) Anchor() geo.Point {
	return geo.Point{Latitude: r.Latitude, Longitude: r.Longitude}
}

// DefaultRegions are the monitored anchors around Almaty.
var DefaultRegions = []Region{
	{Name: "Al-Farabi/Dostyk", Latitude: 43.2567, Longitude: 76.9286},
	{Name: "Mega Center", Latitude: 43.2380, Longitude: 76.9450},
	{Name: "Alatau", Latitude: 43.2700, Longitude: 76.9500},
	{Name: "Baraholka", Latitude: 43.2220, Longitude: 76.8510},
	{Name: "City Center", Latitude: 43.2389, Longitude: 76.8897},
	{Name: "Medeu Direction", Latitude: 43.2600, Longitude: 76.9100},
	{Name: "Airport Road", Latitude: 43.2150, Longitude: 76.9200},
	{Name: "Almaty-1 Station", Latitude: 43.2800, Longitude: 76.8800},
}
