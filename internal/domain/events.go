package domain

import "time"

// Event types carried over the websocket boundary.
const (
	EventConnected = "connected"
	EventSnapshot  = "snapshot"
	EventAlerts    = "alerts"
	EventError     = "error"
)

// Event is the envelope for every server-to-client message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ConnectedPayload acknowledges a new connection.
type ConnectedPayload struct {
	ConnectionID string    `json:"connection_id"`
	ServerTime   time.Time `json:"server_time"`
}

// SnapshotPayload carries the full snapshot plus its analytics, broadcast
// to every client on each ingestion cycle and once on connect.
type SnapshotPayload struct {
	Snapshot  *TrafficSnapshot `json:"snapshot"`
	Analytics AnalyticsSummary `json:"analytics"`
}

// AlertsPayload carries only the incidents inside one client's geofence.
// Always unicast.
type AlertsPayload struct {
	ConnectionID string     `json:"connection_id"`
	RadiusKM     float64    `json:"radius_km"`
	Incidents    []Incident `json:"incidents"`
	Timestamp    time.Time  `json:"timestamp"`
}

// AnalyticsSummary bundles the three classifier results.
type AnalyticsSummary struct {
	Critical   CriticalSummary `json:"critical"`
	Categories []CategoryCount `json:"categories"`
	Locations  []LocationCount `json:"locations"`
}

// CriticalSummary counts incidents above the critical delay threshold.
type CriticalSummary struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CategoryCount is one slice of the category breakdown.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Percent  float64  `json:"percent"`
}

// LocationCount is one row of the per-region breakdown.
type LocationCount struct {
	Location string `json:"location"`
	Amount   int    `json:"amount"`
}

// LocationUpdate is the client-to-server position event.
type LocationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
