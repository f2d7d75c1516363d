package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/pkg/geo"
)

const (
	tomtomName    = "tomtom"
	tomtomBaseURL = "https://api.tomtom.com/traffic/services/5/incidentDetails"

	// bboxHalfSpan is the half-width in degrees of the query box around
	// a region anchor, roughly 5km at Almaty's latitude.
	bboxHalfSpan = 0.05
)

// TomTomClient fetches road incidents from the TomTom incident details API.
type TomTomClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTomTomClient creates a TomTom adapter with a hard request timeout.
func NewTomTomClient(apiKey string, timeout time.Duration) *TomTomClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TomTomClient{
		apiKey:  apiKey,
		baseURL: tomtomBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Source.
func (c *TomTomClient) Name() string { return tomtomName }

// tomtomResponse mirrors the slice of the TomTom payload we consume.
type tomtomResponse struct {
	Incidents []struct {
		Geometry struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			ID               string `json:"id"`
			IconCategory     int    `json:"iconCategory"`
			MagnitudeOfDelay int    `json:"magnitudeOfDelay"`
			StartTime        string `json:"startTime"`
			Events           []struct {
				Description string `json:"description"`
			} `json:"events"`
		} `json:"properties"`
	} `json:"incidents"`
}

// FetchRegion queries a bounding box around the region anchor and
// normalizes the payload into domain incidents. Entries with unusable
// geometry are dropped, not fatal.
func (c *TomTomClient) FetchRegion(ctx context.Context, region domain.Region) ([]domain.Incident, error) {
	url := fmt.Sprintf("%s?key=%s&bbox=%f,%f,%f,%f&fields={incidents{geometry{type,coordinates},properties{id,iconCategory,magnitudeOfDelay,startTime,events{description}}}}",
		c.baseURL, c.apiKey,
		region.Longitude-bboxHalfSpan, region.Latitude-bboxHalfSpan,
		region.Longitude+bboxHalfSpan, region.Latitude+bboxHalfSpan,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Provider: tomtomName, Region: region.Name, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: tomtomName, Region: region.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Provider: tomtomName, Region: region.Name, StatusCode: resp.StatusCode}
	}

	var payload tomtomResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Provider: tomtomName, Region: region.Name, Err: fmt.Errorf("malformed payload: %w", err)}
	}

	now := time.Now()
	incidents := make([]domain.Incident, 0, len(payload.Incidents))
	for _, raw := range payload.Incidents {
		anchor, path, ok := decodeGeometry(raw.Geometry.Type, raw.Geometry.Coordinates)
		if !ok {
			continue
		}

		inc := domain.Incident{
			ID:             raw.Properties.ID,
			Timestamp:      now,
			Location:       anchor,
			Path:           path,
			Category:       categoryFromIcon(raw.Properties.IconCategory),
			DelayMagnitude: clampMagnitude(raw.Properties.MagnitudeOfDelay),
			Source:         tomtomName,
			Region:         region.Name,
			Status:         "active",
		}
		if inc.ID == "" {
			inc.ID = uuid.NewString()
		}
		if ts, err := time.Parse(time.RFC3339, raw.Properties.StartTime); err == nil {
			inc.Timestamp = ts
		}
		if len(raw.Properties.Events) > 0 {
			inc.Description = raw.Properties.Events[0].Description
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}

// decodeGeometry extracts the anchor point (and path for line geometry)
// from TomTom's GeoJSON-style coordinates, which arrive [lon, lat].
func decodeGeometry(kind string, raw json.RawMessage) (geo.Point, []geo.Point, bool) {
	switch kind {
	case "Point":
		var pair [2]float64
		if err := json.Unmarshal(raw, &pair); err != nil {
			return geo.Point{}, nil, false
		}
		p := geo.Point{Latitude: pair[1], Longitude: pair[0]}
		return p, nil, geo.Valid(p)
	case "LineString":
		var pairs [][2]float64
		if err := json.Unmarshal(raw, &pairs); err != nil || len(pairs) == 0 {
			return geo.Point{}, nil, false
		}
		path := make([]geo.Point, 0, len(pairs))
		for _, pair := range pairs {
			p := geo.Point{Latitude: pair[1], Longitude: pair[0]}
			if !geo.Valid(p) {
				return geo.Point{}, nil, false
			}
			path = append(path, p)
		}
		return path[0], path, true
	default:
		return geo.Point{}, nil, false
	}
}

// categoryFromIcon maps TomTom icon categories onto the internal
// vocabulary. Unknown codes land in Other rather than being dropped.
func categoryFromIcon(icon int) domain.Category {
	switch icon {
	case 1: // accident
		return domain.CategoryAccident
	case 6: // jam
		return domain.CategoryJam
	case 2, 4, 5, 10, 11: // fog, rain, ice, wind, flooding
		return domain.CategoryWeather
	case 7, 8, 9: // lane closed, road closed, road works
		return domain.CategoryRoadWorks
	case 3, 14: // dangerous conditions, broken down vehicle
		return domain.CategoryDebris
	default:
		return domain.CategoryOther
	}
}

func clampMagnitude(m int) int {
	if m < 0 {
		return 0
	}
	if m > 4 {
		return 4
	}
	return m
}
