package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/roadwatch/backend/internal/domain"
)

const (
	openWeatherName    = "openweather"
	openWeatherBaseURL = "https://api.openweathermap.org/data/2.5/weather"

	// lowVisibilityMeters marks conditions hazardous enough to alert on
	// even when the condition code itself is benign.
	lowVisibilityMeters = 1000
)

// OpenWeatherClient turns severe weather at a monitored region into
// Weather-category incidents. Benign conditions yield no incidents.
type OpenWeatherClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenWeatherClient creates an OpenWeatherMap adapter with a hard
// request timeout.
func NewOpenWeatherClient(apiKey string, timeout time.Duration) *OpenWeatherClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenWeatherClient{
		apiKey:  apiKey,
		baseURL: openWeatherBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Source.
func (c *OpenWeatherClient) Name() string { return openWeatherName }

// openWeatherResponse represents the OpenWeatherMap API response
type openWeatherResponse struct {
	Weather []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"weather"`
	Visibility int `json:"visibility"`
}

// FetchRegion fetches current conditions at the region anchor.
func (c *OpenWeatherClient) FetchRegion(ctx context.Context, region domain.Region) ([]domain.Incident, error) {
	url := fmt.Sprintf("%s?lat=%f&lon=%f&appid=%s&units=metric",
		c.baseURL, region.Latitude, region.Longitude, c.apiKey,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Provider: openWeatherName, Region: region.Name, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: openWeatherName, Region: region.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Provider: openWeatherName, Region: region.Name, StatusCode: resp.StatusCode}
	}

	var payload openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Provider: openWeatherName, Region: region.Name, Err: fmt.Errorf("malformed payload: %w", err)}
	}

	conditionID := 0
	description := ""
	if len(payload.Weather) > 0 {
		conditionID = payload.Weather[0].ID
		description = payload.Weather[0].Description
	}

	magnitude := weatherMagnitude(conditionID, payload.Visibility)
	if magnitude == 0 {
		return nil, nil
	}

	return []domain.Incident{{
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Location:       region.Anchor(),
		Category:       domain.CategoryWeather,
		DelayMagnitude: magnitude,
		Source:         openWeatherName,
		Region:         region.Name,
		Status:         "active",
		Description:    description,
	}}, nil
}

// weatherMagnitude grades OpenWeatherMap condition codes into delay
// magnitude. Zero means not worth an incident.
func weatherMagnitude(conditionID, visibility int) int {
	switch {
	case conditionID == 781: // tornado
		return 4
	case conditionID >= 200 && conditionID < 300: // thunderstorm
		return 3
	case conditionID >= 602 && conditionID < 700: // heavy snow and worse
		return 4
	case conditionID >= 600 && conditionID < 602: // light/moderate snow
		return 2
	case conditionID >= 502 && conditionID < 600: // heavy rain
		return 3
	case conditionID == 741 || conditionID == 701: // fog, mist
		return 2
	case visibility > 0 && visibility < lowVisibilityMeters:
		return 2
	default:
		return 0
	}
}
