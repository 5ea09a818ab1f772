package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
)

const mapboxBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Labeler turns a coordinate into a human-readable place name. An empty
// label with a nil error means the place is unknown.
type Labeler interface {
	Label(ctx context.Context, c models.Coordinate) (string, error)
}

// MapboxClient implements Labeler using the Mapbox reverse geocoding API.
type MapboxClient struct {
	token      string
	language   string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func NewMapboxClient(token, language string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *MapboxClient {
	return &MapboxClient{
		token:    token,
		language: language,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: mapboxBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *MapboxClient) Label(ctx context.Context, coord models.Coordinate) (string, error) {
	// Mapbox uses lon,lat order.
	u := fmt.Sprintf("%s/%.6f,%.6f.json", c.baseURL, coord.Longitude, coord.Latitude)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address,neighborhood,locality,place"},
	}
	if c.language != "" {
		params.Set("language", c.language)
	}

	label, err := c.doRequest(ctx, u+"?"+params.Encode())
	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		c.logger.Debug("reverse geocode failed", "lat", coord.Latitude, "lon", coord.Longitude, "error", err)
	case label == "":
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	}
	return label, err
}

func (c *MapboxClient) doRequest(ctx context.Context, fullURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(mapboxResp.Features) == 0 {
		return "", nil
	}
	return mapboxResp.Features[0].PlaceName, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	PlaceName string `json:"place_name"`
	Text      string `json:"text"`
}
