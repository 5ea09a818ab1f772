package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testToken = "test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", testToken, 2*time.Second, clockwork.NewRealClock(),
		observability.NewMetricsForTesting(), testLogger())
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_FetchRiskZones_MapsAreaGeometry(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/risk-zones", r.URL.Path)
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"message": "ok",
			"data": []map[string]any{{
				"id":        "z1",
				"name":      "Zona Norte",
				"riskLevel": "alto",
				"area": []map[string]float64{
					{"lat": 19.45, "lng": -99.15},
					{"lat": 19.45, "lng": -99.14},
					{"lat": 19.44, "lng": -99.14},
				},
			}},
		})
	})

	zones, err := c.FetchRiskZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "z1", zones[0].ID)
	assert.Equal(t, models.SeverityHigh, zones[0].Severity)
	assert.Equal(t, models.Coordinate{Latitude: 19.45, Longitude: -99.15}, zones[0].Polygon[0])
}

func TestClient_FetchShelters(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shelters", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{{
				"id": "s1", "name": "Refugio Centro", "capacity": 120, "occupancy": 20,
				"isOpen": true, "lat": 19.43, "lng": -99.13,
			}},
		})
	})

	shelters, err := c.FetchShelters(context.Background())
	require.NoError(t, err)
	require.Len(t, shelters, 1)
	assert.Equal(t, 100, shelters[0].AvailableSpaces())
	assert.True(t, shelters[0].IsOpen)
}

func TestClient_FetchFloodedStreets_ShortPathIsParseError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data":    []map[string]any{{"id": "f1", "path": []map[string]float64{{"lat": 1, "lng": 2}}}},
		})
	})

	_, err := c.FetchFloodedStreets(context.Background())
	var pe *apperr.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `{"success":false,"message":"upstream down"}`,
			check: func(t *testing.T, err error) {
				var se *apperr.ServerError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusBadGateway, se.StatusCode)
				assert.Equal(t, "upstream down", se.Message)
			},
		},
		{
			name:   "client error",
			status: http.StatusUnauthorized,
			body:   `unauthorized`,
			check: func(t *testing.T, err error) {
				var ce *apperr.ClientError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, "unauthorized", ce.Message)
			},
		},
		{
			name:   "success false",
			status: http.StatusOK,
			body:   `{"success":false,"message":"maintenance","data":[]}`,
			check: func(t *testing.T, err error) {
				var se *apperr.ServerError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, "maintenance", se.Message)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"success":tru`,
			check: func(t *testing.T, err error) {
				var pe *apperr.ParseError
				assert.True(t, errors.As(err, &pe))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.FetchShelters(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_ConnectionRefusedIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second, clockwork.NewRealClock(), observability.NewMetricsForTesting(), testLogger())
	_, err := c.FetchShelters(context.Background())

	var ne *apperr.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, apperr.NetworkNoConnection, ne.Reason)
}

func TestClient_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "", 50*time.Millisecond, clockwork.NewRealClock(), observability.NewMetricsForTesting(), testLogger())
	_, err := c.FetchRiskZones(context.Background())

	var ne *apperr.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, apperr.NetworkTimeout, ne.Reason)
}

func TestClient_SubmitReport(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(created.Add(time.Second))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reports", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r-1", body["id"])
		assert.Equal(t, "flood", body["category"])
		assert.Equal(t, "2025-03-01T12:00:00Z", body["createdAt"])

		writeJSON(t, w, http.StatusCreated, map[string]any{
			"success": true, "message": "received", "data": map[string]string{"id": "srv-9"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testToken, time.Second, clock, observability.NewMetricsForTesting(), testLogger())
	receipt, err := c.SubmitReport(context.Background(), models.Report{
		ID:         "r-1",
		Category:   "flood",
		Coordinate: models.Coordinate{Latitude: 1, Longitude: 2},
		CreatedAt:  created,
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-9", receipt.ID)
	assert.Equal(t, "received", receipt.Message)
	assert.Equal(t, clock.Now(), receipt.AcceptedAt)
}
