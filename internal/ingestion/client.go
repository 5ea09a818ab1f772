package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/wire"
)

// RemoteSource fetches the current entity lists from the upstream API.
// Failures are typed with apperr and never retried here.
type RemoteSource interface {
	FetchShelters(ctx context.Context) ([]models.Shelter, error)
	FetchRiskZones(ctx context.Context) ([]models.RiskZone, error)
	FetchFloodedStreets(ctx context.Context) ([]models.FloodedStreet, error)
	SubmitReport(ctx context.Context, r models.Report) (models.ReportReceipt, error)
}

const (
	pathShelters       = "/shelters"
	pathRiskZones      = "/risk-zones"
	pathFloodedStreets = "/flooded-streets"
	pathReports        = "/reports"

	maxErrorBody = 4 << 10
)

// Client implements RemoteSource over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient builds a client owning its own http.Client.
func NewClient(baseURL, token string, timeout time.Duration, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *Client) FetchShelters(ctx context.Context) ([]models.Shelter, error) {
	return getList[wire.Shelter, models.Shelter](ctx, c, pathShelters)
}

func (c *Client) FetchRiskZones(ctx context.Context) ([]models.RiskZone, error) {
	return getList[wire.RiskZone, models.RiskZone](ctx, c, pathRiskZones)
}

func (c *Client) FetchFloodedStreets(ctx context.Context) ([]models.FloodedStreet, error) {
	return getList[wire.FloodedStreet, models.FloodedStreet](ctx, c, pathFloodedStreets)
}

func (c *Client) SubmitReport(ctx context.Context, r models.Report) (models.ReportReceipt, error) {
	body, err := json.Marshal(wire.FromReport(r))
	if err != nil {
		return models.ReportReceipt{}, fmt.Errorf("encode report: %w", err)
	}

	env, err := do[wire.ReportAck](ctx, c, http.MethodPost, pathReports, body)
	if err != nil {
		return models.ReportReceipt{}, err
	}

	id := env.Data.ID
	if id == "" {
		id = r.ID
	}
	return models.ReportReceipt{ID: id, Message: env.Message, AcceptedAt: c.clock.Now()}, nil
}

func getList[W interface{ ToModel() (M, error) }, M any](ctx context.Context, c *Client, path string) ([]M, error) {
	env, err := do[[]W](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	items, err := wire.MapAll[W, M](env.Data)
	if err != nil {
		c.observe(path, err)
		return nil, err
	}
	c.observe(path, nil)
	return items, nil
}

// do performs one round trip and decodes the envelope. An envelope with
// success=false is reported as a ServerError.
func do[T any](ctx context.Context, c *Client, method, path string, body []byte) (wire.Envelope[T], error) {
	start := c.clock.Now()
	env, err := roundTrip[T](ctx, c, method, path, body)
	c.metrics.RemoteRequestDuration.WithLabelValues(path).Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.observe(path, err)
		c.logger.Debug("remote request failed", "method", method, "path", path, "error", err)
	} else if method != http.MethodGet {
		c.observe(path, nil)
	}
	return env, err
}

func roundTrip[T any](ctx context.Context, c *Client, method, path string, body []byte) (wire.Envelope[T], error) {
	var env wire.Envelope[T]

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return env, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return env, apperr.FromTransport(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return env, apperr.FromStatus(resp.StatusCode, errorMessage(msg, resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return env, apperr.FromTransport(fmt.Errorf("read %s: %w", path, err))
		}
		return env, &apperr.ParseError{What: path + " response", Err: err}
	}
	if !env.Success {
		return env, &apperr.ServerError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return env, nil
}

func (c *Client) observe(path string, err error) {
	c.metrics.RemoteRequests.WithLabelValues(path, outcome(err)).Inc()
}

func outcome(err error) string {
	var (
		ne *apperr.NetworkError
		se *apperr.ServerError
		ce *apperr.ClientError
		pe *apperr.ParseError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &se):
		return "server"
	case errors.As(err, &ce):
		return "client"
	case errors.As(err, &pe):
		return "parse"
	default:
		return "other"
	}
}

// errorMessage prefers the envelope message of an error body.
func errorMessage(body []byte, status string) string {
	var env wire.Envelope[json.RawMessage]
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		return env.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}
