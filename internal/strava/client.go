// Package strava talks to the Strava REST API and OAuth endpoints.
package strava

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/logging"
	"example.com/runhub/internal/observability"
)

// DefaultBaseURL is the public v3 API root.
const DefaultBaseURL = "https://www.strava.com/api/v3"

const maxErrorBody = 4 << 10

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava api: status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig tunes the REST client.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// Client fetches athlete activities. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewClient constructs a Client with a circuit breaker and client-side throttle.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	logger := logging.With("strava")
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "strava",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetBreakerState(int(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    breaker,
	}
}

// ListActivities fetches one page of the athlete's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, accessToken string, q domain.ActivityQuery) ([]domain.RemoteActivity, error) {
	params := url.Values{}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.After != nil {
		params.Set("after", strconv.FormatInt(q.After.Unix(), 10))
	}

	body, err := c.get(ctx, accessToken, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}
	return DecodeActivities(body)
}

func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			observability.RecordUpstreamRequest("error")
			return nil, err
		}
		defer resp.Body.Close()
		observability.RecordUpstreamRequest(strconv.Itoa(resp.StatusCode))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return io.ReadAll(resp.Body)
	})
}

type wireActivity struct {
	ID                 stdjson.Number     `json:"id"`
	Type               string             `json:"type"`
	Name               string             `json:"name"`
	Distance           float64            `json:"distance"`
	MovingTime         int                `json:"moving_time"`
	ElapsedTime        int                `json:"elapsed_time"`
	TotalElevationGain float64            `json:"total_elevation_gain"`
	StartDate          string             `json:"start_date"`
	Map                *wireMap           `json:"map"`
	StartLatLng        stdjson.RawMessage `json:"start_latlng"`
	EndLatLng          stdjson.RawMessage `json:"end_latlng"`
}

type wireMap struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// DecodeActivities converts a JSON array of upstream activities into normalised records.
// Each record keeps its original bytes as the raw payload.
func DecodeActivities(body []byte) ([]domain.RemoteActivity, error) {
	var items []stdjson.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode activity list: %w", err)
	}

	out := make([]domain.RemoteActivity, 0, len(items))
	for _, item := range items {
		activity, err := decodeActivity(item)
		if err != nil {
			return nil, err
		}
		out = append(out, activity)
	}
	return out, nil
}

func decodeActivity(raw stdjson.RawMessage) (domain.RemoteActivity, error) {
	var w wireActivity
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.RemoteActivity{}, fmt.Errorf("decode activity: %w", err)
	}

	id, err := domain.ParseActivityID(w.ID.String())
	if err != nil {
		return domain.RemoteActivity{}, err
	}

	startedAt, err := time.Parse(domain.StartDateLayout, w.StartDate)
	if err != nil {
		return domain.RemoteActivity{}, fmt.Errorf("activity %s: invalid start_date %q: %w", id, w.StartDate, err)
	}

	activity := domain.RemoteActivity{
		ID:                  id,
		Kind:                w.Type,
		Name:                w.Name,
		DistanceMeters:      w.Distance,
		MovingTimeSeconds:   w.MovingTime,
		ElapsedTimeSeconds:  w.ElapsedTime,
		ElevationGainMeters: w.TotalElevationGain,
		StartedAt:           startedAt.UTC(),
		StartLatLng:         latLng(w.StartLatLng),
		EndLatLng:           latLng(w.EndLatLng),
		Raw:                 append(stdjson.RawMessage(nil), raw...),
	}
	if w.Map != nil {
		activity.Polyline = w.Map.SummaryPolyline
	}
	return activity, nil
}

func latLng(raw stdjson.RawMessage) string {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" || value == "[]" {
		return ""
	}
	return value
}
