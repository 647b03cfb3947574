package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/model"
)

var (
	// ErrUpstreamTimeout indicates the provider did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable covers transport failures and non-success responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidPositionData indicates a malformed or out-of-range position.
	ErrInvalidPositionData = errors.New("invalid position data")
)

// Provider is the upstream position source used by the scheduler.
type Provider interface {
	Position(ctx context.Context, objectID int) (model.Position, error)
	Metadata(ctx context.Context, objectID int) (model.ObjectMetadata, error)
}

// Config describes how to reach the provider.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Observer core.Observer
}

// DefaultTimeout bounds every upstream call unless overridden.
const DefaultTimeout = 10 * time.Second

// Client talks to an N2YO-compatible REST API.
type Client struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	observer core.Observer
	http     *http.Client
	now      func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithNow overrides the clock used for metadata timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a Client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		observer: cfg.Observer,
		http:     &http.Client{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type positionsResponse struct {
	Info struct {
		SatName string `json:"satname"`
		SatID   int    `json:"satid"`
	} `json:"info"`
	Positions []struct {
		Latitude  float64  `json:"satlatitude"`
		Longitude float64  `json:"satlongitude"`
		Altitude  float64  `json:"sataltitude"`
		Azimuth   *float64 `json:"azimuth"`
		Elevation *float64 `json:"elevation"`
		Timestamp int64    `json:"timestamp"`
	} `json:"positions"`
	Error string `json:"error"`
}

type tleResponse struct {
	Info struct {
		SatName string `json:"satname"`
		SatID   int    `json:"satid"`
	} `json:"info"`
	Error string `json:"error"`
}

// Position fetches the current position of objectID. The result is
// range-checked; bad data is reported as ErrInvalidPositionData and never
// returned.
func (c *Client) Position(ctx context.Context, objectID int) (model.Position, error) {
	url := fmt.Sprintf("%s/positions/%d/%s/%s/%s/1/&apiKey=%s",
		c.baseURL, objectID,
		formatFloat(c.observer.LatitudeDeg),
		formatFloat(c.observer.LongitudeDeg),
		formatFloat(c.observer.AltitudeKm*1000), // provider wants metres
		c.apiKey,
	)

	var payload positionsResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return model.Position{}, err
	}
	if payload.Error != "" {
		return model.Position{}, fmt.Errorf("%w: provider error: %s", ErrUpstreamUnavailable, payload.Error)
	}
	if len(payload.Positions) == 0 {
		return model.Position{}, fmt.Errorf("%w: no positions for %d", ErrInvalidPositionData, objectID)
	}

	raw := payload.Positions[0]
	pos := model.Position{
		Latitude:   raw.Latitude,
		Longitude:  raw.Longitude,
		AltitudeKm: raw.Altitude,
		Azimuth:    raw.Azimuth,
		Elevation:  raw.Elevation,
		Timestamp:  time.Unix(raw.Timestamp, 0).UTC(),
		Provenance: model.ProvenanceReal,
	}
	if err := ValidatePosition(pos); err != nil {
		return model.Position{}, err
	}
	return pos, nil
}

// Metadata looks up the provider's display name for objectID.
func (c *Client) Metadata(ctx context.Context, objectID int) (model.ObjectMetadata, error) {
	url := fmt.Sprintf("%s/tle/%d&apiKey=%s", c.baseURL, objectID, c.apiKey)

	var payload tleResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return model.ObjectMetadata{}, err
	}
	if payload.Error != "" {
		return model.ObjectMetadata{}, fmt.Errorf("%w: provider error: %s", ErrUpstreamUnavailable, payload.Error)
	}
	name := strings.TrimSpace(payload.Info.SatName)
	if name == "" {
		return model.ObjectMetadata{}, fmt.Errorf("%w: empty name for %d", ErrInvalidPositionData, objectID)
	}
	return model.ObjectMetadata{Name: name, FetchedAt: c.now()}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: unexpected status %s", ErrUpstreamUnavailable, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classifyTransportError(ctx, err)
		}
		return fmt.Errorf("%w: decode payload: %v", ErrInvalidPositionData, err)
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// ValidatePosition range-checks latitude, longitude and altitude.
func ValidatePosition(p model.Position) error {
	switch {
	case isBad(p.Latitude) || p.Latitude < -90 || p.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidPositionData, p.Latitude)
	case isBad(p.Longitude) || p.Longitude < -180 || p.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidPositionData, p.Longitude)
	case isBad(p.AltitudeKm) || p.AltitudeKm <= 0:
		return fmt.Errorf("%w: altitude %v", ErrInvalidPositionData, p.AltitudeKm)
	case p.Timestamp.IsZero() || p.Timestamp.Unix() <= 0:
		return fmt.Errorf("%w: missing timestamp", ErrInvalidPositionData)
	}
	return nil
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
