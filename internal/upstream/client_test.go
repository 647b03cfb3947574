package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/model"
)

const issPositionsJSON = `{
  "info": {"satname": "SPACE STATION", "satid": 25544, "transactionscount": 5},
  "positions": [{
    "satlatitude": -39.90318514,
    "satlongitude": 158.28897924,
    "sataltitude": 417.85,
    "azimuth": 254.31,
    "elevation": -69.09,
    "ra": 44.77078138,
    "dec": -43.99279118,
    "timestamp": 1521354418,
    "eclipsed": false
  }]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:  srv.URL + "/rest/v1/satellite/",
		APIKey:   "KEY",
		Timeout:  timeout,
		Observer: core.Observer{LatitudeDeg: 51.5, LongitudeDeg: -0.1, AltitudeKm: 0.035},
	})
}

func TestPositionDecodesProviderPayload(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(issPositionsJSON))
	}, time.Second)

	pos, err := c.Position(context.Background(), 25544)
	if err != nil {
		t.Fatalf("Position error: %v", err)
	}

	wantPath := "/rest/v1/satellite/positions/25544/51.5/-0.1/35/1/&apiKey=KEY"
	if gotPath != wantPath {
		t.Fatalf("path mismatch: got %q, want %q", gotPath, wantPath)
	}
	if pos.Provenance != model.ProvenanceReal {
		t.Fatalf("Provenance mismatch: got %q, want real", pos.Provenance)
	}
	if pos.AltitudeKm != 417.85 || pos.Latitude != -39.90318514 {
		t.Fatalf("position mismatch: %+v", pos)
	}
	if pos.Azimuth == nil || *pos.Azimuth != 254.31 {
		t.Fatalf("Azimuth mismatch: %v", pos.Azimuth)
	}
	if want := time.Unix(1521354418, 0).UTC(); !pos.Timestamp.Equal(want) {
		t.Fatalf("Timestamp mismatch: got %v, want %v", pos.Timestamp, want)
	}
}

func TestPositionRejectsOutOfRangeData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Replace(issPositionsJSON, "-39.90318514", "123.4", 1)))
	}, time.Second)

	_, err := c.Position(context.Background(), 25544)
	if !errors.Is(err, ErrInvalidPositionData) {
		t.Fatalf("error = %v, want ErrInvalidPositionData", err)
	}
}

func TestPositionErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			want: ErrUpstreamUnavailable,
		},
		{
			name: "provider error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":"Invalid API Key!"}`))
			},
			want: ErrUpstreamUnavailable,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: ErrInvalidPositionData,
		},
		{
			name: "empty positions",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"info":{"satid":1},"positions":[]}`))
			},
			want: ErrInvalidPositionData,
		},
		{
			name: "slow provider",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: ErrUpstreamTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler, 50*time.Millisecond)
			_, err := c.Position(context.Background(), 1)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPositionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.Position(context.Background(), 1)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestMetadata(t *testing.T) {
	fixed := time.Date(2025, time.April, 2, 3, 4, 5, 0, time.UTC)
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"info":{"satid":25544,"satname":"SPACE STATION","transactionscount":4},"tle":"1 25544U ..."}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "KEY"}, WithNow(func() time.Time { return fixed }))
	md, err := c.Metadata(context.Background(), 25544)
	if err != nil {
		t.Fatalf("Metadata error: %v", err)
	}
	if gotPath != "/tle/25544&apiKey=KEY" {
		t.Fatalf("path mismatch: got %q", gotPath)
	}
	if md.Name != "SPACE STATION" || !md.FetchedAt.Equal(fixed) {
		t.Fatalf("metadata mismatch: %+v", md)
	}
}

func TestValidatePosition(t *testing.T) {
	ok := model.Position{Latitude: 1, Longitude: 2, AltitudeKm: 400, Timestamp: time.Unix(100, 0)}
	if err := ValidatePosition(ok); err != nil {
		t.Fatalf("ValidatePosition(valid) = %v", err)
	}

	bad := []model.Position{
		{Latitude: 91, Longitude: 0, AltitudeKm: 400, Timestamp: time.Unix(100, 0)},
		{Latitude: 0, Longitude: -181, AltitudeKm: 400, Timestamp: time.Unix(100, 0)},
		{Latitude: 0, Longitude: 0, AltitudeKm: 0, Timestamp: time.Unix(100, 0)},
		{Latitude: 0, Longitude: 0, AltitudeKm: 400},
	}
	for i, p := range bad {
		if err := ValidatePosition(p); !errors.Is(err, ErrInvalidPositionData) {
			t.Fatalf("case %d: error = %v, want ErrInvalidPositionData", i, err)
		}
	}
}
