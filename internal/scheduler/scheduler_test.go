package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/satellite-tracker/catalog"
	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/internal/cache"
	"github.com/signalsfoundry/satellite-tracker/internal/quota"
	"github.com/signalsfoundry/satellite-tracker/internal/upstream"
	"github.com/signalsfoundry/satellite-tracker/model"
	"github.com/signalsfoundry/satellite-tracker/timectrl"
)

var start = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

const issID = 25544

type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	metaCalls int
	err       error
	pos       func(now time.Time) model.Position
	clock     timectrl.Clock
}

func (f *fakeProvider) Position(ctx context.Context, id int) (model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.Position{}, f.err
	}
	return f.pos(f.clock.Now()), nil
}

func (f *fakeProvider) Metadata(ctx context.Context, id int) (model.ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaCalls++
	if f.err != nil {
		return model.ObjectMetadata{}, f.err
	}
	return model.ObjectMetadata{Name: fmt.Sprintf("SAT %d", id), FetchedAt: f.clock.Now()}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	upstream map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: map[string]int{}, upstream: map[string]int{}}
}

func (m *fakeMetrics) ObserveUpstream(call, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstream[call+"/"+outcome]++
}

func (m *fakeMetrics) IncSchedulerOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

type harness struct {
	clock    *timectrl.FakeClock
	cache    *cache.Cache
	quota    *quota.Tracker
	provider *fakeProvider
	metrics  *fakeMetrics
	sched    *Scheduler
}

func newHarness(t *testing.T, daily, hourly int, opts ...Option) *harness {
	t.Helper()
	clock := timectrl.NewFakeClock(start)
	cat := catalog.Default()
	ids := make([]int, 0, cat.Len())
	for _, o := range cat.All() {
		ids = append(ids, o.ID)
	}
	c := cache.New(ids)
	q := quota.New(daily, hourly, quota.WithClock(clock))
	p := &fakeProvider{clock: clock, pos: func(now time.Time) model.Position {
		return model.Position{Latitude: 10, Longitude: 170, AltitudeKm: 420, Timestamp: now, Provenance: model.ProvenanceReal}
	}}
	m := newFakeMetrics()
	opts = append([]Option{WithClock(clock), WithMetricsRecorder(m), WithTimeout(time.Second)}, opts...)
	s := New(cat, c, q, p, core.NewFallbackGenerator(cat.All()), opts...)
	return &harness{clock: clock, cache: c, quota: q, provider: p, metrics: m, sched: s}
}

func TestRefreshFetchesRealWhenQuotaAvailable(t *testing.T) {
	h := newHarness(t, 1000, 100)

	r := h.sched.Resolve(context.Background(), issID, true)
	if r.Outcome != OutcomeReal || r.Position.Provenance != model.ProvenanceReal {
		t.Fatalf("Resolve = %+v, want real", r)
	}
	e, ok := h.cache.Get(issID)
	if !ok || !e.HasReal() {
		t.Fatalf("real fix not cached: %+v", e)
	}
	if !e.LastRealFetch.Equal(start) {
		t.Fatalf("LastRealFetch mismatch: got %v, want %v", e.LastRealFetch, start)
	}
	if got := h.quota.Status().DailyUsed; got != 1 {
		t.Fatalf("DailyUsed mismatch: got %d, want 1", got)
	}
}

func TestRefreshUsesFreshCacheWithoutQuota(t *testing.T) {
	h := newHarness(t, 1000, 100)
	h.sched.Refresh(context.Background(), issID, true)

	h.clock.Advance(10 * time.Second) // ISS interval is 30s
	r := h.sched.Resolve(context.Background(), issID, false)
	if r.Outcome != OutcomeCached || r.Position.Provenance != model.ProvenancePredicted {
		t.Fatalf("Resolve = %+v, want cached prediction", r)
	}
	if h.provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", h.provider.callCount())
	}
	if got := h.quota.Status().DailyUsed; got != 1 {
		t.Fatalf("DailyUsed mismatch: got %d, want 1", got)
	}
	if want := start.Add(10 * time.Second); !r.Position.Timestamp.Equal(want) {
		t.Fatalf("Timestamp mismatch: got %v, want %v", r.Position.Timestamp, want)
	}
}

func TestRefreshStaleCacheFetchesAgain(t *testing.T) {
	h := newHarness(t, 1000, 100)
	h.sched.Refresh(context.Background(), issID, true)

	h.clock.Advance(31 * time.Second)
	r := h.sched.Resolve(context.Background(), issID, false)
	if r.Outcome != OutcomeReal {
		t.Fatalf("Outcome = %q, want real for a stale fix", r.Outcome)
	}
	if h.provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", h.provider.callCount())
	}
}

func TestRefreshQuotaExhaustedDoesNotIncrement(t *testing.T) {
	h := newHarness(t, 1000, 1000)
	for i := 0; i < 1000; i++ {
		if !h.quota.TryReserve() {
			t.Fatalf("setup reservation %d failed", i)
		}
	}

	for _, id := range []int{issID, 20580} {
		pos := h.sched.Refresh(context.Background(), id, true)
		if pos.Provenance != model.ProvenancePredicted && pos.Provenance != model.ProvenanceMock {
			t.Fatalf("Refresh provenance = %q, want predicted or mock", pos.Provenance)
		}
	}
	if got := h.quota.Status().DailyUsed; got != 1000 {
		t.Fatalf("DailyUsed = %d, want 1000", got)
	}
	if h.provider.callCount() != 0 {
		t.Fatalf("provider called %d times with exhausted quota", h.provider.callCount())
	}
	if h.metrics.outcomes[string(OutcomeNoHistory)] != 2 {
		t.Fatalf("no_history outcomes = %d, want 2", h.metrics.outcomes[string(OutcomeNoHistory)])
	}
}

func TestRefreshQuotaExhaustedKeepsLastReal(t *testing.T) {
	h := newHarness(t, 1000, 1)
	h.sched.Refresh(context.Background(), issID, true)
	before, _ := h.cache.Get(issID)

	h.clock.Advance(45 * time.Second)
	r := h.sched.Resolve(context.Background(), issID, true)
	if r.Outcome != OutcomeQuotaExhausted || r.Position.Provenance != model.ProvenancePredicted {
		t.Fatalf("Resolve = %+v, want quota_exhausted prediction", r)
	}

	after, _ := h.cache.Get(issID)
	if !after.LastReal.Equal(*before.LastReal) || !after.LastRealFetch.Equal(before.LastRealFetch) {
		t.Fatalf("lastRealPosition changed without a successful fetch")
	}
}

func TestRefreshUpstreamFailuresFallThrough(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{fmt.Errorf("%w: slow", upstream.ErrUpstreamTimeout), OutcomeUpstreamTimeout},
		{fmt.Errorf("%w: 502", upstream.ErrUpstreamUnavailable), OutcomeUpstreamUnavailable},
		{fmt.Errorf("%w: lat 123", upstream.ErrInvalidPositionData), OutcomeInvalidPosition},
	}
	for _, tc := range cases {
		t.Run(string(tc.want), func(t *testing.T) {
			h := newHarness(t, 1000, 100)
			h.provider.err = tc.err

			r := h.sched.Resolve(context.Background(), issID, true)
			if r.Outcome != OutcomeNoHistory || r.Cause != tc.want {
				t.Fatalf("Resolve = %+v, want no_history caused by %q", r, tc.want)
			}
			if r.Position.Provenance != model.ProvenanceMock {
				t.Fatalf("Provenance = %q, want mock", r.Position.Provenance)
			}
			if _, ok := h.cache.Get(issID); ok {
				t.Fatalf("failed fetch wrote to the cache")
			}
			// Quota was still consumed by the attempt.
			if got := h.quota.Status().DailyUsed; got != 1 {
				t.Fatalf("DailyUsed = %d, want 1", got)
			}

			// With a prior real fix the same failure yields a prediction.
			h.provider.err = nil
			h.sched.Refresh(context.Background(), issID, true)
			h.provider.err = tc.err
			h.clock.Advance(5 * time.Second)
			r = h.sched.Resolve(context.Background(), issID, true)
			if r.Outcome != tc.want || r.Position.Provenance != model.ProvenancePredicted {
				t.Fatalf("Resolve with history = %+v, want %q prediction", r, tc.want)
			}
		})
	}
}

func TestRefreshClampsFutureProviderTimestamp(t *testing.T) {
	h := newHarness(t, 1000, 100)
	h.provider.pos = func(now time.Time) model.Position {
		return model.Position{Latitude: 1, Longitude: 1, AltitudeKm: 500, Timestamp: now.Add(time.Hour)}
	}

	pos := h.sched.Refresh(context.Background(), issID, true)
	if !pos.Timestamp.Equal(start) {
		t.Fatalf("Timestamp = %v, want clamped to %v", pos.Timestamp, start)
	}
}

func TestRefreshAnnotatesLookAngles(t *testing.T) {
	h := newHarness(t, 1000, 100, WithObserver(core.Observer{LatitudeDeg: 51.5, LongitudeDeg: -0.1}))

	pos := h.sched.Refresh(context.Background(), issID, true)
	if !pos.HasLookAngles() || pos.RangeKm == nil {
		t.Fatalf("position not annotated: %+v", pos)
	}
}

func TestUpstreamCallIsTraced(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := newHarness(t, 1000, 100, WithTracer(tp.Tracer("test")))

	h.sched.Refresh(context.Background(), issID, true)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "upstream.position" {
		t.Fatalf("span name = %q, want upstream.position", spans[0].Name())
	}
	if h.metrics.upstream["position/real"] != 1 {
		t.Fatalf("upstream metric = %v", h.metrics.upstream)
	}
}

func TestMetadataLookupIsCachedAndQuotaGated(t *testing.T) {
	h := newHarness(t, 1000, 1)

	md, ok := h.sched.Metadata(context.Background(), issID)
	if !ok || md.Name != "SAT 25544" {
		t.Fatalf("Metadata = %+v, %v", md, ok)
	}
	if _, ok := h.sched.Metadata(context.Background(), issID); !ok {
		t.Fatalf("cached Metadata not returned")
	}
	if h.provider.metaCalls != 1 {
		t.Fatalf("metadata calls = %d, want 1", h.provider.metaCalls)
	}

	// Hourly quota is now spent.
	if _, ok := h.sched.Metadata(context.Background(), 20580); ok {
		t.Fatalf("Metadata succeeded without quota")
	}
	if h.provider.metaCalls != 1 {
		t.Fatalf("metadata calls = %d, want 1", h.provider.metaCalls)
	}
}

func TestRefreshWithCancelledContextSpendsNoQuota(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"positions":[{"satlatitude":1,"satlongitude":2,"sataltitude":410,"timestamp":%d}]}`, start.Unix())
	}))
	defer srv.Close()

	clock := timectrl.NewFakeClock(start)
	cat := catalog.Default()
	ids := make([]int, 0, cat.Len())
	for _, o := range cat.All() {
		ids = append(ids, o.ID)
	}
	q := quota.New(1000, 100, quota.WithClock(clock))
	m := newFakeMetrics()
	client := upstream.NewClient(upstream.Config{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second})
	s := New(cat, cache.New(ids), q, client, core.NewFallbackGenerator(cat.All()),
		WithClock(clock), WithMetricsRecorder(m))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		r := s.Resolve(ctx, issID, true)
		if r.Outcome != OutcomeNoHistory || r.Cause != OutcomeCancelled {
			t.Fatalf("Resolve = %+v, want no_history caused by cancellation", r)
		}
		if r.Position.Provenance != model.ProvenanceMock {
			t.Fatalf("provenance mismatch: got %q, want %q", r.Position.Provenance, model.ProvenanceMock)
		}
	}
	if _, ok := s.Metadata(ctx, issID); ok {
		t.Fatalf("Metadata succeeded on a cancelled context")
	}

	if got := hits.Load(); got != 0 {
		t.Fatalf("upstream requests mismatch: got %d, want 0", got)
	}
	st := q.Status()
	if st.HourlyUsed != 0 || st.DailyUsed != 0 {
		t.Fatalf("quota mismatch: got %+v, want nothing used", st)
	}
}
