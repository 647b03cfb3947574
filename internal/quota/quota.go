package quota

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/model"
	"github.com/signalsfoundry/satellite-tracker/timectrl"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// MetricsRecorder receives quota usage updates. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	ObserveQuota(status model.QuotaStatus)
	IncQuotaRejected()
}

// State is the persisted portion of the tracker.
type State struct {
	DailyUsed   int
	HourlyUsed  int
	DailyStart  time.Time
	HourlyStart time.Time
}

// Store persists quota state across restarts.
type Store interface {
	// Load returns the stored state; ok is false when nothing is stored.
	Load(ctx context.Context) (state State, ok bool, err error)
	Save(ctx context.Context, state State) error
}

// Tracker counts upstream calls in hourly and daily windows and is the only
// gate in front of the upstream provider.
type Tracker struct {
	mu sync.Mutex

	dailyLimit  int
	hourlyLimit int
	state       State
	dirty       bool

	clock   timectrl.Clock
	store   Store
	metrics MetricsRecorder
	log     logging.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(c timectrl.Clock) Option {
	return func(t *Tracker) { t.clock = timectrl.OrReal(c) }
}

// WithStore enables persistence through Restore and Flush.
func WithStore(s Store) Option {
	return func(t *Tracker) { t.store = s }
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// New constructs a Tracker with both windows starting now.
func New(dailyLimit, hourlyLimit int, opts ...Option) *Tracker {
	t := &Tracker{
		dailyLimit:  dailyLimit,
		hourlyLimit: hourlyLimit,
		clock:       timectrl.RealClock{},
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	now := t.clock.Now()
	t.state.DailyStart = now
	t.state.HourlyStart = now
	return t
}

// TryReserve consumes one call from both windows if neither is exhausted.
// It returns false, without mutating anything, when either limit is reached.
func (t *Tracker) TryReserve() bool {
	t.mu.Lock()
	t.resetIfWindowElapsed(t.clock.Now())

	ok := t.state.DailyUsed < t.dailyLimit && t.state.HourlyUsed < t.hourlyLimit
	if ok {
		t.state.DailyUsed++
		t.state.HourlyUsed++
		t.dirty = true
	}
	status := t.statusLocked(t.clock.Now())
	t.mu.Unlock()

	if t.metrics != nil {
		if !ok {
			t.metrics.IncQuotaRejected()
		}
		t.metrics.ObserveQuota(status)
	}
	return ok
}

// resetIfWindowElapsed must be called with mu held.
func (t *Tracker) resetIfWindowElapsed(now time.Time) {
	switch {
	case now.Sub(t.state.DailyStart) >= dayWindow:
		t.state.DailyUsed = 0
		t.state.HourlyUsed = 0
		t.state.DailyStart = now
		t.state.HourlyStart = now
		t.dirty = true
	case now.Sub(t.state.HourlyStart) >= hourWindow:
		t.state.HourlyUsed = 0
		t.state.HourlyStart = now
		t.dirty = true
	}
}

// Status returns current usage without mutating the tracker. Windows that
// have already elapsed are reported as unused.
func (t *Tracker) Status() model.QuotaStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(t.clock.Now())
}

func (t *Tracker) statusLocked(now time.Time) model.QuotaStatus {
	s := model.QuotaStatus{
		DailyUsed:     t.state.DailyUsed,
		DailyLimit:    t.dailyLimit,
		HourlyUsed:    t.state.HourlyUsed,
		HourlyLimit:   t.hourlyLimit,
		DailyResetAt:  t.state.DailyStart.Add(dayWindow),
		HourlyResetAt: t.state.HourlyStart.Add(hourWindow),
	}
	if now.Sub(t.state.DailyStart) >= dayWindow {
		s.DailyUsed, s.HourlyUsed = 0, 0
		s.DailyResetAt = now.Add(dayWindow)
		s.HourlyResetAt = now.Add(hourWindow)
	} else if now.Sub(t.state.HourlyStart) >= hourWindow {
		s.HourlyUsed = 0
		s.HourlyResetAt = now.Add(hourWindow)
	}
	return s
}

// Headroom returns the fraction of the tighter window still available, in
// [0, 1].
func (t *Tracker) Headroom() float64 {
	s := t.Status()
	return minFloat(remaining(s.HourlyUsed, s.HourlyLimit), remaining(s.DailyUsed, s.DailyLimit))
}

func remaining(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	r := float64(limit-used) / float64(limit)
	if r < 0 {
		return 0
	}
	return r
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Restore loads persisted usage, clamped to the configured limits. Without a
// store it is a no-op.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	st, ok, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	t.mu.Lock()
	now := t.clock.Now()
	if st.DailyStart.After(now) || st.HourlyStart.After(now) {
		t.mu.Unlock()
		t.log.Warn(ctx, "ignoring quota state from the future",
			logging.Any("daily_start", st.DailyStart),
			logging.Any("hourly_start", st.HourlyStart),
		)
		return nil
	}
	st.DailyUsed = clampInt(st.DailyUsed, 0, t.dailyLimit)
	st.HourlyUsed = clampInt(st.HourlyUsed, 0, t.hourlyLimit)
	t.state = st
	t.resetIfWindowElapsed(now)
	t.dirty = false
	status := t.statusLocked(now)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ObserveQuota(status)
	}
	t.log.Info(ctx, "quota state restored",
		logging.Int("daily_used", status.DailyUsed),
		logging.Int("hourly_used", status.HourlyUsed),
	)
	return nil
}

// Flush persists state if it changed since the last flush.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	st := t.state
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.Save(ctx, st); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return err
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
