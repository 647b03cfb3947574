// Package tracker owns the live tracking state and the writer side of the
// position cache: update loops, on-demand refreshes, and the queries the
// client-facing layers need.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/signalsfoundry/satellite-tracker/catalog"
	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/internal/cache"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/quota"
	"github.com/signalsfoundry/satellite-tracker/internal/scheduler"
	"github.com/signalsfoundry/satellite-tracker/internal/subscription"
	"github.com/signalsfoundry/satellite-tracker/internal/upstream"
	"github.com/signalsfoundry/satellite-tracker/model"
	"github.com/signalsfoundry/satellite-tracker/timectrl"
)

// ErrUnknownObject is returned for ids that are not in the catalog.
var ErrUnknownObject = errors.New("unknown object")

// DefaultSearchLimit caps search results when callers pass no limit.
const DefaultSearchLimit = 10

// Broadcaster fans accepted cache mutations out to connected clients.
type Broadcaster interface {
	Publish(objectID int, pos model.Position)
	ClientCount() int
}

// MetricsRecorder receives tracker measurements. It embeds the scheduler's
// recorder so one collector serves both.
type MetricsRecorder interface {
	scheduler.MetricsRecorder
	IncEmitted(p model.Provenance)
	SetSelectedObjects(n int)
	ObserveLoop(loop string, d time.Duration)
	ObserveQuota(s model.QuotaStatus)
}

// Config holds loop cadences and sweep tuning.
type Config struct {
	RealInterval    time.Duration
	PredictInterval time.Duration
	SweepInterval   time.Duration
	FlushInterval   time.Duration

	// SweepBatch is the number of unselected objects refreshed per sweep.
	SweepBatch int
	// SweepReserve is the quota headroom fraction the sweep never dips into.
	SweepReserve float64
	// Concurrency bounds parallel upstream refreshes in the real loop.
	Concurrency int

	UpstreamTimeout time.Duration
}

// DefaultConfig returns the standard cadences.
func DefaultConfig() Config {
	return Config{
		RealInterval:    10 * time.Second,
		PredictInterval: 5 * time.Second,
		SweepInterval:   60 * time.Second,
		FlushInterval:   time.Minute,
		SweepBatch:      2,
		SweepReserve:    0.5,
		Concurrency:     4,
		UpstreamTimeout: upstream.DefaultTimeout,
	}
}

// Service is the single owner of tracking state. Everything else receives it
// by reference.
type Service struct {
	cfg      Config
	catalog  *catalog.Catalog
	cache    *cache.Cache
	quota    *quota.Tracker
	registry *subscription.Registry
	sched    *scheduler.Scheduler
	observer *core.Observer

	clock   timectrl.Clock
	metrics MetricsRecorder
	log     logging.Logger

	bmu         sync.RWMutex
	broadcaster Broadcaster

	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	lifecycleMu sync.Mutex
	cron        *cron.Cron
	stopped     bool
	inflight    sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithConfig replaces the default cadences. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		def := s.cfg
		if cfg.RealInterval > 0 {
			def.RealInterval = cfg.RealInterval
		}
		if cfg.PredictInterval > 0 {
			def.PredictInterval = cfg.PredictInterval
		}
		if cfg.SweepInterval > 0 {
			def.SweepInterval = cfg.SweepInterval
		}
		if cfg.FlushInterval > 0 {
			def.FlushInterval = cfg.FlushInterval
		}
		if cfg.SweepBatch > 0 {
			def.SweepBatch = cfg.SweepBatch
		}
		if cfg.SweepReserve > 0 {
			def.SweepReserve = cfg.SweepReserve
		}
		if cfg.Concurrency > 0 {
			def.Concurrency = cfg.Concurrency
		}
		if cfg.UpstreamTimeout > 0 {
			def.UpstreamTimeout = cfg.UpstreamTimeout
		}
		s.cfg = def
	}
}

// WithClock overrides the time source.
func WithClock(c timectrl.Clock) Option {
	return func(s *Service) { s.clock = timectrl.OrReal(c) }
}

// WithObserver enables look-angle annotation for every emitted position.
func WithObserver(o core.Observer) Option {
	return func(s *Service) { s.observer = &o }
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New wires the cache, registry and scheduler around the given catalog,
// quota tracker and upstream provider.
func New(cat *catalog.Catalog, q *quota.Tracker, provider upstream.Provider, opts ...Option) *Service {
	s := &Service{
		cfg:      DefaultConfig(),
		catalog:  cat,
		quota:    q,
		registry: subscription.NewRegistry(),
		clock:    timectrl.RealClock{},
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	objects := cat.All()
	ids := make([]int, 0, len(objects))
	for _, o := range objects {
		ids = append(ids, o.ID)
	}
	s.cache = cache.New(ids)

	schedOpts := []scheduler.Option{
		scheduler.WithClock(s.clock),
		scheduler.WithTimeout(s.cfg.UpstreamTimeout),
		scheduler.WithLogger(s.log.With(logging.String("component", "scheduler"))),
	}
	if s.observer != nil {
		schedOpts = append(schedOpts, scheduler.WithObserver(*s.observer))
	}
	if s.metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithMetricsRecorder(s.metrics))
	}
	s.sched = scheduler.New(cat, s.cache, q, provider, core.NewFallbackGenerator(objects), schedOpts...)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// SetBroadcaster attaches the hub. The hub is built after the service, so
// this breaks the construction cycle.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.bmu.Lock()
	s.broadcaster = b
	s.bmu.Unlock()
}

func (s *Service) getBroadcaster() Broadcaster {
	s.bmu.RLock()
	defer s.bmu.RUnlock()
	return s.broadcaster
}

// Catalog returns the static object catalog.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Cache exposes the position cache for read-only consumers.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Registry exposes the subscription registry.
func (s *Service) Registry() *subscription.Registry { return s.registry }

// Select records a client's selection of objectID.
func (s *Service) Select(clientID string, objectID int) (bool, error) {
	if !s.catalog.Has(objectID) {
		return false, fmt.Errorf("%w: %d", ErrUnknownObject, objectID)
	}
	added := s.registry.Select(clientID, objectID)
	s.observeSelected()
	return added, nil
}

// Unselect drops a client's selection of objectID.
func (s *Service) Unselect(clientID string, objectID int) (bool, error) {
	if !s.catalog.Has(objectID) {
		return false, fmt.Errorf("%w: %d", ErrUnknownObject, objectID)
	}
	removed := s.registry.Unselect(clientID, objectID)
	s.observeSelected()
	return removed, nil
}

// Release drops every selection held by clientID.
func (s *Service) Release(clientID string) []int {
	released := s.registry.OnDisconnect(clientID)
	s.observeSelected()
	return released
}

func (s *Service) observeSelected() {
	if s.metrics != nil {
		s.metrics.SetSelectedObjects(len(s.registry.SelectedIDs()))
	}
}

// RequestRefresh schedules a forced real fetch for objectID outside the loop
// cadence. It returns immediately; the result is broadcast like any other
// update.
func (s *Service) RequestRefresh(objectID int) {
	if !s.catalog.Has(objectID) {
		return
	}
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.lifecycleMu.Unlock()

	go func() {
		defer s.inflight.Done()
		s.refresh(s.ctx, objectID, true)
	}()
}

// Refresh runs one scheduler decision for objectID and commits the result.
// Concurrent callers for the same object share a single attempt.
func (s *Service) Refresh(ctx context.Context, objectID int, forceReal bool) model.Position {
	return s.refresh(ctx, objectID, forceReal)
}

// flightResult is what a shared refresh hands to every waiter.
type flightResult struct {
	pos     model.Position
	outcome scheduler.Outcome
}

// refresh keeps at most one scheduler attempt per object in flight. A forced
// caller that joined a flight answered from the cache runs again, so it still
// gets its upstream attempt.
func (s *Service) refresh(ctx context.Context, objectID int, forceReal bool) model.Position {
	key := strconv.Itoa(objectID)
	for {
		v, _, _ := s.flight.Do(key, func() (any, error) {
			r := s.sched.Resolve(ctx, objectID, forceReal)
			return flightResult{pos: s.commit(objectID, r.Position), outcome: r.Outcome}, nil
		})
		res := v.(flightResult)
		if !forceReal || res.outcome != scheduler.OutcomeCached || ctx.Err() != nil {
			return res.pos
		}
	}
}

// commit emits pos for objectID. When a newer position has already been shown
// (a prediction overtook a slow fetch) the latest real fix is re-projected to
// now so the fresher data still reaches clients in order.
func (s *Service) commit(objectID int, pos model.Position) model.Position {
	now := s.clock.Now()
	if s.cache.Emit(objectID, pos, now) {
		s.emitted(objectID, pos)
		return pos
	}

	var rebased model.Position
	_, ok := s.cache.Update(objectID, func(e cache.Entry) (cache.Entry, bool) {
		if e.LastReal == nil {
			return e, false
		}
		p := s.annotate(core.PredictAt(*e.LastReal, now))
		if e.LastEmitted != nil && p.Timestamp.Before(e.LastEmitted.Timestamp) {
			return e, false
		}
		e.LastEmitted = &p
		e.LastEmittedAt = now
		rebased = p
		return e, true
	})
	if ok {
		s.emitted(objectID, rebased)
		return rebased
	}
	if e, ok := s.cache.Get(objectID); ok && e.LastEmitted != nil {
		return *e.LastEmitted
	}
	return pos
}

func (s *Service) emitted(objectID int, pos model.Position) {
	if s.metrics != nil {
		s.metrics.IncEmitted(pos.Provenance)
	}
	if b := s.getBroadcaster(); b != nil {
		b.Publish(objectID, pos)
	}
}

func (s *Service) annotate(p model.Position) model.Position {
	if s.observer == nil {
		return p
	}
	return s.observer.Annotate(p)
}

// Snapshot returns every tracked object with its last emitted position,
// sorted by id.
func (s *Service) Snapshot() []model.ObjectView {
	items := s.cache.SnapshotAll()
	out := make([]model.ObjectView, 0, len(items))
	for _, it := range items {
		obj, ok := s.catalog.Get(it.ID)
		if !ok {
			continue
		}
		out = append(out, model.NewObjectView(obj, it.Entry.LastEmitted))
	}
	return out
}

// View returns one object with its last emitted position.
func (s *Service) View(objectID int) (model.ObjectView, error) {
	obj, ok := s.catalog.Get(objectID)
	if !ok {
		return model.ObjectView{}, fmt.Errorf("%w: %d", ErrUnknownObject, objectID)
	}
	e, _ := s.cache.Get(objectID)
	return model.NewObjectView(obj, e.LastEmitted), nil
}

// Search matches object names case-insensitively. Results with no emitted
// position get one best-effort refresh, which is quota-gated like any other.
func (s *Service) Search(ctx context.Context, term string, limit int) []model.ObjectView {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	matches := s.catalog.Search(term, limit)
	out := make([]model.ObjectView, 0, len(matches))
	for _, obj := range matches {
		if e, _ := s.cache.Get(obj.ID); e.LastEmitted != nil {
			out = append(out, model.NewObjectView(obj, e.LastEmitted))
			continue
		}
		pos := s.refresh(ctx, obj.ID, false)
		out = append(out, model.NewObjectView(obj, &pos))
	}
	return out
}

// Details returns catalog, cache and upstream metadata for objectID. At most
// one quota-gated metadata lookup is made.
func (s *Service) Details(ctx context.Context, objectID int) (model.ObjectDetails, error) {
	obj, ok := s.catalog.Get(objectID)
	if !ok {
		return model.ObjectDetails{}, fmt.Errorf("%w: %d", ErrUnknownObject, objectID)
	}
	e, _ := s.cache.Get(objectID)
	d := model.ObjectDetails{
		ObjectView:           model.NewObjectView(obj, e.LastEmitted),
		Priority:             obj.Priority,
		RealFetchIntervalSec: obj.RealFetchIntervalSec,
		Viewers:              s.registry.Count(objectID),
	}
	if e.HasReal() {
		t := e.LastRealFetch
		d.LastRealFetch = &t
	}
	if md, ok := s.sched.Metadata(ctx, objectID); ok {
		d.UpstreamName = md.Name
	}
	return d, nil
}

// QuotaStatus reports upstream usage.
func (s *Service) QuotaStatus() model.QuotaStatus {
	return s.quota.Status()
}

// Object looks up a catalog entry.
func (s *Service) Object(objectID int) (model.TrackedObject, bool) {
	return s.catalog.Get(objectID)
}

