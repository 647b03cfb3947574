package scheduler

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/internal/cache"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/upstream"
	"github.com/signalsfoundry/satellite-tracker/model"
	"github.com/signalsfoundry/satellite-tracker/timectrl"
)

// Outcome names how a refresh was resolved. Outcomes are logged and counted,
// never returned as errors.
type Outcome string

const (
	OutcomeCached              Outcome = "cached"
	OutcomeReal                Outcome = "real"
	OutcomeQuotaExhausted      Outcome = "quota_exhausted"
	OutcomeUpstreamTimeout     Outcome = "upstream_timeout"
	OutcomeUpstreamUnavailable Outcome = "upstream_unavailable"
	OutcomeInvalidPosition     Outcome = "invalid_position"
	OutcomeNoHistory           Outcome = "no_history"
	// OutcomeCancelled means the caller gave up before any request was
	// issued. No quota is spent.
	OutcomeCancelled Outcome = "cancelled"
)

const (
	callPosition = "position"
	callMetadata = "metadata"
)

// Objects looks up catalog entries.
type Objects interface {
	Get(id int) (model.TrackedObject, bool)
}

// Quota gates upstream calls.
type Quota interface {
	TryReserve() bool
}

// MetricsRecorder receives scheduler measurements.
type MetricsRecorder interface {
	ObserveUpstream(call, outcome string, d time.Duration)
	IncSchedulerOutcome(outcome string)
}

// Result is the detailed answer to a refresh.
type Result struct {
	Position model.Position
	Outcome  Outcome
	// Cause is the failure that forced a degraded answer, if any. For
	// OutcomeNoHistory it records why the upstream was not usable.
	Cause Outcome
}

// Scheduler decides per object whether to call the upstream provider,
// predict from the cached real fix, or synthesize a fallback position.
type Scheduler struct {
	objects  Objects
	cache    *cache.Cache
	quota    Quota
	provider upstream.Provider
	fallback *core.FallbackGenerator
	observer *core.Observer

	clock   timectrl.Clock
	timeout time.Duration
	metrics MetricsRecorder
	log     logging.Logger
	tracer  trace.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c timectrl.Clock) Option {
	return func(s *Scheduler) { s.clock = timectrl.OrReal(c) }
}

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithObserver annotates every returned position with look angles.
func WithObserver(o core.Observer) Option {
	return func(s *Scheduler) { s.observer = &o }
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracer overrides the tracer used for upstream spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a Scheduler.
func New(objects Objects, c *cache.Cache, q Quota, p upstream.Provider, fb *core.FallbackGenerator, opts ...Option) *Scheduler {
	s := &Scheduler{
		objects:  objects,
		cache:    c,
		quota:    q,
		provider: p,
		fallback: fb,
		clock:    timectrl.RealClock{},
		timeout:  upstream.DefaultTimeout,
		log:      logging.Noop(),
		tracer:   otel.Tracer("github.com/signalsfoundry/satellite-tracker/internal/scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh always returns a usable position for objectID; failures only show
// up as a degraded provenance.
func (s *Scheduler) Refresh(ctx context.Context, objectID int, forceReal bool) model.Position {
	return s.Resolve(ctx, objectID, forceReal).Position
}

// Resolve is Refresh with the outcome exposed.
//
// Decision order:
//  1. not forced and the cached real fix is younger than the object's
//     interval: predict from it, no quota used;
//  2. ctx is still live and a quota reservation succeeds: one upstream
//     call; success stores the fix in the cache and returns it;
//  3. otherwise predict from any prior real fix, or fall back to a mock.
func (s *Scheduler) Resolve(ctx context.Context, objectID int, forceReal bool) Result {
	now := s.clock.Now()
	entry, _ := s.cache.Get(objectID)

	if !forceReal && entry.HasReal() {
		interval := s.interval(objectID)
		if age := entry.RealAge(now); age < interval {
			return s.finish(ctx, objectID, Result{
				Position: core.Predict(*entry.LastReal, age.Seconds()),
				Outcome:  OutcomeCached,
			})
		}
	}

	var cause Outcome
	switch {
	case ctx.Err() != nil:
		cause = OutcomeCancelled
	case s.quota.TryReserve():
		pos, err := s.fetchPosition(ctx, objectID)
		if err == nil {
			return s.finish(ctx, objectID, Result{Position: pos, Outcome: OutcomeReal})
		}
		cause = classify(err)
		s.log.Warn(ctx, "upstream position fetch failed",
			logging.Int("object_id", objectID),
			logging.String("outcome", string(cause)),
			logging.Err(err),
		)
		// Another writer may have stored a newer fix while we were waiting.
		entry, _ = s.cache.Get(objectID)
	default:
		cause = OutcomeQuotaExhausted
	}

	if entry.HasReal() {
		age := s.clock.Now().Sub(entry.LastRealFetch)
		return s.finish(ctx, objectID, Result{
			Position: core.Predict(*entry.LastReal, age.Seconds()),
			Outcome:  cause,
		})
	}
	return s.finish(ctx, objectID, Result{
		Position: s.fallback.Generate(objectID, s.clock.Now()),
		Outcome:  OutcomeNoHistory,
		Cause:    cause,
	})
}

func (s *Scheduler) finish(ctx context.Context, objectID int, r Result) Result {
	if s.observer != nil {
		r.Position = s.observer.Annotate(r.Position)
	}
	if s.metrics != nil {
		s.metrics.IncSchedulerOutcome(string(r.Outcome))
	}
	s.log.Debug(ctx, "refresh resolved",
		logging.Int("object_id", objectID),
		logging.String("outcome", string(r.Outcome)),
		logging.String("provenance", string(r.Position.Provenance)),
	)
	return r
}

// fetchPosition performs exactly one upstream call. The caller has already
// reserved quota. No cache lock is held during the call.
func (s *Scheduler) fetchPosition(ctx context.Context, objectID int) (model.Position, error) {
	ctx, span := s.tracer.Start(ctx, "upstream.position",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("object.id", objectID)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	pos, err := s.provider.Position(ctx, objectID)
	elapsed := time.Since(start)

	outcome := OutcomeReal
	if err != nil {
		outcome = classify(err)
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if s.metrics != nil {
		s.metrics.ObserveUpstream(callPosition, string(outcome), elapsed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		return model.Position{}, err
	}
	if err := upstream.ValidatePosition(pos); err != nil {
		span.SetStatus(codes.Error, string(OutcomeInvalidPosition))
		return model.Position{}, err
	}

	fetchedAt := s.clock.Now()
	pos.Provenance = model.ProvenanceReal
	if pos.Timestamp.After(fetchedAt) {
		pos.Timestamp = fetchedAt
	}
	s.cache.RecordReal(objectID, pos, fetchedAt)
	return pos, nil
}

// Metadata returns cached upstream metadata for objectID, performing at most
// one quota-gated lookup when none is cached. ok is false when nothing is
// known.
func (s *Scheduler) Metadata(ctx context.Context, objectID int) (model.ObjectMetadata, bool) {
	if e, _ := s.cache.Get(objectID); e.Metadata != nil {
		return *e.Metadata, true
	}
	if ctx.Err() != nil || !s.quota.TryReserve() {
		return model.ObjectMetadata{}, false
	}

	ctx, span := s.tracer.Start(ctx, "upstream.metadata",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("object.id", objectID)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	md, err := s.provider.Metadata(ctx, objectID)
	outcome := "ok"
	if err != nil {
		outcome = string(classify(err))
	}
	if s.metrics != nil {
		s.metrics.ObserveUpstream(callMetadata, outcome, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.log.Warn(ctx, "upstream metadata lookup failed",
			logging.Int("object_id", objectID),
			logging.Err(err),
		)
		return model.ObjectMetadata{}, false
	}
	s.cache.SetMetadata(objectID, md)
	return md, true
}

func (s *Scheduler) interval(objectID int) time.Duration {
	if obj, ok := s.objects.Get(objectID); ok && obj.RealFetchIntervalSec > 0 {
		return obj.RealFetchInterval()
	}
	return 0
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, upstream.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeUpstreamTimeout
	case errors.Is(err, upstream.ErrInvalidPositionData):
		return OutcomeInvalidPosition
	default:
		return OutcomeUpstreamUnavailable
	}
}
