package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/internal/cache"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/model"
)

const (
	loopReal    = "real"
	loopPredict = "predict"
	loopSweep   = "sweep"
	loopFlush   = "quota_flush"
)

// ErrAlreadyStarted is returned by Start when the loops are running.
var ErrAlreadyStarted = errors.New("tracker loops already started")

// Start schedules the update loops. Each loop skips a tick while its previous
// run is still going, so a hung upstream call never stacks up work.
func (s *Service) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("start tracker loops: %w", err)
	}

	cl := cronLogger{log: s.log.With(logging.String("component", "cron"))}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{loopReal, s.cfg.RealInterval, s.realTick},
		{loopPredict, s.cfg.PredictInterval, s.predictTick},
		{loopSweep, s.cfg.SweepInterval, s.sweepTick},
		{loopFlush, s.cfg.FlushInterval, s.flushTick},
	}
	for _, j := range jobs {
		j := j
		spec := "@every " + j.interval.String()
		if _, err := c.AddFunc(spec, func() { s.timed(j.name, j.run) }); err != nil {
			return fmt.Errorf("schedule %s loop: %w", j.name, err)
		}
	}

	c.Start()
	s.cron = c
	s.log.Info(s.ctx, "tracker loops started",
		logging.Duration("real_interval", s.cfg.RealInterval),
		logging.Duration("predict_interval", s.cfg.PredictInterval),
		logging.Duration("sweep_interval", s.cfg.SweepInterval),
	)
	return nil
}

// Stop cancels in-flight upstream calls, waits for running jobs and
// on-demand refreshes to return, then flushes quota state using ctx.
func (s *Service) Stop(ctx context.Context) {
	s.lifecycleMu.Lock()
	c := s.cron
	s.cron = nil
	s.stopped = true
	s.lifecycleMu.Unlock()

	s.cancel()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.inflight.Wait()

	if err := s.quota.Flush(ctx); err != nil {
		s.log.Warn(ctx, "final quota flush failed", logging.Err(err))
	}
	s.log.Info(ctx, "tracker loops stopped")
}

func (s *Service) timed(loop string, run func(context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	run(s.ctx)
	if s.metrics != nil {
		s.metrics.ObserveLoop(loop, time.Since(start))
	}
}

// realTick force-refreshes every selected object. It only runs while at
// least one client is connected and something is selected.
func (s *Service) realTick(ctx context.Context) {
	b := s.getBroadcaster()
	if b == nil || b.ClientCount() == 0 {
		return
	}
	ids := s.byPriority(s.registry.SelectedIDs())
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		// Nothing new is dispatched once shutdown starts.
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			s.refresh(gctx, id, true)
			return nil
		})
	}
	_ = g.Wait()
}

// predictTick advances every selected object that has a real fix, without
// touching the upstream or the quota.
func (s *Service) predictTick(ctx context.Context) {
	now := s.clock.Now()
	for _, id := range s.registry.SelectedIDs() {
		if ctx.Err() != nil {
			return
		}
		var next model.Position
		_, ok := s.cache.Update(id, func(e cache.Entry) (cache.Entry, bool) {
			if e.LastReal == nil {
				return e, false
			}
			p := s.annotate(core.PredictAt(*e.LastReal, now))
			if e.LastEmitted != nil && p.Timestamp.Before(e.LastEmitted.Timestamp) {
				return e, false
			}
			e.LastEmitted = &p
			e.LastEmittedAt = now
			next = p
			return e, true
		})
		if ok {
			s.emitted(id, next)
		}
	}
}

// sweepTick keeps unselected objects from going stale while quota is
// plentiful. It never spends below the configured reserve.
func (s *Service) sweepTick(ctx context.Context) {
	if s.quota.Headroom() <= s.cfg.SweepReserve {
		return
	}
	now := s.clock.Now()

	type candidate struct {
		id       int
		priority int
		fetched  time.Time // zero when never fetched
	}
	var stale []candidate
	for _, obj := range s.catalog.All() {
		if s.registry.IsSelected(obj.ID) {
			continue
		}
		e, _ := s.cache.Get(obj.ID)
		if e.HasReal() && e.RealAge(now) < obj.RealFetchInterval() {
			continue
		}
		stale = append(stale, candidate{id: obj.ID, priority: obj.Priority, fetched: e.LastRealFetch})
	}
	sort.SliceStable(stale, func(i, j int) bool {
		if stale[i].priority != stale[j].priority {
			return stale[i].priority < stale[j].priority
		}
		return stale[i].fetched.Before(stale[j].fetched)
	})

	for i, c := range stale {
		if i >= s.cfg.SweepBatch || ctx.Err() != nil {
			return
		}
		s.refresh(ctx, c.id, false)
	}
}

func (s *Service) flushTick(ctx context.Context) {
	if err := s.quota.Flush(ctx); err != nil {
		s.log.Warn(ctx, "quota flush failed", logging.Err(err))
	}
	if s.metrics != nil {
		s.metrics.ObserveQuota(s.quota.Status())
	}
}

// byPriority orders ids by catalog priority tier, then id.
func (s *Service) byPriority(ids []int) []int {
	out := append([]int(nil), ids...)
	prio := func(id int) int {
		if o, ok := s.catalog.Get(id); ok {
			return o.Priority
		}
		return int(^uint(0) >> 1)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := prio(out[i]), prio(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

// cronLogger adapts cron's logger to the service logger.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(context.Background(), msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), logging.Err(err))
	l.log.Error(context.Background(), msg, fields...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
