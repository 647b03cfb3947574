package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/satellite-tracker/catalog"
	"github.com/signalsfoundry/satellite-tracker/internal/config"
	"github.com/signalsfoundry/satellite-tracker/internal/httpapi"
	"github.com/signalsfoundry/satellite-tracker/internal/hub"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/observability"
	"github.com/signalsfoundry/satellite-tracker/internal/quota"
	"github.com/signalsfoundry/satellite-tracker/internal/stream"
	"github.com/signalsfoundry/satellite-tracker/internal/tracker"
	"github.com/signalsfoundry/satellite-tracker/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional; TRACKER_* env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "tracker server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewTrackerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	cat, err := catalog.Load(ctx, catalog.Source{Path: cfg.Catalog.Path, DatabaseURL: cfg.Catalog.DatabaseURL})
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	log.Info(ctx, "catalog loaded", logging.Int("objects", cat.Len()))

	quotaOpts := []quota.Option{
		quota.WithMetricsRecorder(collector),
		quota.WithLogger(log.With(logging.String("component", "quota"))),
	}
	if cfg.Redis.URL != "" {
		store, client, err := quota.NewRedisStoreFromURL(cfg.Redis.URL, cfg.Redis.Key)
		if err != nil {
			return fmt.Errorf("connect quota store: %w", err)
		}
		defer func() { _ = client.Close() }()
		quotaOpts = append(quotaOpts, quota.WithStore(store))
	}
	q := quota.New(cfg.Upstream.DailyLimit, cfg.Upstream.HourlyLimit, quotaOpts...)
	if err := q.Restore(ctx); err != nil {
		log.Warn(ctx, "quota state not restored", logging.Err(err))
	}

	observer, hasObserver := cfg.ObserverPoint()
	if cfg.Upstream.APIKey == "" {
		log.Warn(ctx, "no upstream API key configured; positions will be synthetic")
	}
	provider := upstream.NewClient(upstream.Config{
		BaseURL:  cfg.Upstream.BaseURL,
		APIKey:   cfg.Upstream.APIKey,
		Timeout:  cfg.Upstream.Timeout,
		Observer: observer,
	})

	svcOpts := []tracker.Option{
		tracker.WithConfig(cfg.Tracker()),
		tracker.WithMetricsRecorder(collector),
		tracker.WithLogger(log),
	}
	if hasObserver {
		svcOpts = append(svcOpts, tracker.WithObserver(observer))
	}
	svc := tracker.New(cat, q, provider, svcOpts...)

	h := hub.New(svc,
		hub.WithBufferSize(cfg.Hub.BufferSize),
		hub.WithSearchLimit(cfg.Hub.SearchLimit),
		hub.WithMetricsRecorder(collector),
		hub.WithLogger(log.With(logging.String("component", "hub"))),
	)
	svc.SetBroadcaster(h)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hubDone := make(chan struct{})
	go func() {
		h.Run(hubCtx)
		close(hubDone)
	}()

	if err := svc.Start(); err != nil {
		return err
	}

	gs := stream.NewGRPCServer(collector, log)
	stream.Register(gs, stream.NewServer(h, log))
	api := httpapi.New(cfg.HTTPAddr, svc, collector.Handler(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting stream gRPC server", logging.String("addr", lis.Addr().String()))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return api.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down tracker server")
		stopGRPC(gs, 5*time.Second)
		return nil
	})

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Stop(shutdownCtx)
	stopHub()
	<-hubDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// stopGRPC drains streams gracefully, forcing them closed after grace.
// Client streams are long-lived, so a graceful stop alone can hang.
func stopGRPC(gs *grpc.Server, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		gs.Stop()
		<-done
	}
}
