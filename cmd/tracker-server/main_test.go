package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/satellite-tracker/internal/config"
	"github.com/signalsfoundry/satellite-tracker/internal/hub"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/stream"
	"github.com/signalsfoundry/satellite-tracker/model"
)

func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "/tle/") {
			fmt.Fprint(w, `{"info":{"satid":25544,"satname":"SPACE STATION"}}`)
			return
		}
		fmt.Fprintf(w, `{"info":{"satid":25544,"satname":"SPACE STATION"},"positions":[{"satlatitude":12.5,"satlongitude":-40.25,"sataltitude":418.2,"timestamp":%d}]}`,
			time.Now().Unix())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTrackerServerStartupSmoke(t *testing.T) {
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.GRPCAddr = lis.Addr().String()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Upstream.BaseURL = fakeUpstream(t).URL
	cfg.Upstream.APIKey = "test-key"
	cfg.Log.Level = "warn"

	log := logging.New(cfg.Logging())

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(runCtx, cfg, log, lis)
	}()

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}

	session, err := stream.Open(ctx, conn, "smoke-test", grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("stream.Open: %v", err)
	}
	first, err := session.Recv()
	if err != nil {
		t.Fatalf("Recv snapshot: %v", err)
	}
	if first.Type != hub.TypeInitialSnapshot || len(first.Objects) == 0 {
		t.Fatalf("first message mismatch: got %q with %d objects", first.Type, len(first.Objects))
	}

	if err := session.Select(25544); err != nil {
		t.Fatalf("Select: %v", err)
	}
	for {
		msg, err := session.Recv()
		if err != nil {
			t.Fatalf("Recv update: %v", err)
		}
		if msg.Type != hub.TypePositionUpdate || msg.Object == nil || msg.Object.ID != 25544 || msg.Object.Provenance != model.ProvenanceReal {
			continue
		}
		if msg.Object.Position == nil || msg.Object.Position.AltitudeKm != 418.2 {
			t.Fatalf("position mismatch: %+v", msg.Object.Position)
		}
		break
	}

	_ = session.CloseSend()
	_ = conn.Close()
	stopRun()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
