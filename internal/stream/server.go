// Package stream exposes the hub over a bidirectional gRPC stream carrying
// google.protobuf.Struct frames.
package stream

import (
	"errors"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/satellite-tracker/internal/hub"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/observability"
)

const (
	// ServiceName is the fully-qualified stream service.
	ServiceName = "tracker.v1.PositionStream"
	// ConnectMethod is the full method path of the client session stream.
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// PositionStreamServer is implemented by Server.
type PositionStreamServer interface {
	Connect(grpc.ServerStream) error
}

// ServiceDesc describes the stream service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PositionStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "tracker/v1/stream",
}

func connectHandler(srv interface{}, ss grpc.ServerStream) error {
	return srv.(PositionStreamServer).Connect(ss)
}

// Server bridges one gRPC stream per client onto the hub.
type Server struct {
	hub *hub.Hub
	log logging.Logger
}

// NewServer constructs a Server.
func NewServer(h *hub.Hub, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{hub: h, log: log}
}

// Register adds the stream service to gs.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// NewGRPCServer builds a grpc.Server with the tracker's interceptor chain:
// request ids and per-connection loggers, span naming, and stream metrics.
func NewGRPCServer(collector *observability.TrackerCollector, log logging.Logger, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(
			RequestIDStreamServerInterceptor(log),
			TracingStreamServerInterceptor(),
			collector.StreamServerInterceptor(),
		),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// Connect runs one client session: the initial snapshot and every later
// event flow out, client requests flow in to the hub.
func (s *Server) Connect(ss grpc.ServerStream) error {
	ctx := ss.Context()
	log := logging.LoggerFromContext(ctx, s.log)

	c, err := s.hub.Connect(ctx)
	if err != nil {
		return ToStatusError(err)
	}
	defer s.hub.Disconnect(c)

	recvErr := make(chan error, 1)
	go func() {
		for {
			frame := &structpb.Struct{}
			if err := ss.RecvMsg(frame); err != nil {
				recvErr <- err
				return
			}
			var msg hub.ClientMessage
			if err := fromFrame(frame, &msg); err != nil {
				log.Debug(ctx, "malformed client message", logging.Err(err))
				s.hub.SendError(c, "malformed message: "+err.Error())
				continue
			}
			if err := s.hub.Handle(ctx, c, msg); err != nil {
				recvErr <- err
				return
			}
		}
	}()

	for {
		select {
		case msg := <-c.Out():
			frame, err := toFrame(msg)
			if err != nil {
				log.Warn(ctx, "dropping unencodable server message", logging.String("type", msg.Type), logging.Err(err))
				continue
			}
			if err := ss.SendMsg(frame); err != nil {
				log.Debug(ctx, "send to client failed", logging.Err(err))
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ToStatusError(err)
		case <-ctx.Done():
			return ToStatusError(ctx.Err())
		}
	}
}
