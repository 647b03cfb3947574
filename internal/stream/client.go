package stream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/satellite-tracker/internal/hub"
)

// Session is the client side of a Connect stream.
type Session struct {
	stream grpc.ClientStream
}

// Open starts a Connect stream on conn. A non-empty requestID is forwarded as
// x-request-id metadata.
func Open(ctx context.Context, conn grpc.ClientConnInterface, requestID string, opts ...grpc.CallOption) (*Session, error) {
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, requestID)
	}
	cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{stream: cs}, nil
}

// Send writes one request.
func (s *Session) Send(msg hub.ClientMessage) error {
	frame, err := toFrame(msg)
	if err != nil {
		return err
	}
	return s.stream.SendMsg(frame)
}

// Recv blocks for the next server event.
func (s *Session) Recv() (hub.ServerMessage, error) {
	var msg hub.ServerMessage
	frame := &structpb.Struct{}
	if err := s.stream.RecvMsg(frame); err != nil {
		return msg, err
	}
	err := fromFrame(frame, &msg)
	return msg, err
}

// Select asks the server to track id for this session.
func (s *Session) Select(id int) error {
	return s.Send(hub.ClientMessage{Type: hub.TypeSelect, ID: id})
}

// Unselect drops this session's selection of id.
func (s *Session) Unselect(id int) error {
	return s.Send(hub.ClientMessage{Type: hub.TypeUnselect, ID: id})
}

// Search requests a searchResults event for term.
func (s *Session) Search(term string) error {
	return s.Send(hub.ClientMessage{Type: hub.TypeSearch, Term: term})
}

// QuotaStatus requests a quotaStatus event.
func (s *Session) QuotaStatus() error {
	return s.Send(hub.ClientMessage{Type: hub.TypeGetQuotaStatus})
}

// Details requests an objectDetails event for id.
func (s *Session) Details(id int) error {
	return s.Send(hub.ClientMessage{Type: hub.TypeGetDetails, ID: id})
}

// CloseSend ends the request side; the server then disconnects the session.
func (s *Session) CloseSend() error {
	return s.stream.CloseSend()
}
