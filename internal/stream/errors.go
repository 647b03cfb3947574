package stream

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/satellite-tracker/internal/hub"
	"github.com/signalsfoundry/satellite-tracker/internal/tracker"
)

// ToStatusError maps tracker and hub errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, tracker.ErrUnknownObject):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, hub.ErrHubStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, hub.ErrClientClosed), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
