package api

import (
	"context"
	"errors"

	"github.com/matheus3301/teamsync/internal/outbox"
	"github.com/matheus3301/teamsync/internal/realtime"
	"github.com/matheus3301/teamsync/internal/rest"
	intsync "github.com/matheus3301/teamsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps sync-layer errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	var noCred *realtime.NoCredentialError
	var handshake *realtime.HandshakeError
	var rejected *realtime.ServerRejectedError
	var apiErr *rest.APIError
	switch {
	case errors.Is(err, outbox.ErrEmptyMessage),
		errors.Is(err, outbox.ErrNoRoom):
		return codes.InvalidArgument
	case errors.Is(err, outbox.ErrUnknownMessage):
		return codes.NotFound
	case errors.Is(err, intsync.ErrNoSession),
		errors.As(err, &noCred),
		errors.Is(err, realtime.ErrNotConnected),
		errors.Is(err, outbox.ErrInFlight):
		return codes.FailedPrecondition
	case realtime.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.As(err, &rejected):
		return codes.Aborted
	case errors.As(err, &handshake):
		return codes.Unauthenticated
	case errors.As(err, &apiErr):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}
