package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/groupdine/api/internal/repositories"
)

// classify maps gRPC status codes onto repository error codes. Aborted covers transactions that
// lost a contention race; FailedPrecondition covers stale update preconditions.
func classify(code codes.Code) (repositories.StoreErrorCode, bool) {
	switch code {
	case codes.NotFound:
		return repositories.StoreErrorNotFound, true
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return repositories.StoreErrorConflict, true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return repositories.StoreErrorUnavailable, true
	default:
		return "", false
	}
}

// WrapError converts Firestore failures into repository store errors tagged with op. Context
// cancellation is returned unchanged and errors that are already store errors pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	kind, ok := classify(code)
	if !ok {
		kind = repositories.StoreErrorInternal
	}
	return repositories.NewStoreError(op, kind, err.Error(), err)
}
