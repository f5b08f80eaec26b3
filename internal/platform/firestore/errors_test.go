package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/groupdine/api/internal/repositories"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		code codes.Code
		want repositories.StoreErrorCode
	}{
		{codes.NotFound, repositories.StoreErrorNotFound},
		{codes.AlreadyExists, repositories.StoreErrorConflict},
		{codes.Aborted, repositories.StoreErrorConflict},
		{codes.FailedPrecondition, repositories.StoreErrorConflict},
		{codes.Unavailable, repositories.StoreErrorUnavailable},
		{codes.ResourceExhausted, repositories.StoreErrorUnavailable},
		{codes.DeadlineExceeded, repositories.StoreErrorUnavailable},
		{codes.PermissionDenied, repositories.StoreErrorInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("teamCarts.get", status.Error(tc.code, "boom"))
			var storeErr *repositories.StoreError
			if !errors.As(err, &storeErr) {
				t.Fatalf("expected *repositories.StoreError, got %T", err)
			}
			if storeErr.Code != tc.want || storeErr.Op != "teamCarts.get" {
				t.Fatalf("unexpected store error %+v", storeErr)
			}
			if got := status.Code(errors.Unwrap(err)); got != tc.code {
				t.Fatalf("expected cause with code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestWrapErrorPassThrough(t *testing.T) {
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	conflict := repositories.NewConflictError("teamCarts.update", "revision 3, expected 2")
	if err := WrapError("firestore.transaction", conflict); err != conflict {
		t.Fatalf("expected store error to pass through unchanged, got %v", err)
	}
}
