package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.FailedPrecondition, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.ResourceExhausted, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Errorf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesThroughNonStatusErrors(t *testing.T) {
	domainErr := errors.New("insufficient stock")
	if got := WrapError("transaction", fmt.Errorf("wrapped: %w", domainErr)); !errors.Is(got, domainErr) {
		t.Fatalf("expected domain error identity preserved, got %v", got)
	}
	var repoErr *Error
	if errors.As(WrapError("transaction", domainErr), &repoErr) {
		t.Fatalf("did not expect repository error for plain errors")
	}
	if got := WrapError("get", status.Error(codes.Canceled, "gone")); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got)
	}
	if WrapError("noop", nil) != nil {
		t.Fatalf("expected nil")
	}
}
