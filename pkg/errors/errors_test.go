package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestErrorStringFormats(t *testing.T) {
	plain := New("TEST", "something failed", 400)
	if plain.Error() != "something failed" {
		t.Fatalf("unexpected error string: %s", plain.Error())
	}

	wrapped := Wrap(stdErrors.New("boom"), "failed")
	if wrapped.Error() != "failed: boom" {
		t.Fatalf("unexpected wrapped string: %s", wrapped.Error())
	}

	var nilErr *AppError
	if nilErr.Error() != "<nil>" {
		t.Fatalf("unexpected nil string: %s", nilErr.Error())
	}
}

func TestWithInternalLeavesOriginalUntouched(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}
	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}
	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
	if !stdErrors.Is(with, with.Internal) {
		t.Fatal("expected Unwrap to expose the internal error")
	}
}

func TestFromError(t *testing.T) {
	if out := FromError(nil); out != nil {
		t.Fatalf("expected nil for nil input, got %v", out)
	}

	if out := FromError(ErrNotFound); out != ErrNotFound {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	// An AppError buried in a wrap chain is still recovered.
	buried := fmtWrap(ErrConflict)
	if out := FromError(buried); out != ErrConflict {
		t.Fatalf("expected buried AppError, got %v", out)
	}

	out := FromError(stdErrors.New("raw"))
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func fmtWrap(err error) error {
	return stdErrors.Join(stdErrors.New("outer"), err)
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}

func TestTokenErrorStatuses(t *testing.T) {
	if ErrAccessTokenUsed.StatusCode != http.StatusConflict {
		t.Fatalf("expected replayed tokens to map to 409, got %d", ErrAccessTokenUsed.StatusCode)
	}
	if ErrAccessTokenExpired.StatusCode != http.StatusGone {
		t.Fatalf("expected expired tokens to map to 410, got %d", ErrAccessTokenExpired.StatusCode)
	}
	if ErrGoalAccessDenied.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected wrong goal passwords to map to 401, got %d", ErrGoalAccessDenied.StatusCode)
	}
}
