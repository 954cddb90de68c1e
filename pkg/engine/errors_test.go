package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	err := NewRateLimitedError("remote throttled the request", nil).
		WithResource("site/marketing").
		WithOperation(string(OpCreate))

	if !IsRateLimited(err) {
		t.Fatalf("expected rate-limited classification")
	}
	if !IsRetryable(err) {
		t.Fatalf("rate-limited errors must be retryable")
	}
	if IsTransient(err) {
		t.Fatalf("rate-limited is not transient")
	}

	wrapped := fmt.Errorf("reconcile: %w", err)
	if !IsClass(wrapped, ErrorClassRateLimited) {
		t.Fatalf("classification must survive wrapping")
	}
}

func TestNonRetryableClasses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  *ProviderError
	}{
		{"validation", NewValidationError("missing field", nil)},
		{"unsupported", NewUnsupportedError("read-only kind", nil)},
		{"unauthorized", NewUnauthorizedError("bad token", nil)},
		{"remote validation", NewRemoteValidationError("rejected payload", nil)},
		{"conflict", NewConflictError("slug taken", nil)},
		{"not found", NewNotFoundError("gone", nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if IsRetryable(tc.err) {
				t.Fatalf("%s must not be retryable", tc.err.Class)
			}
		})
	}
}

func TestErrorIsMatchesClassAndCode(t *testing.T) {
	t.Parallel()

	err := NewTransientError("gave up", errors.New("dial tcp: timeout")).
		WithCode(ErrCodeRetriesExhausted)

	target := &ProviderError{Class: ErrorClassTransient, Code: ErrCodeRetriesExhausted}
	if !errors.Is(err, target) {
		t.Fatalf("expected match on class and code")
	}

	other := &ProviderError{Class: ErrorClassTransient, Code: "OTHER"}
	if errors.Is(err, other) {
		t.Fatalf("code mismatch must not match")
	}
}

func TestErrorStringCarriesContext(t *testing.T) {
	t.Parallel()

	err := NewConflictError("slug already in use", nil).
		WithResource("collection/blog").
		WithOperation(string(OpCreate))

	got := err.Error()
	want := "[conflict] slug already in use (resource=collection/blog, operation=create): "
	if got != want {
		t.Fatalf("unexpected error string: %q", got)
	}
}
