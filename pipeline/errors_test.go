package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetriableByDefaultHonoursRateLimitRetryAfter(t *testing.T) {
	err := &RateLimitExceededError{Limit: 10, RetryAfter: 0}
	if IsRetriableByDefault(err) {
		t.Fatal("a rate limit error without RetryAfter should not be retriable by default")
	}
	err.RetryAfter = 1
	if !IsRetriableByDefault(err) {
		t.Fatal("a rate limit error with RetryAfter should be retriable by default")
	}
}

func TestIsRetriableByDefaultHonoursWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("upstream flaked: %w", ErrRetriable)
	err := &MiddlewareError{Name: "m", Message: "x", Cause: wrapped}
	if !IsRetriableByDefault(err) {
		t.Fatal("expected MiddlewareError wrapping ErrRetriable to be retriable")
	}
}

func TestIsDefinitivelyNonRetriableCoversTaxonomy(t *testing.T) {
	cases := []error{
		&CancelledError{Checkpoint: "x"},
		&ValidationError{Field: "f", Reason: "bad"},
		&AuthorizationError{Reason: "denied"},
	}
	for _, err := range cases {
		if !IsDefinitivelyNonRetriable(err) {
			t.Fatalf("expected %T to be definitively non-retriable", err)
		}
	}
	if IsDefinitivelyNonRetriable(errors.New("plain")) {
		t.Fatal("a plain error should not be classified as definitively non-retriable")
	}
}

func TestRetryExhaustedUnwrapsToLast(t *testing.T) {
	last := errors.New("root cause")
	err := &RetryExhaustedError{Attempts: 3, Last: last}
	if !errors.Is(err, last) {
		t.Fatal("expected RetryExhaustedError to unwrap to Last")
	}
}

func TestMiddlewareErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("cause")
	err := &MiddlewareError{Name: "m", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected MiddlewareError to unwrap to Cause")
	}
}
