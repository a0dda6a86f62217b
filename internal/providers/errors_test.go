package providers

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota": ErrorQuota,
		"429 too many":       ErrorRate,
		"request timed out":  ErrorTimeout,
		"context too long":   ErrorContext,
		"empty choices":      ErrorMalformed,
		"connection refused": ErrorTransient,
		"bad request":        ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrorQuota) || Retryable(ErrorPermanent) {
		t.Fatalf("quota/permanent must not be retryable")
	}
	if !Retryable(ErrorRate) || !Retryable(ErrorTimeout) || !Retryable(ErrorMalformed) {
		t.Fatalf("rate/timeout/malformed must be retryable")
	}
}
