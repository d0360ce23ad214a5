package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}
}

func TestRetry_TransientRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return &domain.TransientGatewayError{Op: "op", Err: errors.New("timeout")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_Exhaustion(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		return &domain.TransientGatewayError{Op: "op", Err: errors.New("timeout")}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !domain.IsTransient(err) {
		t.Error("exhausted error must still unwrap to the transient cause")
	}
}

func TestRetry_RejectionNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func() error {
		calls++
		return &domain.RejectedOrderError{Op: "op", Reason: "insufficient funds"}
	})
	if err == nil {
		t.Fatal("expected rejection to surface")
	}
	if calls != 1 {
		t.Errorf("rejection must not be retried, got %d calls", calls)
	}
}

func TestRetry_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, Factor: 2}
	err := policy.Do(ctx, "op", func() error {
		return &domain.TransientGatewayError{Op: "op", Err: errors.New("timeout")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
