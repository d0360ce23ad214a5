package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// RetryPolicy is the single retry definition shared by the executor and every
// gateway adapter. Only transient gateway errors are retried; rejections and
// desync errors surface immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      int
}

// DefaultRetryPolicy returns 3 attempts, 1s base delay, factor 2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 1 * time.Second, Factor: 2}
}

// Do runs fn until it succeeds, exhausts MaxAttempts, or hits a non-retriable
// error. The context cancels pending backoff sleeps.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt)
			slog.Info("Retrying operation",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return err
		}
		slog.Warn("Transient failure",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= time.Duration(p.Factor)
	}
	return d
}
