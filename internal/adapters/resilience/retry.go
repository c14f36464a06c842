package resilience

import (
	"context"
	"math"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// RetryPolicy is the inner, per-request retry layer. It is independent of the
// queue processor's per-item retry budget.
type RetryPolicy struct {
	MaxAttempts    int
	Wait           time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		Wait:           cfg.Wait,
		Multiplier:     cfg.Multiplier,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

// Backoff returns the wait before the attempt following attempt (zero based).
// A multiplier of 1 gives a fixed wait.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	return time.Duration(float64(p.Wait) * math.Pow(m, float64(attempt)))
}

// Retry runs operation until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Each attempt is bounded by AttemptTimeout; a timed
// out attempt counts as a transient failure.
func Retry[T any](ctx context.Context, p RetryPolicy, operation func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		resp, err := runAttempt(ctx, p.AttemptTimeout, operation)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err

		if !domain.IsRetryable(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return zero, err
			}
		}
	}

	return zero, &domain.RetriesExhaustedError{Attempts: attempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, operation func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return operation(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := operation(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		var zero T
		return zero, &domain.TransientUpstreamError{Err: err}
	}
	return resp, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
