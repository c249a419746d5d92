package retry

import (
	"context"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
)

// SleepFunc waits for d. Tests inject a fake to observe backoff without
// wall-clock waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       SleepFunc
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       Sleep,
	}
}

// Sleep is the production SleepFunc. It ends early when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryable reports whether a failure of kind may be attempted again.
func Retryable(kind domain.ErrorKind) bool {
	return kind == domain.KindNetworkError || kind == domain.KindProcessingError
}

// Do runs operation up to MaxAttempts times. Only network and processing
// failures are retried; any other error, typed or not, is returned on first
// occurrence. The wait before attempt n is BaseDelay*(n-1). When every
// attempt fails the result is a timeout error carrying the last failure.
func Do[T any](ctx context.Context, policy Policy, operation func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.Sleep == nil {
		policy.Sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.BaseDelay * time.Duration(attempt-1)
			if err := policy.Sleep(ctx, delay); err != nil {
				return zero, &domain.ConversionError{
					Kind:    domain.KindTimeout,
					Message: "retry wait interrupted",
					Cause:   err,
				}
			}
		}

		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		kind, typed := domain.KindOf(err)
		if !typed || !Retryable(kind) {
			return zero, err
		}
		lastErr = err
	}

	return zero, &domain.ConversionError{
		Kind:    domain.KindTimeout,
		Message: "operation did not succeed within retry budget",
		Detail:  lastErr.Error(),
		Cause:   lastErr,
	}
}
