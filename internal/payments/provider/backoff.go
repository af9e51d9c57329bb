package provider

import (
	"context"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// RetryPolicy bounds retries of transient provider failures
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Do runs fn up to Attempts times, backing off exponentially between
// attempts. Only retryable errors (unavailable, timeout) are retried;
// ErrProviderRejected and anything else returns immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) (*domain.ProviderResult, error)) (*domain.ProviderResult, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := min(p.BaseDelay<<(attempt-1), p.MaxDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, lastErr
		}
	}
	return nil, lastErr
}
