package providers

import (
	"context"
	"time"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = time.Second
)

// withRetry runs op up to maxRetries+1 times with exponential backoff,
// retrying only errors the taxonomy marks retryable. Context cancellation
// aborts the wait immediately.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryDelay
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
