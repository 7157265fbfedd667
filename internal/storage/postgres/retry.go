package postgres

import (
	"context"
	"time"
)

const maxRetryDelay = 5 * time.Second

// withRetry runs fn until it succeeds, doubling the pause between attempts up
// to maxRetryDelay. The last error is returned once opts.MaxRetries is spent.
func withRetry(ctx context.Context, opts Options, fn func(context.Context) error) error {
	retries := max(opts.MaxRetries, 0)
	delay := opts.RetryBackoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, maxRetryDelay)
		}

		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
