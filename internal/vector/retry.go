package vector

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff for failed provider calls.
type RetryConfig struct {
	MaxRetries int           // retry attempts after the first try (0 = no retry)
	BaseDelay  time.Duration // initial backoff delay
	MaxDelay   time.Duration // backoff ceiling
}

// DefaultRetryConfig returns the indexer's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// retryEmbed runs fn, retrying on error with exponential backoff plus
// jitter. Context cancellation aborts between attempts.
func retryEmbed(ctx context.Context, cfg RetryConfig, fn func() error) (attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return attempt + 1, nil
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return attempt + 1, ctx.Err()
			case <-time.After(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt)):
			}
		}
	}
	return cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) ± 25%.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}
