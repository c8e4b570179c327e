package provider

import (
	"context"
	"math"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// retry runs op up to maxRetries+1 times with exponential backoff, as long
// as the failure classifies as retryable. Used around request creation;
// mid-stream failures are never retried.
func retry(ctx context.Context, maxRetries int, baseDelay time.Duration, op func() error) error {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryDelay
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !Classify(err).Retryable() {
			return err
		}
		if attempt < maxRetries {
			backoff := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return err
}
