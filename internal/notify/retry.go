package notify

import (
	"context"
	"time"
)

// RetryPolicy bounds delivery retries.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries twice with a short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// retry runs fn until it succeeds, the retries are exhausted or ctx is done.
// Errors wrapped in permanentError stop immediately.
func retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	backoff := policy.BaseBackoff
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if p, ok := err.(permanentError); ok {
			return p.err
		}

		attempt++
		if attempt > policy.MaxRetries {
			return err
		}

		delay := backoff
		if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			backoff *= 2
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
