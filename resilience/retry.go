package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy retries a failing operation with exponential backoff and
// jitter, up to MaxAttempts, honoring cancellation between attempts.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoffMS  int64
	MaxBackoffMS      int64
	BackoffMultiplier float64
	JitterFactor      float64 // 0..1

	// Retryable classifies whether an error should be retried. Defaults
	// to always-retry when nil; callers typically pass a classifier that
	// matches transient network errors, 5xx, or gRPC UNAVAILABLE.
	Retryable func(error) bool

	rng *rand.Rand
}

// DefaultRetryPolicy returns a conservative default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoffMS:  100,
		MaxBackoffMS:      5_000,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	raw := float64(p.InitialBackoffMS) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	capped := math.Min(raw, float64(p.MaxBackoffMS))

	jitter := p.JitterFactor
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	r := p.rng
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	factor := 1 + (r.Float64()*2-1)*jitter
	ms := capped * factor
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Execute invokes op up to MaxAttempts times, sleeping with backoff
// between retryable failures. It returns the last error if every attempt
// fails, or nil on first success. Execute respects ctx cancellation both
// during the operation and during the backoff sleep.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	var lastErr error
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
