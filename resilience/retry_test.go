package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mockforge/mockforge-core/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsEventually(t *testing.T) {
	p := resilience.DefaultRetryPolicy()
	p.MaxAttempts = 5
	p.InitialBackoffMS = 1
	p.MaxBackoffMS = 2

	attempts := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := resilience.DefaultRetryPolicy()
	p.MaxAttempts = 3
	p.InitialBackoffMS = 1
	p.MaxBackoffMS = 2

	attempts := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryNonRetryableReturnsImmediately(t *testing.T) {
	p := resilience.DefaultRetryPolicy()
	p.MaxAttempts = 5
	p.Retryable = func(err error) bool { return false }

	attempts := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("non-retryable")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryRespectsCancellation(t *testing.T) {
	p := resilience.DefaultRetryPolicy()
	p.MaxAttempts = 5
	p.InitialBackoffMS = 1000
	p.MaxBackoffMS = 1000

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := p.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
