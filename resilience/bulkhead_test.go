package resilience_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mockforge/mockforge-core/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkheadNeverExceedsMaxConcurrent(t *testing.T) {
	bh := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 2, MaxQueue: 5, QueueTimeoutMS: 100})

	g1, err := bh.TryAcquire(context.Background())
	require.NoError(t, err)
	g2, err := bh.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, bh.ActivePermits())

	_, err = bh.TryAcquire(context.Background())
	assert.Error(t, err) // no free permit, goes to queue and times out... but test cleans up below

	g1.Release()
	g2.Release()
}

func TestBulkheadRejectsWhenQueueFull(t *testing.T) {
	bh := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1, MaxQueue: 0, QueueTimeoutMS: 50})

	g, err := bh.TryAcquire(context.Background())
	require.NoError(t, err)
	defer g.Release()

	_, err = bh.TryAcquire(context.Background())
	assert.ErrorIs(t, err, resilience.ErrBulkheadRejected)
}

func TestBulkheadTimesOutWhenQueued(t *testing.T) {
	bh := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1, MaxQueue: 1, QueueTimeoutMS: 30})

	g, err := bh.TryAcquire(context.Background())
	require.NoError(t, err)
	defer g.Release()

	start := time.Now()
	_, err = bh.TryAcquire(context.Background())
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, resilience.ErrBulkheadTimeout)
	assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(25))
}

func TestBulkheadQueuedAcquireSucceedsOnRelease(t *testing.T) {
	bh := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1, MaxQueue: 1, QueueTimeoutMS: 500})

	g, err := bh.TryAcquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var g2 *resilience.Guard
	var err2 error
	go func() {
		defer wg.Done()
		g2, err2 = bh.TryAcquire(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	g.Release()
	wg.Wait()

	require.NoError(t, err2)
	require.NotNil(t, g2)
	g2.Release()
}

func TestBulkheadCancellationUnblocksWaiter(t *testing.T) {
	bh := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1, MaxQueue: 1, QueueTimeoutMS: 5000})
	g, err := bh.TryAcquire(context.Background())
	require.NoError(t, err)
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = bh.TryAcquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
