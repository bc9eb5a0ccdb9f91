package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBulkheadRejected is returned when the bulkhead's queue is full.
var ErrBulkheadRejected = errors.New("resilience: bulkhead rejected, queue full")

// ErrBulkheadTimeout is returned when a queued acquire doesn't get a
// permit within the configured wait.
var ErrBulkheadTimeout = errors.New("resilience: bulkhead timeout waiting for permit")

// BulkheadConfig bounds a service's concurrency.
type BulkheadConfig struct {
	MaxConcurrent  int
	MaxQueue       int
	QueueTimeoutMS int64
}

// Bulkhead limits concurrent in-flight calls to a service, queueing excess
// callers up to MaxQueue before rejecting outright. Permits are modeled as
// a buffered channel so waiters suspend on a channel receive rather than
// polling.
type Bulkhead struct {
	cfg     BulkheadConfig
	permits chan struct{}

	mu      sync.Mutex
	waiting int
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	permits := make(chan struct{}, cfg.MaxConcurrent)
	for i := 0; i < cfg.MaxConcurrent; i++ {
		permits <- struct{}{}
	}
	return &Bulkhead{cfg: cfg, permits: permits}
}

// Guard releases the held permit when Release is called.
type Guard struct {
	bh   *Bulkhead
	once sync.Once
}

// Release returns the permit to the bulkhead. Safe to call more than once.
func (g *Guard) Release() {
	if g == nil || g.bh == nil {
		return
	}
	g.once.Do(func() {
		g.bh.permits <- struct{}{}
	})
}

// TryAcquire attempts to obtain a permit. If none are free and the queue
// isn't full, it waits up to QueueTimeoutMS (or until ctx is canceled) for
// one to open up. Active permits never exceed MaxConcurrent; the queue
// never exceeds MaxQueue.
func (bh *Bulkhead) TryAcquire(ctx context.Context) (*Guard, error) {
	select {
	case <-bh.permits:
		return &Guard{bh: bh}, nil
	default:
	}

	bh.mu.Lock()
	if bh.waiting >= bh.cfg.MaxQueue {
		bh.mu.Unlock()
		return nil, ErrBulkheadRejected
	}
	bh.waiting++
	bh.mu.Unlock()
	defer func() {
		bh.mu.Lock()
		bh.waiting--
		bh.mu.Unlock()
	}()

	timeout := time.Duration(bh.cfg.QueueTimeoutMS) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-bh.permits:
		return &Guard{bh: bh}, nil
	case <-timer.C:
		return nil, ErrBulkheadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActivePermits returns the number of permits currently held.
func (bh *Bulkhead) ActivePermits() int {
	return bh.cfg.MaxConcurrent - len(bh.permits)
}

// QueueLength returns the number of callers currently waiting.
func (bh *Bulkhead) QueueLength() int {
	bh.mu.Lock()
	defer bh.mu.Unlock()
	return bh.waiting
}

// BulkheadManager holds one Bulkhead per service, created lazily.
type BulkheadManager struct {
	mu    sync.RWMutex
	cfg   BulkheadConfig
	pools map[string]*Bulkhead
}

// NewBulkheadManager creates a BulkheadManager applying cfg to every
// service's bulkhead.
func NewBulkheadManager(cfg BulkheadConfig) *BulkheadManager {
	return &BulkheadManager{cfg: cfg, pools: make(map[string]*Bulkhead)}
}

// For returns the bulkhead for service, creating it on first access.
func (m *BulkheadManager) For(service string) *Bulkhead {
	m.mu.RLock()
	bh, ok := m.pools[service]
	m.mu.RUnlock()
	if ok {
		return bh
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if bh, ok := m.pools[service]; ok {
		return bh
	}
	bh = NewBulkhead(m.cfg)
	m.pools[service] = bh
	return bh
}
