// Package resilience implements the guard primitives shared by chaos
// simulation and downstream protection: circuit breakers keyed by
// endpoint, bulkheads keyed by service, retry with backoff, and pluggable
// fallback.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is the sentinel for a call rejected because the breaker is open
// and not yet due for a half-open probe. CircuitBreaker.AllowRequest
// reports that condition as a false return, not as this error.
var ErrOpen = errors.New("resilience: circuit breaker open")

// State is a circuit breaker's lifecycle state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a single breaker.
type CircuitBreakerConfig struct {
	FailureThreshold     int     // consecutive failures to trip from Closed
	SuccessThreshold     int     // consecutive half-open successes to close
	TimeoutMS            int64   // time in Open before a half-open probe is allowed
	HalfOpenMaxRequests  int     // concurrent probes allowed while HalfOpen
	FailureRateThreshold float64 // 0..1, alternate trip condition
	MinRequestsForRate   int     // minimum rolling-window samples before rate applies
	RollingWindowMS      int64   // width of the rolling failure-rate window
	OnStateChange        func(from, to State)
}

// DefaultCircuitBreakerConfig returns sane defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:     5,
		SuccessThreshold:     3,
		TimeoutMS:            30_000,
		HalfOpenMaxRequests:  5,
		FailureRateThreshold: 0.5,
		MinRequestsForRate:   10,
		RollingWindowMS:      60_000,
	}
}

const numBuckets = 10

type bucket struct {
	start            int64 // bucket window start, unix ms
	successes, fails int
}

// CircuitBreaker is a single endpoint's breaker state machine.
type CircuitBreaker struct {
	cfg               CircuitBreakerConfig
	baseRateThreshold float64 // configured FailureRateThreshold, before any adjustment

	mu               sync.Mutex
	state            State
	openedAt         int64 // unix ms
	consecutiveFails int
	consecutiveOK    int
	halfOpenInFlight int
	buckets          [numBuckets]bucket

	nowFn func() time.Time
}

// NewCircuitBreaker creates a breaker starting Closed.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.RollingWindowMS <= 0 {
		cfg.RollingWindowMS = 60_000
	}
	return &CircuitBreaker{cfg: cfg, baseRateThreshold: cfg.FailureRateThreshold, state: Closed, nowFn: time.Now}
}

func (cb *CircuitBreaker) now() int64 { return cb.nowFn().UnixMilli() }

func (cb *CircuitBreaker) bucketWidth() int64 {
	w := cb.cfg.RollingWindowMS / numBuckets
	if w <= 0 {
		w = 1
	}
	return w
}

// ageBuckets zeroes out buckets whose window has passed, keeping the
// rolling window's counts bounded to the configured duration.
func (cb *CircuitBreaker) ageBuckets(now int64) {
	width := cb.bucketWidth()
	idx := int((now / width) % numBuckets)
	if cb.buckets[idx].start != now/width {
		cb.buckets[idx] = bucket{start: now / width}
	}
}

func (cb *CircuitBreaker) currentBucket(now int64) *bucket {
	cb.ageBuckets(now)
	width := cb.bucketWidth()
	idx := int((now / width) % numBuckets)
	return &cb.buckets[idx]
}

func (cb *CircuitBreaker) windowCounts(now int64) (successes, fails int) {
	width := cb.bucketWidth()
	cutoff := now/width - numBuckets
	for i := range cb.buckets {
		b := cb.buckets[i]
		if b.start > cutoff {
			successes += b.successes
			fails += b.fails
		}
	}
	return
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// AllowRequest reports whether a request may proceed now, advancing the
// Open -> HalfOpen transition if the timeout has elapsed.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.now()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if now-cb.openedAt >= cb.cfg.TimeoutMS {
			cb.transition(HalfOpen)
			cb.consecutiveOK = 0
			cb.halfOpenInFlight = 1
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight < cb.cfg.HalfOpenMaxRequests {
			cb.halfOpenInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.now()

	switch cb.state {
	case Closed:
		cb.currentBucket(now).successes++
		cb.consecutiveFails = 0
	case HalfOpen:
		cb.consecutiveOK++
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		if cb.consecutiveOK >= cb.cfg.SuccessThreshold {
			cb.transition(Closed)
			cb.consecutiveFails = 0
			cb.consecutiveOK = 0
			cb.buckets = [numBuckets]bucket{}
			cb.cfg.FailureRateThreshold = cb.baseRateThreshold
		}
	}
}

// RecordFailure reports a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.now()

	switch cb.state {
	case Closed:
		cb.currentBucket(now).fails++
		cb.consecutiveFails++
		successes, fails := cb.windowCounts(now)
		total := successes + fails
		tripByRate := total >= cb.cfg.MinRequestsForRate && cb.cfg.MinRequestsForRate > 0 &&
			float64(fails)/float64(total) >= cb.cfg.FailureRateThreshold
		tripByStreak := cb.cfg.FailureThreshold > 0 && cb.consecutiveFails >= cb.cfg.FailureThreshold
		if tripByRate || tripByStreak {
			cb.transition(Open)
			cb.openedAt = now
		}
	case HalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.transition(Open)
		cb.openedAt = now
		cb.consecutiveOK = 0
	}
}

// RecordWithAdjustment records an outcome and, under sustained load
// (window at capacity), widens the failure-rate threshold by up to 5%
// above its configured value, a bounded relief valve so a
// consistently busy endpoint doesn't trip purely on volume. The widened
// threshold never exceeds 1.0 and resets whenever the breaker closes.
func (cb *CircuitBreaker) RecordWithAdjustment(ok bool) {
	cb.mu.Lock()
	now := cb.now()
	successes, fails := cb.windowCounts(now)
	total := successes + fails
	if total >= cb.cfg.MinRequestsForRate*2 {
		widened := cb.baseRateThreshold * 1.05
		if widened > 1.0 {
			widened = 1.0
		}
		cb.cfg.FailureRateThreshold = widened
	}
	cb.mu.Unlock()

	if ok {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
}

// CurrentState returns the breaker's current state, for diagnostics.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Manager holds one CircuitBreaker per endpoint, created lazily on first
// use with a shared default configuration.
type Manager struct {
	mu       sync.RWMutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewManager creates a Manager applying cfg to every endpoint's breaker.
func NewManager(cfg CircuitBreakerConfig) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// For returns the breaker for endpoint, creating it on first access.
func (m *Manager) For(endpoint string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[endpoint]
	m.mu.RUnlock()
	if ok {
		return cb
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[endpoint]; ok {
		return cb
	}
	cb = NewCircuitBreaker(m.cfg)
	m.breakers[endpoint] = cb
	return cb
}

// RecordWithAdjustment records an outcome for endpoint's breaker through
// its dynamic-threshold path.
func (m *Manager) RecordWithAdjustment(endpoint string, ok bool) {
	m.For(endpoint).RecordWithAdjustment(ok)
}
