package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// FaultKind identifies which kind of fault an injector decided to apply.
type FaultKind int

const (
	NoFault FaultKind = iota
	HTTPErrorFault
	GrpcErrorFault
	TimeoutFault
	ConnectionErrorFault
)

func (k FaultKind) String() string {
	switch k {
	case HTTPErrorFault:
		return "http_error"
	case GrpcErrorFault:
		return "grpc_error"
	case TimeoutFault:
		return "timeout"
	case ConnectionErrorFault:
		return "connection_error"
	default:
		return "none"
	}
}

// ErrConnectionDropped is surfaced as a typed error (never an actual
// socket action) so callers can map it to a protocol-appropriate
// transport failure response.
var ErrConnectionDropped = errors.New("chaos: connection dropped")

// Fault describes one injected failure outcome.
type Fault struct {
	Kind         FaultKind
	HTTPStatus   int
	GrpcCode     int32
	TimeoutAfter time.Duration
}

// FaultInjector samples FaultConfig to decide, per request, whether to
// inject an HTTP error, a gRPC error, a timeout, or a connection drop.
type FaultInjector struct {
	mu  sync.RWMutex
	cfg FaultConfig

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewFaultInjector(cfg FaultConfig) *FaultInjector {
	return &FaultInjector{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (f *FaultInjector) SetSeed(seed int64) {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	f.rng = rand.New(rand.NewSource(seed))
}

func (f *FaultInjector) UpdateConfig(cfg FaultConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

func (f *FaultInjector) config() FaultConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

func (f *FaultInjector) float64() float64 {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return f.rng.Float64()
}

func (f *FaultInjector) choice(n int) int {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return f.rng.Intn(n)
}

// Maybe evaluates the fault gates in order (connection drop, timeout, gRPC
// error, HTTP error) and returns the first that fires, or NoFault. Each
// gate is an independent Bernoulli trial against its configured probability.
func (f *FaultInjector) Maybe(ctx context.Context) Fault {
	cfg := f.config()
	if !cfg.Enabled {
		return Fault{Kind: NoFault}
	}

	if cfg.ConnectionErrorProbability > 0 && f.float64() < clampProbability(cfg.ConnectionErrorProbability) {
		return Fault{Kind: ConnectionErrorFault}
	}
	if cfg.TimeoutProbability > 0 && f.float64() < clampProbability(cfg.TimeoutProbability) {
		after := time.Duration(cfg.TimeoutAfterMS) * time.Millisecond
		return Fault{Kind: TimeoutFault, TimeoutAfter: after}
	}
	if len(cfg.GrpcErrors) > 0 && cfg.GrpcErrorProbability > 0 && f.float64() < clampProbability(cfg.GrpcErrorProbability) {
		code := cfg.GrpcErrors[f.choice(len(cfg.GrpcErrors))]
		return Fault{Kind: GrpcErrorFault, GrpcCode: code}
	}
	if len(cfg.HTTPErrors) > 0 && cfg.HTTPErrorProbability > 0 && f.float64() < clampProbability(cfg.HTTPErrorProbability) {
		status := cfg.HTTPErrors[f.choice(len(cfg.HTTPErrors))]
		return Fault{Kind: HTTPErrorFault, HTTPStatus: status}
	}
	return Fault{Kind: NoFault}
}

// AwaitTimeout blocks for the fault's configured duration or until ctx is
// done, whichever comes first, then returns a timeout error. Used by
// callers that want the injected timeout to actually consume wall time
// before the pipeline reports the failure, mirroring a real upstream hang.
func (f *Fault) AwaitTimeout(ctx context.Context) error {
	if f.Kind != TimeoutFault {
		return nil
	}
	t := time.NewTimer(f.TimeoutAfter)
	defer t.Stop()
	select {
	case <-t.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
