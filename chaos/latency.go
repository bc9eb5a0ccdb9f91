package chaos

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// LatencyEngine samples and injects artificial latency: resolve the
// effective profile for the request's tags, sample the
// configured distribution, clamp to [min,max], add jitter, then sleep
// cooperatively (honoring context cancellation) only with probability
// Config.Probability.
type LatencyEngine struct {
	mu    sync.RWMutex
	cfg   LatencyConfig
	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLatencyEngine creates a LatencyEngine. A time-based seed is used
// unless a test harness calls SetSeed for determinism.
func NewLatencyEngine(cfg LatencyConfig) *LatencyEngine {
	return &LatencyEngine{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: Sleep,
	}
}

// Sleep blocks for d, honoring ctx cancellation, returning ctx.Err() if
// canceled first. Shared by every chaos component that needs a
// cooperative, cancellable delay (latency injection, bandwidth shaping).
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSeed makes sampling deterministic, for test harnesses (config.test_mode).
func (e *LatencyEngine) SetSeed(seed int64) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rng = rand.New(rand.NewSource(seed))
}

// UpdateConfig swaps the active configuration, e.g. when a scenario starts.
func (e *LatencyEngine) UpdateConfig(cfg LatencyConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *LatencyEngine) config() LatencyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *LatencyEngine) float64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *LatencyEngine) normFloat64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.NormFloat64()
}

func (e *LatencyEngine) expFloat64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.ExpFloat64()
}

// Sample draws a single latency duration for the given tags, without
// sleeping. Exposed separately from Inject so distribution bounds and
// means can be verified without burning wall-clock time.
func (e *LatencyEngine) Sample(tags []string) time.Duration {
	cfg := e.config()
	profile := cfg.Profile.resolve(tags)

	var base float64
	switch profile.Distribution {
	case Fixed:
		base = profile.BaseMS
	case Uniform:
		span := profile.MaxMS - profile.MinMS
		if span <= 0 {
			span = profile.BaseMS
		}
		base = profile.MinMS + e.float64()*span
	case Normal:
		std := profile.StdDevMS
		if std <= 0 {
			std = profile.BaseMS * 0.1
		}
		base = profile.BaseMS + e.normFloat64()*std
	case Exponential:
		mean := profile.BaseMS
		if mean <= 0 {
			mean = 1
		}
		base = e.expFloat64() * mean
	case Pareto:
		shape := profile.ParetoShape
		if shape <= 0 {
			shape = 1
		}
		u := e.float64()
		if u <= 0 {
			u = 1e-9
		}
		scale := profile.BaseMS
		if scale <= 0 {
			scale = 1
		}
		base = scale / math.Pow(u, 1/shape)
	case LogNormal:
		std := profile.StdDevMS
		if std <= 0 {
			std = 0.25
		}
		mu := math.Log(math.Max(profile.BaseMS, 1e-9))
		base = math.Exp(mu + e.normFloat64()*std)
	case Weibull:
		shape := profile.ParetoShape
		if shape <= 0 {
			shape = 1.5
		}
		scale := profile.BaseMS
		if scale <= 0 {
			scale = 1
		}
		u := e.float64()
		if u <= 0 {
			u = 1e-9
		}
		base = scale * math.Pow(-math.Log(u), 1/shape)
	default:
		base = profile.BaseMS
	}

	jitter := profile.JitterMS * (e.float64()*2 - 1)
	total := profile.clamp(base + jitter)
	return time.Duration(total * float64(time.Millisecond))
}

// Inject samples a latency for the given tags and, when the probabilistic
// gate passes, sleeps cooperatively for that duration. It is a no-op when
// the config is disabled. Honors ctx cancellation during the sleep.
func (e *LatencyEngine) Inject(ctx context.Context, tags []string) (time.Duration, error) {
	cfg := e.config()
	if !cfg.Enabled {
		return 0, nil
	}
	if e.float64() > clampProbability(cfg.Probability) {
		return 0, nil
	}
	d := clampDuration(e.Sample(tags))
	if err := e.sleep(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}
