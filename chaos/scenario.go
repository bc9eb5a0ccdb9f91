package chaos

import (
	"context"
	"sync"
	"time"
)

// Scenario is a named, timed override of the chaos Config. Multiple
// scenarios may be active at once; ScenarioEngine resolves conflicts with
// a first-active-wins policy (the earliest-started active scenario whose
// config field is set takes precedence).
type Scenario struct {
	Name      string
	Config    Config
	StartedAt time.Time
	ExpiresAt time.Time // zero means no expiry
	Tags      []string
}

func (s *Scenario) active(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(s.ExpiresAt)
}

// ScenarioEngine tracks active scenarios and produces the merged Config
// effective at any instant.
type ScenarioEngine struct {
	mu        sync.Mutex
	base      Config
	scenarios []*Scenario // ordered by StartedAt ascending
	now       func() time.Time
	recorder  *ScenarioRecorder
}

func NewScenarioEngine(base Config, recorder *ScenarioRecorder) *ScenarioEngine {
	return &ScenarioEngine{base: base, now: time.Now, recorder: recorder}
}

// Start activates a scenario. If one with the same name is already active
// it is replaced. durationMS == 0 means the scenario runs until Stop is
// called explicitly.
func (e *ScenarioEngine) Start(name string, cfg Config, durationMS int64, tags []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.removeLocked(name)

	s := &Scenario{Name: name, Config: cfg, StartedAt: now, Tags: tags}
	if durationMS > 0 {
		s.ExpiresAt = now.Add(time.Duration(durationMS) * time.Millisecond)
	}
	e.scenarios = append(e.scenarios, s)

	if e.recorder != nil {
		e.recorder.Record(ChaosEvent{Kind: "scenario_started", Scenario: name, Tags: tags, At: now})
	}
}

// StartSpec activates a scenario from its serialized file form (a
// ScenarioSpec loaded via LoadFromFile), converting its duration-seconds
// bound to the engine's millisecond lifetime.
func (e *ScenarioEngine) StartSpec(spec ScenarioSpec) {
	e.Start(spec.Name, spec.Config, spec.DurationSeconds*1000, spec.Tags)
}

// Stop deactivates the named scenario immediately.
func (e *ScenarioEngine) Stop(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(name)
	if e.recorder != nil {
		e.recorder.Record(ChaosEvent{Kind: "scenario_stopped", Scenario: name, At: e.now()})
	}
}

// StopAll clears every active scenario, leaving only the base config.
func (e *ScenarioEngine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenarios = nil
}

func (e *ScenarioEngine) removeLocked(name string) {
	out := e.scenarios[:0]
	for _, s := range e.scenarios {
		if s.Name != name {
			out = append(out, s)
		}
	}
	e.scenarios = out
}

// Active lists the names of currently-active (non-expired) scenarios.
func (e *ScenarioEngine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupExpiredLocked()
	names := make([]string, 0, len(e.scenarios))
	for _, s := range e.scenarios {
		names = append(names, s.Name)
	}
	return names
}

// Observe forwards an injection event (latency, fault, rate limit,
// traffic shaping) to the engine's recorder, if one was attached.
func (e *ScenarioEngine) Observe(ev ChaosEvent) {
	if e.recorder != nil {
		if ev.At.IsZero() {
			ev.At = e.now()
		}
		e.recorder.Record(ev)
	}
}

// CleanupExpired drops every scenario whose expiry has passed, recording
// a scenario_expired event for each. Lookup paths (Active, Effective)
// already sweep on read; this exists for the periodic background sweep so
// expired scenarios are also recorded and released on an idle engine.
func (e *ScenarioEngine) CleanupExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupExpiredLocked()
}

// RunCleanup periodically calls CleanupExpired until ctx is canceled.
func (e *ScenarioEngine) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.CleanupExpired()
		}
	}
}

func (e *ScenarioEngine) cleanupExpiredLocked() {
	now := e.now()
	out := e.scenarios[:0]
	for _, s := range e.scenarios {
		if s.active(now) {
			out = append(out, s)
		} else if e.recorder != nil {
			e.recorder.Record(ChaosEvent{Kind: "scenario_expired", Scenario: s.Name, At: now})
		}
	}
	e.scenarios = out
}

// Effective returns the merged Config: the base config, overlaid by each
// active scenario in reverse start order so the earliest-started
// scenario's non-nil fields win over later ones, per first-active-wins.
func (e *ScenarioEngine) Effective() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupExpiredLocked()

	merged := e.base
	// Iterate newest-first so the earliest-started active scenario's
	// fields are applied last and therefore win.
	for i := len(e.scenarios) - 1; i >= 0; i-- {
		s := e.scenarios[i]
		mergeInto(&merged, s.Config)
	}
	return merged
}

func mergeInto(dst *Config, src Config) {
	if src.Latency != nil {
		dst.Latency = src.Latency
	}
	if src.FaultInjection != nil {
		dst.FaultInjection = src.FaultInjection
	}
	if src.RateLimit != nil {
		dst.RateLimit = src.RateLimit
	}
	if src.TrafficShaping != nil {
		dst.TrafficShaping = src.TrafficShaping
	}
	if src.Enabled {
		dst.Enabled = true
	}
}
