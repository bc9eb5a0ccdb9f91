package chaos

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ChaosEvent is one entry in the scenario event log: a scenario lifecycle
// transition or an injected fault/latency/drop, kept for after-the-fact
// export and tag-filtered inspection.
type ChaosEvent struct {
	Kind     string    `json:"kind" yaml:"kind"`
	Scenario string    `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Tags     []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Detail   string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	At       time.Time `json:"at" yaml:"at"`
}

// ScenarioRecorder is a bounded ring buffer of ChaosEvent, exported as
// JSON or YAML, optionally filtered by tag.
type ScenarioRecorder struct {
	mu     sync.Mutex
	buf    []ChaosEvent
	cap    int
	head   int
	filled bool
}

func NewScenarioRecorder(capacity int) *ScenarioRecorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ScenarioRecorder{buf: make([]ChaosEvent, capacity), cap: capacity}
}

func (r *ScenarioRecorder) Record(e ChaosEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.head == 0 {
		r.filled = true
	}
}

// Events returns all recorded events in chronological order.
func (r *ScenarioRecorder) Events() []ChaosEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *ScenarioRecorder) snapshotLocked() []ChaosEvent {
	if !r.filled {
		out := make([]ChaosEvent, r.head)
		copy(out, r.buf[:r.head])
		return out
	}
	out := make([]ChaosEvent, r.cap)
	copy(out, r.buf[r.head:])
	copy(out[r.cap-r.head:], r.buf[:r.head])
	return out
}

// ExportFiltered serializes events whose Tags intersect the given tags
// (or all events when tags is empty) as JSON or YAML.
func (r *ScenarioRecorder) ExportFiltered(tags []string, asYAML bool) ([]byte, error) {
	events := r.Events()
	if len(tags) > 0 {
		want := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			want[t] = struct{}{}
		}
		filtered := events[:0:0]
		for _, e := range events {
			if hasAnyTag(e.Tags, want) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if asYAML {
		return yaml.Marshal(events)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hasAnyTag(tags []string, want map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}
