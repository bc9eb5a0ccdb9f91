package chaos

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ScenarioSpec is the serialized form of a chaos scenario: the shape
// scenario files carry on disk, as opposed to the engine's in-memory
// Scenario bookkeeping. DurationSeconds == 0 means unbounded; StartTime
// and EndTime, when set, bound the window the scenario is considered
// active in.
type ScenarioSpec struct {
	Name            string     `json:"name" yaml:"name"`
	Description     string     `json:"description,omitempty" yaml:"description,omitempty"`
	Config          Config     `json:"chaos_config" yaml:"chaos_config"`
	DurationSeconds int64      `json:"duration_seconds" yaml:"duration_seconds"`
	StartTime       *time.Time `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Tags            []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// IsActive reports whether now falls inside the spec's [StartTime,
// EndTime] window; an unset bound does not constrain.
func (s *ScenarioSpec) IsActive(now time.Time) bool {
	if s.StartTime != nil && now.Before(*s.StartTime) {
		return false
	}
	if s.EndTime != nil && now.After(*s.EndTime) {
		return false
	}
	return true
}

// RecordedScenario is the scenario file format: one scenario plus the
// events captured while it ran. Accepted and produced as JSON or YAML,
// dispatched on the file extension.
type RecordedScenario struct {
	Scenario         ScenarioSpec `json:"scenario" yaml:"scenario"`
	Events           []ChaosEvent `json:"events" yaml:"events"`
	RecordingStarted time.Time    `json:"recording_started" yaml:"recording_started"`
	RecordingEnded   *time.Time   `json:"recording_ended,omitempty" yaml:"recording_ended,omitempty"`
	TotalDurationMS  int64        `json:"total_duration_ms" yaml:"total_duration_ms"`
}

// NewRecordedScenario begins a recording for the given scenario spec.
func NewRecordedScenario(spec ScenarioSpec) *RecordedScenario {
	return &RecordedScenario{Scenario: spec, RecordingStarted: time.Now().UTC()}
}

// AddEvent appends one event to the recording.
func (r *RecordedScenario) AddEvent(e ChaosEvent) {
	r.Events = append(r.Events, e)
}

// Finish stamps the recording end time and total duration.
func (r *RecordedScenario) Finish() {
	ended := time.Now().UTC()
	r.RecordingEnded = &ended
	r.TotalDurationMS = ended.Sub(r.RecordingStarted).Milliseconds()
}

// EventsInRange returns the events whose timestamp falls in [start, end].
func (r *RecordedScenario) EventsInRange(start, end time.Time) []ChaosEvent {
	var out []ChaosEvent
	for _, e := range r.Events {
		if !e.At.Before(start) && !e.At.After(end) {
			out = append(out, e)
		}
	}
	return out
}

// ToJSON serializes the recording as indented JSON.
func (r *RecordedScenario) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ToYAML serializes the recording as YAML.
func (r *RecordedScenario) ToYAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// FromJSON parses a recording from JSON.
func FromJSON(data []byte) (*RecordedScenario, error) {
	var r RecordedScenario
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("chaos: parse recorded scenario: %w", err)
	}
	return &r, nil
}

// FromYAML parses a recording from YAML.
func FromYAML(data []byte) (*RecordedScenario, error) {
	var r RecordedScenario
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("chaos: parse recorded scenario: %w", err)
	}
	return &r, nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// SaveToFile writes the recording to path, as YAML for a .yaml/.yml
// extension and JSON otherwise.
func (r *RecordedScenario) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAMLPath(path) {
		data, err = r.ToYAML()
	} else {
		data, err = r.ToJSON()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("chaos: save recorded scenario: %w", err)
	}
	log.Info().Str("path", path).Str("scenario", r.Scenario.Name).Msg("saved recorded scenario")
	return nil
}

// LoadFromFile reads a recording from path, dispatching on extension the
// same way SaveToFile does.
func LoadFromFile(path string) (*RecordedScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chaos: load recorded scenario: %w", err)
	}
	if isYAMLPath(path) {
		return FromYAML(data)
	}
	return FromJSON(data)
}

// Capture snapshots the recorder's events for the named scenario (events
// stamped with that scenario name, plus unattributed ones) into a
// RecordedScenario ready for export. Recording bounds come from the
// matched events themselves.
func (r *ScenarioRecorder) Capture(spec ScenarioSpec) *RecordedScenario {
	rec := &RecordedScenario{Scenario: spec}
	for _, e := range r.Events() {
		if e.Scenario != "" && e.Scenario != spec.Name {
			continue
		}
		rec.Events = append(rec.Events, e)
	}
	if len(rec.Events) > 0 {
		rec.RecordingStarted = rec.Events[0].At
		ended := rec.Events[len(rec.Events)-1].At
		rec.RecordingEnded = &ended
		rec.TotalDurationMS = ended.Sub(rec.RecordingStarted).Milliseconds()
	}
	return rec
}
