package chaos_test

import (
	"encoding/json"
	"testing"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioEngineMergesOnTopOfBase(t *testing.T) {
	base := chaos.Config{Enabled: true, Latency: &chaos.LatencyConfig{Enabled: true, Probability: 0.1}}
	rec := chaos.NewScenarioRecorder(10)
	eng := chaos.NewScenarioEngine(base, rec)

	eng.Start("degraded", chaos.Config{
		Latency: &chaos.LatencyConfig{Enabled: true, Probability: 1},
	}, 0, []string{"demo"})

	eff := eng.Effective()
	assert.Equal(t, 1.0, eff.Latency.Probability)
	assert.Contains(t, eng.Active(), "degraded")
}

func TestScenarioEngineFirstActiveWins(t *testing.T) {
	base := chaos.Config{}
	eng := chaos.NewScenarioEngine(base, nil)

	eng.Start("first", chaos.Config{Latency: &chaos.LatencyConfig{Probability: 0.2}}, 0, nil)
	eng.Start("second", chaos.Config{Latency: &chaos.LatencyConfig{Probability: 0.9}}, 0, nil)

	eff := eng.Effective()
	assert.Equal(t, 0.2, eff.Latency.Probability)
}

func TestScenarioEngineStopRemovesOverride(t *testing.T) {
	base := chaos.Config{Latency: &chaos.LatencyConfig{Probability: 0.1}}
	eng := chaos.NewScenarioEngine(base, nil)

	eng.Start("temp", chaos.Config{Latency: &chaos.LatencyConfig{Probability: 0.9}}, 0, nil)
	eng.Stop("temp")

	eff := eng.Effective()
	assert.Equal(t, 0.1, eff.Latency.Probability)
	assert.Empty(t, eng.Active())
}

func TestScenarioEngineRestartingReplacesExisting(t *testing.T) {
	eng := chaos.NewScenarioEngine(chaos.Config{}, nil)
	eng.Start("x", chaos.Config{Latency: &chaos.LatencyConfig{Probability: 0.3}}, 0, nil)
	eng.Start("x", chaos.Config{Latency: &chaos.LatencyConfig{Probability: 0.7}}, 0, nil)

	assert.Len(t, eng.Active(), 1)
	assert.Equal(t, 0.7, eng.Effective().Latency.Probability)
}

func TestScenarioRecorderExportFilteredByTag(t *testing.T) {
	rec := chaos.NewScenarioRecorder(10)
	rec.Record(chaos.ChaosEvent{Kind: "scenario_started", Scenario: "a", Tags: []string{"demo"}})
	rec.Record(chaos.ChaosEvent{Kind: "scenario_started", Scenario: "b", Tags: []string{"other"}})

	out, err := rec.ExportFiltered([]string{"demo"}, false)
	require.NoError(t, err)

	var events []chaos.ChaosEvent
	require.NoError(t, json.Unmarshal(out, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Scenario)
}

func TestScenarioRecorderRingBufferWraps(t *testing.T) {
	rec := chaos.NewScenarioRecorder(3)
	for i := 0; i < 5; i++ {
		rec.Record(chaos.ChaosEvent{Kind: "x"})
	}
	assert.Len(t, rec.Events(), 3)
}

func TestScenarioRecorderExportYAML(t *testing.T) {
	rec := chaos.NewScenarioRecorder(10)
	rec.Record(chaos.ChaosEvent{Kind: "scenario_started", Scenario: "a"})
	out, err := rec.ExportFiltered(nil, true)
	require.NoError(t, err)
	assert.Contains(t, string(out), "scenario: a")
}
