package chaos_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockforge/mockforge-core/chaos"
)

func degradedSpec() chaos.ScenarioSpec {
	return chaos.ScenarioSpec{
		Name:        "degraded-upstream",
		Description: "upstream slow and flaky",
		Config: chaos.Config{
			Enabled: true,
			Latency: &chaos.LatencyConfig{
				Enabled:     true,
				Probability: 1,
				Profile: chaos.LatencyProfile{
					BaseMS:       250,
					Distribution: chaos.Normal,
					StdDevMS:     50,
					MinMS:        10,
					MaxMS:        2000,
				},
			},
			FaultInjection: &chaos.FaultConfig{
				Enabled:              true,
				HTTPErrors:           []int{502, 503},
				HTTPErrorProbability: 0.25,
			},
		},
		DurationSeconds: 60,
		Tags:            []string{"demo", "upstream"},
	}
}

func TestRecordedScenarioJSONRoundTrip(t *testing.T) {
	rec := chaos.NewRecordedScenario(degradedSpec())
	rec.AddEvent(chaos.ChaosEvent{Kind: "latency_injection", Scenario: "degraded-upstream", Detail: "delay_ms=250", At: time.Now().UTC()})
	rec.AddEvent(chaos.ChaosEvent{Kind: "fault_injection", Scenario: "degraded-upstream", Detail: "http=503", At: time.Now().UTC()})
	rec.Finish()

	data, err := rec.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chaos_config"`)
	assert.Contains(t, string(data), `"distribution": "normal"`)
	assert.Contains(t, string(data), `"total_duration_ms"`)

	back, err := chaos.FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Scenario, back.Scenario)
	require.Len(t, back.Events, 2)
	assert.Equal(t, "latency_injection", back.Events[0].Kind)
	require.NotNil(t, back.RecordingEnded)
}

func TestRecordedScenarioFileExtensionDispatch(t *testing.T) {
	dir := t.TempDir()
	rec := chaos.NewRecordedScenario(degradedSpec())
	rec.AddEvent(chaos.ChaosEvent{Kind: "rate_limit_exceeded", At: time.Now().UTC()})
	rec.Finish()

	yamlPath := filepath.Join(dir, "degraded.yaml")
	require.NoError(t, rec.SaveToFile(yamlPath))
	fromYAML, err := chaos.LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "degraded-upstream", fromYAML.Scenario.Name)
	assert.Equal(t, chaos.Normal, fromYAML.Scenario.Config.Latency.Profile.Distribution)

	jsonPath := filepath.Join(dir, "degraded.json")
	require.NoError(t, rec.SaveToFile(jsonPath))
	fromJSON, err := chaos.LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, fromYAML.Scenario, fromJSON.Scenario)
	assert.Len(t, fromJSON.Events, 1)
}

func TestScenarioSpecIsActiveWindow(t *testing.T) {
	now := time.Now().UTC()
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	unbounded := chaos.ScenarioSpec{Name: "x"}
	assert.True(t, unbounded.IsActive(now))

	windowed := chaos.ScenarioSpec{Name: "x", StartTime: &before, EndTime: &after}
	assert.True(t, windowed.IsActive(now))
	assert.False(t, windowed.IsActive(before.Add(-time.Minute)))
	assert.False(t, windowed.IsActive(after.Add(time.Minute)))
}

func TestRecorderCaptureFiltersByScenario(t *testing.T) {
	rec := chaos.NewScenarioRecorder(10)
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec.Record(chaos.ChaosEvent{Kind: "scenario_started", Scenario: "a", At: t0})
	rec.Record(chaos.ChaosEvent{Kind: "fault_injection", Scenario: "b", At: t0.Add(time.Second)})
	rec.Record(chaos.ChaosEvent{Kind: "latency_injection", At: t0.Add(2 * time.Second)})
	rec.Record(chaos.ChaosEvent{Kind: "scenario_stopped", Scenario: "a", At: t0.Add(3 * time.Second)})

	captured := rec.Capture(chaos.ScenarioSpec{Name: "a"})
	require.Len(t, captured.Events, 3)
	assert.Equal(t, t0, captured.RecordingStarted)
	require.NotNil(t, captured.RecordingEnded)
	assert.Equal(t, int64(3000), captured.TotalDurationMS)
}

func TestScenarioEngineCleanupExpired(t *testing.T) {
	rec := chaos.NewScenarioRecorder(10)
	eng := chaos.NewScenarioEngine(chaos.Config{}, rec)

	eng.Start("shortlived", chaos.Config{Latency: &chaos.LatencyConfig{Probability: 1}}, 1, nil)
	time.Sleep(5 * time.Millisecond)
	eng.CleanupExpired()

	assert.Empty(t, eng.Active())
	kinds := make([]string, 0)
	for _, e := range rec.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, "scenario_expired")
}

func TestParseDistributionNames(t *testing.T) {
	for name, want := range map[string]chaos.Distribution{
		"fixed":       chaos.Fixed,
		"uniform":     chaos.Uniform,
		"normal":      chaos.Normal,
		"exponential": chaos.Exponential,
		"pareto":      chaos.Pareto,
		"log_normal":  chaos.LogNormal,
		"lognormal":   chaos.LogNormal,
		"weibull":     chaos.Weibull,
	} {
		got, err := chaos.ParseDistribution(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := chaos.ParseDistribution("bimodal")
	assert.Error(t, err)
}

func TestStartSpecActivatesLoadedScenario(t *testing.T) {
	dir := t.TempDir()
	rec := chaos.NewRecordedScenario(degradedSpec())
	path := filepath.Join(dir, "degraded.yml")
	require.NoError(t, rec.SaveToFile(path))

	loaded, err := chaos.LoadFromFile(path)
	require.NoError(t, err)

	eng := chaos.NewScenarioEngine(chaos.Config{}, nil)
	eng.StartSpec(loaded.Scenario)

	assert.Contains(t, eng.Active(), "degraded-upstream")
	eff := eng.Effective()
	require.NotNil(t, eff.Latency)
	assert.Equal(t, 1.0, eff.Latency.Probability)
	require.NotNil(t, eff.FaultInjection)
	assert.Equal(t, []int{502, 503}, eff.FaultInjection.HTTPErrors)
}
