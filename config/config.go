// Package config assembles the core's runtime configuration from
// environment variables: typed env helpers with fallbacks, building the
// nested chaos, record, replay, and resilience config structs the rest of
// the module consumes.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/mockforge/mockforge-core/resilience"
)

// Config holds every environment-driven setting the core consumes.
type Config struct {
	Port    int
	Version string

	// ScenarioExportPath, when set, is where the chaos event capture is
	// saved on shutdown (.json, .yaml, or .yml).
	ScenarioExportPath string

	Chaos      ChaosConfig
	Record     RecordConfig
	Replay     ReplayConfig
	Resilience ResilienceConfig
	Telemetry  TelemetryConfig
	TestMode   TestModeConfig
}

// ChaosConfig groups the chaos.* options.
type ChaosConfig struct {
	Enabled        bool
	Latency        chaos.LatencyConfig
	FaultInjection chaos.FaultConfig
	RateLimit      chaos.RateLimitConfig
	TrafficShaping chaos.TrafficShapingConfig
}

// RecordConfig groups the record.* options.
type RecordConfig struct {
	Enabled               bool
	FixturesDir           string
	GetOnly               bool
	IncludeChaosResponses bool
}

// ReplayConfig groups the replay.* options.
type ReplayConfig struct {
	Enabled     bool
	FixturesDir string
}

// ResilienceConfig groups the resilience.* options.
type ResilienceConfig struct {
	CircuitBreaker resilience.CircuitBreakerConfig
	Bulkhead       resilience.BulkheadConfig
	Retry          resilience.RetryPolicy
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// TestModeConfig, when Enabled, seeds every RNG in the chaos engine with
// Seed so latency/fault sampling is reproducible in test harnesses.
type TestModeConfig struct {
	Enabled bool
	Seed    int64
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("MOCKFORGE_PORT", 8080),
		Version: envStr("MOCKFORGE_VERSION", "0.1.0"),

		ScenarioExportPath: envStr("MOCKFORGE_SCENARIO_EXPORT_PATH", ""),

		Chaos: ChaosConfig{
			Enabled: envBool("MOCKFORGE_CHAOS_ENABLED", false),
			Latency: chaos.LatencyConfig{
				Enabled:     envBool("MOCKFORGE_CHAOS_LATENCY_ENABLED", false),
				Probability: envFloat("MOCKFORGE_CHAOS_LATENCY_PROBABILITY", 1.0),
				Profile: chaos.LatencyProfile{
					BaseMS:       envFloat("MOCKFORGE_CHAOS_LATENCY_BASE_MS", 50),
					JitterMS:     envFloat("MOCKFORGE_CHAOS_LATENCY_JITTER_MS", 10),
					Distribution: envDistribution("MOCKFORGE_CHAOS_LATENCY_DISTRIBUTION", chaos.Fixed),
					MinMS:        envFloat("MOCKFORGE_CHAOS_LATENCY_MIN_MS", 0),
					MaxMS:        envFloat("MOCKFORGE_CHAOS_LATENCY_MAX_MS", 0),
				},
			},
			FaultInjection: chaos.FaultConfig{
				Enabled:                    envBool("MOCKFORGE_CHAOS_FAULT_ENABLED", false),
				HTTPErrors:                 envIntList("MOCKFORGE_CHAOS_FAULT_HTTP_ERRORS", []int{500, 502, 503}),
				HTTPErrorProbability:       envFloat("MOCKFORGE_CHAOS_FAULT_HTTP_PROBABILITY", 0),
				TimeoutProbability:         envFloat("MOCKFORGE_CHAOS_FAULT_TIMEOUT_PROBABILITY", 0),
				TimeoutAfterMS:             envInt64("MOCKFORGE_CHAOS_FAULT_TIMEOUT_AFTER_MS", 5000),
				ConnectionErrorProbability: envFloat("MOCKFORGE_CHAOS_FAULT_CONNECTION_PROBABILITY", 0),
			},
			RateLimit: chaos.RateLimitConfig{
				Enabled:           envBool("MOCKFORGE_CHAOS_RATELIMIT_ENABLED", false),
				RequestsPerSecond: envFloat("MOCKFORGE_CHAOS_RATELIMIT_RPS", 50),
				BurstSize:         envInt("MOCKFORGE_CHAOS_RATELIMIT_BURST", 10),
				PerIP:             envBool("MOCKFORGE_CHAOS_RATELIMIT_PER_IP", true),
				PerEndpoint:       envBool("MOCKFORGE_CHAOS_RATELIMIT_PER_ENDPOINT", false),
			},
			TrafficShaping: chaos.TrafficShapingConfig{
				Enabled:           envBool("MOCKFORGE_CHAOS_SHAPING_ENABLED", false),
				BandwidthLimitBps: envInt64("MOCKFORGE_CHAOS_SHAPING_BANDWIDTH_BPS", 0),
				PacketLossPercent: envFloat("MOCKFORGE_CHAOS_SHAPING_PACKET_LOSS_PERCENT", 0),
				BurstLoss: chaos.BurstLossConfig{
					BurstProbability:    envFloat("MOCKFORGE_CHAOS_BURST_PROBABILITY", 0),
					BurstDurationMS:     envInt64("MOCKFORGE_CHAOS_BURST_DURATION_MS", 0),
					LossRateDuringBurst: envFloat("MOCKFORGE_CHAOS_BURST_LOSS_RATE", 0),
					RecoveryTimeMS:      envInt64("MOCKFORGE_CHAOS_BURST_RECOVERY_MS", 0),
				},
			},
		},

		Record: RecordConfig{
			Enabled:               envBool("MOCKFORGE_RECORD_ENABLED", false),
			FixturesDir:           envStr("MOCKFORGE_RECORD_FIXTURES_DIR", "./fixtures"),
			GetOnly:               envBool("MOCKFORGE_RECORD_GET_ONLY", false),
			IncludeChaosResponses: envBool("MOCKFORGE_RECORD_INCLUDE_CHAOS_RESPONSES", false),
		},
		Replay: ReplayConfig{
			Enabled:     envBool("MOCKFORGE_REPLAY_ENABLED", false),
			FixturesDir: envStr("MOCKFORGE_REPLAY_FIXTURES_DIR", "./fixtures"),
		},

		Resilience: ResilienceConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				FailureThreshold:     envInt("MOCKFORGE_RESILIENCE_CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold:     envInt("MOCKFORGE_RESILIENCE_CB_SUCCESS_THRESHOLD", 3),
				TimeoutMS:            envInt64("MOCKFORGE_RESILIENCE_CB_TIMEOUT_MS", 30_000),
				HalfOpenMaxRequests:  envInt("MOCKFORGE_RESILIENCE_CB_HALF_OPEN_MAX", 5),
				FailureRateThreshold: envFloat("MOCKFORGE_RESILIENCE_CB_FAILURE_RATE", 0.5),
				MinRequestsForRate:   envInt("MOCKFORGE_RESILIENCE_CB_MIN_REQUESTS", 10),
				RollingWindowMS:      envInt64("MOCKFORGE_RESILIENCE_CB_WINDOW_MS", 60_000),
			},
			Bulkhead: resilience.BulkheadConfig{
				MaxConcurrent:  envInt("MOCKFORGE_RESILIENCE_BULKHEAD_MAX_CONCURRENT", 50),
				MaxQueue:       envInt("MOCKFORGE_RESILIENCE_BULKHEAD_MAX_QUEUE", 100),
				QueueTimeoutMS: envInt64("MOCKFORGE_RESILIENCE_BULKHEAD_QUEUE_TIMEOUT_MS", 5_000),
			},
			Retry: resilience.RetryPolicy{
				MaxAttempts:       envInt("MOCKFORGE_RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
				InitialBackoffMS:  envInt64("MOCKFORGE_RESILIENCE_RETRY_INITIAL_BACKOFF_MS", 100),
				MaxBackoffMS:      envInt64("MOCKFORGE_RESILIENCE_RETRY_MAX_BACKOFF_MS", 5_000),
				BackoffMultiplier: envFloat("MOCKFORGE_RESILIENCE_RETRY_MULTIPLIER", 2.0),
				JitterFactor:      envFloat("MOCKFORGE_RESILIENCE_RETRY_JITTER", 0.2),
			},
		},

		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "mockforge-core"),
		},

		TestMode: TestModeConfig{
			Enabled: envBool("MOCKFORGE_TEST_MODE", false),
			Seed:    envInt64("MOCKFORGE_TEST_SEED", 1),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envIntList(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if i, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDistribution(key string, fallback chaos.Distribution) chaos.Distribution {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	d, err := chaos.ParseDistribution(v)
	if err != nil {
		return fallback
	}
	return d
}
