// Package chaos implements the latency and fault injection engine: latency
// distributions, HTTP/gRPC/timeout/connection fault injection, token-bucket
// rate limiting, bandwidth shaping, a burst-loss state machine, and a
// scenario engine that composes all of the above with a bounded lifetime.
package chaos

import (
	"fmt"
	"time"
)

// Distribution selects the statistical shape latency samples are drawn from.
type Distribution int

const (
	Fixed Distribution = iota
	Uniform
	Normal
	Exponential
	Pareto
	LogNormal
	Weibull
)

var distributionNames = map[Distribution]string{
	Fixed:       "fixed",
	Uniform:     "uniform",
	Normal:      "normal",
	Exponential: "exponential",
	Pareto:      "pareto",
	LogNormal:   "log_normal",
	Weibull:     "weibull",
}

func (d Distribution) String() string {
	if name, ok := distributionNames[d]; ok {
		return name
	}
	return "fixed"
}

// ParseDistribution maps a config-file name to its Distribution. Accepts
// the serialized snake_case names plus "lognormal" as a spelling variant.
func ParseDistribution(name string) (Distribution, error) {
	if name == "lognormal" {
		return LogNormal, nil
	}
	for d, n := range distributionNames {
		if n == name {
			return d, nil
		}
	}
	return Fixed, fmt.Errorf("chaos: unknown distribution %q", name)
}

// MarshalText serializes the distribution by name so scenario files carry
// "normal" rather than an opaque integer.
func (d Distribution) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Distribution) UnmarshalText(text []byte) error {
	parsed, err := ParseDistribution(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML/UnmarshalYAML mirror the text form for yaml.v3, which does
// not consult encoding.TextMarshaler on its own.
func (d Distribution) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Distribution) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseDistribution(name)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LatencyProfile configures one latency distribution, with optional
// per-tag overrides that replace the base profile wholesale when a
// request's tags intersect a configured override name.
type LatencyProfile struct {
	BaseMS       float64      `json:"base_ms" yaml:"base_ms"`
	JitterMS     float64      `json:"jitter_ms" yaml:"jitter_ms"`
	Distribution Distribution `json:"distribution" yaml:"distribution"`
	StdDevMS     float64      `json:"std_dev_ms,omitempty" yaml:"std_dev_ms,omitempty"`
	ParetoShape  float64      `json:"pareto_shape,omitempty" yaml:"pareto_shape,omitempty"`
	MinMS        float64      `json:"min_ms" yaml:"min_ms"`
	MaxMS        float64      `json:"max_ms,omitempty" yaml:"max_ms,omitempty"` // 0 means unbounded above

	TagOverrides map[string]*LatencyProfile `json:"tag_overrides,omitempty" yaml:"tag_overrides,omitempty"`
}

// clamp returns ms bounded to [MinMS, MaxMS] (MaxMS==0 means unbounded).
func (p LatencyProfile) clamp(ms float64) float64 {
	if ms < p.MinMS {
		ms = p.MinMS
	}
	if p.MaxMS > 0 && ms > p.MaxMS {
		ms = p.MaxMS
	}
	if ms < 0 {
		ms = 0
	}
	return ms
}

// resolve returns the effective profile for the given tags: the first
// matching tag override, else the base profile itself.
func (p *LatencyProfile) resolve(tags []string) *LatencyProfile {
	for _, tag := range tags {
		if override, ok := p.TagOverrides[tag]; ok {
			return override
		}
	}
	return p
}

// LatencyConfig gates and parameterizes latency injection.
type LatencyConfig struct {
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Profile     LatencyProfile `json:"profile" yaml:"profile"`
	Probability float64        `json:"probability" yaml:"probability"` // Bernoulli gate; 0..1
}

// FaultConfig configures deliberate error/timeout/connection-drop injection.
type FaultConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	HTTPErrors           []int   `json:"http_errors,omitempty" yaml:"http_errors,omitempty"`
	HTTPErrorProbability float64 `json:"http_error_probability,omitempty" yaml:"http_error_probability,omitempty"`

	GrpcErrors           []int32 `json:"grpc_errors,omitempty" yaml:"grpc_errors,omitempty"`
	GrpcErrorProbability float64 `json:"grpc_error_probability,omitempty" yaml:"grpc_error_probability,omitempty"`

	TimeoutProbability float64 `json:"timeout_probability,omitempty" yaml:"timeout_probability,omitempty"`
	TimeoutAfterMS     int64   `json:"timeout_after_ms,omitempty" yaml:"timeout_after_ms,omitempty"`

	ConnectionErrorProbability float64 `json:"connection_error_probability,omitempty" yaml:"connection_error_probability,omitempty"`
}

// RateLimitConfig configures token-bucket request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size"`
	PerIP             bool    `json:"per_ip" yaml:"per_ip"`
	PerEndpoint       bool    `json:"per_endpoint" yaml:"per_endpoint"`
}

// BurstLossConfig configures the burst-loss state machine.
type BurstLossConfig struct {
	BurstProbability    float64 `json:"burst_probability" yaml:"burst_probability"`
	BurstDurationMS     int64   `json:"burst_duration_ms" yaml:"burst_duration_ms"`
	LossRateDuringBurst float64 `json:"loss_rate_during_burst" yaml:"loss_rate_during_burst"`
	RecoveryTimeMS      int64   `json:"recovery_time_ms" yaml:"recovery_time_ms"`
}

// TrafficShapingConfig configures bandwidth limiting and burst loss.
type TrafficShapingConfig struct {
	Enabled           bool            `json:"enabled" yaml:"enabled"`
	BandwidthLimitBps int64           `json:"bandwidth_limit_bps,omitempty" yaml:"bandwidth_limit_bps,omitempty"`
	PacketLossPercent float64         `json:"packet_loss_percent,omitempty" yaml:"packet_loss_percent,omitempty"`
	BurstLoss         BurstLossConfig `json:"burst_loss" yaml:"burst_loss"`
}

// Config is the composite chaos configuration for one scenario or the
// process-wide default.
type Config struct {
	Enabled        bool                  `json:"enabled" yaml:"enabled"`
	Latency        *LatencyConfig        `json:"latency,omitempty" yaml:"latency,omitempty"`
	FaultInjection *FaultConfig          `json:"fault_injection,omitempty" yaml:"fault_injection,omitempty"`
	RateLimit      *RateLimitConfig      `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	TrafficShaping *TrafficShapingConfig `json:"traffic_shaping,omitempty" yaml:"traffic_shaping,omitempty"`
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
