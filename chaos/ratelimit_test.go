package chaos_test

import (
	"testing"
	"time"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := chaos.NewRateLimiter(chaos.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 3})
	key := rl.Key("1.2.3.4", "GET /x")

	assert.True(t, rl.Allow(key))
	assert.True(t, rl.Allow(key))
	assert.True(t, rl.Allow(key))
	assert.False(t, rl.Allow(key))
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := chaos.NewRateLimiter(chaos.RateLimitConfig{Enabled: true, RequestsPerSecond: 50, BurstSize: 1})
	key := rl.Key("1.2.3.4", "GET /x")

	assert.True(t, rl.Allow(key))
	assert.False(t, rl.Allow(key))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow(key))
}

func TestRateLimiterDisabledAlwaysAllows(t *testing.T) {
	rl := chaos.NewRateLimiter(chaos.RateLimitConfig{Enabled: false})
	key := rl.Key("1.2.3.4", "GET /x")
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(key))
	}
}

func TestRateLimiterKeysAreIsolatedPerIP(t *testing.T) {
	rl := chaos.NewRateLimiter(chaos.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1, PerIP: true})

	keyA := rl.Key("1.1.1.1", "GET /x")
	keyB := rl.Key("2.2.2.2", "GET /x")

	assert.True(t, rl.Allow(keyA))
	assert.False(t, rl.Allow(keyA))
	assert.True(t, rl.Allow(keyB))
}
