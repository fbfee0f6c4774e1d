package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow())
	assert.True(t, b.Open())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.True(t, b.Allow())
}

func TestBreakerSingleProbeAfterCooldown(t *testing.T) {
	clock := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("test", 1, time.Minute)
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	assert.False(t, b.Allow())

	clock = clock.Add(2 * time.Minute)
	assert.True(t, b.Allow(), "first caller after cool-down is the probe")
	assert.False(t, b.Allow(), "no second caller while the probe is out")

	b.RecordSuccess()
	assert.True(t, b.Allow())
	assert.False(t, b.Open())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("test", 1, time.Minute)
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(2 * time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow(), "cool-down restarts after a failed probe")

	clock = clock.Add(2 * time.Minute)
	assert.True(t, b.Allow())
}
