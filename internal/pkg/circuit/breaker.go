// Package circuit keeps a failing dependency from being hammered every
// cycle. After enough consecutive failures the breaker opens and callers
// are turned away; once the cool-down elapses exactly one probe may go
// through and its outcome decides whether the breaker closes again.
package circuit

import (
	"sync"
	"time"

	"tandem/internal/logger"
)

// Breaker guards one instrument or one upstream client. Construct with
// NewBreaker.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	failures int
	open     bool
	probing  bool
	openedAt time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{name: name, trip: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether the caller may proceed. An open breaker whose
// cool-down has elapsed admits a single probe; further callers keep
// being rejected until that probe reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing || b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	b.probing = true
	logger.Warnf("circuit %s: cool-down over, admitting probe", b.name)
	return true
}

// RecordSuccess resets the failure count and, after a successful probe,
// closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		logger.Warnf("circuit %s: recovered, closing", b.name)
	}
	b.open = false
	b.probing = false
	b.failures = 0
}

// RecordFailure counts one failure. At the threshold, or when a probe
// fails, the breaker opens and the cool-down restarts.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.probing {
		b.probing = false
		b.openedAt = b.now()
		logger.Warnf("circuit %s: probe failed, reopening for %s", b.name, b.cooldown)
		return
	}
	if !b.open && b.failures >= b.trip {
		b.open = true
		b.openedAt = b.now()
		logger.Warnf("circuit %s: opened after %d consecutive failures, cool-down %s",
			b.name, b.failures, b.cooldown)
	}
}

// Open reports whether calls are currently rejected outright.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && !b.probing
}
