package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWindow(t *testing.T, start, end string, weekdays bool) Window {
	t.Helper()
	w, err := NewWindow(start, end, "UTC", weekdays)
	require.NoError(t, err)
	return w
}

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "h", "0m", "-1h", "10x", "1w2"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestWindowContains(t *testing.T) {
	w := mustWindow(t, "08:00", "17:00", true)

	// Wednesday 2026-01-07.
	assert.True(t, w.Contains(time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(time.Date(2026, 1, 7, 16, 59, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 1, 7, 17, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 1, 7, 7, 59, 0, 0, time.UTC)))

	// Saturday is filtered by the business-day rule.
	assert.False(t, w.Contains(time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)))
}

func TestWindowNextHourBoundary(t *testing.T) {
	w := mustWindow(t, "08:00", "17:00", true)

	// Mid-window: next top of hour.
	now := time.Date(2026, 1, 7, 9, 12, 33, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC), w.NextHourBoundary(now))

	// After close: first boundary of the next session.
	now = time.Date(2026, 1, 7, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC), w.NextHourBoundary(now))

	// Friday evening skips the weekend entirely.
	now = time.Date(2026, 1, 9, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC), w.NextHourBoundary(now))
}

func TestWindowBoundaryInFractionalOffsetZone(t *testing.T) {
	w, err := NewWindow("09:00", "17:00", "Asia/Kolkata", false)
	require.NoError(t, err)
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 05:00 UTC is 10:30 in Kolkata (UTC+5:30); the next local hour
	// boundary is 11:00, not the absolute-hour alignment at 11:30.
	now := time.Date(2026, 1, 7, 5, 0, 0, 0, time.UTC)
	got := w.NextHourBoundary(now)
	want := time.Date(2026, 1, 7, 11, 0, 0, 0, kolkata)
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
	assert.Equal(t, 0, got.In(kolkata).Minute())
}

func TestZeroValueWindowDoesNotPanic(t *testing.T) {
	var w Window
	assert.NotPanics(t, func() {
		assert.False(t, w.Contains(time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)))
	})
}

func TestNewWindowRejectsBadBounds(t *testing.T) {
	_, err := NewWindow("17:00", "08:00", "UTC", true)
	assert.Error(t, err)
	_, err = NewWindow("8am", "17:00", "UTC", true)
	assert.Error(t, err)
	_, err = NewWindow("08:00", "17:00", "Mars/Olympus", true)
	assert.Error(t, err)
}

func TestGateSkipsOverlappingTick(t *testing.T) {
	var g Gate

	require.True(t, g.TryEnter())
	// Second tick while the first is running must be refused.
	assert.False(t, g.TryEnter())
	g.Leave()
	assert.True(t, g.TryEnter())
	g.Leave()
}

func TestGateConcurrentEntrySingleWinner(t *testing.T) {
	var g Gate
	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryEnter() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestNextFixedTimeAfter(t *testing.T) {
	anchor := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	interval := 15 * time.Minute

	now := anchor.Add(20 * time.Minute)
	assert.Equal(t, anchor.Add(30*time.Minute), nextFixedTimeAfter(anchor, interval, now))

	// Exactly on a slot advances to the next one.
	now = anchor.Add(30 * time.Minute)
	assert.Equal(t, anchor.Add(45*time.Minute), nextFixedTimeAfter(anchor, interval, now))

	// Before the anchor waits for it.
	now = anchor.Add(-time.Minute)
	assert.Equal(t, anchor, nextFixedTimeAfter(anchor, interval, now))
}
