// Package scheduler drives the two decision cadences: hour-aligned entry
// ticks inside the trading window, and fixed-interval re-decision ticks for
// open operations. Both loops are cancellable and never queue a missed tick.
package scheduler

import (
	"context"
	"time"

	"tandem/internal/logger"
)

// EntryScheduler fires at each wall-clock hour boundary inside its window,
// after a settle delay that lets the just-closed bar become visible.
type EntryScheduler struct {
	Name        string
	Window      Window
	SettleDelay time.Duration

	ctx   context.Context
	nowFn func() time.Time
}

func NewEntryScheduler(ctx context.Context, name string, window Window, settleDelay time.Duration) *EntryScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if settleDelay < 0 {
		settleDelay = 0
	}
	return &EntryScheduler{
		Name:        name,
		Window:      window,
		SettleDelay: settleDelay,
		ctx:         ctx,
		nowFn:       time.Now,
	}
}

// Start blocks, invoking task at each eligible boundary until the context
// is done. Ticks run inline: while task runs the scheduler is in its firing
// state and cannot produce another tick.
func (s *EntryScheduler) Start(task func()) {
	if s == nil || task == nil {
		logger.Warnf("EntryScheduler: nil scheduler or task, exit")
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("EntryScheduler[%s]: started window=%s settle=%s", s.Name, s.Window, s.SettleDelay)

	for {
		now := s.nowFn()
		boundary := s.Window.NextHourBoundary(now)
		if boundary.IsZero() {
			logger.Errorf("EntryScheduler[%s]: no eligible boundary found, exit", s.Name)
			return
		}
		fireAt := boundary.Add(s.SettleDelay)
		logger.Infof("EntryScheduler[%s]: waiting boundary=%s fire=%s (in %s)",
			s.Name, boundary.Format(time.RFC3339), fireAt.Format(time.RFC3339),
			fireAt.Sub(now).Truncate(time.Second))

		if !waitUntil(s.ctx, s.nowFn, fireAt) {
			logger.Infof("EntryScheduler[%s]: ctx done, exit", s.Name)
			return
		}
		task()
	}
}

// RedecisionScheduler fires every fixed interval, independent of any
// trading window.
type RedecisionScheduler struct {
	Name     string
	Interval time.Duration

	ctx   context.Context
	nowFn func() time.Time
}

func NewRedecisionScheduler(ctx context.Context, name string, interval time.Duration) *RedecisionScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RedecisionScheduler{Name: name, Interval: interval, ctx: ctx, nowFn: time.Now}
}

func (s *RedecisionScheduler) Start(task func()) {
	if s == nil || task == nil {
		logger.Warnf("RedecisionScheduler: nil scheduler or task, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("RedecisionScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("RedecisionScheduler[%s]: started interval=%s", s.Name, s.Interval)

	anchor := s.nowFn()
	next := anchor.Add(s.Interval)
	for {
		if !waitUntil(s.ctx, s.nowFn, next) {
			logger.Infof("RedecisionScheduler[%s]: ctx done, exit", s.Name)
			return
		}
		task()
		// Re-anchor after the task so a long tick does not burst-fire.
		next = nextFixedTimeAfter(anchor, s.Interval, s.nowFn())
	}
}

func waitUntil(ctx context.Context, nowFn func() time.Time, target time.Time) bool {
	wait := target.Sub(nowFn())
	if wait <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
