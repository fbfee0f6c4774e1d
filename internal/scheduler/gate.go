package scheduler

import "sync/atomic"

// Gate serializes cycle work for one instrument. A tick that arrives while
// the previous one is still running must be skipped and logged, never
// queued; TryEnter returning false is that signal.
type Gate struct {
	busy atomic.Bool
}

func (g *Gate) TryEnter() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *Gate) Leave() {
	g.busy.Store(false)
}
