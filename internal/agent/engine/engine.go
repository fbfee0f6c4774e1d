// Package engine runs the per-agent decision loops. Each instrument gets
// an hour-aligned entry loop and a fixed-interval re-evaluation loop; both
// funnel through one gate per instrument so a slow cycle is skipped, never
// queued.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tandem/internal/decision"
	"tandem/internal/gateway/notifier"
	"tandem/internal/logger"
	"tandem/internal/pkg/circuit"
	"tandem/internal/pkg/retry"
	"tandem/internal/registry"
	"tandem/internal/scheduler"
	"tandem/internal/venue"
)

const (
	reasonTickOverlap         = "tick_overlap"
	reasonMalformedResponse   = "malformed_response"
	reasonInvalidDecision     = "invalid_decision"
	reasonExternalUnavailable = "external_unavailable"
	reasonLegSubmitFailed     = "leg_submit_failed"
)

// Params assembles one engine. The caller owns the lifetime of every
// dependency.
type Params struct {
	AgentID        int
	ProfileID      int
	Instruments    []string
	Timeframe      string
	BarCount       int
	DefaultRiskPct float64
	Window         scheduler.Window
	SettleDelay    time.Duration
	ReevalInterval time.Duration

	Registry *registry.Registry
	Venue    venue.Connector
	Decider  decision.Decider
	Notifier notifier.TextNotifier
}

// Engine drives entry and re-evaluation cycles for one agent+profile over
// its instrument list.
type Engine struct {
	agentID        int
	profileID      int
	instruments    []string
	timeframe      string
	barCount       int
	defaultRiskPct float64
	window         scheduler.Window
	settleDelay    time.Duration
	reevalInterval time.Duration

	registry *registry.Registry
	venue    venue.Connector
	decider  decision.Decider
	notifier notifier.TextNotifier

	mu       sync.Mutex
	gates    map[string]*scheduler.Gate
	breakers map[string]*circuit.Breaker
}

func New(p Params) *Engine {
	if p.BarCount <= 0 {
		p.BarCount = 200
	}
	if p.Timeframe == "" {
		p.Timeframe = "1h"
	}
	if p.DefaultRiskPct <= 0 {
		p.DefaultRiskPct = 1
	}
	if p.ReevalInterval <= 0 {
		p.ReevalInterval = 15 * time.Minute
	}
	n := p.Notifier
	if n == nil {
		n = notifier.Noop{}
	}
	return &Engine{
		agentID:        p.AgentID,
		profileID:      p.ProfileID,
		instruments:    p.Instruments,
		timeframe:      p.Timeframe,
		barCount:       p.BarCount,
		defaultRiskPct: p.DefaultRiskPct,
		window:         p.Window,
		settleDelay:    p.SettleDelay,
		reevalInterval: p.ReevalInterval,
		registry:       p.Registry,
		venue:          p.Venue,
		decider:        p.Decider,
		notifier:       n,
		gates:          make(map[string]*scheduler.Gate),
		breakers:       make(map[string]*circuit.Breaker),
	}
}

// Run blocks until ctx is done, driving both loops for every instrument.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, instrument := range e.instruments {
		instrument := instrument
		entry := scheduler.NewEntryScheduler(ctx, "entry/"+instrument, e.window, e.settleDelay)
		g.Go(func() error {
			entry.Start(func() { e.entryTick(ctx, instrument) })
			return nil
		})
		reeval := scheduler.NewRedecisionScheduler(ctx, "reeval/"+instrument, e.reevalInterval)
		g.Go(func() error {
			reeval.Start(func() { e.reevalTick(ctx, instrument) })
			return nil
		})
	}
	logger.Infof("engine[agent=%d profile=%d]: running %d instruments timeframe=%s",
		e.agentID, e.profileID, len(e.instruments), e.timeframe)
	return g.Wait()
}

func (e *Engine) triple(instrument string) registry.Triple {
	return registry.Triple{Instrument: instrument, AgentID: e.agentID, ProfileID: e.profileID}
}

func (e *Engine) gate(instrument string) *scheduler.Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gates[instrument]
	if !ok {
		g = &scheduler.Gate{}
		e.gates[instrument] = g
	}
	return g
}

func (e *Engine) breaker(instrument string) *circuit.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[instrument]
	if !ok {
		b = circuit.NewBreaker("engine/"+instrument, 5, 2*time.Minute)
		e.breakers[instrument] = b
	}
	return b
}

func (e *Engine) entryTick(ctx context.Context, instrument string) {
	e.tick(ctx, instrument, "entry", e.runEntryCycle)
}

func (e *Engine) reevalTick(ctx context.Context, instrument string) {
	e.tick(ctx, instrument, "reeval", e.runReevalCycle)
}

// tick wraps one cycle with the overlap gate and the instrument breaker. A
// tick that finds the gate busy is dropped and recorded; it is never run
// late.
//
// The cycle body runs on a context detached from cancellation: a shutdown
// or reload signal stops the schedulers from producing new ticks, but a
// cycle already past the gate finishes its instrument, so a leg submission
// is never killed between siblings.
func (e *Engine) tick(ctx context.Context, instrument, kind string, cycle func(context.Context, string) error) {
	log := scopeFor(e.triple(instrument))
	cctx := context.WithoutCancel(ctx)

	gate := e.gate(instrument)
	if !gate.TryEnter() {
		log.Warnf("%s tick skipped, previous cycle still running", kind)
		e.registry.RecordAnomaly(cctx, e.triple(instrument), 0, 0, reasonTickOverlap,
			kind+" tick skipped, previous cycle still running")
		return
	}
	defer gate.Leave()

	br := e.breaker(instrument)
	if !br.Allow() {
		log.Warnf("%s tick suppressed by open circuit", kind)
		e.registry.RecordAnomaly(cctx, e.triple(instrument), 0, 0, reasonExternalUnavailable,
			kind+" tick suppressed, circuit open")
		return
	}
	if err := cycle(cctx, instrument); err != nil {
		if errors.Is(err, retry.ErrExternalUnavailable) {
			br.RecordFailure()
			e.registry.RecordAnomaly(cctx, e.triple(instrument), 0, 0, reasonExternalUnavailable,
				kind+" cycle aborted: "+err.Error())
		}
		log.Errorf("%s cycle failed: %v", kind, err)
		return
	}
	br.RecordSuccess()
}

func scopeFor(t registry.Triple) logger.Scope {
	return logger.ForTriple(t.Instrument, t.AgentID, t.ProfileID)
}
