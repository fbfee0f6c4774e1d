package engine

import (
	"context"
	"fmt"
	"time"

	"tandem/internal/analysis/indicator"
	"tandem/internal/decision"
	"tandem/internal/pkg/retry"
	"tandem/internal/venue"
)

// snapshotBarsInPayload caps the bar history carried inside a request;
// indicators are computed over the full lookback first.
const snapshotBarsInPayload = 50

// buildSnapshot gathers fresh market context for one request. Every venue
// read goes through the retry policy; a venue outage surfaces as
// retry.ErrExternalUnavailable and skips the cycle.
func (e *Engine) buildSnapshot(ctx context.Context, instrument string) (decision.Snapshot, venue.Quote, error) {
	var (
		bars  []venue.Bar
		quote venue.Quote
		bal   venue.Balance
	)
	err := retry.Do(ctx, "snapshot/"+instrument, func(ctx context.Context) error {
		var err error
		bars, err = e.venue.GetClosedBars(ctx, instrument, e.timeframe, e.barCount)
		if err != nil {
			return err
		}
		quote, err = e.venue.GetPrice(ctx, instrument)
		if err != nil {
			return err
		}
		bal, err = e.venue.GetBalance(ctx)
		return err
	})
	if err != nil {
		return decision.Snapshot{}, venue.Quote{}, err
	}
	if len(bars) == 0 {
		return decision.Snapshot{}, venue.Quote{}, fmt.Errorf("engine: no closed bars for %s", instrument)
	}

	rep, err := indicator.Compute(bars, indicator.Settings{Instrument: instrument, Timeframe: e.timeframe})
	if err != nil {
		return decision.Snapshot{}, venue.Quote{}, err
	}

	tail := bars
	if len(tail) > snapshotBarsInPayload {
		tail = tail[len(tail)-snapshotBarsInPayload:]
	}
	return decision.Snapshot{
		Instrument:  instrument,
		Timeframe:   e.timeframe,
		GeneratedAt: time.Now().UTC(),
		Bars:        tail,
		Indicators:  rep.Flatten(),
		Balance:     bal.Total,
		Bid:         quote.Bid,
		Ask:         quote.Ask,
	}, quote, nil
}
