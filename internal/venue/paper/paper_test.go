package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/venue"
)

func eurusdSpec() venue.InstrumentSpec {
	return venue.InstrumentSpec{
		Instrument: "EURUSD",
		TickSize:   0.0001,
		TickValue:  10,
		SizeStep:   0.01,
		SizeMin:    0.01,
		SizeMax:    100,
	}
}

func newTestVenue() *Venue {
	fixed := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	return New(Options{
		Seed:    42,
		Balance: 10000,
		Specs:   map[string]venue.InstrumentSpec{"EURUSD": eurusdSpec()},
		Prices:  map[string]float64{"EURUSD": 1.1000},
		Now:     func() time.Time { return fixed },
	})
}

func TestBarsAreDeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	a, err := newTestVenue().GetClosedBars(ctx, "EURUSD", "1h", 50)
	require.NoError(t, err)
	b, err := newTestVenue().GetClosedBars(ctx, "EURUSD", "1h", 50)
	require.NoError(t, err)
	require.Len(t, a, 50)
	assert.Equal(t, a, b)

	// Oldest first, ending one step before now, closing at the quote.
	assert.True(t, a[0].Time.Before(a[49].Time))
	assert.InDelta(t, 1.1000, a[49].Close, 1e-9)
	for _, bar := range a {
		assert.GreaterOrEqual(t, bar.High, bar.Low)
	}
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	v := newTestVenue()
	ctx := context.Background()

	ticket, err := v.SubmitOrder(ctx, venue.SubmitRequest{
		Instrument: "EURUSD",
		Direction:  venue.DirectionLong,
		Type:       venue.OrderMarket,
		Price:      1.1000,
		Size:       0.4,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
		Tag:        30701,
	})
	require.NoError(t, err)
	assert.True(t, v.Filled(ticket))

	positions, err := v.GetOpenPositions(ctx, venue.PositionFilter{Tag: 30701})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Filled)
	assert.Equal(t, venue.DirectionLong, positions[0].Direction)
}

func TestPendingOrderRestsUntilTouched(t *testing.T) {
	v := newTestVenue()
	ctx := context.Background()

	ticket, err := v.SubmitOrder(ctx, venue.SubmitRequest{
		Instrument: "EURUSD",
		Direction:  venue.DirectionLong,
		Type:       venue.OrderPending,
		Price:      1.0970,
		Size:       0.4,
		Tag:        30702,
	})
	require.NoError(t, err)
	assert.False(t, v.Filled(ticket))

	v.SetPrice("EURUSD", 1.0980)
	assert.False(t, v.Filled(ticket))

	v.SetPrice("EURUSD", 1.0965)
	assert.True(t, v.Filled(ticket))
}

func TestModifyAndClose(t *testing.T) {
	v := newTestVenue()
	ctx := context.Background()

	ticket, err := v.SubmitOrder(ctx, venue.SubmitRequest{
		Instrument: "EURUSD",
		Direction:  venue.DirectionShort,
		Type:       venue.OrderMarket,
		Size:       0.2,
		StopLoss:   1.1050,
		TakeProfit: 1.0900,
	})
	require.NoError(t, err)

	stop := 1.1030
	require.NoError(t, v.ModifyOrder(ctx, ticket, venue.Modify{StopLoss: &stop}))
	positions, err := v.GetOpenPositions(ctx, venue.PositionFilter{Instrument: "EURUSD"})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 1.1030, positions[0].StopLoss, 1e-9)
	assert.InDelta(t, 1.0900, positions[0].TakeProfit, 1e-9)

	require.NoError(t, v.CloseOrder(ctx, ticket))
	positions, err = v.GetOpenPositions(ctx, venue.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, positions)

	assert.Error(t, v.CloseOrder(ctx, ticket))
	assert.Error(t, v.ModifyOrder(ctx, ticket, venue.Modify{}))
}

func TestSubmitValidation(t *testing.T) {
	v := newTestVenue()
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, venue.SubmitRequest{Instrument: "GBPUSD", Direction: venue.DirectionLong, Type: venue.OrderMarket, Size: 1})
	assert.Error(t, err)
	_, err = v.SubmitOrder(ctx, venue.SubmitRequest{Instrument: "EURUSD", Direction: "sideways", Type: venue.OrderMarket, Size: 1})
	assert.Error(t, err)
	_, err = v.SubmitOrder(ctx, venue.SubmitRequest{Instrument: "EURUSD", Direction: venue.DirectionLong, Type: venue.OrderMarket, Size: 0})
	assert.Error(t, err)
}

func TestQuoteAndBalance(t *testing.T) {
	v := newTestVenue()
	ctx := context.Background()

	q, err := v.GetPrice(ctx, "EURUSD")
	require.NoError(t, err)
	assert.InDelta(t, 1.1000, q.Mid(), 1e-9)
	assert.Less(t, q.Bid, q.Ask)

	bal, err := v.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, bal.Total)

	spec, err := v.GetInstrumentSpec(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 0.0001, spec.TickSize)
	_, err = v.GetInstrumentSpec(ctx, "GBPUSD")
	assert.Error(t, err)
}
