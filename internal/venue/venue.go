// Package venue defines a common abstraction for trading venues.
// This allows the orchestrator to work with different venue backends
// (paper, Binance futures, ...) without changing the lifecycle logic.
//
// Connectors must return real venue data or an explicit error; they never
// synthesize prices, bars, or tickets.
package venue

import (
	"context"
	"time"
)

type Connector interface {
	Name() string

	// GetClosedBars returns the most recent fully closed bars, oldest first.
	GetClosedBars(ctx context.Context, instrument, timeframe string, count int) ([]Bar, error)

	GetOpenPositions(ctx context.Context, filter PositionFilter) ([]Position, error)

	SubmitOrder(ctx context.Context, req SubmitRequest) (Ticket, error)

	ModifyOrder(ctx context.Context, ticket Ticket, mod Modify) error

	CloseOrder(ctx context.Context, ticket Ticket) error

	GetInstrumentSpec(ctx context.Context, instrument string) (InstrumentSpec, error)

	GetBalance(ctx context.Context) (Balance, error)

	GetPrice(ctx context.Context, instrument string) (Quote, error)
}

// Ticket is the venue-assigned order/position handle.
type Ticket string

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool { return d == DirectionLong || d == DirectionShort }

// OrderType separates immediate execution from a resting order at a price.
type OrderType string

const (
	OrderMarket  OrderType = "market"
	OrderPending OrderType = "pending"
)

// Bar is one closed OHLCV bar.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// InstrumentSpec carries the tick and size constraints needed for sizing.
type InstrumentSpec struct {
	Instrument string
	TickSize   float64 // minimal price increment
	TickValue  float64 // account-currency value of one tick for size 1.0
	SizeStep   float64 // minimal size increment
	SizeMin    float64
	SizeMax    float64
}

// SubmitRequest describes one order. Price is ignored for market orders.
type SubmitRequest struct {
	Instrument string
	Direction  Direction
	Type       OrderType
	Price      float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	Tag        uint32 // ident.Identifier carried onto the venue order
}

// Modify updates protective levels on a working order or open position.
// Nil fields are left unchanged.
type Modify struct {
	StopLoss   *float64
	TakeProfit *float64
}

type Position struct {
	Ticket     Ticket
	Instrument string
	Direction  Direction
	Size       float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Tag        uint32
	OpenedAt   time.Time
	Filled     bool // false while a pending order is still resting
}

// PositionFilter narrows GetOpenPositions. Zero values match everything.
type PositionFilter struct {
	Instrument string
	Tag        uint32
}

type Balance struct {
	Currency  string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Last       float64
	UpdatedAt  time.Time
}

// Mid returns the bid/ask midpoint, falling back to the last trade.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}
