// Package paper is an in-memory venue used for dry runs and tests. Prices
// follow a seeded random walk, so a given seed always replays the same
// market. Orders fill instantly at the quoted side; pending orders rest
// until Fill or Cancel is driven explicitly.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"tandem/internal/venue"
)

// Venue implements venue.Connector against in-memory state.
type Venue struct {
	mu       sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
	balance  float64
	specs    map[string]venue.InstrumentSpec
	prices   map[string]float64
	orders   map[venue.Ticket]*paperOrder
	nextID   int
	slippage float64
}

type paperOrder struct {
	req      venue.SubmitRequest
	ticket   venue.Ticket
	filled   bool
	stop     float64
	target   float64
	openedAt time.Time
}

// Options seeds a paper venue.
type Options struct {
	Seed    int64
	Balance float64
	Specs   map[string]venue.InstrumentSpec
	Prices  map[string]float64
	Now     func() time.Time
}

func New(opts Options) *Venue {
	if opts.Balance == 0 {
		opts.Balance = 10000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	v := &Venue{
		rng:     rand.New(rand.NewSource(opts.Seed)),
		now:     now,
		balance: opts.Balance,
		specs:   make(map[string]venue.InstrumentSpec),
		prices:  make(map[string]float64),
		orders:  make(map[venue.Ticket]*paperOrder),
		nextID:  1,
	}
	for k, s := range opts.Specs {
		v.specs[k] = s
	}
	for k, p := range opts.Prices {
		v.prices[k] = p
	}
	return v
}

var _ venue.Connector = (*Venue)(nil)

func (v *Venue) Name() string { return "paper" }

// GetClosedBars synthesizes a deterministic walk ending at the current
// price, oldest bar first.
func (v *Venue) GetClosedBars(_ context.Context, instrument, timeframe string, count int) ([]venue.Bar, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, ok := v.prices[instrument]
	if !ok {
		return nil, fmt.Errorf("paper: unknown instrument %s", instrument)
	}
	step, err := barStep(timeframe)
	if err != nil {
		return nil, err
	}
	spec := v.specs[instrument]
	tick := spec.TickSize
	if tick == 0 {
		tick = 0.0001
	}

	end := v.now().Truncate(step)
	bars := make([]venue.Bar, count)
	p := price
	for i := count - 1; i >= 0; i-- {
		drift := float64(v.rng.Intn(21)-10) * tick
		open := p - drift
		high := math.Max(open, p) + float64(v.rng.Intn(5))*tick
		low := math.Min(open, p) - float64(v.rng.Intn(5))*tick
		bars[i] = venue.Bar{
			Time:   end.Add(-time.Duration(count-i) * step),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  p,
			Volume: float64(100 + v.rng.Intn(900)),
		}
		p = open
	}
	return bars, nil
}

func (v *Venue) GetOpenPositions(_ context.Context, filter venue.PositionFilter) ([]venue.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []venue.Position
	for _, o := range v.orders {
		if filter.Instrument != "" && o.req.Instrument != filter.Instrument {
			continue
		}
		if filter.Tag != 0 && o.req.Tag != filter.Tag {
			continue
		}
		out = append(out, venue.Position{
			Ticket:     o.ticket,
			Instrument: o.req.Instrument,
			Direction:  o.req.Direction,
			Size:       o.req.Size,
			OpenPrice:  o.req.Price,
			StopLoss:   o.stop,
			TakeProfit: o.target,
			Tag:        o.req.Tag,
			OpenedAt:   o.openedAt,
			Filled:     o.filled,
		})
	}
	return out, nil
}

func (v *Venue) SubmitOrder(_ context.Context, req venue.SubmitRequest) (venue.Ticket, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.prices[req.Instrument]; !ok {
		return "", fmt.Errorf("paper: unknown instrument %s", req.Instrument)
	}
	if !req.Direction.Valid() {
		return "", fmt.Errorf("paper: bad direction %q", req.Direction)
	}
	if req.Size <= 0 {
		return "", fmt.Errorf("paper: bad size %v", req.Size)
	}
	ticket := venue.Ticket(fmt.Sprintf("paper-%d", v.nextID))
	v.nextID++
	v.orders[ticket] = &paperOrder{
		req:      req,
		ticket:   ticket,
		filled:   req.Type == venue.OrderMarket,
		stop:     req.StopLoss,
		target:   req.TakeProfit,
		openedAt: v.now(),
	}
	return ticket, nil
}

func (v *Venue) ModifyOrder(_ context.Context, ticket venue.Ticket, mod venue.Modify) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[ticket]
	if !ok {
		return fmt.Errorf("paper: unknown ticket %s", ticket)
	}
	if mod.StopLoss != nil {
		o.stop = *mod.StopLoss
	}
	if mod.TakeProfit != nil {
		o.target = *mod.TakeProfit
	}
	return nil
}

func (v *Venue) CloseOrder(_ context.Context, ticket venue.Ticket) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.orders[ticket]; !ok {
		return fmt.Errorf("paper: unknown ticket %s", ticket)
	}
	delete(v.orders, ticket)
	return nil
}

func (v *Venue) GetInstrumentSpec(_ context.Context, instrument string) (venue.InstrumentSpec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	spec, ok := v.specs[instrument]
	if !ok {
		return venue.InstrumentSpec{}, fmt.Errorf("paper: unknown instrument %s", instrument)
	}
	return spec, nil
}

func (v *Venue) GetBalance(_ context.Context) (venue.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return venue.Balance{Currency: "USD", Total: v.balance, Available: v.balance, UpdatedAt: v.now()}, nil
}

func (v *Venue) GetPrice(_ context.Context, instrument string) (venue.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, ok := v.prices[instrument]
	if !ok {
		return venue.Quote{}, fmt.Errorf("paper: unknown instrument %s", instrument)
	}
	spec := v.specs[instrument]
	half := spec.TickSize
	if half == 0 {
		half = 0.0001
	}
	return venue.Quote{Instrument: instrument, Bid: price - half, Ask: price + half, Last: price, UpdatedAt: v.now()}, nil
}

// SetPrice moves the market. Tests drive fills and stops through this.
func (v *Venue) SetPrice(instrument string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[instrument] = price
	for _, o := range v.orders {
		if o.filled || o.req.Instrument != instrument {
			continue
		}
		if pendingTouched(o.req, price) {
			o.filled = true
		}
	}
}

// Fill marks a resting pending order as filled regardless of price.
func (v *Venue) Fill(ticket venue.Ticket) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[ticket]
	if !ok {
		return fmt.Errorf("paper: unknown ticket %s", ticket)
	}
	o.filled = true
	return nil
}

// Filled reports whether the ticket holds an open position.
func (v *Venue) Filled(ticket venue.Ticket) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[ticket]
	return ok && o.filled
}

func pendingTouched(req venue.SubmitRequest, price float64) bool {
	if req.Direction == venue.DirectionLong {
		return price <= req.Price
	}
	return price >= req.Price
}

func barStep(timeframe string) (time.Duration, error) {
	switch timeframe {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("paper: unsupported timeframe %q", timeframe)
	}
}
