// Package risk converts a risk percentage into a venue-legal order size.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tandem/internal/venue"
)

var (
	ErrInvalidArgument       = errors.New("risk: invalid argument")
	ErrInvalidInstrumentSpec = errors.New("risk: invalid instrument spec")
)

// Size computes the order size for risking riskPct percent of balance
// between entryPrice and stopPrice, rounded to the instrument's size step
// and clamped to its legal range. Pure function, no I/O.
func Size(balance, riskPct, entryPrice, stopPrice float64, spec venue.InstrumentSpec) (float64, error) {
	if balance <= 0 {
		return 0, fmt.Errorf("%w: balance=%v", ErrInvalidArgument, balance)
	}
	if riskPct <= 0 || riskPct > 100 {
		return 0, fmt.Errorf("%w: riskPct=%v not in (0,100]", ErrInvalidArgument, riskPct)
	}
	if entryPrice <= 0 || stopPrice <= 0 || entryPrice == stopPrice {
		return 0, fmt.Errorf("%w: entry=%v stop=%v", ErrInvalidArgument, entryPrice, stopPrice)
	}
	if err := checkSpec(spec); err != nil {
		return 0, err
	}

	bal := decimal.NewFromFloat(balance)
	pct := decimal.NewFromFloat(riskPct).Div(decimal.NewFromInt(100))
	monetary := bal.Mul(pct)

	distance := decimal.NewFromFloat(entryPrice).Sub(decimal.NewFromFloat(stopPrice)).Abs()
	ticks := distance.Div(decimal.NewFromFloat(spec.TickSize))
	riskPerUnit := ticks.Mul(decimal.NewFromFloat(spec.TickValue))
	if riskPerUnit.IsZero() {
		return 0, fmt.Errorf("%w: zero risk per unit", ErrInvalidArgument)
	}

	raw := monetary.Div(riskPerUnit)

	step := decimal.NewFromFloat(spec.SizeStep)
	size := raw.Div(step).Round(0).Mul(step)

	min := decimal.NewFromFloat(spec.SizeMin)
	max := decimal.NewFromFloat(spec.SizeMax)
	if size.LessThan(min) {
		size = min
	}
	if size.GreaterThan(max) {
		size = max
	}

	out, _ := size.Float64()
	return out, nil
}

func checkSpec(spec venue.InstrumentSpec) error {
	switch {
	case spec.TickSize <= 0:
		return fmt.Errorf("%w: tick_size=%v", ErrInvalidInstrumentSpec, spec.TickSize)
	case spec.TickValue <= 0:
		return fmt.Errorf("%w: tick_value=%v", ErrInvalidInstrumentSpec, spec.TickValue)
	case spec.SizeStep <= 0:
		return fmt.Errorf("%w: size_step=%v", ErrInvalidInstrumentSpec, spec.SizeStep)
	case spec.SizeMin <= 0:
		return fmt.Errorf("%w: size_min=%v", ErrInvalidInstrumentSpec, spec.SizeMin)
	case spec.SizeMax < spec.SizeMin:
		return fmt.Errorf("%w: size_max=%v below size_min=%v", ErrInvalidInstrumentSpec, spec.SizeMax, spec.SizeMin)
	}
	return nil
}
