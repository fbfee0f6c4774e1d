package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/venue"
)

func fxSpec() venue.InstrumentSpec {
	return venue.InstrumentSpec{
		Instrument: "EURUSD",
		TickSize:   0.0001,
		TickValue:  10,
		SizeStep:   0.01,
		SizeMin:    0.01,
		SizeMax:    100,
	}
}

func TestSizeEURUSDScenario(t *testing.T) {
	// 10000 balance, 2% risk, 50 pip stop at 10/pip per 1.0 size.
	size, err := Size(10000, 2, 1.1050, 1.1000, fxSpec())
	require.NoError(t, err)
	assert.InDelta(t, 0.40, size, 1e-9)
}

func TestSizeIsStepMultipleAndClamped(t *testing.T) {
	spec := fxSpec()
	cases := []struct {
		name    string
		balance float64
		riskPct float64
		entry   float64
		stop    float64
	}{
		{"small risk", 5000, 0.5, 1.2000, 1.1980},
		{"wide stop", 10000, 1, 1.1000, 1.0500},
		{"tight stop", 10000, 3, 1.1000, 1.0999},
		{"full risk", 25000, 100, 1.3333, 1.3000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, err := Size(tc.balance, tc.riskPct, tc.entry, tc.stop, spec)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, size, spec.SizeMin)
			assert.LessOrEqual(t, size, spec.SizeMax)
			steps := size / spec.SizeStep
			assert.InDelta(t, math.Round(steps), steps, 1e-6, "size %v is not a step multiple", size)
		})
	}
}

func TestSizeInvalidArguments(t *testing.T) {
	spec := fxSpec()

	_, err := Size(0, 2, 1.1, 1.0, spec)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Size(10000, 0, 1.1, 1.0, spec)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Size(10000, 101, 1.1, 1.0, spec)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Size(10000, 2, 1.1, 1.1, spec)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSizeInvalidSpec(t *testing.T) {
	bad := fxSpec()
	bad.TickSize = 0
	_, err := Size(10000, 2, 1.1050, 1.1000, bad)
	assert.ErrorIs(t, err, ErrInvalidInstrumentSpec)

	bad = fxSpec()
	bad.TickValue = -1
	_, err = Size(10000, 2, 1.1050, 1.1000, bad)
	assert.ErrorIs(t, err, ErrInvalidInstrumentSpec)

	bad = fxSpec()
	bad.SizeStep = 0
	_, err = Size(10000, 2, 1.1050, 1.1000, bad)
	assert.ErrorIs(t, err, ErrInvalidInstrumentSpec)
}
