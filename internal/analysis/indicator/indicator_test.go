package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/venue"
)

func syntheticBars(n int, start, step float64) []venue.Bar {
	bars := make([]venue.Bar, n)
	ts := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	price := start
	for i := range bars {
		bars[i] = venue.Bar{
			Time:  ts.Add(time.Duration(i) * time.Hour),
			Open:  price,
			High:  price + math.Abs(step)*2,
			Low:   price - math.Abs(step)*2,
			Close: price + step,
		}
		price += step
	}
	return bars
}

func TestComputeRisingSeries(t *testing.T) {
	bars := syntheticBars(250, 100, 0.5)
	rep, err := Compute(bars, Settings{Instrument: "EURUSD", Timeframe: "1h"})
	require.NoError(t, err)
	assert.Equal(t, 250, rep.Count)

	rsi, ok := rep.Values["rsi"]
	require.True(t, ok)
	assert.Equal(t, "overbought", rsi.State)

	fast, ok := rep.Values["ema_fast"]
	require.True(t, ok)
	assert.Equal(t, "above", fast.State)

	atr, ok := rep.Values["atr"]
	require.True(t, ok)
	assert.Greater(t, atr.Latest, 0.0)

	flat := rep.Flatten()
	assert.Equal(t, rsi.Latest, flat["rsi"])
	assert.Equal(t, atr.Latest, flat["atr"])
}

func TestComputeSkipsIndicatorsWithoutHistory(t *testing.T) {
	bars := syntheticBars(10, 100, 0.5)
	rep, err := Compute(bars, Settings{Instrument: "EURUSD", Timeframe: "1h"})
	require.NoError(t, err)
	_, ok := rep.Values["ema_slow"]
	assert.False(t, ok)
	_, ok = rep.Values["macd_hist"]
	assert.False(t, ok)
}

func TestComputeEmptyBars(t *testing.T) {
	_, err := Compute(nil, Settings{Instrument: "EURUSD"})
	assert.Error(t, err)
}

func TestATRSeries(t *testing.T) {
	bars := syntheticBars(60, 100, 0.5)
	series, err := ATRSeries(bars, 14)
	require.NoError(t, err)
	require.NotEmpty(t, series)
	for _, v := range series {
		assert.Greater(t, v, 0.0)
	}

	_, err = ATRSeries(nil, 14)
	assert.Error(t, err)
}
