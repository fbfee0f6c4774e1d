// Package indicator derives the technical context attached to every
// decision request. Values are computed from closed bars only.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"tandem/internal/venue"
)

// Settings holds the tunable indicator parameters for one instrument.
type Settings struct {
	Instrument string
	Timeframe  string
	EMA        EMASettings
	RSI        RSISettings
	ATRPeriod  int
}

type EMASettings struct {
	Fast int `json:"fast,omitempty"`
	Mid  int `json:"mid,omitempty"`
	Slow int `json:"slow,omitempty"`
}

type RSISettings struct {
	Period     int     `json:"period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
}

// Value holds one indicator's latest reading plus a coarse state label.
type Value struct {
	Latest float64 `json:"latest"`
	State  string  `json:"state,omitempty"`
	Note   string  `json:"note,omitempty"`
}

// Report aggregates the indicator output for one instrument+timeframe.
type Report struct {
	Instrument string           `json:"instrument"`
	Timeframe  string           `json:"timeframe"`
	Count      int              `json:"count"`
	Values     map[string]Value `json:"values"`
}

// Flatten reduces the report to name/latest-value pairs for the decision
// payload.
func (r Report) Flatten() map[string]float64 {
	out := make(map[string]float64, len(r.Values))
	for name, v := range r.Values {
		out[name] = v.Latest
	}
	return out
}

// Compute calculates the standard indicator set over closed bars.
func Compute(bars []venue.Bar, cfg Settings) (Report, error) {
	rep := Report{
		Instrument: cfg.Instrument,
		Timeframe:  cfg.Timeframe,
		Count:      len(bars),
		Values:     make(map[string]Value),
	}
	if len(bars) == 0 {
		return rep, fmt.Errorf("indicator: no bars for %s", cfg.Instrument)
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}
	lastClose := closes[len(closes)-1]

	if cfg.EMA.Fast <= 0 {
		cfg.EMA.Fast = 21
	}
	if cfg.EMA.Mid <= 0 {
		cfg.EMA.Mid = 50
	}
	if cfg.EMA.Slow <= 0 {
		cfg.EMA.Slow = 200
	}
	for name, period := range map[string]int{
		"ema_fast": cfg.EMA.Fast,
		"ema_mid":  cfg.EMA.Mid,
		"ema_slow": cfg.EMA.Slow,
	} {
		if period >= len(closes) {
			continue
		}
		series := sanitizeSeries(talib.Ema(closes, period))
		latest := lastValid(series)
		rep.Values[name] = Value{
			Latest: latest,
			State:  relativeState(lastClose, latest),
			Note:   fmt.Sprintf("EMA%d vs price", period),
		}
	}

	if cfg.RSI.Period <= 0 {
		cfg.RSI.Period = 14
	}
	if cfg.RSI.Overbought == 0 {
		cfg.RSI.Overbought = 70
	}
	if cfg.RSI.Oversold == 0 {
		cfg.RSI.Oversold = 30
	}
	if cfg.RSI.Period < len(closes) {
		rsiVal := lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSI.Period)))
		state := "neutral"
		switch {
		case rsiVal >= cfg.RSI.Overbought:
			state = "overbought"
		case rsiVal <= cfg.RSI.Oversold:
			state = "oversold"
		}
		rep.Values["rsi"] = Value{
			Latest: rsiVal,
			State:  state,
			Note:   fmt.Sprintf("period=%d thresholds=%.1f/%.1f", cfg.RSI.Period, cfg.RSI.Oversold, cfg.RSI.Overbought),
		}
	}

	if len(closes) > 35 {
		_, signal, hist := talib.Macd(closes, 12, 26, 9)
		histVal := lastValid(sanitizeSeries(hist))
		macdState := "flat"
		switch {
		case histVal > 0:
			macdState = "bullish"
		case histVal < 0:
			macdState = "bearish"
		}
		rep.Values["macd_hist"] = Value{
			Latest: histVal,
			State:  macdState,
			Note:   fmt.Sprintf("signal=%.4f", lastValid(sanitizeSeries(signal))),
		}
	}

	atrPeriod := cfg.ATRPeriod
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	if atrPeriod < len(closes) {
		atrVal := lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, atrPeriod)))
		rep.Values["atr"] = Value{
			Latest: atrVal,
			State:  "volatility",
			Note:   fmt.Sprintf("period=%d", atrPeriod),
		}
	}

	return rep, nil
}

// ATRSeries computes the ATR series alone, used when only a volatility
// reference is needed.
func ATRSeries(bars []venue.Bar, period int) ([]float64, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("indicator: no bars")
	}
	if period <= 0 {
		period = 14
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	series := sanitizeSeries(talib.Atr(highs, lows, closes, period))
	if len(series) == 0 {
		return nil, fmt.Errorf("indicator: atr series empty")
	}
	return series, nil
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) || almostZero(v) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
