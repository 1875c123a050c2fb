package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/dnldd/turtle/shared"
	"gonum.org/v1/gonum/floats"
)

const (
	// system1Entry is the lookback of the short term breakout channel.
	system1Entry = 20
	// system2Entry is the lookback of the long term breakout channel.
	system2Entry = 55
	// atrPeriod is the smoothing period of the average true range.
	atrPeriod = 20
	// stopMultiple is the stop distance in average true ranges.
	stopMultiple = 2
	// system1TargetMultiple is the short term target distance in average true ranges.
	system1TargetMultiple = 4
	// system2TargetMultiple is the long term target distance in average true ranges.
	system2TargetMultiple = 6
)

const (
	// InsufficientData is the reason reported when the history is too short to evaluate.
	InsufficientData = "Insufficient Data"
	// NoBreakout is the reason reported when price is within both channels.
	NoBreakout = "No breakout"
)

// Channel represents the highest high and lowest low of a trailing window.
type Channel struct {
	High float64
	Low  float64
}

// CalculateATR calculates the Wilder smoothed average true range of the provided candlesticks.
// The seed is the mean of the first period true ranges. It returns zero when there are fewer
// than period+1 candlesticks.
func CalculateATR(candles []shared.Candlestick, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	ranges := make([]float64, 0, len(candles)-1)
	for idx := 1; idx < len(candles); idx++ {
		ranges = append(ranges, candles[idx].TrueRange(candles[idx-1].Close))
	}

	atr := floats.Sum(ranges[:period]) / float64(period)
	for _, tr := range ranges[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	return atr
}

// Donchian returns the channel of the lookback candlesticks preceding the latest one. The latest
// candlestick is the evaluation bar and is excluded.
func Donchian(candles []shared.Candlestick, lookback int) (Channel, bool) {
	end := len(candles) - 1
	if lookback <= 0 || end < 1 {
		return Channel{}, false
	}

	window := candles[max(0, end-lookback):end]
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	for idx := range window {
		highs[idx] = window[idx].High
		lows[idx] = window[idx].Low
	}

	return Channel{High: floats.Max(highs), Low: floats.Min(lows)}, true
}

// evaluateBreak classifies the provided price against a channel. It returns the action, stop and
// target of a break, or hold when price is within the channel.
func evaluateBreak(price float64, ch Channel, atr float64, targetMultiple float64) (shared.Action, float64, float64) {
	switch {
	case price > ch.High:
		return shared.Buy, price - stopMultiple*atr, price + targetMultiple*atr
	case price < ch.Low:
		return shared.Sell, price + stopMultiple*atr, price - targetMultiple*atr
	default:
		return shared.Hold, 0, 0
	}
}

// breakoutReason describes a breakout of the provided lookback.
func breakoutReason(lookback int, action shared.Action) string {
	direction := "Long"
	if action == shared.Sell {
		direction = "Short"
	}

	return fmt.Sprintf("%d-day Breakout (%s)", lookback, direction)
}

// GenerateSignal derives a breakout signal from the provided market data. The long term
// breakout is evaluated after the short term one and replaces it when both fire.
func GenerateSignal(data *shared.MarketData, now time.Time) shared.Signal {
	if data == nil {
		return shared.NewHoldSignal("", 0, InsufficientData, now)
	}

	if len(data.Candles) < system2Entry+1 {
		return shared.NewHoldSignal(data.Symbol, 0, InsufficientData, now)
	}

	price := data.CurrentPrice
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return shared.NewHoldSignal(data.Symbol, 0, NoBreakout, now)
	}

	atr := CalculateATR(data.Candles, atrPeriod)
	ch20, _ := Donchian(data.Candles, system1Entry)
	ch55, _ := Donchian(data.Candles, system2Entry)

	signal := shared.NewHoldSignal(data.Symbol, price, NoBreakout, now)
	signal.Indicators = data.Indicators.Clone()

	action, stop, target := evaluateBreak(price, ch20, atr, system1TargetMultiple)
	if action != shared.Hold {
		signal.Action = action
		signal.StopLoss = stop
		signal.TargetPrice = target
		signal.Reason = breakoutReason(system1Entry, action)
	}

	action, stop, target = evaluateBreak(price, ch55, atr, system2TargetMultiple)
	if action != shared.Hold {
		signal.Action = action
		signal.StopLoss = stop
		signal.TargetPrice = target
		signal.Reason = breakoutReason(system2Entry, action)
	}

	return signal
}
