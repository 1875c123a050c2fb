package shared

import (
	"time"
)

// Signal represents a breakout signal derived from a market's current state.
type Signal struct {
	Symbol      string             `json:"symbol"`
	Action      Action             `json:"action"`
	EntryPrice  float64            `json:"entryPrice"`
	StopLoss    float64            `json:"stopLoss"`
	TargetPrice float64            `json:"targetPrice"`
	Timestamp   time.Time          `json:"timestamp"`
	Reason      string             `json:"reason"`
	Indicators  *IndicatorSnapshot `json:"indicators,omitempty"`
}

// NewHoldSignal initializes a hold signal for the provided symbol.
func NewHoldSignal(symbol string, price float64, reason string, created time.Time) Signal {
	return Signal{
		Symbol:     symbol,
		Action:     Hold,
		EntryPrice: price,
		Timestamp:  created,
		Reason:     reason,
	}
}

// Actionable returns whether the signal calls for opening or adjusting a trade.
func (s *Signal) Actionable() bool {
	return s.Action == Buy || s.Action == Sell
}
