package shared

import (
	"slices"
	"time"
)

// IndicatorKind represents an upstream technical indicator.
type IndicatorKind string

const (
	RSI  IndicatorKind = "rsi"
	MACD IndicatorKind = "macd"
	SMA  IndicatorKind = "sma"
)

// IndicatorSnapshot represents the latest upstream indicator readings for a market. Each reading
// is independently optional.
type IndicatorSnapshot struct {
	RSI14         *float64   `json:"rsi14"`
	SMA20         *float64   `json:"sma20"`
	MACD          *float64   `json:"macd"`
	MACDSignal    *float64   `json:"macdSignal"`
	MACDHistogram *float64   `json:"macdHistogram"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// EmptyIndicators returns an indicator snapshot with no readings.
func EmptyIndicators() *IndicatorSnapshot {
	return &IndicatorSnapshot{}
}

// IsEmpty returns whether the snapshot carries no readings.
func (s *IndicatorSnapshot) IsEmpty() bool {
	return s == nil || (s.RSI14 == nil && s.SMA20 == nil && s.MACD == nil &&
		s.MACDSignal == nil && s.MACDHistogram == nil)
}

// Clone returns a deep copy of the snapshot.
func (s *IndicatorSnapshot) Clone() *IndicatorSnapshot {
	if s == nil {
		return nil
	}

	cp := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		val := *v
		return &val
	}

	clone := &IndicatorSnapshot{
		RSI14:         cp(s.RSI14),
		SMA20:         cp(s.SMA20),
		MACD:          cp(s.MACD),
		MACDSignal:    cp(s.MACDSignal),
		MACDHistogram: cp(s.MACDHistogram),
	}
	if s.UpdatedAt != nil {
		at := *s.UpdatedAt
		clone.UpdatedAt = &at
	}

	return clone
}

// MarketData represents the latest known state of a market.
type MarketData struct {
	Symbol       string             `json:"symbol"`
	Candles      []Candlestick      `json:"ohlc"`
	CurrentPrice float64            `json:"currentPrice"`
	Indicators   *IndicatorSnapshot `json:"indicators,omitempty"`
	LastUpdated  time.Time          `json:"lastUpdated"`
	Meta         *Instrument        `json:"meta,omitempty"`
}

// Clone returns a copy of the market data safe for use outside the cache.
func (m *MarketData) Clone() *MarketData {
	if m == nil {
		return nil
	}

	clone := *m
	clone.Candles = slices.Clone(m.Candles)
	clone.Indicators = m.Indicators.Clone()

	return &clone
}

// LastClose returns the close of the most recent candlestick, or zero if there is no history.
func (m *MarketData) LastClose() float64 {
	if len(m.Candles) == 0 {
		return 0
	}

	return m.Candles[len(m.Candles)-1].Close
}
