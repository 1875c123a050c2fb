package shared

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func TestIndicatorSnapshot(t *testing.T) {
	var missing *IndicatorSnapshot
	assert.True(t, missing.IsEmpty())
	assert.Nil(t, missing.Clone())
	assert.True(t, EmptyIndicators().IsEmpty())

	rsi := 48.5
	updated := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	snapshot := &IndicatorSnapshot{RSI14: &rsi, UpdatedAt: &updated}
	assert.False(t, snapshot.IsEmpty())

	// Ensure clones do not share readings.
	clone := snapshot.Clone()
	if diff := cmp.Diff(snapshot, clone); diff != "" {
		t.Fatalf("clone mismatch (-want +got):\n%s", diff)
	}
	*clone.RSI14 = 10
	*clone.UpdatedAt = updated.Add(time.Hour)
	assert.Equal(t, *snapshot.RSI14, 48.5)
	assert.Equal(t, *snapshot.UpdatedAt, updated)
}

func TestMarketDataClone(t *testing.T) {
	md := &MarketData{
		Symbol:       "AAPL",
		Candles:      []Candlestick{{Close: 170}, {Close: 172}},
		CurrentPrice: 172,
		Indicators:   EmptyIndicators(),
	}
	assert.Equal(t, md.LastClose(), float64(172))

	// Ensure clones do not share history.
	clone := md.Clone()
	clone.Candles[1].Close = 1
	assert.Equal(t, md.LastClose(), float64(172))

	var missing *MarketData
	assert.Nil(t, missing.Clone())
	assert.Equal(t, (&MarketData{}).LastClose(), float64(0))
}
