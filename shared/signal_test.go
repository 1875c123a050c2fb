package shared

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func TestSignalActionable(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	// Ensure hold signals report the price they were evaluated at.
	hold := NewHoldSignal("SPX", 5100, "No breakout", now)
	assert.Equal(t, hold.Action, Hold)
	assert.Equal(t, hold.EntryPrice, float64(5100))
	assert.Equal(t, hold.Timestamp, now)
	assert.False(t, hold.Actionable())

	buy := Signal{Symbol: "SPX", Action: Buy}
	assert.True(t, buy.Actionable())

	sell := Signal{Symbol: "SPX", Action: Sell}
	assert.True(t, sell.Actionable())
}
