package portfolio

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/turtle/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func setupUniverse(t *testing.T) *shared.Universe {
	universe, err := shared.DefaultUniverse()
	assert.NoError(t, err)

	return universe
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func closes(start int, prices ...float64) []shared.Candlestick {
	candles := make([]shared.Candlestick, 0, len(prices))
	for idx, price := range prices {
		candles = append(candles, shared.Candlestick{
			Date:  day(start + idx),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		})
	}

	return candles
}

func TestParamsValidate(t *testing.T) {
	universe := setupUniverse(t)

	tests := []struct {
		name        string
		params      *Params
		errContains string
	}{
		{
			name:   "valid params",
			params: &Params{Capital: 10000, Universe: universe},
		},
		{
			name:        "zero capital",
			params:      &Params{Universe: universe},
			errContains: "capital must be positive",
		},
		{
			name:        "infinite capital",
			params:      &Params{Capital: math.Inf(1), Universe: universe},
			errContains: "capital must be positive",
		},
		{
			name:        "risk above one",
			params:      &Params{Capital: 10000, RiskPercent: 2, Universe: universe},
			errContains: "risk percent must be between 0 and 1",
		},
		{
			name:        "nil universe",
			params:      &Params{Capital: 10000},
			errContains: "universe cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.errContains != "" {
				assert.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errContains))
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		stop     float64
		quantity int64
		ok       bool
	}{
		{name: "risk over stop distance", entry: 100, stop: 96, quantity: 25, ok: true},
		{name: "short stop distance", entry: 100, stop: 104, quantity: 25, ok: true},
		{name: "rounds down", entry: 100, stop: 97, quantity: 33, ok: true},
		{name: "at least one unit", entry: 5000, stop: 4000, quantity: 1, ok: true},
		{name: "zero stop distance", entry: 100, stop: 100, ok: false},
		{name: "nan entry", entry: math.NaN(), stop: 96, ok: false},
		{name: "infinite entry", entry: math.Inf(1), stop: 96, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quantity, ok := PositionSize(10000, 0.01, tt.entry, tt.stop)
			assert.Equal(t, ok, tt.ok)
			assert.Equal(t, quantity, tt.quantity)
		})
	}
}

func TestCalculateCost(t *testing.T) {
	universe := setupUniverse(t)

	// Ensure indices are charged their spread per unit.
	spx, ok := universe.Lookup("SPX")
	assert.True(t, ok)
	assert.Equal(t, CalculateCost(spx, 25, 5000), 22.5)

	// Ensure indices without a fixed spread are charged the default spread.
	custom, err := shared.ParseUniverse([]byte(`
instruments:
  - symbol: NDX
    category: index
`))
	assert.NoError(t, err)
	ndx, ok := custom.Lookup("NDX")
	assert.True(t, ok)
	assert.Equal(t, CalculateCost(ndx, 10, 18000), float64(15))

	// Ensure equities are charged the minimum commission on small notionals.
	aapl, ok := universe.Lookup("AAPL")
	assert.True(t, ok)
	assert.Equal(t, CalculateCost(aapl, 25, 100), float64(15))

	// Ensure equities are charged the notional commission on large notionals.
	assert.Equal(t, CalculateCost(aapl, 1000, 200), float64(100))

	// Ensure unknown instruments are costed as equities.
	assert.Equal(t, CalculateCost(nil, 1, 10), float64(15))
}

func TestSimulateEmpty(t *testing.T) {
	now := day(15)
	portfolio, err := Simulate(&Params{
		ID:       "turtle",
		Name:     "Turtle",
		Capital:  10000,
		Universe: setupUniverse(t),
		Signals: []shared.Signal{
			{Symbol: "AAPL", Action: shared.Hold, EntryPrice: 100},
		},
		Markets: []shared.MarketData{
			{Symbol: "AAPL", CurrentPrice: 100, Candles: closes(1, 100)},
		},
		Now: now,
	})
	assert.NoError(t, err)

	// Ensure an empty portfolio has a single history point at its capital.
	assert.Equal(t, portfolio.TradeCount, 0)
	assert.Equal(t, portfolio.CurrentBalance, float64(10000))
	assert.Equal(t, portfolio.TotalPNLPercent, float64(0))
	assert.Equal(t, portfolio.History, []HistoryPoint{{Date: now, Value: 10000}})

	_, err = Simulate(&Params{Capital: -1})
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	now := day(15)
	portfolio, err := Simulate(&Params{
		ID:       "turtle",
		Name:     "Turtle",
		Capital:  10000,
		Universe: setupUniverse(t),
		Signals: []shared.Signal{
			{Symbol: "AAPL", Action: shared.Buy, EntryPrice: 100, StopLoss: 96},
			{Symbol: "SPX", Action: shared.Sell, EntryPrice: 5000, StopLoss: 5050},
			{Symbol: "NVDA", Action: shared.Buy, EntryPrice: 900, StopLoss: 880},
			{Symbol: "TSLA", Action: shared.Sell, EntryPrice: 200},
			{Symbol: "MSFT", Action: shared.Hold, EntryPrice: 400},
		},
		Markets: []shared.MarketData{
			{Symbol: "AAPL", CurrentPrice: 104, Candles: closes(1, 100, 102, 104)},
			{Symbol: "SPX", CurrentPrice: 4990, Candles: []shared.Candlestick{
				{Date: day(1), Close: 5000},
				{Date: day(3), Close: 4990},
			}},
			{Symbol: "TSLA", CurrentPrice: 190, Candles: closes(1, 200)},
			{Symbol: "MSFT", CurrentPrice: 400, Candles: closes(1, 400)},
		},
		Now: now,
	})
	assert.NoError(t, err)

	// Ensure only actionable signals with a market and a stop are sized.
	assert.Equal(t, portfolio.TradeCount, 2)

	want := []Position{
		{
			Symbol:          "AAPL",
			Quantity:        25,
			EntryPrice:      100,
			CurrentPrice:    104,
			PNL:             85,
			PNLPercent:      3.4,
			Cost:            2500,
			Side:            shared.Long,
			Action:          shared.Buy,
			TransactionCost: 15,
		},
		{
			Symbol:          "SPX",
			Quantity:        2,
			EntryPrice:      5000,
			CurrentPrice:    4990,
			PNL:             18.2,
			PNLPercent:      0.182,
			Cost:            10000,
			Side:            shared.Short,
			Action:          shared.Sell,
			TransactionCost: 1.8,
		},
	}
	if diff := cmp.Diff(want, portfolio.Positions); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, portfolio.TotalPNL, 103.2)
	assert.Equal(t, portfolio.TotalCost, 16.8)

	// Ensure prices are carried forward across missing dates.
	wantHistory := []HistoryPoint{
		{Date: day(1), Value: 9983.2},
		{Date: day(2), Value: 10033.2},
		{Date: day(3), Value: 10103.2},
	}
	if diff := cmp.Diff(wantHistory, portfolio.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, portfolio.CurrentBalance, 10103.2)
	assert.True(t, math.Abs(portfolio.TotalPNLPercent-1.032) < 1e-9)
}

func TestSimulateEntryFallback(t *testing.T) {
	portfolio, err := Simulate(&Params{
		Capital:     10000,
		RiskPercent: 0.02,
		Universe:    setupUniverse(t),
		Signals: []shared.Signal{
			{Symbol: "AAPL", Action: shared.Buy, StopLoss: 90},
		},
		Markets: []shared.MarketData{
			{Symbol: "AAPL", CurrentPrice: 100},
		},
		Now: day(15),
	})
	assert.NoError(t, err)

	// Ensure a missing entry price falls back to the current price.
	assert.Equal(t, len(portfolio.Positions), 1)
	assert.Equal(t, portfolio.Positions[0].EntryPrice, float64(100))
	assert.Equal(t, portfolio.Positions[0].Quantity, int64(20))

	// Ensure markets without candles are valued at their current price.
	assert.Equal(t, portfolio.History, []HistoryPoint{{Date: day(15), Value: 9985}})
	assert.Equal(t, portfolio.CurrentBalance, float64(9985))
}
