package shared

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestDefaultUniverse(t *testing.T) {
	universe, err := DefaultUniverse()
	assert.NoError(t, err)
	assert.Equal(t, len(universe.Symbols()), 21)

	// Ensure indices carry their provider aliases and spreads.
	spx, ok := universe.Lookup("SPX")
	assert.True(t, ok)
	assert.Equal(t, spx.Category, Index)
	assert.Equal(t, spx.FinnhubSymbol, "^GSPC")
	assert.Equal(t, spx.TwelveDataSymbol, "SPY")
	assert.NotNil(t, spx.Spread)

	// Ensure equity aliases default to the symbol.
	aapl, ok := universe.Lookup("AAPL")
	assert.True(t, ok)
	assert.Equal(t, aapl.Category, Equity)
	assert.Equal(t, aapl.FinnhubSymbol, "AAPL")
	assert.Equal(t, aapl.TwelveDataSymbol, "AAPL")

	// Ensure lookups return copies.
	aapl.FinnhubSymbol = "MSFT"
	aapl, _ = universe.Lookup("AAPL")
	assert.Equal(t, aapl.FinnhubSymbol, "AAPL")

	_, ok = universe.Lookup("BTC")
	assert.False(t, ok)
}

func TestParseUniverse(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		errContains string
	}{
		{
			name:        "no instruments",
			doc:         "instruments: []",
			errContains: "universe has no instruments",
		},
		{
			name:        "missing symbol",
			doc:         "instruments:\n  - category: index",
			errContains: "has no symbol",
		},
		{
			name:        "unknown category",
			doc:         "instruments:\n  - symbol: BTC\n    category: crypto",
			errContains: "unknown category",
		},
		{
			name:        "duplicate symbol",
			doc:         "instruments:\n  - symbol: AAPL\n    category: equity\n  - symbol: aapl\n    category: equity",
			errContains: "duplicate instrument",
		},
		{
			name:        "malformed document",
			doc:         "instruments: {",
			errContains: "decoding universe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUniverse([]byte(tt.doc))
			assert.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errContains))
		})
	}
}

func TestWatchlist(t *testing.T) {
	universe, err := DefaultUniverse()
	assert.NoError(t, err)

	// Ensure entries are normalized, filtered and de-duplicated.
	watchlist := universe.Watchlist([]string{" nvda", "BTC", "NVDA", "", "spx"}, 20)
	assert.Equal(t, watchlist, []string{"NVDA", "SPX"})

	// Ensure an empty allow-list selects the universe up to the limit.
	watchlist = universe.Watchlist(nil, 5)
	assert.Equal(t, watchlist, universe.Symbols()[:5])

	watchlist = universe.Watchlist([]string{"AAPL", "MSFT", "META"}, 2)
	assert.Equal(t, watchlist, []string{"AAPL", "MSFT"})
}
