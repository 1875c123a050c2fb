package fetch

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dnldd/turtle/shared"
)

const (
	// syntheticVolatility is the daily range of synthetic history as a fraction of price.
	syntheticVolatility = 0.015
)

// SyntheticHistory generates a deterministic daily history for the provided symbol ending on the
// day of the provided time. The series covers the history window plus the current day and is
// identical for a given symbol and day. The current price is the final close.
func SyntheticHistory(symbol string, now time.Time) ([]shared.Candlestick, float64) {
	today := shared.StartOfDay(now)

	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(symbol))
	rng := rand.New(rand.NewPCG(hasher.Sum64(), uint64(today.Unix())))

	price := 100 + rng.Float64()*50
	candles := make([]shared.Candlestick, 0, shared.HistoryDays+1)
	for idx := shared.HistoryDays; idx >= 0; idx-- {
		change := (rng.Float64() - 0.5) * price * syntheticVolatility
		candles = append(candles, shared.Candlestick{
			Date:  today.AddDate(0, 0, -idx),
			Open:  price,
			High:  price + math.Abs(change),
			Low:   price - math.Abs(change),
			Close: price + change,
		})
		price += change
	}

	return candles, price
}
