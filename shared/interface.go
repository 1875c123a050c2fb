package shared

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
)

// CandleFetcher defines the requirements for fetching daily market history.
type CandleFetcher interface {
	// FetchDailyCandles fetches daily candlesticks for the provided provider symbol.
	FetchDailyCandles(ctx context.Context, symbol string, start time.Time, end time.Time) ([]Candlestick, error)
}

// QuoteFetcher defines the requirements for fetching live prices.
type QuoteFetcher interface {
	// FetchQuote fetches the current price for the provided provider symbol.
	FetchQuote(ctx context.Context, symbol string) (float64, error)
}

// IndicatorFetcher defines the requirements for fetching batched indicator readings.
type IndicatorFetcher interface {
	// FetchIndicators fetches the latest readings of the provided indicator for the provider
	// symbols, keyed by provider symbol.
	FetchIndicators(ctx context.Context, kind IndicatorKind, symbols []string) (map[string]gjson.Result, error)
}
