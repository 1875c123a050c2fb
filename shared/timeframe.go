package shared

import (
	"time"
)

const (
	// DateLayout is the format layout for parsing and rendering candlestick dates.
	DateLayout = "2006-01-02"
	// HistoryDays is the number of trailing days of price history tracked per market.
	HistoryDays = 90
)

// StartOfDay truncates the provided time to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
