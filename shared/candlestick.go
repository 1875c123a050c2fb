package shared

import (
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"
)

// Candlestick represents a unit daily candlestick for a market.
type Candlestick struct {
	Date  time.Time `json:"date"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// TrueRange returns the true range of the candlestick relative to the previous close.
func (c *Candlestick) TrueRange(prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ParseCandlesticks parses daily candlesticks from the provided json data. Entries are expected
// to carry a date field in the DateLayout format along with open, high, low and close fields.
func ParseCandlesticks(data []gjson.Result, loc *time.Location) ([]Candlestick, error) {
	if loc == nil {
		loc = time.UTC
	}

	candles := make([]Candlestick, 0, len(data))
	for idx := range data {
		dt, err := time.ParseInLocation(DateLayout, data[idx].Get("date").String(), loc)
		if err != nil {
			return nil, fmt.Errorf("parsing candlestick date: %w", err)
		}

		candles = append(candles, Candlestick{
			Date:  dt,
			Open:  data[idx].Get("open").Float(),
			High:  data[idx].Get("high").Float(),
			Low:   data[idx].Get("low").Float(),
			Close: data[idx].Get("close").Float(),
		})
	}

	return candles, nil
}
