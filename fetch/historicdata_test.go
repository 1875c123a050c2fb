package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dnldd/turtle/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

func TestHistoricData(t *testing.T) {
	// Ensure historic data cannot be initialized without a file.
	_, err := NewHistoricData(&HistoricDataConfig{Logger: &log.Logger})
	assert.Error(t, err)

	_, err = NewHistoricData(&HistoricDataConfig{FilePath: "testdata/missing.json", Logger: &log.Logger})
	assert.Error(t, err)

	// Ensure historic data can be initialized.
	historicData, err := NewHistoricData(&HistoricDataConfig{
		FilePath: "testdata/historicdata.json",
		Logger:   &log.Logger,
	})
	assert.NoError(t, err)

	ctx := context.Background()
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	// Ensure recorded candles are served in ascending order.
	candles, err := historicData.FetchDailyCandles(ctx, "SPY", end.AddDate(0, 0, -shared.HistoryDays), end)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 6)
	for idx := 1; idx < len(candles); idx++ {
		assert.True(t, candles[idx].Date.After(candles[idx-1].Date))
	}
	assert.Equal(t, candles[5].Close, float64(506))

	// Ensure candles after the end time are excluded.
	cutoff := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	candles, err = historicData.FetchDailyCandles(ctx, "SPY", cutoff.AddDate(0, 0, -shared.HistoryDays), cutoff)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 3)
	assert.Equal(t, candles[2].Date, cutoff)

	// Ensure requests before the recorded range report missing data.
	early := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = historicData.FetchDailyCandles(ctx, "SPY", early.AddDate(0, 0, -shared.HistoryDays), early)
	assert.True(t, errors.Is(err, ErrNoData))

	// Ensure unknown symbols report missing data.
	_, err = historicData.FetchDailyCandles(ctx, "QQQ", early, end)
	assert.True(t, errors.Is(err, ErrNoData))
	_, err = historicData.FetchQuote(ctx, "QQQ")
	assert.True(t, errors.Is(err, ErrNoData))

	// Ensure the quote is the last recorded close.
	price, err := historicData.FetchQuote(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, price, 176.3)
}

func TestSyntheticHistory(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	// Ensure synthetic history covers the history window plus the current day.
	candles, price := SyntheticHistory("SPX", now)
	assert.Equal(t, len(candles), shared.HistoryDays+1)
	assert.Equal(t, candles[len(candles)-1].Date, shared.StartOfDay(now))
	assert.Equal(t, candles[0].Date, shared.StartOfDay(now).AddDate(0, 0, -shared.HistoryDays))
	assert.Equal(t, price, candles[len(candles)-1].Close)

	// Ensure candles are shape valid.
	for _, candle := range candles {
		assert.True(t, candle.High >= candle.Open)
		assert.True(t, candle.High >= candle.Close)
		assert.True(t, candle.Low <= candle.Open)
		assert.True(t, candle.Low <= candle.Close)
		assert.True(t, candle.Close > 0)
	}

	// Ensure synthetic history is deterministic per symbol and day.
	again, againPrice := SyntheticHistory("SPX", now.Add(time.Hour))
	assert.Equal(t, again, candles)
	assert.Equal(t, againPrice, price)

	other, _ := SyntheticHistory("NVDA", now)
	assert.True(t, other[0].Open != candles[0].Open)
}
