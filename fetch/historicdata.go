package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dnldd/turtle/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// HistoricDataConfig represents the historic data source configuration.
type HistoricDataConfig struct {
	// FilePath is the filepath to the historic market data.
	FilePath string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HistoricDataConfig) Validate() error {
	var errs error

	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("historic data file path cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("historic data logger cannot be nil"))
	}

	return errs
}

// HistoricData represents an offline source of daily market data, keyed by provider symbol.
// It stands in for the candle and quote upstream when replaying recorded history.
type HistoricData struct {
	cfg     *HistoricDataConfig
	candles map[string][]shared.Candlestick
}

// Ensure HistoricData implements the CandleFetcher and QuoteFetcher interfaces.
var _ shared.CandleFetcher = (*HistoricData)(nil)
var _ shared.QuoteFetcher = (*HistoricData)(nil)

// loadHistoricData loads the historic data bytes from the provided file path.
func loadHistoricData(filepath string) (gjson.Result, error) {
	readb, err := os.ReadFile(filepath)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading historic data from file with path '%s': %w", filepath, err)
	}

	if !gjson.ValidBytes(readb) {
		return gjson.Result{}, fmt.Errorf("historic data file '%s' is not valid json: %w", filepath, ErrMalformed)
	}

	return gjson.ParseBytes(readb), nil
}

// NewHistoricData initializes a new historic data source.
func NewHistoricData(cfg *HistoricDataConfig) (*HistoricData, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating historic data config: %w", err)
	}

	res, err := loadHistoricData(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("loading historic data: %w", err)
	}

	historicData := HistoricData{
		cfg:     cfg,
		candles: make(map[string][]shared.Candlestick),
	}

	var parseErr error
	res.ForEach(func(key, value gjson.Result) bool {
		candles, err := shared.ParseCandlesticks(value.Array(), time.UTC)
		if err != nil {
			parseErr = fmt.Errorf("parsing candlesticks for %s: %w", key.String(), err)
			return false
		}

		sort.Slice(candles, func(i, j int) bool { return candles[i].Date.Before(candles[j].Date) })
		historicData.candles[key.String()] = candles
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	cfg.Logger.Info().Msgf("loaded historic data for %d symbols from %s", len(historicData.candles), cfg.FilePath)

	return &historicData, nil
}

// FetchDailyCandles returns the most recent recorded candlesticks at or before the provided end
// time for the provided symbol.
func (h *HistoricData) FetchDailyCandles(ctx context.Context, symbol string, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	candles, ok := h.candles[symbol]
	if !ok || len(candles) == 0 {
		return nil, fmt.Errorf("no historic data for %s: %w", symbol, ErrNoData)
	}

	cutoff := sort.Search(len(candles), func(i int) bool { return candles[i].Date.After(end) })
	if cutoff == 0 {
		return nil, fmt.Errorf("no historic data for %s before %s: %w", symbol,
			end.Format(shared.DateLayout), ErrNoData)
	}

	from := max(cutoff-shared.HistoryDays, 0)
	data := make([]shared.Candlestick, cutoff-from)
	copy(data, candles[from:cutoff])

	return data, nil
}

// FetchQuote returns the last recorded close for the provided symbol.
func (h *HistoricData) FetchQuote(ctx context.Context, symbol string) (float64, error) {
	candles, ok := h.candles[symbol]
	if !ok || len(candles) == 0 {
		return 0, fmt.Errorf("no historic data for %s: %w", symbol, ErrNoData)
	}

	return candles[len(candles)-1].Close, nil
}
