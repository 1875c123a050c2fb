package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/turtle/ratelimit"
	"github.com/dnldd/turtle/shared"
	"github.com/tidwall/gjson"
)

const (
	// FinnhubBaseURL is the base url of the finnhub api.
	FinnhubBaseURL = "https://finnhub.io/api/v1"
)

// FinnhubConfig represents the configuration for the finnhub client.
type FinnhubConfig struct {
	// APIKey is the finnhub API key.
	APIKey string
	// BaseURL is the base url of the api.
	BaseURL string
	// Limiter admits requests against the finnhub budget.
	Limiter *ratelimit.Limiter
}

// Validate asserts the config sane inputs.
func (cfg *FinnhubConfig) Validate() error {
	var errs error

	if cfg.APIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("finnhub api key cannot be an empty string"))
	}
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("finnhub base url cannot be an empty string"))
	}
	if cfg.Limiter == nil {
		errs = errors.Join(errs, fmt.Errorf("finnhub limiter cannot be nil"))
	}

	return errs
}

// FinnhubClient represents the finnhub API client, serving daily candles and live quotes.
type FinnhubClient struct {
	cfg   *FinnhubConfig
	httpc http.Client
}

// Ensure the FinnhubClient implements the CandleFetcher and QuoteFetcher interfaces.
var _ shared.CandleFetcher = (*FinnhubClient)(nil)
var _ shared.QuoteFetcher = (*FinnhubClient)(nil)

// NewFinnhubClient instantiates a new finnhub client.
func NewFinnhubClient(cfg *FinnhubConfig) (*FinnhubClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating finnhub config: %w", err)
	}

	return &FinnhubClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 5},
	}, nil
}

// formURL creates full urls including parameters for the api.
func formURL(base string, path string, params string) string {
	var sb strings.Builder
	sb.Grow(len(base) + len(path) + len(params) + 1)
	sb.WriteString(base)
	sb.WriteString(path)
	sb.WriteString("?")
	sb.WriteString(params)

	return sb.String()
}

// get performs a rate limited GET request against the api.
func (c *FinnhubClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("token", c.cfg.APIKey)
	formedURL := formURL(c.cfg.BaseURL, path, params.Encode())

	return ratelimit.Do(ctx, c.cfg.Limiter, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting %s: %w", path, err)
		}

		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		err = classifyStatus(resp.StatusCode)
		if err != nil {
			return nil, fmt.Errorf("requesting %s: %w", path, err)
		}

		return body, nil
	})
}

// checkPayloadError inspects an error payload returned with a successful status.
func checkPayloadError(body []byte) error {
	msg := gjson.GetBytes(body, "error")
	if !msg.Exists() {
		return nil
	}

	lower := strings.ToLower(msg.String())
	switch {
	case strings.Contains(lower, "limit"):
		return fmt.Errorf("%s: %w", msg.String(), ErrRateLimited)
	case strings.Contains(lower, "access"):
		return fmt.Errorf("%s: %w", msg.String(), ErrUnsupported)
	default:
		return fmt.Errorf("%s: %w", msg.String(), ErrMalformed)
	}
}

// ParseCandles parses daily candlesticks from the column oriented finnhub candle payload.
func (c *FinnhubClient) ParseCandles(body []byte) ([]shared.Candlestick, error) {
	err := checkPayloadError(body)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	status := res.Get("s").String()
	switch status {
	case "ok":
	case "no_data":
		return nil, ErrNoData
	default:
		return nil, fmt.Errorf("unexpected candle status %q: %w", status, ErrMalformed)
	}

	timestamps := res.Get("t").Array()
	opens := res.Get("o").Array()
	highs := res.Get("h").Array()
	lows := res.Get("l").Array()
	closes := res.Get("c").Array()

	n := len(timestamps)
	if n == 0 {
		return nil, ErrNoData
	}
	if len(opens) != n || len(highs) != n || len(lows) != n || len(closes) != n {
		return nil, fmt.Errorf("candle column lengths differ: %w", ErrMalformed)
	}

	candles := make([]shared.Candlestick, 0, n)
	for idx := 0; idx < n; idx++ {
		candles = append(candles, shared.Candlestick{
			Date:  shared.StartOfDay(time.Unix(timestamps[idx].Int(), 0)),
			Open:  opens[idx].Float(),
			High:  highs[idx].Float(),
			Low:   lows[idx].Float(),
			Close: closes[idx].Float(),
		})
	}

	if len(candles) > shared.HistoryDays {
		candles = candles[len(candles)-shared.HistoryDays:]
	}

	return candles, nil
}

// FetchDailyCandles fetches daily candlesticks for the provided symbol.
func (c *FinnhubClient) FetchDailyCandles(ctx context.Context, symbol string, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	const candlePath = "/stock/candle"

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("resolution", "D")
	params.Add("from", strconv.FormatInt(start.Unix(), 10))
	params.Add("to", strconv.FormatInt(end.Unix(), 10))

	body, err := c.get(ctx, candlePath, params)
	if err != nil {
		return nil, fmt.Errorf("fetching daily candles for %s: %w", symbol, err)
	}

	candles, err := c.ParseCandles(body)
	if err != nil {
		return nil, fmt.Errorf("parsing daily candles for %s: %w", symbol, err)
	}

	return candles, nil
}

// FetchQuote fetches the current price for the provided symbol.
func (c *FinnhubClient) FetchQuote(ctx context.Context, symbol string) (float64, error) {
	const quotePath = "/quote"

	params := url.Values{}
	params.Add("symbol", symbol)

	body, err := c.get(ctx, quotePath, params)
	if err != nil {
		return 0, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}

	err = checkPayloadError(body)
	if err != nil {
		return 0, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}

	current := gjson.GetBytes(body, "c")
	if !current.Exists() {
		return 0, fmt.Errorf("quote for %s has no current price: %w", symbol, ErrMalformed)
	}

	price := current.Float()
	if price <= 0 {
		return 0, fmt.Errorf("quote for %s: %w", symbol, ErrNoData)
	}

	return price, nil
}
