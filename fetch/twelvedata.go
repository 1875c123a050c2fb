package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
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
	// TwelveDataBaseURL is the base url of the twelvedata api.
	TwelveDataBaseURL = "https://api.twelvedata.com"
)

// TwelveDataConfig represents the configuration for the twelvedata client.
type TwelveDataConfig struct {
	// APIKey is the twelvedata API key.
	APIKey string
	// BaseURL is the base url of the api.
	BaseURL string
	// Limiter admits requests against the twelvedata budget.
	Limiter *ratelimit.Limiter
}

// Validate asserts the config sane inputs.
func (cfg *TwelveDataConfig) Validate() error {
	var errs error

	if cfg.APIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("twelvedata api key cannot be an empty string"))
	}
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("twelvedata base url cannot be an empty string"))
	}
	if cfg.Limiter == nil {
		errs = errors.Join(errs, fmt.Errorf("twelvedata limiter cannot be nil"))
	}

	return errs
}

// TwelveDataClient represents the twelvedata API client, serving batched indicator readings.
type TwelveDataClient struct {
	cfg   *TwelveDataConfig
	httpc http.Client
}

// Ensure the TwelveDataClient implements the IndicatorFetcher interface.
var _ shared.IndicatorFetcher = (*TwelveDataClient)(nil)

// NewTwelveDataClient instantiates a new twelvedata client.
func NewTwelveDataClient(cfg *TwelveDataConfig) (*TwelveDataClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating twelvedata config: %w", err)
	}

	return &TwelveDataClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 10},
	}, nil
}

// indicatorParams sets the period parameters of the provided indicator kind.
func indicatorParams(kind shared.IndicatorKind, params url.Values) error {
	switch kind {
	case shared.RSI:
		params.Add("time_period", "14")
	case shared.SMA:
		params.Add("time_period", "20")
	case shared.MACD:
		params.Add("short_period", "12")
		params.Add("long_period", "26")
		params.Add("signal_period", "9")
	default:
		return fmt.Errorf("unknown indicator kind provided: %s", kind)
	}

	return nil
}

// FetchIndicators fetches the latest daily reading of the provided indicator for all provided
// symbols in a single request. The readings are keyed by symbol.
func (c *TwelveDataClient) FetchIndicators(ctx context.Context, kind shared.IndicatorKind, symbols []string) (map[string]gjson.Result, error) {
	if len(symbols) == 0 {
		return map[string]gjson.Result{}, nil
	}

	params := url.Values{}
	params.Add("symbol", strings.Join(symbols, ","))
	params.Add("interval", "1day")
	params.Add("outputsize", "1")
	err := indicatorParams(kind, params)
	if err != nil {
		return nil, err
	}
	params.Add("apikey", c.cfg.APIKey)

	formedURL := formURL(c.cfg.BaseURL, "/"+string(kind), params.Encode())

	body, err := ratelimit.Do(ctx, c.cfg.Limiter, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting %s: %w", kind, err)
		}

		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		err = classifyStatus(resp.StatusCode)
		if err != nil {
			return nil, fmt.Errorf("requesting %s: %w", kind, err)
		}

		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s indicators: %w", kind, err)
	}

	return c.ParseIndicators(body, symbols)
}

// ParseIndicators splits an indicator response into per symbol payloads. Single symbol responses,
// errored ones included, are returned unwrapped by the api and are keyed by the requested symbol.
func (c *TwelveDataClient) ParseIndicators(body []byte, symbols []string) (map[string]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid indicator payload: %w", ErrMalformed)
	}

	res := gjson.ParseBytes(body)
	if res.Get("code").Int() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", res.Get("message").String(), ErrRateLimited)
	}
	if res.Get("status").String() == "error" && len(symbols) != 1 {
		return nil, fmt.Errorf("%s: %w", res.Get("message").String(), PayloadError(res))
	}

	payloads := make(map[string]gjson.Result, len(symbols))
	if len(symbols) == 1 && !res.Get(gjson.Escape(symbols[0])).Exists() {
		payloads[symbols[0]] = res
		return payloads, nil
	}

	for _, sym := range symbols {
		payload := res.Get(gjson.Escape(sym))
		if payload.Exists() {
			payloads[sym] = payload
		}
	}

	return payloads, nil
}

// PayloadError classifies an errored indicator payload. Plan restrictions and unknown symbols are
// permanent, everything else is treated as missing data.
func PayloadError(payload gjson.Result) error {
	if payload.Get("status").String() != "error" {
		return nil
	}

	switch payload.Get("code").Int() {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return ErrUnsupported
	}

	msg := strings.ToLower(payload.Get("message").String())
	if strings.Contains(msg, "plan") || strings.Contains(msg, "not available") {
		return ErrUnsupported
	}

	return ErrNoData
}

// latestValue returns the most recent reading of an indicator payload.
func latestValue(payload gjson.Result) (gjson.Result, bool) {
	if !payload.Exists() || payload.Get("status").String() == "error" {
		return gjson.Result{}, false
	}

	latest := payload.Get("values.0")
	return latest, latest.Exists()
}

// readFloat reads the first present key of the provided reading as a float. Readings are
// served as numeric strings.
func readFloat(reading gjson.Result, keys ...string) *float64 {
	for _, key := range keys {
		val := reading.Get(key)
		if !val.Exists() || val.Type == gjson.Null {
			continue
		}

		var f float64
		switch val.Type {
		case gjson.Number:
			f = val.Num
		case gjson.String:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(val.Str), 64)
			if err != nil {
				return nil
			}
			f = parsed
		default:
			return nil
		}

		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}

		return &f
	}

	return nil
}

// ExtractValue extracts the latest single value reading of an rsi or sma payload.
func ExtractValue(payload gjson.Result, kind shared.IndicatorKind) *float64 {
	latest, ok := latestValue(payload)
	if !ok {
		return nil
	}

	switch kind {
	case shared.RSI:
		return readFloat(latest, "rsi", "RSI")
	case shared.SMA:
		return readFloat(latest, "sma", "SMA", "value")
	default:
		return nil
	}
}

// ExtractMACD extracts the latest macd, signal and histogram readings of a macd payload.
func ExtractMACD(payload gjson.Result) (*float64, *float64, *float64) {
	latest, ok := latestValue(payload)
	if !ok {
		return nil, nil, nil
	}

	return readFloat(latest, "macd", "MACD"),
		readFloat(latest, "macd_signal", "MACD_Signal"),
		readFloat(latest, "macd_histogram", "MACD_Hist")
}
