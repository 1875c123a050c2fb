package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/turtle/ratelimit"
	"github.com/peterldowns/testy/assert"
	"go.uber.org/atomic"
)

func setupLimiter(t *testing.T) *ratelimit.Limiter {
	limiter, err := ratelimit.NewLimiter(&ratelimit.Config{
		Name:           "test",
		MaxPerInterval: 100,
		Interval:       time.Minute,
		MaxConcurrent:  3,
	})
	assert.NoError(t, err)

	return limiter
}

func setupFinnhub(t *testing.T, handler http.HandlerFunc) *FinnhubClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fc, err := NewFinnhubClient(&FinnhubConfig{
		APIKey:  "key",
		BaseURL: srv.URL,
		Limiter: setupLimiter(t),
	})
	assert.NoError(t, err)

	return fc
}

func TestFinnhubConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *FinnhubConfig
		errContains []string
	}{
		{
			name: "valid config returns nil",
			cfg:  &FinnhubConfig{APIKey: "key", BaseURL: FinnhubBaseURL, Limiter: setupLimiter(t)},
		},
		{
			name: "missing fields",
			cfg:  &FinnhubConfig{},
			errContains: []string{
				"finnhub api key cannot be an empty string",
				"finnhub base url cannot be an empty string",
				"finnhub limiter cannot be nil",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.errContains) == 0 {
				assert.NoError(t, err)
				return
			}

			assert.Error(t, err)
			for _, substr := range tt.errContains {
				assert.True(t, strings.Contains(err.Error(), substr))
			}
		})
	}
}

func TestFormURL(t *testing.T) {
	params := url.Values{}
	params.Add("a", "bbb")
	params.Add("b", "ccc")

	// Ensure urls can be formed accurately.
	formedURL := formURL("http://base", "/path", params.Encode())
	assert.Equal(t, formedURL, "http://base/path?a=bbb&b=ccc")
}

func TestFinnhubFetchDailyCandles(t *testing.T) {
	var query url.Values
	fc := setupFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		assert.Equal(t, r.URL.Path, "/stock/candle")
		_, _ = w.Write([]byte(`{"s":"ok","t":[1709251200,1709510400],"o":[10,11],"h":[15,16],"l":[8,9],"c":[12,13]}`))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	// Ensure daily candles can be fetched and parsed.
	candles, err := fc.FetchDailyCandles(context.Background(), "^GSPC", start, end)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 2)
	assert.Equal(t, candles[0].Open, float64(10))
	assert.Equal(t, candles[0].High, float64(15))
	assert.Equal(t, candles[0].Low, float64(8))
	assert.Equal(t, candles[0].Close, float64(12))
	assert.Equal(t, candles[0].Date, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, candles[1].Date, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))

	// Ensure the request carries the expected parameters.
	assert.Equal(t, query.Get("symbol"), "^GSPC")
	assert.Equal(t, query.Get("resolution"), "D")
	assert.Equal(t, query.Get("from"), "1704067200")
	assert.Equal(t, query.Get("to"), "1711843200")
	assert.Equal(t, query.Get("token"), "key")
}

func TestFinnhubCandleErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "no data status", status: http.StatusOK, body: `{"s":"no_data"}`, want: ErrNoData},
		{name: "unknown status", status: http.StatusOK, body: `{"s":"bad"}`, want: ErrMalformed},
		{name: "column mismatch", status: http.StatusOK, body: `{"s":"ok","t":[1,2],"o":[1],"h":[1,2],"l":[1,2],"c":[1,2]}`, want: ErrMalformed},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"API limit reached"}`, want: ErrRateLimited},
		{name: "plan restriction", status: http.StatusForbidden, body: `{"error":"You don't have access to this resource."}`, want: ErrUnsupported},
		{name: "access error payload", status: http.StatusOK, body: `{"error":"You don't have access to this resource."}`, want: ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := setupFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := fc.FetchDailyCandles(context.Background(), "AAPL", time.Now().AddDate(0, 0, -90), time.Now())
			assert.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestFinnhubFetchQuote(t *testing.T) {
	var calls atomic.Int32
	fc := setupFinnhub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		assert.Equal(t, r.URL.Path, "/quote")
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = w.Write([]byte(`{"c":189.5,"h":190,"l":187,"o":188,"pc":188.2}`))
		case "ZERO":
			_, _ = w.Write([]byte(`{"c":0,"h":0,"l":0,"o":0,"pc":0}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})

	// Ensure the current price can be fetched.
	price, err := fc.FetchQuote(context.Background(), "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, price, 189.5)

	// Ensure a zero quote is reported as missing data.
	_, err = fc.FetchQuote(context.Background(), "ZERO")
	assert.True(t, errors.Is(err, ErrNoData))

	// Ensure a quote without a current price is reported as malformed.
	_, err = fc.FetchQuote(context.Background(), "EMPTY")
	assert.True(t, errors.Is(err, ErrMalformed))

	assert.Equal(t, calls.Load(), int32(3))
}

func TestErrorClassification(t *testing.T) {
	assert.NoError(t, classifyStatus(http.StatusOK))
	assert.True(t, errors.Is(classifyStatus(http.StatusTooManyRequests), ErrRateLimited))
	assert.True(t, errors.Is(classifyStatus(http.StatusForbidden), ErrUnsupported))
	assert.True(t, errors.Is(classifyStatus(http.StatusNotFound), ErrNoData))
	assert.Error(t, classifyStatus(http.StatusInternalServerError))

	// Ensure only unsupported symbols are permanent and only rate limits are transient.
	assert.True(t, IsPermanent(ErrUnsupported))
	assert.False(t, IsPermanent(ErrRateLimited))
	assert.True(t, IsTransient(ErrRateLimited))
	assert.False(t, IsTransient(ErrNoData))
}
