package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/turtle/service"
	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// Watchlist represents the allow-list of watched symbols.
	Watchlist []string
	// WatchlistLimit is the maximum number of watched symbols.
	WatchlistLimit int
	// FinnhubAPIKey is the finnhub API key.
	FinnhubAPIKey string
	// TwelveDataAPIKey is the twelvedata API key.
	TwelveDataAPIKey string
	// FastPollMS is the open trade poll interval in milliseconds.
	FastPollMS int
	// DailyScanMS is the watchlist scan interval in milliseconds.
	DailyScanMS int
	// CacheTTLMS is the market data freshness window in milliseconds.
	CacheTTLMS int
	// FinnhubRequestsPerMinute is the finnhub request budget.
	FinnhubRequestsPerMinute int
	// FinnhubMaxConcurrent is the number of concurrent finnhub requests.
	FinnhubMaxConcurrent int
	// FinnhubMinSpacingMS is the spacing between finnhub requests in milliseconds.
	FinnhubMinSpacingMS int
	// TwelveDataRequestsPerMinute is the twelvedata request budget.
	TwelveDataRequestsPerMinute int
	// TwelveDataMaxConcurrent is the number of concurrent twelvedata requests.
	TwelveDataMaxConcurrent int
	// TwelveDataMinSpacingMS is the spacing between twelvedata requests in milliseconds.
	TwelveDataMinSpacingMS int
	// HistoricDataFilePath is the filepath to historic market data replacing finnhub.
	HistoricDataFilePath string

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	values := []struct {
		name  string
		value int
	}{
		{"watchlistlimit", cfg.WatchlistLimit},
		{"fastpollms", cfg.FastPollMS},
		{"dailyscanms", cfg.DailyScanMS},
		{"cachettlms", cfg.CacheTTLMS},
		{"finnhubrequestsperminute", cfg.FinnhubRequestsPerMinute},
		{"finnhubmaxconcurrent", cfg.FinnhubMaxConcurrent},
		{"finnhubminspacingms", cfg.FinnhubMinSpacingMS},
		{"twelvedatarequestsperminute", cfg.TwelveDataRequestsPerMinute},
		{"twelvedatamaxconcurrent", cfg.TwelveDataMaxConcurrent},
		{"twelvedataminspacingms", cfg.TwelveDataMinSpacingMS},
	}
	for _, v := range values {
		if v.value < 0 {
			errs = errors.Join(errs, fmt.Errorf("%s cannot be negative, got %d", v.name, v.value))
		}
	}

	if cfg.HistoricDataFilePath != "" {
		_, err := os.Stat(cfg.HistoricDataFilePath)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("historic data file: %w", err))
		}
	}

	return errs
}

// millis converts the provided milliseconds to a duration.
func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// TurtleConfig returns the service configuration. Unset values take the service defaults.
func (cfg *Config) TurtleConfig() *service.TurtleConfig {
	return &service.TurtleConfig{
		Watchlist:            cfg.Watchlist,
		WatchlistLimit:       cfg.WatchlistLimit,
		FinnhubAPIKey:        cfg.FinnhubAPIKey,
		TwelveDataAPIKey:     cfg.TwelveDataAPIKey,
		HistoricDataFilePath: cfg.HistoricDataFilePath,
		FastPollInterval:     millis(cfg.FastPollMS),
		DailyScanInterval:    millis(cfg.DailyScanMS),
		CacheTTL:             millis(cfg.CacheTTLMS),
		Finnhub: service.Budget{
			RequestsPerMinute: cfg.FinnhubRequestsPerMinute,
			MaxConcurrent:     cfg.FinnhubMaxConcurrent,
			MinSpacing:        millis(cfg.FinnhubMinSpacingMS),
		},
		TwelveData: service.Budget{
			RequestsPerMinute: cfg.TwelveDataRequestsPerMinute,
			MaxConcurrent:     cfg.TwelveDataMaxConcurrent,
			MinSpacing:        millis(cfg.TwelveDataMinSpacingMS),
		},
	}
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			list = append(list, part)
		}
	}

	return list
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			var err error
			def, err = strconv.Atoi(defValue)
			if err != nil {
				return fmt.Errorf("%s: parsing environment value: %w", name, err)
			}
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%s: unsupported slice type", name)
		}

		flag.Func(name, usage, func(s string) error {
			*value.(*[]string) = splitList(s)
			return nil
		})
		// Set default if not provided via flag
		if defValue != "" {
			*value.(*[]string) = splitList(defValue)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name  string
		value interface{}
		usage string
	}{
		{"watchlist", &cfg.Watchlist, "the watched symbols, defaults to the instrument universe"},
		{"watchlistlimit", &cfg.WatchlistLimit, "the maximum number of watched symbols"},
		{"finnhubapikey", &cfg.FinnhubAPIKey, "the finnhub api key"},
		{"twelvedataapikey", &cfg.TwelveDataAPIKey, "the twelvedata api key"},
		{"fastpollms", &cfg.FastPollMS, "the open trade poll interval in milliseconds"},
		{"dailyscanms", &cfg.DailyScanMS, "the watchlist scan interval in milliseconds"},
		{"cachettlms", &cfg.CacheTTLMS, "the market data freshness window in milliseconds"},
		{"finnhubrequestsperminute", &cfg.FinnhubRequestsPerMinute, "the finnhub requests per minute"},
		{"finnhubmaxconcurrent", &cfg.FinnhubMaxConcurrent, "the concurrent finnhub requests"},
		{"finnhubminspacingms", &cfg.FinnhubMinSpacingMS, "the spacing between finnhub requests in milliseconds"},
		{"twelvedatarequestsperminute", &cfg.TwelveDataRequestsPerMinute, "the twelvedata requests per minute"},
		{"twelvedatamaxconcurrent", &cfg.TwelveDataMaxConcurrent, "the concurrent twelvedata requests"},
		{"twelvedataminspacingms", &cfg.TwelveDataMinSpacingMS, "the spacing between twelvedata requests in milliseconds"},
		{"historicdatafilepath", &cfg.HistoricDataFilePath, "the historic data filepath, replaces finnhub"},
	}
	for _, f := range flags {
		err := cfg.registerFlag(f.name, f.value, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
