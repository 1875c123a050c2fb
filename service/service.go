package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/turtle/engine"
	"github.com/dnldd/turtle/fetch"
	"github.com/dnldd/turtle/market"
	"github.com/dnldd/turtle/portfolio"
	"github.com/dnldd/turtle/position"
	"github.com/dnldd/turtle/ratelimit"
	"github.com/dnldd/turtle/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// DefaultWatchlistLimit is the default maximum number of watched symbols.
	DefaultWatchlistLimit = 20
	// DefaultFinnhubRequestsPerMinute is the default finnhub request budget.
	DefaultFinnhubRequestsPerMinute = 60
	// DefaultFinnhubMaxConcurrent is the default number of concurrent finnhub requests.
	DefaultFinnhubMaxConcurrent = 3
	// DefaultFinnhubMinSpacing is the default spacing between finnhub requests.
	DefaultFinnhubMinSpacing = time.Millisecond * 250
	// DefaultTwelveDataRequestsPerMinute is the default twelvedata request budget.
	DefaultTwelveDataRequestsPerMinute = 8
	// DefaultTwelveDataMaxConcurrent is the default number of concurrent twelvedata requests.
	DefaultTwelveDataMaxConcurrent = 1
	// DefaultTwelveDataMinSpacing is the default spacing between twelvedata requests.
	DefaultTwelveDataMinSpacing = time.Second
)

// Budget represents the request budget of an upstream provider.
type Budget struct {
	// RequestsPerMinute is the maximum number of requests started per minute.
	RequestsPerMinute int
	// MaxConcurrent is the maximum number of requests in flight.
	MaxConcurrent int
	// MinSpacing is the minimum time between consecutive requests.
	MinSpacing time.Duration
}

// setDefaults applies the provided defaults to unset budget fields.
func (b *Budget) setDefaults(def Budget) {
	if b.RequestsPerMinute == 0 {
		b.RequestsPerMinute = def.RequestsPerMinute
	}
	if b.MaxConcurrent == 0 {
		b.MaxConcurrent = def.MaxConcurrent
	}
	if b.MinSpacing == 0 {
		b.MinSpacing = def.MinSpacing
	}
}

// limiterConfig returns the limiter configuration of the budget.
func (b *Budget) limiterConfig(name string) *ratelimit.Config {
	return &ratelimit.Config{
		Name:           name,
		MaxPerInterval: b.RequestsPerMinute,
		Interval:       time.Minute,
		MaxConcurrent:  b.MaxConcurrent,
		MinSpacing:     b.MinSpacing,
	}
}

// TurtleConfig represents the configuration struct for the turtle service.
type TurtleConfig struct {
	// Watchlist represents the allow-list of watched symbols, empty watches the whole universe.
	Watchlist []string
	// WatchlistLimit is the maximum number of watched symbols.
	WatchlistLimit int
	// FinnhubAPIKey is the finnhub API key, synthetic history is served without it.
	FinnhubAPIKey string
	// TwelveDataAPIKey is the twelvedata API key, indicators are omitted without it.
	TwelveDataAPIKey string
	// HistoricDataFilePath is the filepath to historic market data replacing finnhub.
	HistoricDataFilePath string
	// FastPollInterval is the interval between open trade price polls.
	FastPollInterval time.Duration
	// DailyScanInterval is the interval between full watchlist scans.
	DailyScanInterval time.Duration
	// CacheTTL is the freshness window of cached market data.
	CacheTTL time.Duration
	// Finnhub is the finnhub request budget.
	Finnhub Budget
	// TwelveData is the twelvedata request budget.
	TwelveData Budget
}

// setDefaults applies defaults to unset config fields.
func (cfg *TurtleConfig) setDefaults() {
	if cfg.WatchlistLimit == 0 {
		cfg.WatchlistLimit = DefaultWatchlistLimit
	}
	if cfg.FastPollInterval == 0 {
		cfg.FastPollInterval = position.DefaultFastPollInterval
	}
	if cfg.DailyScanInterval == 0 {
		cfg.DailyScanInterval = position.DefaultDailyScanInterval
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = market.DefaultTTL
	}

	cfg.Finnhub.setDefaults(Budget{
		RequestsPerMinute: DefaultFinnhubRequestsPerMinute,
		MaxConcurrent:     DefaultFinnhubMaxConcurrent,
		MinSpacing:        DefaultFinnhubMinSpacing,
	})
	cfg.TwelveData.setDefaults(Budget{
		RequestsPerMinute: DefaultTwelveDataRequestsPerMinute,
		MaxConcurrent:     DefaultTwelveDataMaxConcurrent,
		MinSpacing:        DefaultTwelveDataMinSpacing,
	})
}

// Validate asserts the config sane inputs.
func (cfg *TurtleConfig) Validate() error {
	var errs error

	if cfg.WatchlistLimit < 0 {
		errs = errors.Join(errs, fmt.Errorf("watchlist limit cannot be negative, got %d", cfg.WatchlistLimit))
	}
	if cfg.FastPollInterval < 0 {
		errs = errors.Join(errs, fmt.Errorf("fast poll interval cannot be negative, got %s", cfg.FastPollInterval))
	}
	if cfg.DailyScanInterval < 0 {
		errs = errors.Join(errs, fmt.Errorf("daily scan interval cannot be negative, got %s", cfg.DailyScanInterval))
	}
	if cfg.CacheTTL < 0 {
		errs = errors.Join(errs, fmt.Errorf("cache ttl cannot be negative, got %s", cfg.CacheTTL))
	}

	for name, budget := range map[string]Budget{"finnhub": cfg.Finnhub, "twelvedata": cfg.TwelveData} {
		if budget.RequestsPerMinute < 0 {
			errs = errors.Join(errs, fmt.Errorf("%s requests per minute cannot be negative, got %d",
				name, budget.RequestsPerMinute))
		}
		if budget.MaxConcurrent < 0 {
			errs = errors.Join(errs, fmt.Errorf("%s max concurrent cannot be negative, got %d",
				name, budget.MaxConcurrent))
		}
		if budget.MinSpacing < 0 {
			errs = errors.Join(errs, fmt.Errorf("%s min spacing cannot be negative, got %s",
				name, budget.MinSpacing))
		}
	}

	return errs
}

// PortfolioRequest represents the account a portfolio is simulated for.
type PortfolioRequest struct {
	// ID identifies the simulated portfolio.
	ID string
	// Name is the display name of the simulated portfolio.
	Name string
	// Capital is the starting account balance.
	Capital float64
	// RiskPercent is the fraction of capital risked per position, defaults to 1%.
	RiskPercent float64
}

// Turtle represents a breakout trading service. It owns the market data cache and the trade
// lifecycle state for the life of the process.
type Turtle struct {
	cfg             *TurtleConfig
	universe        *shared.Universe
	watchlist       []string
	cache           *market.Cache
	positionManager *position.Manager
	logger          *zerolog.Logger
}

// NewTurtle initializes a new turtle service.
func NewTurtle(cfg *TurtleConfig) (*Turtle, error) {
	cfg.setDefaults()
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating turtle config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "turtle").Logger()

	universe, err := shared.DefaultUniverse()
	if err != nil {
		return nil, fmt.Errorf("loading instrument universe: %w", err)
	}

	watchlist := universe.Watchlist(cfg.Watchlist, cfg.WatchlistLimit)
	if len(watchlist) == 0 {
		return nil, fmt.Errorf("no watchlist symbols in the instrument universe")
	}

	cacheCfg := &market.CacheConfig{
		Universe:           universe,
		TTL:                cfg.CacheTTL,
		ForceInterval:      market.DefaultForceInterval,
		JoinTimeout:        market.DefaultJoinTimeout,
		ColdStartTimeout:   market.DefaultColdStartTimeout,
		BatchSize:          market.DefaultBatchSize,
		BatchDelay:         market.DefaultBatchDelay,
		IndicatorChunkSize: market.DefaultIndicatorChunkSize,
		IndicatorDelay:     market.DefaultIndicatorDelay,
		IndicatorTimeout:   market.DefaultIndicatorTimeout,
		Now:                time.Now,
	}

	switch {
	case cfg.HistoricDataFilePath != "":
		historicDataLogger := logger.With().Str("component", "historicdata").Logger()
		historicData, err := fetch.NewHistoricData(&fetch.HistoricDataConfig{
			FilePath: cfg.HistoricDataFilePath,
			Logger:   &historicDataLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating historic data: %w", err)
		}

		cacheCfg.Candles = historicData
		cacheCfg.Quotes = historicData
		cacheCfg.BatchDelay = 0

	case cfg.FinnhubAPIKey != "":
		limiter, err := ratelimit.NewLimiter(cfg.Finnhub.limiterConfig("finnhub"))
		if err != nil {
			return nil, fmt.Errorf("creating finnhub limiter: %w", err)
		}

		finnhub, err := fetch.NewFinnhubClient(&fetch.FinnhubConfig{
			APIKey:  cfg.FinnhubAPIKey,
			BaseURL: fetch.FinnhubBaseURL,
			Limiter: limiter,
		})
		if err != nil {
			return nil, fmt.Errorf("creating finnhub client: %w", err)
		}

		cacheCfg.Candles = finnhub
		cacheCfg.Quotes = finnhub
		cacheCfg.CandleBudget = cfg.Finnhub.RequestsPerMinute

	default:
		logger.Warn().Msgf("no finnhub api key provided, serving synthetic price history")
	}

	if cfg.TwelveDataAPIKey != "" {
		limiter, err := ratelimit.NewLimiter(cfg.TwelveData.limiterConfig("twelvedata"))
		if err != nil {
			return nil, fmt.Errorf("creating twelvedata limiter: %w", err)
		}

		twelveData, err := fetch.NewTwelveDataClient(&fetch.TwelveDataConfig{
			APIKey:  cfg.TwelveDataAPIKey,
			BaseURL: fetch.TwelveDataBaseURL,
			Limiter: limiter,
		})
		if err != nil {
			return nil, fmt.Errorf("creating twelvedata client: %w", err)
		}

		cacheCfg.Indicators = twelveData
		cacheCfg.IndicatorBudget = cfg.TwelveData.RequestsPerMinute
	} else {
		logger.Warn().Msgf("no twelvedata api key provided, indicators will be empty")
	}

	cacheLogger := logger.With().Str("component", "marketcache").Logger()
	cacheCfg.Logger = &cacheLogger
	cache, err := market.NewCache(cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("creating market cache: %w", err)
	}

	positionMgrLogger := logger.With().Str("component", "tradeengine").Logger()
	positionMgr, err := position.NewPositionManager(&position.ManagerConfig{
		Watchlist:            watchlist,
		Market:               cache,
		GenerateSignal:       engine.GenerateSignal,
		DailyScanInterval:    cfg.DailyScanInterval,
		FastPollInterval:     cfg.FastPollInterval,
		MaxClosedTrades:      position.DefaultMaxClosedTrades,
		SnapshotClosedTrades: position.DefaultSnapshotClosedTrades,
		JobScheduler:         gocron.NewScheduler(time.UTC),
		Notify: func(message string) {
			positionMgrLogger.Info().Msg(message)
		},
		Now:    time.Now,
		Logger: &positionMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating position manager: %w", err)
	}

	return &Turtle{
		cfg:             cfg,
		universe:        universe,
		watchlist:       watchlist,
		cache:           cache,
		positionManager: positionMgr,
		logger:          &logger,
	}, nil
}

// Watchlist returns the watched symbols.
func (t *Turtle) Watchlist() []string {
	return append([]string(nil), t.watchlist...)
}

// Snapshot returns the current markets, signals and trades of the watchlist.
func (t *Turtle) Snapshot(ctx context.Context, force bool) position.Snapshot {
	return t.positionManager.Snapshot(ctx, force)
}

// CloseTrade manually closes the open trade of the provided symbol.
func (t *Turtle) CloseTrade(ctx context.Context, symbol string) (*position.TrackedTrade, error) {
	return t.positionManager.CloseTrade(ctx, symbol)
}

// Portfolio simulates the provided account over the current signals of the watchlist.
func (t *Turtle) Portfolio(ctx context.Context, req *PortfolioRequest) (*portfolio.Portfolio, error) {
	snapshot := t.Snapshot(ctx, false)

	return portfolio.Simulate(&portfolio.Params{
		ID:          req.ID,
		Name:        req.Name,
		Capital:     req.Capital,
		RiskPercent: req.RiskPercent,
		Signals:     snapshot.Signals,
		Markets:     snapshot.Markets,
		Universe:    t.universe,
		Now:         snapshot.Timestamp,
	})
}

// Stop terminates the periodic jobs of the service.
func (t *Turtle) Stop() {
	t.positionManager.Stop()
}

// Run handles the lifecycle processes of the turtle service.
func (t *Turtle) Run(ctx context.Context) {
	snapshot := t.Snapshot(ctx, false)

	var actionable int
	for idx := range snapshot.Signals {
		if snapshot.Signals[idx].Actionable() {
			actionable++
		}
	}

	t.logger.Info().Msgf("scanned %d markets (%d skipped), %d actionable signals, %d open trades",
		len(snapshot.Markets), len(snapshot.Skipped), actionable, len(snapshot.OpenTrades))

	<-ctx.Done()

	t.Stop()
}
