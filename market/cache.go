package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/turtle/shared"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// DefaultTTL is the default freshness window of a cache entry.
	DefaultTTL = time.Hour
	// DefaultForceInterval is the default minimum interval between forced refreshes.
	DefaultForceInterval = time.Minute
	// DefaultJoinTimeout is the default bound on waiting for an in-flight refresh.
	DefaultJoinTimeout = time.Second * 4
	// DefaultColdStartTimeout is the default bound on waiting for the first refresh of an
	// empty cache.
	DefaultColdStartTimeout = time.Minute
	// DefaultBatchSize is the default number of symbols requested together.
	DefaultBatchSize = 3
	// DefaultBatchDelay is the default delay between consecutive batches.
	DefaultBatchDelay = time.Second * 5
	// DefaultIndicatorChunkSize is the default chunk size used when a batched indicator request fails.
	DefaultIndicatorChunkSize = 6
	// DefaultIndicatorDelay is the default delay between consecutive indicator kinds.
	DefaultIndicatorDelay = time.Second * 5
	// DefaultIndicatorTimeout is the default bound on waiting for an indicator bundle.
	DefaultIndicatorTimeout = time.Second * 20
)

// CacheConfig represents the market data cache configuration.
type CacheConfig struct {
	// Universe represents the tradable instrument universe.
	Universe *shared.Universe
	// Candles fetches daily history. Synthetic history is served when absent.
	Candles shared.CandleFetcher
	// Quotes fetches live prices. Cached prices are served when absent.
	Quotes shared.QuoteFetcher
	// Indicators fetches indicator readings. Empty readings are served when absent.
	Indicators shared.IndicatorFetcher
	// TTL is the freshness window of a cache entry.
	TTL time.Duration
	// ForceInterval is the minimum interval between forced refreshes.
	ForceInterval time.Duration
	// JoinTimeout bounds how long a caller waits on a refresh.
	JoinTimeout time.Duration
	// ColdStartTimeout bounds how long a caller waits on a refresh of an empty cache.
	ColdStartTimeout time.Duration
	// BatchSize is the number of symbols requested together.
	BatchSize int
	// BatchDelay is the delay between consecutive batches.
	BatchDelay time.Duration
	// CandleBudget is the maximum number of symbols requested for candles per refresh, zero
	// disables rotation.
	CandleBudget int
	// IndicatorBudget is the maximum number of symbols requested for indicators per refresh,
	// zero disables rotation.
	IndicatorBudget int
	// IndicatorChunkSize is the chunk size used when a batched indicator request fails.
	IndicatorChunkSize int
	// IndicatorDelay is the delay between consecutive indicator kinds.
	IndicatorDelay time.Duration
	// IndicatorTimeout bounds how long a refresh waits on indicators, zero waits indefinitely.
	IndicatorTimeout time.Duration
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *CacheConfig) Validate() error {
	var errs error

	if cfg.Universe == nil {
		errs = errors.Join(errs, fmt.Errorf("universe cannot be nil"))
	}
	if cfg.TTL <= 0 {
		errs = errors.Join(errs, fmt.Errorf("ttl must be positive, got %s", cfg.TTL))
	}
	if cfg.ForceInterval < 0 {
		errs = errors.Join(errs, fmt.Errorf("force interval cannot be negative, got %s", cfg.ForceInterval))
	}
	if cfg.JoinTimeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf("join timeout must be positive, got %s", cfg.JoinTimeout))
	}
	if cfg.ColdStartTimeout < cfg.JoinTimeout {
		errs = errors.Join(errs, fmt.Errorf("cold start timeout cannot be less than the join timeout"))
	}
	if cfg.BatchSize <= 0 {
		errs = errors.Join(errs, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize))
	}
	if cfg.BatchDelay < 0 {
		errs = errors.Join(errs, fmt.Errorf("batch delay cannot be negative, got %s", cfg.BatchDelay))
	}
	if cfg.CandleBudget < 0 {
		errs = errors.Join(errs, fmt.Errorf("candle budget cannot be negative, got %d", cfg.CandleBudget))
	}
	if cfg.IndicatorBudget < 0 {
		errs = errors.Join(errs, fmt.Errorf("indicator budget cannot be negative, got %d", cfg.IndicatorBudget))
	}
	if cfg.IndicatorChunkSize <= 0 {
		errs = errors.Join(errs, fmt.Errorf("indicator chunk size must be positive, got %d", cfg.IndicatorChunkSize))
	}
	if cfg.IndicatorDelay < 0 {
		errs = errors.Join(errs, fmt.Errorf("indicator delay cannot be negative, got %s", cfg.IndicatorDelay))
	}
	if cfg.IndicatorTimeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("indicator timeout cannot be negative, got %s", cfg.IndicatorTimeout))
	}
	if cfg.Now == nil {
		errs = errors.Join(errs, fmt.Errorf("now function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// entry represents cached market data along with its fetch time.
type entry struct {
	data      *shared.MarketData
	timestamp time.Time
}

// fresh returns whether the entry is within the provided freshness window.
func (e *entry) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.timestamp) < ttl
}

// refresh represents an in-flight refresh operation.
type refresh struct {
	symbols []string
	done    chan struct{}
}

// Cache represents the market data cache. It serves per symbol market data, refreshing stale
// entries through a single in-flight refresh at a time.
type Cache struct {
	cfg                 *CacheConfig
	mtx                 sync.RWMutex
	entries             map[string]*entry
	inflight            *refresh
	lastForce           time.Time
	lastRefresh         time.Time
	candleCursor        int
	indicatorCursor     int
	candleQuarantine    map[string]struct{}
	indicatorQuarantine map[string]struct{}
	upstreamCalls       atomic.Int64
}

// NewCache initializes a new market data cache.
func NewCache(cfg *CacheConfig) (*Cache, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating cache config: %w", err)
	}

	return &Cache{
		cfg:                 cfg,
		entries:             make(map[string]*entry),
		candleQuarantine:    make(map[string]struct{}),
		indicatorQuarantine: make(map[string]struct{}),
	}, nil
}

// UpstreamCalls returns the number of upstream requests issued by the cache.
func (c *Cache) UpstreamCalls() int64 {
	return c.upstreamCalls.Load()
}

// LastRefresh returns the completion time of the most recent refresh.
func (c *Cache) LastRefresh() time.Time {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.lastRefresh
}

// Cached returns a copy of the cached market data for the provided symbol without any I/O.
func (c *Cache) Cached(symbol string) *shared.MarketData {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	e, ok := c.entries[symbol]
	if !ok {
		return nil
	}

	return e.data.Clone()
}

// Get returns the market data of the provided symbol, refreshing it first when stale or forced.
// It returns nil when no data could be obtained in time.
func (c *Cache) Get(ctx context.Context, symbol string, force bool) *shared.MarketData {
	if !c.cfg.Universe.Contains(symbol) {
		c.cfg.Logger.Warn().Msgf("requested market data for unknown symbol %s", symbol)
		return nil
	}

	symbols := []string{symbol}
	requested := c.cfg.Now()
	if force {
		force = c.allowForce(symbols)
	}

	if len(c.pending(symbols, force, requested)) > 0 {
		c.ensureRefreshed(ctx, symbols, force, requested)
	}

	return c.Cached(symbol)
}

// GetAll returns the market data of the provided symbols, issuing a single refresh for all stale
// ones. Unknown symbols and symbols without data are omitted.
func (c *Cache) GetAll(ctx context.Context, symbols []string, force bool) []shared.MarketData {
	symbols = c.cfg.Universe.Filter(symbols)
	if len(symbols) == 0 {
		return nil
	}

	requested := c.cfg.Now()
	if force {
		force = c.allowForce(symbols)
	}

	stale := c.pending(symbols, force, requested)
	if len(stale) > 0 {
		c.ensureRefreshed(ctx, stale, force, requested)
	}

	c.mtx.RLock()
	defer c.mtx.RUnlock()

	data := make([]shared.MarketData, 0, len(symbols))
	for _, sym := range symbols {
		e, ok := c.entries[sym]
		if !ok {
			continue
		}

		data = append(data, *e.data.Clone())
	}

	return data
}

// allowForce returns whether a forced refresh of the provided symbols may proceed. Forced
// refreshes inside the force interval are downgraded to regular refreshes, so only missing or
// stale symbols are fetched and the force interval is not restarted.
func (c *Cache) allowForce(symbols []string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	now := c.cfg.Now()
	if !c.lastForce.IsZero() && now.Sub(c.lastForce) < c.cfg.ForceInterval {
		var missing int
		for _, sym := range symbols {
			if _, ok := c.entries[sym]; !ok {
				missing++
			}
		}

		c.cfg.Logger.Info().Msgf("force refresh requested %s after the last, refreshing %d missing "+
			"symbols and serving cached data", now.Sub(c.lastForce).Round(time.Second), missing)
		return false
	}

	c.lastForce = now

	return true
}

// pending returns the provided symbols requiring a refresh. Forced symbols require a refresh
// unless they were refreshed after the request time.
func (c *Cache) pending(symbols []string, force bool, requested time.Time) []string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	now := c.cfg.Now()
	stale := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		e, ok := c.entries[sym]
		switch {
		case !ok:
			stale = append(stale, sym)
		case force && e.timestamp.Before(requested):
			stale = append(stale, sym)
		case !force && !e.fresh(now, c.cfg.TTL):
			stale = append(stale, sym)
		}
	}

	return stale
}

// waitTimeout returns how long a caller may block on a refresh.
func (c *Cache) waitTimeout() time.Duration {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if len(c.entries) == 0 {
		return c.cfg.ColdStartTimeout
	}

	return c.cfg.JoinTimeout
}

// await blocks until the provided refresh completes, the timeout elapses or the context is
// cancelled. It returns whether the refresh completed.
func (c *Cache) await(ctx context.Context, r *refresh, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return true
	case <-timer.C:
		c.cfg.Logger.Warn().Msgf("refresh of %d symbols still running after %s, serving cached data",
			len(r.symbols), timeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// ensureRefreshed refreshes the provided symbols, joining an in-flight refresh when one exists.
// Callers block for a bounded time, the refresh itself always runs to completion.
func (c *Cache) ensureRefreshed(ctx context.Context, symbols []string, force bool, requested time.Time) {
	timeout := c.waitTimeout()

	c.mtx.Lock()
	if r := c.inflight; r != nil {
		c.mtx.Unlock()

		if !c.await(ctx, r, timeout) {
			return
		}

		symbols = c.pending(symbols, force, requested)
		if len(symbols) == 0 {
			return
		}

		c.mtx.Lock()
		if r := c.inflight; r != nil {
			// Another caller started a refresh after the joined one completed.
			c.mtx.Unlock()
			c.await(ctx, r, timeout)
			return
		}
	}

	r := &refresh{
		symbols: symbols,
		done:    make(chan struct{}),
	}
	c.inflight = r
	c.mtx.Unlock()

	go func() {
		defer func() {
			c.mtx.Lock()
			if c.inflight == r {
				c.inflight = nil
			}
			c.mtx.Unlock()
			close(r.done)
		}()

		c.refresh(context.WithoutCancel(ctx), symbols)
	}()

	c.await(ctx, r, timeout)
}
