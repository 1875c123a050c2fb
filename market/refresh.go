package market

import (
	"context"
	"sync"
	"time"

	"github.com/dnldd/turtle/fetch"
	"github.com/dnldd/turtle/shared"
)

// candleResult represents the outcome of a candle request for a provider symbol.
type candleResult struct {
	alias   string
	candles []shared.Candlestick
	err     error
}

// chunk splits the provided symbols into groups of the provided size.
func chunk(symbols []string, size int) [][]string {
	groups := make([][]string, 0, len(symbols)/size+1)
	for idx := 0; idx < len(symbols); idx += size {
		end := min(idx+size, len(symbols))
		groups = append(groups, symbols[idx:end])
	}

	return groups
}

// sleep pauses for the provided duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// rotate selects at most budget symbols, continuing from where the provided cursor left off so
// every symbol is eventually selected. This must be called with the mutex held.
func rotate(symbols []string, budget int, cursor *int) []string {
	if budget <= 0 || len(symbols) <= budget {
		return symbols
	}

	start := *cursor % len(symbols)
	selected := make([]string, 0, budget)
	for idx := 0; idx < budget; idx++ {
		selected = append(selected, symbols[(start+idx)%len(symbols)])
	}
	*cursor = (start + budget) % len(symbols)

	return selected
}

// partition splits the provided symbols into quarantined symbols and request candidates, then
// applies the rotation budget to the candidates.
func (c *Cache) partition(symbols []string, quarantine map[string]struct{}, budget int, cursor *int) ([]string, []string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	excluded := make([]string, 0)
	candidates := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := quarantine[sym]; ok {
			excluded = append(excluded, sym)
			continue
		}

		candidates = append(candidates, sym)
	}

	return excluded, rotate(candidates, budget, cursor)
}

// quarantineSymbol excludes the provided symbol from future requests against an upstream.
func (c *Cache) quarantineSymbol(quarantine map[string]struct{}, symbol string, upstream string, err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if _, ok := quarantine[symbol]; ok {
		return
	}

	quarantine[symbol] = struct{}{}
	c.cfg.Logger.Warn().Msgf("excluding %s from %s requests: %v", symbol, upstream, err)
}

// Quarantined returns whether the provided symbol is excluded from candle requests.
func (c *Cache) Quarantined(symbol string) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	_, ok := c.candleQuarantine[symbol]
	return ok
}

// IndicatorQuarantined returns whether the provided symbol is excluded from indicator requests.
func (c *Cache) IndicatorQuarantined(symbol string) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	_, ok := c.indicatorQuarantine[symbol]
	return ok
}

// groupByAlias groups symbols sharing a provider alias, preserving order.
func (c *Cache) groupByAlias(symbols []string, alias func(inst *shared.Instrument) string) ([]string, map[string][]string) {
	aliases := make([]string, 0, len(symbols))
	members := make(map[string][]string, len(symbols))
	for _, sym := range symbols {
		inst, ok := c.cfg.Universe.Lookup(sym)
		if !ok {
			continue
		}

		a := alias(inst)
		if _, ok := members[a]; !ok {
			aliases = append(aliases, a)
		}
		members[a] = append(members[a], sym)
	}

	return aliases, members
}

// refresh fetches indicators and daily history for the provided symbols and updates the cache.
func (c *Cache) refresh(ctx context.Context, symbols []string) {
	start := c.cfg.Now()
	c.cfg.Logger.Info().Msgf("refreshing market data for %d symbols", len(symbols))

	indicators := c.raceIndicators(ctx, symbols)
	c.refreshCandles(ctx, symbols, indicators)

	c.mtx.Lock()
	c.lastRefresh = c.cfg.Now()
	c.mtx.Unlock()

	c.cfg.Logger.Info().Msgf("refreshed market data for %d symbols in %s", len(symbols),
		c.cfg.Now().Sub(start).Round(time.Millisecond))
}

// store records fresh market data for the provided symbol. Indicators are carried over from the
// previous entry when none are provided.
func (c *Cache) store(symbol string, candles []shared.Candlestick, indicators *shared.IndicatorSnapshot) {
	c.storeAt(symbol, candles, indicators, c.cfg.Now())
}

// storeAt records market data for the provided symbol with the provided fetch time.
func (c *Cache) storeAt(symbol string, candles []shared.Candlestick, indicators *shared.IndicatorSnapshot, fetched time.Time) {
	inst, ok := c.cfg.Universe.Lookup(symbol)
	if !ok {
		return
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	now := c.cfg.Now()
	if indicators == nil {
		indicators = shared.EmptyIndicators()
		if prev, ok := c.entries[symbol]; ok && prev.data.Indicators != nil {
			indicators = prev.data.Indicators.Clone()
		}
	}

	data := &shared.MarketData{
		Symbol:      symbol,
		Candles:     candles,
		Indicators:  indicators,
		LastUpdated: now,
		Meta:        inst,
	}
	data.CurrentPrice = data.LastClose()

	c.entries[symbol] = &entry{data: data, timestamp: fetched}
}

// storeSynthetic records deterministic synthetic history for the provided symbol.
func (c *Cache) storeSynthetic(symbol string, indicators *shared.IndicatorSnapshot) {
	candles, _ := fetch.SyntheticHistory(symbol, c.cfg.Now())
	c.store(symbol, candles, indicators)
}

// fillMissing serves synthetic history to the provided symbols that have no cache entry. The
// entries are stored stale so the next refresh requests them again, existing entries are left
// untouched.
func (c *Cache) fillMissing(symbols []string, indicators map[string]*shared.IndicatorSnapshot) {
	c.mtx.RLock()
	missing := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := c.entries[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	c.mtx.RUnlock()

	if len(missing) == 0 {
		return
	}

	c.cfg.Logger.Info().Msgf("serving synthetic history to %d symbols without data until their next refresh",
		len(missing))

	for _, sym := range missing {
		candles, _ := fetch.SyntheticHistory(sym, c.cfg.Now())
		c.storeAt(sym, candles, indicators[sym], time.Time{})
	}
}

// refreshCandles fetches daily history for the provided symbols in delayed batches of
// concurrent requests. Failed symbols fall back to synthetic history, a rate limited response
// aborts the remaining batches leaving their entries untouched. Symbols left without any entry
// are served synthetic history.
func (c *Cache) refreshCandles(ctx context.Context, symbols []string, indicators map[string]*shared.IndicatorSnapshot) {
	c.fetchCandles(ctx, symbols, indicators)
	c.fillMissing(symbols, indicators)
}

// fetchCandles requests daily history for the provided symbols within the candle budget.
func (c *Cache) fetchCandles(ctx context.Context, symbols []string, indicators map[string]*shared.IndicatorSnapshot) {
	if c.cfg.Candles == nil {
		for _, sym := range symbols {
			c.storeSynthetic(sym, indicators[sym])
		}
		return
	}

	excluded, selected := c.partition(symbols, c.candleQuarantine, c.cfg.CandleBudget, &c.candleCursor)
	for _, sym := range excluded {
		c.storeSynthetic(sym, indicators[sym])
	}

	if len(selected) < len(symbols)-len(excluded) {
		c.cfg.Logger.Info().Msgf("candle budget allows %d of %d symbols this cycle",
			len(selected), len(symbols)-len(excluded))
	}

	aliases, members := c.groupByAlias(selected, func(inst *shared.Instrument) string {
		return inst.FinnhubSymbol
	})

	end := c.cfg.Now()
	start := end.AddDate(0, 0, -shared.HistoryDays)

	batches := chunk(aliases, c.cfg.BatchSize)
	for idx, batch := range batches {
		results := make([]candleResult, len(batch))

		var wg sync.WaitGroup
		for i, alias := range batch {
			wg.Add(1)
			go func(i int, alias string) {
				defer wg.Done()

				c.upstreamCalls.Inc()
				candles, err := c.cfg.Candles.FetchDailyCandles(ctx, alias, start, end)
				results[i] = candleResult{alias: alias, candles: candles, err: err}
			}(i, alias)
		}
		wg.Wait()

		var aborted bool
		for _, res := range results {
			for _, sym := range members[res.alias] {
				switch {
				case res.err == nil && len(res.candles) > 0:
					c.store(sym, res.candles, indicators[sym])

				case fetch.IsTransient(res.err):
					aborted = true
					c.cfg.Logger.Warn().Msgf("candle request for %s rate limited: %v", sym, res.err)

				case fetch.IsPermanent(res.err):
					c.quarantineSymbol(c.candleQuarantine, sym, "candle", res.err)
					c.storeSynthetic(sym, indicators[sym])

				default:
					c.cfg.Logger.Warn().Msgf("missing candle data for %s, using synthetic history: %v", sym, res.err)
					c.storeSynthetic(sym, indicators[sym])
				}
			}
		}

		if aborted {
			c.cfg.Logger.Warn().Msgf("aborting the remaining %d candle batches", len(batches)-idx-1)
			return
		}

		if idx < len(batches)-1 {
			sleep(ctx, c.cfg.BatchDelay)
		}
	}
}
