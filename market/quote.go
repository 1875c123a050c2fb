package market

import (
	"context"
	"sync"

	"github.com/dnldd/turtle/shared"
)

// RefreshQuotes fetches live prices for the provided symbols and updates the current price of
// their cached entries. Symbols whose quote cannot be fetched are served their cached price,
// symbols without any price are omitted.
func (c *Cache) RefreshQuotes(ctx context.Context, symbols []string) map[string]float64 {
	symbols = c.cfg.Universe.Filter(symbols)
	prices := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return prices
	}

	c.mtx.RLock()
	requests := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		_, quarantined := c.candleQuarantine[sym]
		if c.cfg.Quotes == nil || quarantined {
			if e, ok := c.entries[sym]; ok {
				prices[sym] = e.data.CurrentPrice
			}
			continue
		}

		requests = append(requests, sym)
	}
	c.mtx.RUnlock()

	aliases, members := c.groupByAlias(requests, func(inst *shared.Instrument) string {
		return inst.FinnhubSymbol
	})

	quotes := make([]float64, len(aliases))
	errs := make([]error, len(aliases))

	var wg sync.WaitGroup
	for idx, alias := range aliases {
		wg.Add(1)
		go func(idx int, alias string) {
			defer wg.Done()

			c.upstreamCalls.Inc()
			quotes[idx], errs[idx] = c.cfg.Quotes.FetchQuote(ctx, alias)
		}(idx, alias)
	}
	wg.Wait()

	c.mtx.Lock()
	defer c.mtx.Unlock()

	for idx, alias := range aliases {
		for _, sym := range members[alias] {
			e, cached := c.entries[sym]

			if errs[idx] != nil {
				c.cfg.Logger.Warn().Msgf("fetching quote for %s: %v", sym, errs[idx])
				if cached {
					prices[sym] = e.data.CurrentPrice
				}
				continue
			}

			prices[sym] = quotes[idx]
			if cached {
				e.data.CurrentPrice = quotes[idx]
			}
		}
	}

	return prices
}
