package market

import (
	"context"
	"fmt"
	"time"

	"github.com/dnldd/turtle/fetch"
	"github.com/dnldd/turtle/shared"
	"github.com/tidwall/gjson"
)

// indicatorKinds are the indicators requested for every symbol, in request order.
var indicatorKinds = []shared.IndicatorKind{shared.RSI, shared.MACD, shared.SMA}

// raceIndicators fetches the indicator bundle for the provided symbols, waiting at most the
// indicator timeout. A bundle that lands after the timeout is applied to the cache directly.
// Symbols absent from the returned map keep their previous indicators.
func (c *Cache) raceIndicators(ctx context.Context, symbols []string) map[string]*shared.IndicatorSnapshot {
	if c.cfg.Indicators == nil {
		bundle := make(map[string]*shared.IndicatorSnapshot, len(symbols))
		for _, sym := range symbols {
			bundle[sym] = shared.EmptyIndicators()
		}
		return bundle
	}

	if c.cfg.IndicatorTimeout == 0 {
		return c.fetchIndicatorBundle(ctx, symbols)
	}

	result := make(chan map[string]*shared.IndicatorSnapshot, 1)
	go func() {
		result <- c.fetchIndicatorBundle(ctx, symbols)
	}()

	timer := time.NewTimer(c.cfg.IndicatorTimeout)
	defer timer.Stop()

	select {
	case bundle := <-result:
		return bundle
	case <-timer.C:
		c.cfg.Logger.Warn().Msgf("indicators for %d symbols not ready after %s, proceeding without them",
			len(symbols), c.cfg.IndicatorTimeout)

		go func() {
			c.applyIndicators(<-result)
		}()

		return nil
	}
}

// applyIndicators updates the indicators of cached entries with a late indicator bundle.
func (c *Cache) applyIndicators(bundle map[string]*shared.IndicatorSnapshot) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var applied int
	for sym, snapshot := range bundle {
		e, ok := c.entries[sym]
		if !ok || snapshot == nil {
			continue
		}

		e.data.Indicators = snapshot
		applied++
	}

	c.cfg.Logger.Info().Msgf("applied late indicators to %d symbols", applied)
}

// fetchIndicatorBundle fetches indicators for the provided symbols. A failed batch is retried in
// smaller chunks, every requested symbol ends up with at least an empty snapshot.
func (c *Cache) fetchIndicatorBundle(ctx context.Context, symbols []string) map[string]*shared.IndicatorSnapshot {
	bundle := make(map[string]*shared.IndicatorSnapshot, len(symbols))
	if len(symbols) == 0 {
		return bundle
	}

	excluded, selected := c.partition(symbols, c.indicatorQuarantine, c.cfg.IndicatorBudget, &c.indicatorCursor)
	for _, sym := range excluded {
		bundle[sym] = shared.EmptyIndicators()
	}

	if len(selected) == 0 {
		return bundle
	}

	err := c.populateIndicators(ctx, selected, bundle)
	switch {
	case err == nil:
	case fetch.IsTransient(err):
		c.cfg.Logger.Warn().Msgf("indicator request rate limited: %v", err)
	case fetch.IsPermanent(err):
		c.cfg.Logger.Warn().Msgf("indicator request for %d symbols rejected: %v", len(selected), err)
		c.quarantineSingle(selected, err)
	default:
		c.cfg.Logger.Warn().Msgf("batched indicator request failed, retrying in chunks of %d: %v",
			c.cfg.IndicatorChunkSize, err)

		chunks := chunk(selected, c.cfg.IndicatorChunkSize)
		for idx, group := range chunks {
			err := c.populateIndicators(ctx, group, bundle)
			if err != nil {
				c.cfg.Logger.Error().Msgf("indicator chunk %d/%d failed: %v", idx+1, len(chunks), err)
				if fetch.IsTransient(err) {
					break
				}
				if fetch.IsPermanent(err) {
					c.quarantineSingle(group, err)
				}
			}

			if idx < len(chunks)-1 {
				sleep(ctx, c.cfg.BatchDelay)
			}
		}
	}

	for _, sym := range selected {
		if _, ok := bundle[sym]; !ok {
			bundle[sym] = shared.EmptyIndicators()
		}
	}

	return bundle
}

// quarantineSingle excludes a lone rejected symbol from future indicator requests. A rejected
// group of several symbols cannot be attributed to any one of them.
func (c *Cache) quarantineSingle(symbols []string, err error) {
	if len(symbols) != 1 {
		return
	}

	c.quarantineSymbol(c.indicatorQuarantine, symbols[0], "indicator", err)
}

// populateIndicators requests every indicator kind for the provided symbols and records the
// readings in the provided bundle. Symbols whose payload reports a permanent error are
// quarantined.
func (c *Cache) populateIndicators(ctx context.Context, symbols []string, bundle map[string]*shared.IndicatorSnapshot) error {
	aliases, members := c.groupByAlias(symbols, func(inst *shared.Instrument) string {
		return inst.TwelveDataSymbol
	})

	payloads := make(map[shared.IndicatorKind]map[string]gjson.Result, len(indicatorKinds))
	for idx, kind := range indicatorKinds {
		if idx > 0 {
			sleep(ctx, c.cfg.IndicatorDelay)
		}

		c.upstreamCalls.Inc()
		res, err := c.cfg.Indicators.FetchIndicators(ctx, kind, aliases)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", kind, err)
		}

		payloads[kind] = res
	}

	now := c.cfg.Now()
	for _, alias := range aliases {
		for _, kind := range indicatorKinds {
			err := fetch.PayloadError(payloads[kind][alias])
			if fetch.IsPermanent(err) {
				for _, sym := range members[alias] {
					c.quarantineSymbol(c.indicatorQuarantine, sym, "indicator", err)
				}
				break
			}
		}

		macd, signal, histogram := fetch.ExtractMACD(payloads[shared.MACD][alias])
		for _, sym := range members[alias] {
			updatedAt := now
			bundle[sym] = &shared.IndicatorSnapshot{
				RSI14:         fetch.ExtractValue(payloads[shared.RSI][alias], shared.RSI),
				SMA20:         fetch.ExtractValue(payloads[shared.SMA][alias], shared.SMA),
				MACD:          macd,
				MACDSignal:    signal,
				MACDHistogram: histogram,
				UpdatedAt:     &updatedAt,
			}
		}
	}

	return nil
}
