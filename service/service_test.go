package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/turtle/engine"
	"github.com/dnldd/turtle/shared"
	"github.com/peterldowns/testy/assert"
)

func TestTurtleConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *TurtleConfig
		errContains string
	}{
		{
			name: "valid config",
			cfg:  &TurtleConfig{},
		},
		{
			name:        "negative watchlist limit",
			cfg:         &TurtleConfig{WatchlistLimit: -1},
			errContains: "watchlist limit cannot be negative",
		},
		{
			name:        "negative fast poll interval",
			cfg:         &TurtleConfig{FastPollInterval: -time.Second},
			errContains: "fast poll interval cannot be negative",
		},
		{
			name:        "negative provider budget",
			cfg:         &TurtleConfig{TwelveData: Budget{RequestsPerMinute: -8}},
			errContains: "twelvedata requests per minute cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errContains != "" {
				assert.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errContains))
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestTurtleDefaults(t *testing.T) {
	cfg := &TurtleConfig{}
	cfg.setDefaults()

	assert.Equal(t, cfg.WatchlistLimit, DefaultWatchlistLimit)
	assert.Equal(t, cfg.FastPollInterval, time.Second*10)
	assert.Equal(t, cfg.DailyScanInterval, time.Hour*24)
	assert.Equal(t, cfg.CacheTTL, time.Hour)
	assert.Equal(t, cfg.Finnhub.RequestsPerMinute, DefaultFinnhubRequestsPerMinute)
	assert.Equal(t, cfg.TwelveData.MaxConcurrent, DefaultTwelveDataMaxConcurrent)
}

func TestTurtleHistoricData(t *testing.T) {
	turtle, err := NewTurtle(&TurtleConfig{
		Watchlist:            []string{"spy", " aapl", "FXI", "UNKNOWN"},
		HistoricDataFilePath: "../fetch/testdata/historicdata.json",
	})
	assert.NoError(t, err)
	t.Cleanup(turtle.Stop)

	// Ensure the watchlist is normalized and filtered to the universe.
	assert.Equal(t, turtle.Watchlist(), []string{"SPY", "AAPL", "FXI"})

	snapshot := turtle.Snapshot(context.Background(), false)
	assert.Equal(t, len(snapshot.Markets), 3)
	assert.Equal(t, len(snapshot.Signals), 3)
	assert.Equal(t, len(snapshot.Skipped), 0)

	// Ensure replayed markets are served from the historic data.
	spy := snapshot.Markets[0]
	assert.Equal(t, spy.Symbol, "SPY")
	assert.Equal(t, len(spy.Candles), 6)
	assert.Equal(t, spy.CurrentPrice, float64(506))
	assert.Equal(t, snapshot.Signals[0].Action, shared.Hold)
	assert.Equal(t, snapshot.Signals[0].Reason, engine.InsufficientData)

	// Ensure markets missing from the historic data fall back to synthetic history.
	fxi := snapshot.Markets[2]
	assert.Equal(t, fxi.Symbol, "FXI")
	assert.Equal(t, len(fxi.Candles), shared.HistoryDays+1)

	var actionable int
	for idx := range snapshot.Signals {
		if snapshot.Signals[idx].Actionable() {
			actionable++
		}
	}
	assert.Equal(t, len(snapshot.OpenTrades), actionable)

	// Ensure a portfolio is simulated over the current signals.
	p, err := turtle.Portfolio(context.Background(), &PortfolioRequest{
		ID:      "demo",
		Name:    "Demo",
		Capital: 10000,
	})
	assert.NoError(t, err)
	assert.Equal(t, p.ID, "demo")
	assert.Equal(t, p.InitialCapital, float64(10000))
	assert.Equal(t, p.TradeCount, actionable)
	assert.True(t, len(p.History) > 0)

	_, err = turtle.Portfolio(context.Background(), &PortfolioRequest{Capital: 0})
	assert.Error(t, err)
}

func TestTurtleDegradedMode(t *testing.T) {
	turtle, err := NewTurtle(&TurtleConfig{WatchlistLimit: 4})
	assert.NoError(t, err)

	// Ensure an empty allow-list watches the universe up to the limit.
	assert.Equal(t, len(turtle.Watchlist()), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure the service can be run and gracefully terminated.
	time.AfterFunc(time.Second*2, func() {
		cancel()
	})
	done := make(chan struct{})
	go func() {
		turtle.Run(ctx)
		close(done)
	}()

	<-done

	// Ensure every symbol is served synthetic history without provider keys.
	snapshot := turtle.Snapshot(context.Background(), false)
	assert.Equal(t, len(snapshot.Markets), 4)
	for _, md := range snapshot.Markets {
		assert.Equal(t, len(md.Candles), shared.HistoryDays+1)
		assert.True(t, md.Indicators.IsEmpty())
	}
}
