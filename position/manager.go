package position

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/turtle/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// DefaultDailyScanInterval is the default interval between full watchlist scans.
	DefaultDailyScanInterval = time.Hour * 24
	// DefaultFastPollInterval is the default interval between open trade price polls.
	DefaultFastPollInterval = time.Second * 10
	// DefaultMaxClosedTrades is the default number of retained closed trades.
	DefaultMaxClosedTrades = 100
	// DefaultSnapshotClosedTrades is the default number of closed trades exposed by a snapshot.
	DefaultSnapshotClosedTrades = 50
)

// MarketSource defines the market data requirements of the position manager.
type MarketSource interface {
	// GetAll returns the market data of the provided symbols, refreshing stale entries.
	GetAll(ctx context.Context, symbols []string, force bool) []shared.MarketData
	// RefreshQuotes returns live prices for the provided symbols.
	RefreshQuotes(ctx context.Context, symbols []string) map[string]float64
	// Cached returns the cached market data of the provided symbol without any I/O.
	Cached(symbol string) *shared.MarketData
}

// ManagerConfig represents the position manager configuration.
type ManagerConfig struct {
	// Watchlist represents the symbols scanned for signals.
	Watchlist []string
	// Market represents the market data source.
	Market MarketSource
	// GenerateSignal derives a signal from the provided market data.
	GenerateSignal func(data *shared.MarketData, now time.Time) shared.Signal
	// DailyScanInterval is the interval between full watchlist scans.
	DailyScanInterval time.Duration
	// FastPollInterval is the interval between open trade price polls.
	FastPollInterval time.Duration
	// MaxClosedTrades is the number of retained closed trades.
	MaxClosedTrades int
	// SnapshotClosedTrades is the number of closed trades exposed by a snapshot.
	SnapshotClosedTrades int
	// JobScheduler represents the job scheduler.
	JobScheduler *gocron.Scheduler
	// Notify sends the provided message.
	Notify func(message string)
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if len(cfg.Watchlist) == 0 {
		errs = errors.Join(errs, fmt.Errorf("watchlist cannot be empty"))
	}
	if cfg.Market == nil {
		errs = errors.Join(errs, fmt.Errorf("market source cannot be nil"))
	}
	if cfg.GenerateSignal == nil {
		errs = errors.Join(errs, fmt.Errorf("generate signal function cannot be nil"))
	}
	if cfg.DailyScanInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("daily scan interval must be positive, got %s", cfg.DailyScanInterval))
	}
	if cfg.FastPollInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("fast poll interval must be positive, got %s", cfg.FastPollInterval))
	}
	if cfg.MaxClosedTrades <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max closed trades must be positive, got %d", cfg.MaxClosedTrades))
	}
	if cfg.SnapshotClosedTrades <= 0 || cfg.SnapshotClosedTrades > cfg.MaxClosedTrades {
		errs = errors.Join(errs, fmt.Errorf("snapshot closed trades must be between 1 and %d, got %d",
			cfg.MaxClosedTrades, cfg.SnapshotClosedTrades))
	}
	if cfg.JobScheduler == nil {
		errs = errors.Join(errs, fmt.Errorf("job scheduler cannot be nil"))
	}
	if cfg.Notify == nil {
		errs = errors.Join(errs, fmt.Errorf("notify function cannot be nil"))
	}
	if cfg.Now == nil {
		errs = errors.Join(errs, fmt.Errorf("now function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Snapshot represents the state of the watchlist and its trades at a point in time.
type Snapshot struct {
	Timestamp    time.Time           `json:"timestamp"`
	Markets      []shared.MarketData `json:"markets"`
	Signals      []shared.Signal     `json:"signals"`
	Skipped      []string            `json:"skipped"`
	OpenTrades   []TrackedTrade      `json:"openTrades"`
	ClosedTrades []TrackedTrade      `json:"closedTrades"`
}

// emptySnapshot returns a snapshot with no content.
func emptySnapshot(now time.Time) Snapshot {
	return Snapshot{
		Timestamp:    now,
		Markets:      []shared.MarketData{},
		Signals:      []shared.Signal{},
		Skipped:      []string{},
		OpenTrades:   []TrackedTrade{},
		ClosedTrades: []TrackedTrade{},
	}
}

// Manager manages simulated trades through their lifecycles. It opens trades from breakout
// signals found by the daily scan and closes them when polled prices cross their levels.
type Manager struct {
	cfg          *ManagerConfig
	runMtx       sync.Mutex
	stateMtx     sync.RWMutex
	openTrades   map[string]*TrackedTrade
	closedTrades []*TrackedTrade
	snapshot     *Snapshot
	lastDaily    atomic.Int64
	lastFast     atomic.Int64
	initOnce     sync.Once
	started      atomic.Bool
}

// NewPositionManager initializes a new position manager.
func NewPositionManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating position manager config: %w", err)
	}

	return &Manager{
		cfg:          cfg,
		openTrades:   make(map[string]*TrackedTrade),
		closedTrades: make([]*TrackedTrade, 0, cfg.MaxClosedTrades),
	}, nil
}

// LastDailyScan returns the completion time of the most recent daily scan.
func (m *Manager) LastDailyScan() time.Time {
	nanos := m.lastDaily.Load()
	if nanos == 0 {
		return time.Time{}
	}

	return time.Unix(0, nanos)
}

// LastFastPoll returns the completion time of the most recent fast poll.
func (m *Manager) LastFastPoll() time.Time {
	nanos := m.lastFast.Load()
	if nanos == 0 {
		return time.Time{}
	}

	return time.Unix(0, nanos)
}

// guard runs the provided job, logging instead of propagating a panic so a failing run does not
// take the scheduler down.
func (m *Manager) guard(name string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.cfg.Logger.Error().Msgf("%s failed: %v", name, r)
		}
	}()

	job()
}

// initialize runs the first forced daily scan and starts the periodic jobs, once.
func (m *Manager) initialize(ctx context.Context) bool {
	var scanned bool
	m.initOnce.Do(func() {
		m.dailyScan(ctx, true)
		scanned = true

		err := m.Start()
		if err != nil {
			m.cfg.Logger.Error().Msgf("starting position manager jobs: %v", err)
		}
	})

	return scanned
}

// Start schedules the daily scan and fast poll jobs.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	_, err := m.cfg.JobScheduler.Every(m.cfg.FastPollInterval).SingletonMode().WaitForSchedule().
		Do(func() {
			m.guard("fast poll", func() { m.fastPoll(context.Background()) })
		})
	if err != nil {
		return fmt.Errorf("scheduling fast poll job: %w", err)
	}

	_, err = m.cfg.JobScheduler.Every(m.cfg.DailyScanInterval).SingletonMode().WaitForSchedule().
		Do(func() {
			m.guard("daily scan", func() { m.dailyScan(context.Background(), false) })
		})
	if err != nil {
		return fmt.Errorf("scheduling daily scan job: %w", err)
	}

	m.cfg.JobScheduler.StartAsync()

	m.cfg.Logger.Info().Msgf("polling %d symbols every %s, open trades every %s",
		len(m.cfg.Watchlist), m.cfg.DailyScanInterval, m.cfg.FastPollInterval)

	return nil
}

// Stop terminates the periodic jobs.
func (m *Manager) Stop() {
	if m.started.CompareAndSwap(true, false) {
		m.cfg.JobScheduler.Stop()
	}
}

// Snapshot returns the current watchlist snapshot. The first call runs a forced scan and starts
// the periodic jobs; later calls scan when forced or when the last scan is older than the scan
// interval. Open trades are polled before returning so exits are always applied.
func (m *Manager) Snapshot(ctx context.Context, force bool) Snapshot {
	scanned := m.initialize(ctx)

	m.stateMtx.RLock()
	hasSnapshot := m.snapshot != nil
	m.stateMtx.RUnlock()

	switch {
	case !hasSnapshot || (force && !scanned):
		m.dailyScan(ctx, true)
	case m.cfg.Now().Sub(m.LastDailyScan()) > m.cfg.DailyScanInterval:
		m.dailyScan(ctx, false)
	}

	if m.OpenTradeCount() > 0 {
		m.fastPoll(ctx)
	}

	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	if m.snapshot == nil {
		return emptySnapshot(m.cfg.Now())
	}

	snapshot := *m.snapshot
	snapshot.Markets = slices.Clone(snapshot.Markets)
	snapshot.Signals = slices.Clone(snapshot.Signals)
	snapshot.Skipped = slices.Clone(snapshot.Skipped)
	snapshot.OpenTrades = slices.Clone(snapshot.OpenTrades)
	snapshot.ClosedTrades = slices.Clone(snapshot.ClosedTrades)

	return snapshot
}

// OpenTradeCount returns the number of open trades.
func (m *Manager) OpenTradeCount() int {
	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	return len(m.openTrades)
}

// openSymbols returns the symbols with an open trade, sorted.
func (m *Manager) openSymbols() []string {
	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	symbols := make([]string, 0, len(m.openTrades))
	for sym := range m.openTrades {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)

	return symbols
}

// tradeViews returns copies of the open trades and the most recent closed trades. This must be
// called with the state mutex held.
func (m *Manager) tradeViews() ([]TrackedTrade, []TrackedTrade) {
	open := make([]TrackedTrade, 0, len(m.openTrades))
	for _, trade := range m.openTrades {
		open = append(open, *trade)
	}
	slices.SortFunc(open, func(a, b TrackedTrade) int {
		if c := a.EntryTime.Compare(b.EntryTime); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})

	count := min(len(m.closedTrades), m.cfg.SnapshotClosedTrades)
	closed := make([]TrackedTrade, 0, count)
	for _, trade := range m.closedTrades[:count] {
		closed = append(closed, *trade)
	}

	return open, closed
}

// dailyScan fetches the watchlist, regenerates signals and syncs trades with them.
func (m *Manager) dailyScan(ctx context.Context, force bool) {
	m.runMtx.Lock()
	defer m.runMtx.Unlock()

	markets := m.cfg.Market.GetAll(ctx, m.cfg.Watchlist, force)
	now := m.cfg.Now()

	signals := make([]shared.Signal, 0, len(markets))
	marketMap := make(map[string]*shared.MarketData, len(markets))
	for idx := range markets {
		signals = append(signals, m.cfg.GenerateSignal(&markets[idx], now))
		marketMap[markets[idx].Symbol] = &markets[idx]
	}

	skipped := make([]string, 0)
	for _, sym := range m.cfg.Watchlist {
		if _, ok := marketMap[sym]; !ok {
			skipped = append(skipped, sym)
		}
	}

	if len(skipped) > 0 {
		m.cfg.Logger.Warn().Msgf("no market data for %d watchlist symbols: %s", len(skipped),
			strings.Join(skipped, ","))
	}

	m.stateMtx.Lock()
	m.syncTrades(signals, marketMap, now)
	open, closed := m.tradeViews()
	m.snapshot = &Snapshot{
		Timestamp:    now,
		Markets:      markets,
		Signals:      signals,
		Skipped:      skipped,
		OpenTrades:   open,
		ClosedTrades: closed,
	}
	m.stateMtx.Unlock()

	m.lastDaily.Store(now.UnixNano())
}

// syncTrades opens trades for new actionable signals and refreshes the levels of existing open
// trades. This must be called with the state mutex held.
func (m *Manager) syncTrades(signals []shared.Signal, marketMap map[string]*shared.MarketData, now time.Time) {
	for idx := range signals {
		signal := &signals[idx]
		if !signal.Actionable() || signal.StopLoss == 0 || signal.EntryPrice == 0 {
			continue
		}

		var lastPrice float64
		if market, ok := marketMap[signal.Symbol]; ok {
			lastPrice = market.CurrentPrice
		}

		existing, ok := m.openTrades[signal.Symbol]
		if ok {
			existing.Refresh(signal, lastPrice)
			continue
		}

		trade, err := NewTrackedTrade(signal, lastPrice, now)
		if err != nil {
			m.cfg.Logger.Error().Msgf("creating trade: %v", err)
			continue
		}

		m.openTrades[signal.Symbol] = trade

		m.cfg.Notify(fmt.Sprintf("Opened %s trade (%s) for %s @ %f with stoploss %f and target %f",
			trade.Side, trade.ID, trade.Symbol, trade.EntryPrice, trade.StopLoss, trade.TargetPrice))
	}
}

// fastPoll fetches live prices for symbols with an open trade and evaluates their exits.
func (m *Manager) fastPoll(ctx context.Context) {
	m.runMtx.Lock()
	defer m.runMtx.Unlock()

	symbols := m.openSymbols()
	if len(symbols) == 0 {
		return
	}

	quotes := m.cfg.Market.RefreshQuotes(ctx, symbols)
	now := m.cfg.Now()

	m.stateMtx.Lock()
	defer m.stateMtx.Unlock()

	updated := make(map[string]shared.MarketData, len(symbols))
	for _, sym := range symbols {
		trade, ok := m.openTrades[sym]
		if !ok {
			continue
		}

		cached := m.cfg.Market.Cached(sym)
		price, ok := quotes[sym]
		if !ok || !isUsable(price) {
			price = trade.LastPrice
			if cached != nil && isUsable(cached.CurrentPrice) {
				price = cached.CurrentPrice
			}
		}

		if !isUsable(price) {
			m.cfg.Logger.Error().Msgf("no usable price for open trade %s: %s", trade.ID, spew.Sdump(trade))
			continue
		}

		trade.LastPrice = price

		market := shared.MarketData{Symbol: sym}
		if cached != nil {
			market = *cached
		}
		market.CurrentPrice = price
		market.LastUpdated = now
		updated[sym] = market

		reason, hit := trade.EvaluateExit(price)
		if hit {
			m.closeTrade(trade, price, reason, now)
		}
	}

	m.mergeSnapshot(updated, now)
	m.lastFast.Store(now.UnixNano())
}

// closeTrade closes the provided open trade and moves it to the front of the closed trades,
// evicting the oldest beyond the cap. This must be called with the state mutex held.
func (m *Manager) closeTrade(trade *TrackedTrade, price float64, reason shared.ExitReason, now time.Time) {
	err := trade.Close(price, reason, now)
	if err != nil {
		m.cfg.Logger.Error().Msgf("closing trade: %v\n%s", err, spew.Sdump(trade))
		return
	}

	delete(m.openTrades, trade.Symbol)
	m.closedTrades = slices.Insert(m.closedTrades, 0, trade)
	if len(m.closedTrades) > m.cfg.MaxClosedTrades {
		m.closedTrades = m.closedTrades[:m.cfg.MaxClosedTrades]
	}

	m.cfg.Notify(fmt.Sprintf("Closed %s trade (%s) for %s @ %f on %s with pnl %f (%.2f%%)",
		trade.Side, trade.ID, trade.Symbol, trade.ExitPrice, trade.ExitReason, trade.PNL, trade.PNLPercent))
}

// mergeSnapshot folds updated markets and the current trades into the last snapshot. This must
// be called with the state mutex held.
func (m *Manager) mergeSnapshot(updated map[string]shared.MarketData, now time.Time) {
	if m.snapshot == nil {
		return
	}

	markets := make([]shared.MarketData, 0, len(m.snapshot.Markets))
	for _, market := range m.snapshot.Markets {
		if u, ok := updated[market.Symbol]; ok {
			market = u
			delete(updated, market.Symbol)
		}
		markets = append(markets, market)
	}
	for _, sym := range slices.Sorted(maps.Keys(updated)) {
		markets = append(markets, updated[sym])
	}

	open, closed := m.tradeViews()
	snapshot := *m.snapshot
	snapshot.Timestamp = now
	snapshot.Markets = markets
	snapshot.OpenTrades = open
	snapshot.ClosedTrades = closed
	m.snapshot = &snapshot
}

// CloseTrade manually closes the open trade of the provided symbol at its latest price.
func (m *Manager) CloseTrade(ctx context.Context, symbol string) (*TrackedTrade, error) {
	m.runMtx.Lock()
	defer m.runMtx.Unlock()

	m.stateMtx.RLock()
	trade, ok := m.openTrades[symbol]
	m.stateMtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no open trade for %s", symbol)
	}

	quotes := m.cfg.Market.RefreshQuotes(ctx, []string{symbol})
	now := m.cfg.Now()

	m.stateMtx.Lock()
	defer m.stateMtx.Unlock()

	price, ok := quotes[symbol]
	if !ok || !isUsable(price) {
		price = trade.LastPrice
	}

	m.closeTrade(trade, price, shared.Manual, now)
	m.mergeSnapshot(map[string]shared.MarketData{}, now)

	closed := *trade
	return &closed, nil
}
