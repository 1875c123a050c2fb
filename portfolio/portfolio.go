package portfolio

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dnldd/turtle/shared"
	"github.com/shopspring/decimal"
)

const (
	// DefaultRiskPercent is the default fraction of capital risked per position.
	DefaultRiskPercent = 0.01
	// DefaultIndexSpread is the spread charged per unit for indices without a fixed spread.
	DefaultIndexSpread = 1.5
	// DefaultCommissionPercent is the commission charged on equity notional.
	DefaultCommissionPercent = 0.0005
	// DefaultMinCommission is the minimum commission charged per equity position.
	DefaultMinCommission = 15
	// historyLookback is the number of dates in the equity history.
	historyLookback = 30
)

// Position represents a simulated position sized from a signal.
type Position struct {
	Symbol          string        `json:"symbol"`
	Quantity        int64         `json:"quantity"`
	EntryPrice      float64       `json:"entryPrice"`
	CurrentPrice    float64       `json:"currentPrice"`
	PNL             float64       `json:"pnl"`
	PNLPercent      float64       `json:"pnlPercent"`
	Cost            float64       `json:"cost"`
	Side            shared.Side   `json:"side"`
	Action          shared.Action `json:"action"`
	TransactionCost float64       `json:"transactionCost"`
}

// HistoryPoint represents the simulated equity at a date.
type HistoryPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Portfolio represents a simulated account holding a position for every actionable signal.
type Portfolio struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	InitialCapital  float64        `json:"initialCapital"`
	CurrentBalance  float64        `json:"currentBalance"`
	Positions       []Position     `json:"positions"`
	TotalPNL        float64        `json:"totalPnl"`
	TotalPNLPercent float64        `json:"totalPnlPercent"`
	TradeCount      int            `json:"tradeCount"`
	TotalCost       float64        `json:"totalTransactionCost"`
	History         []HistoryPoint `json:"history"`
}

// Params represents the inputs of a portfolio simulation.
type Params struct {
	// ID identifies the simulated portfolio.
	ID string
	// Name is the display name of the simulated portfolio.
	Name string
	// Capital is the starting account balance.
	Capital float64
	// RiskPercent is the fraction of capital risked per position, defaults to 1%.
	RiskPercent float64
	// Signals are the signals positions are sized from.
	Signals []shared.Signal
	// Markets are the market data of the signalled symbols.
	Markets []shared.MarketData
	// Universe resolves instrument categories and spreads.
	Universe *shared.Universe
	// Now timestamps the history of portfolios without dated prices.
	Now time.Time
}

// Validate asserts the params sane inputs.
func (p *Params) Validate() error {
	var errs error

	if p.Capital <= 0 || math.IsInf(p.Capital, 0) || math.IsNaN(p.Capital) {
		errs = errors.Join(errs, fmt.Errorf("capital must be positive and finite, got %f", p.Capital))
	}
	if p.RiskPercent < 0 || p.RiskPercent > 1 || math.IsNaN(p.RiskPercent) {
		errs = errors.Join(errs, fmt.Errorf("risk percent must be between 0 and 1, got %f", p.RiskPercent))
	}
	if p.Universe == nil {
		errs = errors.Join(errs, fmt.Errorf("universe cannot be nil"))
	}

	return errs
}

// isFinite returns whether the provided value is neither NaN nor infinite.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PositionSize returns the number of units that risk the provided fraction of capital between
// entry and stop. Any sizable position is at least one unit; it reports false when no position
// can be sized.
func PositionSize(capital float64, riskPercent float64, entry float64, stop float64) (int64, bool) {
	if !isFinite(entry) || !isFinite(stop) {
		return 0, false
	}

	stopDistance := math.Abs(entry - stop)
	if stopDistance <= 0 {
		return 0, false
	}

	quantity := math.Floor(capital * riskPercent / stopDistance)
	if !isFinite(quantity) || quantity < 0 {
		return 0, false
	}

	return max(1, int64(quantity)), true
}

// CalculateCost returns the transaction cost of a position. Indices are charged their spread per
// unit, equities a notional commission subject to a minimum.
func CalculateCost(inst *shared.Instrument, quantity int64, price float64) float64 {
	qty := decimal.NewFromInt(quantity)

	if inst != nil && inst.Category == shared.Index {
		spread := DefaultIndexSpread
		if inst.Spread != nil {
			spread = *inst.Spread
		}

		return decimal.NewFromFloat(spread).Mul(qty).Round(2).InexactFloat64()
	}

	commission := decimal.NewFromFloat(price).Mul(qty).Mul(decimal.NewFromFloat(DefaultCommissionPercent))
	return decimal.Max(commission, decimal.NewFromInt(DefaultMinCommission)).Round(2).InexactFloat64()
}

// Simulate sizes a position for every actionable signal and values the resulting portfolio at
// current prices, along with its equity over the most recent dates.
func Simulate(params *Params) (*Portfolio, error) {
	err := params.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating portfolio params: %w", err)
	}

	riskPercent := params.RiskPercent
	if riskPercent == 0 {
		riskPercent = DefaultRiskPercent
	}

	markets := make(map[string]*shared.MarketData, len(params.Markets))
	for idx := range params.Markets {
		markets[params.Markets[idx].Symbol] = &params.Markets[idx]
	}

	positions := make([]Position, 0)
	totalPNL := decimal.Zero
	totalCost := decimal.Zero
	for idx := range params.Signals {
		signal := &params.Signals[idx]
		if !signal.Actionable() {
			continue
		}

		market, ok := markets[signal.Symbol]
		if !ok {
			continue
		}

		entry := signal.EntryPrice
		if entry == 0 {
			entry = market.CurrentPrice
		}
		if entry == 0 || signal.StopLoss == 0 || entry == signal.StopLoss {
			continue
		}

		quantity, ok := PositionSize(params.Capital, riskPercent, entry, signal.StopLoss)
		if !ok {
			continue
		}

		inst, _ := params.Universe.Lookup(signal.Symbol)
		cost := CalculateCost(inst, quantity, entry)
		side := shared.SideForAction(signal.Action)

		qty := decimal.NewFromInt(quantity)
		notional := decimal.NewFromFloat(entry).Mul(qty)
		gross := decimal.NewFromFloat(market.CurrentPrice - entry).Mul(qty).Mul(decimal.NewFromFloat(side.Direction()))
		pnl := gross.Sub(decimal.NewFromFloat(cost))

		totalPNL = totalPNL.Add(pnl)
		totalCost = totalCost.Add(decimal.NewFromFloat(cost))

		positions = append(positions, Position{
			Symbol:          signal.Symbol,
			Quantity:        quantity,
			EntryPrice:      entry,
			CurrentPrice:    market.CurrentPrice,
			PNL:             pnl.InexactFloat64(),
			PNLPercent:      pnl.Div(notional).Mul(decimal.NewFromInt(100)).InexactFloat64(),
			Cost:            notional.InexactFloat64(),
			Side:            side,
			Action:          signal.Action,
			TransactionCost: cost,
		})
	}

	history := buildHistory(params.Capital, totalCost, positions, markets, params.Now)
	balance := history[len(history)-1].Value

	return &Portfolio{
		ID:              params.ID,
		Name:            params.Name,
		InitialCapital:  params.Capital,
		CurrentBalance:  balance,
		Positions:       positions,
		TotalPNL:        totalPNL.InexactFloat64(),
		TotalPNLPercent: (balance - params.Capital) / params.Capital * 100,
		TradeCount:      len(positions),
		TotalCost:       totalCost.InexactFloat64(),
		History:         history,
	}, nil
}

// buildHistory values the positions at each of the most recent candle dates of their markets. It
// always returns at least one point.
func buildHistory(capital float64, totalCost decimal.Decimal, positions []Position, markets map[string]*shared.MarketData, now time.Time) []HistoryPoint {
	if len(positions) == 0 {
		return []HistoryPoint{{Date: now, Value: capital}}
	}

	seen := make(map[int64]struct{})
	dates := make([]time.Time, 0)
	for idx := range positions {
		market := markets[positions[idx].Symbol]
		candles := market.Candles[max(0, len(market.Candles)-historyLookback):]
		for _, candle := range candles {
			key := candle.Date.Unix()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			dates = append(dates, candle.Date)
		}
	}

	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	dates = dates[max(0, len(dates)-historyLookback):]

	baseCash := decimal.NewFromFloat(capital).Sub(totalCost)

	if len(dates) == 0 {
		equity := baseCash
		for idx := range positions {
			equity = equity.Add(exposure(&positions[idx], positions[idx].CurrentPrice))
		}

		return []HistoryPoint{{Date: now, Value: equity.Round(2).InexactFloat64()}}
	}

	history := make([]HistoryPoint, 0, len(dates))
	for _, date := range dates {
		equity := baseCash
		for idx := range positions {
			pos := &positions[idx]
			price := priceAt(markets[pos.Symbol], date)
			equity = equity.Add(exposure(pos, price))
		}

		history = append(history, HistoryPoint{Date: date, Value: equity.Round(2).InexactFloat64()})
	}

	return history
}

// exposure returns the directional value change of the position at the provided price.
func exposure(pos *Position, price float64) decimal.Decimal {
	return decimal.NewFromFloat(price - pos.EntryPrice).
		Mul(decimal.NewFromFloat(pos.Side.Direction())).
		Mul(decimal.NewFromInt(pos.Quantity))
}

// priceAt returns the close of the most recent candle at or before the provided date, falling
// back to the current price.
func priceAt(market *shared.MarketData, date time.Time) float64 {
	for idx := len(market.Candles) - 1; idx >= 0; idx-- {
		if !market.Candles[idx].Date.After(date) {
			return market.Candles[idx].Close
		}
	}

	return market.CurrentPrice
}
