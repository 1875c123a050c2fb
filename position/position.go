package position

import (
	"fmt"
	"math"
	"time"

	"github.com/dnldd/turtle/shared"
	"github.com/google/uuid"
)

// TradeStatus represents the status of a tracked trade.
type TradeStatus string

const (
	Open   TradeStatus = "OPEN"
	Closed TradeStatus = "CLOSED"
)

// TrackedTrade represents a simulated trade opened by a breakout signal.
type TrackedTrade struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Side        shared.Side       `json:"side"`
	EntryPrice  float64           `json:"entryPrice"`
	EntryTime   time.Time         `json:"entryTime"`
	EntryReason string            `json:"entryReason"`
	StopLoss    float64           `json:"stopLoss"`
	TargetPrice float64           `json:"targetPrice"`
	Status      TradeStatus       `json:"status"`
	LastPrice   float64           `json:"lastPrice"`
	ExitPrice   float64           `json:"exitPrice,omitempty"`
	ExitTime    *time.Time        `json:"exitTime,omitempty"`
	ExitReason  shared.ExitReason `json:"exitReason,omitempty"`
	PNL         float64           `json:"pnl,omitempty"`
	PNLPercent  float64           `json:"pnlPercent,omitempty"`
}

// isUsable returns whether the provided price is positive and finite.
func isUsable(price float64) bool {
	return price > 0 && !math.IsInf(price, 0)
}

// NewTrackedTrade initializes a new open trade from the provided signal. The last price
// defaults to the entry price when not known.
func NewTrackedTrade(signal *shared.Signal, lastPrice float64, now time.Time) (*TrackedTrade, error) {
	if signal == nil {
		return nil, fmt.Errorf("signal cannot be nil")
	}
	if !signal.Actionable() {
		return nil, fmt.Errorf("%s signal for %s cannot open a trade", signal.Action, signal.Symbol)
	}
	if !isUsable(signal.EntryPrice) {
		return nil, fmt.Errorf("unusable entry price %f for %s", signal.EntryPrice, signal.Symbol)
	}
	if signal.StopLoss == 0 || math.IsNaN(signal.StopLoss) || math.IsInf(signal.StopLoss, 0) {
		return nil, fmt.Errorf("unusable stop loss %f for %s", signal.StopLoss, signal.Symbol)
	}

	if !isUsable(lastPrice) {
		lastPrice = signal.EntryPrice
	}

	trade := &TrackedTrade{
		ID:          uuid.New().String(),
		Symbol:      signal.Symbol,
		Side:        shared.SideForAction(signal.Action),
		EntryPrice:  signal.EntryPrice,
		EntryTime:   now,
		EntryReason: signal.Reason,
		StopLoss:    signal.StopLoss,
		TargetPrice: signal.TargetPrice,
		Status:      Open,
		LastPrice:   lastPrice,
	}

	return trade, nil
}

// Refresh updates the levels of the open trade with the provided signal.
func (t *TrackedTrade) Refresh(signal *shared.Signal, lastPrice float64) {
	if signal.StopLoss != 0 {
		t.StopLoss = signal.StopLoss
	}
	t.TargetPrice = signal.TargetPrice
	if isUsable(lastPrice) {
		t.LastPrice = lastPrice
	}
}

// PerUnitPNL returns the directional price change from entry to the provided price.
func (t *TrackedTrade) PerUnitPNL(price float64) float64 {
	return (price - t.EntryPrice) * t.Side.Direction()
}

// UpdatePNLPercent returns the percentage change of the trade given the current price.
func (t *TrackedTrade) UpdatePNLPercent(currentPrice float64) float64 {
	return (t.PerUnitPNL(currentPrice) / t.EntryPrice) * 100
}

// EvaluateExit determines whether the provided price closes the trade. The stop takes
// precedence over the target.
func (t *TrackedTrade) EvaluateExit(price float64) (shared.ExitReason, bool) {
	var hitStop, hitTarget bool
	switch t.Side {
	case shared.Long:
		hitStop = price <= t.StopLoss
		hitTarget = t.TargetPrice > 0 && price >= t.TargetPrice
	case shared.Short:
		hitStop = price >= t.StopLoss
		hitTarget = t.TargetPrice > 0 && price <= t.TargetPrice
	}

	switch {
	case hitStop:
		return shared.StopHit, true
	case hitTarget:
		return shared.TargetHit, true
	default:
		return "", false
	}
}

// Close closes the trade at the provided price. A trade can only be closed once.
func (t *TrackedTrade) Close(price float64, reason shared.ExitReason, now time.Time) error {
	if t.Status == Closed {
		return fmt.Errorf("trade %s for %s is already closed", t.ID, t.Symbol)
	}

	t.Status = Closed
	t.ExitPrice = price
	t.ExitTime = &now
	t.ExitReason = reason
	t.LastPrice = price
	t.PNL = t.PerUnitPNL(price)
	t.PNLPercent = t.UpdatePNLPercent(price)

	return nil
}
