package shared

// Action represents the action recommended by a signal.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Side represents the market direction of a trade.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SideForAction returns the trade side implied by the provided action.
func SideForAction(action Action) Side {
	if action == Sell {
		return Short
	}

	return Long
}

// Direction returns 1 for longs and -1 for shorts, used to sign price deltas.
func (s Side) Direction() float64 {
	if s == Short {
		return -1
	}

	return 1
}

// ExitReason represents the reason a trade was closed.
type ExitReason string

const (
	StopHit   ExitReason = "STOP"
	TargetHit ExitReason = "TARGET"
	Manual    ExitReason = "MANUAL"
)
