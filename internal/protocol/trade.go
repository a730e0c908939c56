package protocol

import (
	"time"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/mathx"
)

// Side is the direction of a trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// TradeState is the closed set of trade lifecycle states. Transitions move
// strictly forward; the three closed states are absorbing.
type TradeState string

const (
	TradeOpen             TradeState = "open"
	TradeClosedTakeProfit TradeState = "closed_take_profit"
	TradeClosedStopLoss   TradeState = "closed_stop_loss"
	TradeCancelled        TradeState = "cancelled"
)

// CloseReason records why a trade reached a terminal state.
type CloseReason string

const (
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseCancelled  CloseReason = "cancelled"
)

// Trade is a single position tracked by the engine. Prices and sizes are
// unsigned fixed-point integers at a caller-chosen scale; all derived math
// goes through checked helpers.
type Trade struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Pair       string     `json:"pair"`
	FeedID     string     `json:"feed_id"`
	Side       Side       `json:"side"`
	EntryPrice uint64     `json:"entry_price"`
	StopLoss   uint64     `json:"stop_loss"`
	TakeProfit uint64     `json:"take_profit"`
	Size       uint64     `json:"size"`
	State      TradeState `json:"state"`
	OpenedAt   time.Time  `json:"opened_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	ClosePrice  uint64      `json:"close_price,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	RealizedPnL int64       `json:"realized_pnl,omitempty"`
}

const tradeComponent = "trade"

// transitions is the single source of truth for the trade state machine.
var transitions = map[TradeState][]TradeState{
	TradeOpen: {TradeClosedTakeProfit, TradeClosedStopLoss, TradeCancelled},
}

// Terminal reports whether the trade can no longer change state.
func (t *Trade) Terminal() bool {
	return t.State != TradeOpen
}

// CanTransition reports whether moving to the target state is allowed.
func (t *Trade) CanTransition(to TradeState) bool {
	for _, next := range transitions[t.State] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the trade into a terminal state, recording the realized
// price and reason. Any transition outside the defined table is rejected.
func (t *Trade) Transition(to TradeState, price uint64, reason CloseReason, at time.Time) error {
	if !t.CanTransition(to) {
		return errors.Validationf(tradeComponent, "transition", "state",
			"illegal transition %s -> %s", t.State, to)
	}
	pnl, err := t.PnL(price)
	if err != nil {
		return err
	}
	t.State = to
	t.ClosePrice = price
	t.CloseReason = reason
	t.RealizedPnL = pnl
	closedAt := at
	t.ClosedAt = &closedAt
	t.UpdatedAt = at
	return nil
}

// HitTakeProfit reports whether the price has crossed the take-profit level.
func (t *Trade) HitTakeProfit(price uint64) bool {
	if t.Side == SideLong {
		return price >= t.TakeProfit
	}
	return price <= t.TakeProfit
}

// HitStopLoss reports whether the price has crossed the stop-loss level.
func (t *Trade) HitStopLoss(price uint64) bool {
	if t.Side == SideLong {
		return price <= t.StopLoss
	}
	return price >= t.StopLoss
}

// PnL computes the profit or loss of closing at the given price:
// (price - entry) * size / entry for longs, reversed for shorts.
func (t *Trade) PnL(price uint64) (int64, error) {
	if price == 0 {
		return 0, errors.Validation(tradeComponent, "pnl", "price", "price must be positive")
	}
	if t.EntryPrice == 0 {
		return 0, errors.Validation(tradeComponent, "pnl", "entry_price", "entry price must be positive")
	}
	diff := mathx.AbsDiff(price, t.EntryPrice)
	magnitude, err := mathx.MulDiv(diff, t.Size, t.EntryPrice)
	if err != nil {
		return 0, err
	}
	if magnitude > uint64(1)<<62 {
		return 0, errors.Overflow("pnl", "pnl magnitude exceeds int64")
	}
	gain := price >= t.EntryPrice
	if t.Side == SideShort {
		gain = !gain
	}
	if gain {
		return int64(magnitude), nil
	}
	return -int64(magnitude), nil
}

// Notional is the trade size valued at entry, used for breaker activity
// accounting.
func (t *Trade) Notional() uint64 {
	return t.Size
}
