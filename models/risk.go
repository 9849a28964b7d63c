package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position or trigger order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Direction returns +1 for long and -1 for short exposure.
func (s Side) Direction() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Position is a read-only view of an open position owned by the ledger
// collaborator. The risk evaluator never mutates it; it only emits events.
type Position struct {
	PositionID string          `json:"position_id"`
	Account    string          `json:"account"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Collateral decimal.Decimal `json:"collateral"`
}

// Notional returns the position's notional value at the given mark price.
func (p Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(p.Size).Abs()
}

// UnrealizedPnL returns (mark - entry) * size * direction.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.EntryPrice).Mul(p.Size).Mul(p.Side.Direction())
}

// TriggerKind distinguishes take-profit from stop-loss orders.
type TriggerKind string

const (
	TriggerTakeProfit TriggerKind = "take_profit"
	TriggerStopLoss   TriggerKind = "stop_loss"
)

// TriggerStatus is the lifecycle state of a trigger order. Pending moves to
// Executed exactly once, driven solely by the mark price; Cancelled only via
// the external collaborator.
type TriggerStatus string

const (
	TriggerPending   TriggerStatus = "pending"
	TriggerExecuted  TriggerStatus = "executed"
	TriggerCancelled TriggerStatus = "cancelled"
)

// TriggerOrder is a pending TP/SL order evaluated against each snapshot.
type TriggerOrder struct {
	OrderID      string          `json:"order_id"`
	PositionID   string          `json:"position_id"`
	Account      string          `json:"account"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Kind         TriggerKind     `json:"kind"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Status       TriggerStatus   `json:"status"`
}

// Crossed reports whether the mark price satisfies the order's trigger
// condition. Long take-profit fires at mark >= trigger, long stop-loss at
// mark <= trigger; short sides invert both comparisons.
func (o TriggerOrder) Crossed(mark decimal.Decimal) bool {
	above := mark.GreaterThanOrEqual(o.TriggerPrice)
	below := mark.LessThanOrEqual(o.TriggerPrice)

	if o.Side == SideLong {
		if o.Kind == TriggerTakeProfit {
			return above
		}
		return below
	}
	if o.Kind == TriggerTakeProfit {
		return below
	}
	return above
}

// RiskEventKind labels the downstream action a risk event requests.
type RiskEventKind string

const (
	EventLiquidation RiskEventKind = "liquidation"
	EventTakeProfit  RiskEventKind = "take_profit"
	EventStopLoss    RiskEventKind = "stop_loss"
)

// RiskEvent is the record delivered to the ledger collaborator. The snapshot
// version makes every event traceable to an immutable mark price.
type RiskEvent struct {
	EventID         string          `json:"event_id"`
	Kind            RiskEventKind   `json:"kind"`
	PositionID      string          `json:"position_id"`
	OrderID         string          `json:"order_id,omitempty"`
	Account         string          `json:"account"`
	Symbol          string          `json:"symbol"`
	MarkValue       decimal.Decimal `json:"mark_value"`
	SnapshotVersion uint64          `json:"snapshot_version"`
	MarginRatio     decimal.Decimal `json:"margin_ratio"`
	EmittedAt       time.Time       `json:"emitted_at"`
}
