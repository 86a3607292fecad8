// Package types provides the immutable value objects and configuration
// types shared across the engine: prices, quantities, money, and the
// per-position policy configs (trigger, guardrail, order policy).
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a strictly positive quote in the position's quote currency.
type Price struct {
	d decimal.Decimal
}

// NewPrice validates and wraps a decimal as a Price. Prices must be > 0.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.LessThanOrEqual(decimal.Zero) {
		return Price{}, fmt.Errorf("price must be positive, got %s", d.String())
	}
	return Price{d: d}, nil
}

// MustPrice is NewPrice but panics on invalid input; for constants/tests.
func MustPrice(d decimal.Decimal) Price {
	p, err := NewPrice(d)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Decimal() decimal.Decimal { return p.d }
func (p Price) IsZero() bool             { return p.d.IsZero() }
func (p Price) String() string           { return p.d.String() }

// Qty is a trading quantity. Positive for long/buy-side amounts; the sign
// convention for signed sizing results is carried separately as side info,
// not baked into Qty itself — Qty here always represents a magnitude.
type Qty struct {
	d decimal.Decimal
}

// NewQty validates and wraps a decimal as a Qty. Quantities must be >= 0.
func NewQty(d decimal.Decimal) (Qty, error) {
	if d.LessThan(decimal.Zero) {
		return Qty{}, fmt.Errorf("qty must be non-negative, got %s", d.String())
	}
	return Qty{d: d}, nil
}

func (q Qty) Decimal() decimal.Decimal { return q.d }
func (q Qty) IsZero() bool             { return q.d.IsZero() }
func (q Qty) String() string           { return q.d.String() }

// Money is a non-negative monetary amount (cash, commission, notional).
type Money struct {
	d decimal.Decimal
}

// NewMoney validates and wraps a decimal as Money. Amounts must be >= 0.
func NewMoney(d decimal.Decimal) (Money, error) {
	if d.LessThan(decimal.Zero) {
		return Money{}, fmt.Errorf("money must be non-negative, got %s", d.String())
	}
	return Money{d: d}, nil
}

func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) String() string           { return m.d.String() }

// ZeroMoney is the canonical zero value.
var ZeroMoney = Money{d: decimal.Zero}

// OrderSide is BUY or SELL.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus models the DAG from spec §3 invariant I5:
// created -> submitted -> {pending, working} -> {partial -> filled | filled | rejected | cancelled}.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderSubmitted OrderStatus = "submitted"
	OrderPending   OrderStatus = "pending"
	OrderWorking   OrderStatus = "working"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status is a DAG sink.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	default:
		return false
	}
}

// CanFill reports whether a fill may still be applied to an order in this status.
func (s OrderStatus) CanFill() bool {
	switch s {
	case OrderSubmitted, OrderPending, OrderWorking, OrderPartial:
		return true
	default:
		return false
	}
}

// TradingState gates whether live evaluation fires for a Portfolio.
type TradingState string

const (
	TradingNotConfigured TradingState = "NOT_CONFIGURED"
	TradingRunning       TradingState = "RUNNING"
	TradingPaused        TradingState = "PAUSED"
)

// TradingHoursPolicy controls whether after-hours evaluation is allowed.
type TradingHoursPolicy string

const (
	HoursOpenOnly TradingHoursPolicy = "OPEN_ONLY"
	HoursExtended TradingHoursPolicy = "EXTENDED"
)

// ActionBelowMin controls below-minimum order policy handling.
type ActionBelowMin string

const (
	BelowMinHold   ActionBelowMin = "hold"
	BelowMinReject ActionBelowMin = "reject"
)

// TriggerDirection is the signed outcome of PriceTrigger.Evaluate.
type TriggerDirection string

const (
	DirectionUp   TriggerDirection = "UP"
	DirectionDown TriggerDirection = "DOWN"
	DirectionNone TriggerDirection = "NONE"
)

// EvaluationAction is the decision recorded on an EvaluationRecord.
type EvaluationAction string

const (
	ActionBuy  EvaluationAction = "BUY"
	ActionSell EvaluationAction = "SELL"
	ActionHold EvaluationAction = "HOLD"
	ActionSkip EvaluationAction = "SKIP"
)

// PriceSource describes where a reference price came from.
type PriceSource string

const (
	SourceMidQuote   PriceSource = "MID_QUOTE"
	SourceLastTrade  PriceSource = "LAST_TRADE"
	SourceClose      PriceSource = "CLOSE"
	SourceSimulated  PriceSource = "SIMULATED"
)

// EvaluationMode distinguishes live ticks from simulation bars on the
// Explainability timeline.
type EvaluationMode string

const (
	ModeLive       EvaluationMode = "LIVE"
	ModeSimulation EvaluationMode = "SIMULATION"
)

// SimPriceField selects which OHLCV field a simulation evaluates against.
type SimPriceField string

const (
	SimPriceClose SimPriceField = "close"
	SimPriceOpen  SimPriceField = "open"
)
