// Package services holds the pure domain services: PriceTrigger, Sizer, and
// GuardrailEvaluator. Every function here is deterministic, takes no ports,
// reads no clock, and performs no I/O, so the decision pipeline is fully
// unit-testable without mocks.
package services

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// TriggerResult is the outcome of PriceTrigger.Evaluate.
type TriggerResult struct {
	Fired     bool
	Direction types.TriggerDirection
	Reason    string
	DeltaPct  decimal.Decimal
}

// PriceTrigger decides whether the current price has deviated far enough
// from the anchor to propose a rebalancing trade.
type PriceTrigger struct{}

// NewPriceTrigger constructs a PriceTrigger. It holds no state; the zero
// value works equally well, the constructor exists for symmetry with the
// other domain services and so callers can inject it as an interface.
func NewPriceTrigger() PriceTrigger { return PriceTrigger{} }

// Evaluate computes delta = (price - anchor) / anchor and fires DOWN (a BUY
// signal) when delta <= -tauDown, UP (a SELL signal) when delta >= tauUp.
// Exact equality fires. An unset or non-positive anchor always returns NONE
// with reason "no_anchor".
func (PriceTrigger) Evaluate(anchor, price, tauUp, tauDown decimal.Decimal) TriggerResult {
	if anchor.LessThanOrEqual(decimal.Zero) {
		return TriggerResult{Fired: false, Direction: types.DirectionNone, Reason: "no_anchor"}
	}

	delta := price.Sub(anchor).Div(anchor)

	switch {
	case delta.LessThanOrEqual(tauDown.Neg()):
		return TriggerResult{Fired: true, Direction: types.DirectionDown, Reason: "price_below_tau_down", DeltaPct: delta}
	case delta.GreaterThanOrEqual(tauUp):
		return TriggerResult{Fired: true, Direction: types.DirectionUp, Reason: "price_above_tau_up", DeltaPct: delta}
	default:
		return TriggerResult{Fired: false, Direction: types.DirectionNone, Reason: "within_band", DeltaPct: delta}
	}
}

// IsAnomalous reports whether |delta| exceeds the given anomaly threshold,
// used to gate the independent anomaly-reset policy.
func (PriceTrigger) IsAnomalous(anchor, price, threshold decimal.Decimal) bool {
	if anchor.LessThanOrEqual(decimal.Zero) {
		return false
	}
	delta := price.Sub(anchor).Div(anchor).Abs()
	return delta.GreaterThan(threshold)
}
