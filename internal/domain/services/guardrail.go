package services

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

const maxTrimIterations = 50

// PositionState is the minimal position snapshot the guardrail evaluator
// needs: current qty and cash. It is a plain value so this package stays
// free of any dependency on the domain entity package.
type PositionState struct {
	Qty  decimal.Decimal
	Cash decimal.Decimal
}

// TrimResult is the outcome of GuardrailEvaluator.TrimToBounds.
type TrimResult struct {
	Qty     decimal.Decimal
	Trimmed bool
	Reason  string
}

// FillValidation is the outcome of GuardrailEvaluator.ValidateAfterFill.
type FillValidation struct {
	OK     bool
	Reason string
}

// GuardrailEvaluator enforces the allocation band and post-fill
// sufficiency checks that bound every proposed and executed trade.
type GuardrailEvaluator struct{}

// NewGuardrailEvaluator constructs a GuardrailEvaluator.
func NewGuardrailEvaluator() GuardrailEvaluator { return GuardrailEvaluator{} }

func stockPct(qty, cash, price decimal.Decimal) decimal.Decimal {
	stockValue := qty.Mul(price)
	total := stockValue.Add(cash)
	if total.IsZero() {
		return decimal.Zero
	}
	return stockValue.Div(total)
}

// pctAfter returns the post-trade allocation pct after applying a trade of
// the given side and magnitude to state.
func pctAfter(side types.OrderSide, magnitude decimal.Decimal, state PositionState, price decimal.Decimal) decimal.Decimal {
	var qty, cash decimal.Decimal
	notional := magnitude.Mul(price)
	if side == types.SideBuy {
		qty = state.Qty.Add(magnitude)
		cash = state.Cash.Sub(notional)
	} else {
		qty = state.Qty.Sub(magnitude)
		cash = state.Cash.Add(notional)
	}
	return stockPct(qty, cash, price)
}

// TrimToBounds binary-searches |rawQty| in [0, |rawQty|] for at most 50
// iterations to drive the post-trade allocation into [minStockPct,
// maxStockPct] when it would otherwise fall outside that band. BUY
// monotonically increases pct with magnitude; SELL monotonically decreases
// it, so bisection against a single target bound always converges.
func (GuardrailEvaluator) TrimToBounds(side types.OrderSide, rawQty decimal.Decimal, state PositionState, guardrail types.GuardrailConfig, price decimal.Decimal) TrimResult {
	magnitude := rawQty.Abs()
	if magnitude.IsZero() {
		return TrimResult{Qty: rawQty, Trimmed: false}
	}

	full := pctAfter(side, magnitude, state, price)

	var target decimal.Decimal
	switch {
	case full.GreaterThan(guardrail.MaxStockPct):
		target = guardrail.MaxStockPct
	case full.LessThan(guardrail.MinStockPct):
		target = guardrail.MinStockPct
	default:
		return TrimResult{Qty: rawQty, Trimmed: false}
	}

	lo := decimal.Zero
	hi := magnitude
	increasing := side == types.SideBuy

	for i := 0; i < maxTrimIterations; i++ {
		mid := lo.Add(hi).Div(decimal.NewFromInt(2))
		pct := pctAfter(side, mid, state, price)

		aboveTarget := pct.GreaterThan(target)
		if aboveTarget == increasing {
			hi = mid
		} else {
			lo = mid
		}
	}

	trimmedMagnitude := lo
	reason := "trimmed_to_max_stock_pct"
	if target.Equal(guardrail.MinStockPct) {
		reason = "trimmed_to_min_stock_pct"
	}

	result := trimmedMagnitude
	if side == types.SideSell {
		result = trimmedMagnitude.Neg()
	}
	return TrimResult{Qty: result, Trimmed: true, Reason: reason}
}

// PostTradePct reports the allocation pct that would result from applying
// a trade of the given side and magnitude to state, without trimming.
func (GuardrailEvaluator) PostTradePct(side types.OrderSide, magnitude decimal.Decimal, state PositionState, price decimal.Decimal) decimal.Decimal {
	return pctAfter(side, magnitude, state, price)
}

// ValidateAfterFill verifies, in order, sufficient cash for a BUY,
// sufficient qty for a SELL, and that the resulting allocation stays
// within [minStockPct, maxStockPct]. The first failure wins.
func (GuardrailEvaluator) ValidateAfterFill(state PositionState, side types.OrderSide, fillQty, price, commission decimal.Decimal, guardrail types.GuardrailConfig) FillValidation {
	if side == types.SideBuy {
		cost := fillQty.Mul(price).Add(commission)
		if state.Cash.LessThan(cost) {
			return FillValidation{OK: false, Reason: string(domainerr.InsufficientCash)}
		}
	} else {
		if state.Qty.LessThan(fillQty) {
			return FillValidation{OK: false, Reason: string(domainerr.InsufficientQty)}
		}
	}

	var postQty, postCash decimal.Decimal
	notional := fillQty.Mul(price)
	if side == types.SideBuy {
		postQty = state.Qty.Add(fillQty)
		postCash = state.Cash.Sub(notional).Sub(commission)
	} else {
		postQty = state.Qty.Sub(fillQty)
		postCash = state.Cash.Add(notional).Sub(commission)
	}

	pct := stockPct(postQty, postCash, price)
	if pct.LessThan(guardrail.MinStockPct) {
		return FillValidation{OK: false, Reason: string(domainerr.AllocBelowMin)}
	}
	if pct.GreaterThan(guardrail.MaxStockPct) {
		return FillValidation{OK: false, Reason: string(domainerr.AllocAboveMax)}
	}
	return FillValidation{OK: true}
}
