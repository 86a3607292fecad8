package services

import "github.com/shopspring/decimal"

// Sizer computes the closed-form rebalancing trade size.
type Sizer struct{}

// NewSizer constructs a Sizer.
func NewSizer() Sizer { return Sizer{} }

// RawSize computes the signed raw quantity for a rebalancing trade.
//
// Let A = price*qty (current stock value), V = A + cash (total value).
// The magnitude is ΔQ_raw = (anchor/price) * r * (V/price), where r is the
// rebalance ratio. The result is positive (BUY) when price <= anchor and
// negative (SELL) otherwise. No rounding is applied here; quantization to
// qty_step happens downstream in the order-policy step.
func (Sizer) RawSize(anchor, price, qty, cash, r decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) || anchor.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	stockValue := price.Mul(qty)
	totalValue := stockValue.Add(cash)

	magnitude := anchor.Div(price).Mul(r).Mul(totalValue.Div(price))

	if price.LessThanOrEqual(anchor) {
		return magnitude
	}
	return magnitude.Neg()
}
