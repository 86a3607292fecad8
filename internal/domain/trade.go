package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Trade is an immutable fill record. One Order produces zero or more
// Trades; sum(trades.qty) == order.filled_qty and
// sum(trades.commission) == order.total_commission.
type Trade struct {
	ID                      string
	TenantID                string
	PortfolioID             string
	PositionID              string
	OrderID                 string
	Side                    types.OrderSide
	Qty                     decimal.Decimal
	Price                   decimal.Decimal
	Commission              decimal.Decimal
	CommissionRateEffective decimal.Decimal
	ExecutedAt              time.Time
}

// NewTrade constructs a trade, deriving the effective commission rate as
// commission/notional (0 when notional is 0).
func NewTrade(id, tenantID, portfolioID, positionID, orderID string, side types.OrderSide, qty, price, commission decimal.Decimal, now time.Time) *Trade {
	notional := qty.Mul(price)
	rate := decimal.Zero
	if !notional.IsZero() {
		rate = commission.Div(notional)
	}
	return &Trade{
		ID:                      id,
		TenantID:                tenantID,
		PortfolioID:             portfolioID,
		PositionID:              positionID,
		OrderID:                 orderID,
		Side:                    side,
		Qty:                     qty,
		Price:                   price,
		Commission:              commission,
		CommissionRateEffective: rate,
		ExecutedAt:              now,
	}
}
