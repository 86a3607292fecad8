// Package domain holds the engine's core entities: Position, Portfolio,
// Order, Trade, Event, and EvaluationRecord. Entities carry state and the
// invariants that protect it; they hold no ports and perform no I/O.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is still eligible for evaluation.
type PositionStatus string

const (
	PositionActive PositionStatus = "active"
	PositionClosed PositionStatus = "closed"
)

// Position is the unit of rebalancing: one asset held against cash inside a
// portfolio, evaluated against a moving anchor price.
//
// Invariants enforced by the methods below, never by direct field mutation:
//   - I1: Qty >= 0
//   - I2: Cash >= 0 after any applied fill
//   - I3: once set, AnchorPrice > 0
//   - I4: UpdatedAt advances monotonically
type Position struct {
	ID                      string
	TenantID                string
	PortfolioID             string
	AssetSymbol             string
	Qty                     decimal.Decimal
	Cash                    decimal.Decimal
	AnchorPrice             decimal.Decimal
	AnchorSet               bool
	AvgCost                 decimal.Decimal
	TotalCommissionPaid     decimal.Decimal
	TotalDividendsReceived  decimal.Decimal
	Status                  PositionStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewPosition constructs a fresh, unanchored position with zero qty/cash
// replaced by the supplied starting cash balance.
func NewPosition(id, tenantID, portfolioID, assetSymbol string, startingCash decimal.Decimal, now time.Time) *Position {
	return &Position{
		ID:          id,
		TenantID:    tenantID,
		PortfolioID: portfolioID,
		AssetSymbol: assetSymbol,
		Qty:         decimal.Zero,
		Cash:        startingCash,
		AnchorSet:   false,
		AvgCost:     decimal.Zero,
		TotalCommissionPaid:    decimal.Zero,
		TotalDividendsReceived: decimal.Zero,
		Status:    PositionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StockValue returns qty*price, the current market value of the held asset.
func (p *Position) StockValue(price decimal.Decimal) decimal.Decimal {
	return p.Qty.Mul(price)
}

// TotalValue returns stock value plus cash.
func (p *Position) TotalValue(price decimal.Decimal) decimal.Decimal {
	return p.StockValue(price).Add(p.Cash)
}

// StockPct returns the fraction of total value held in the asset, 0 if
// total value is zero.
func (p *Position) StockPct(price decimal.Decimal) decimal.Decimal {
	total := p.TotalValue(price)
	if total.IsZero() {
		return decimal.Zero
	}
	return p.StockValue(price).Div(total)
}

// SetAnchor sets the anchor price, enforcing I3, and advances UpdatedAt (I4).
func (p *Position) SetAnchor(price decimal.Decimal, now time.Time) error {
	if price.LessThanOrEqual(decimal.Zero) {
		return errAnchorNotPositive
	}
	p.AnchorPrice = price
	p.AnchorSet = true
	p.touch(now)
	return nil
}

// ApplyBuy increases qty and decreases cash by the notional plus commission.
// Caller (ExecuteOrder) is responsible for guardrail/sufficiency checks
// before calling this; ApplyBuy only enforces I1/I2 as a last-resort guard.
func (p *Position) ApplyBuy(qty, price, commission decimal.Decimal, now time.Time) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return errQtyNotPositive
	}
	cost := qty.Mul(price).Add(commission)
	newCash := p.Cash.Sub(cost)
	if newCash.LessThan(decimal.Zero) {
		return errInsufficientCash
	}
	p.Qty = p.Qty.Add(qty)
	p.Cash = newCash
	p.TotalCommissionPaid = p.TotalCommissionPaid.Add(commission)
	p.touch(now)
	return nil
}

// ApplySell decreases qty and increases cash by the proceeds minus commission.
func (p *Position) ApplySell(qty, price, commission decimal.Decimal, now time.Time) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return errQtyNotPositive
	}
	if qty.GreaterThan(p.Qty) {
		return errInsufficientQty
	}
	proceeds := qty.Mul(price).Sub(commission)
	p.Qty = p.Qty.Sub(qty)
	p.Cash = p.Cash.Add(proceeds)
	p.TotalCommissionPaid = p.TotalCommissionPaid.Add(commission)
	p.touch(now)
	return nil
}

// ApplyDividend adds cash only; per spec, dividends never alter the anchor
// price, regardless of when during the evaluation cycle they are received.
func (p *Position) ApplyDividend(amount decimal.Decimal, now time.Time) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errQtyNotPositive
	}
	p.Cash = p.Cash.Add(amount)
	p.TotalDividendsReceived = p.TotalDividendsReceived.Add(amount)
	p.touch(now)
	return nil
}

// CanClose reports whether the position has no qty, no cash, and is
// eligible to be marked closed by the caller (who must also verify no open
// orders reference it; that check spans repositories and lives in the use
// case layer).
func (p *Position) CanClose() bool {
	return p.Qty.IsZero() && p.Cash.IsZero()
}

// Close marks the position closed. Idempotent.
func (p *Position) Close(now time.Time) {
	if p.Status == PositionClosed {
		return
	}
	p.Status = PositionClosed
	p.touch(now)
}

func (p *Position) touch(now time.Time) {
	if !now.After(p.UpdatedAt) {
		now = p.UpdatedAt.Add(time.Nanosecond)
	}
	p.UpdatedAt = now
}

var (
	errAnchorNotPositive = &invariantError{"anchor price must be positive"}
	errQtyNotPositive    = &invariantError{"qty must be positive"}
	errInsufficientCash  = &invariantError{"insufficient cash"}
	errInsufficientQty   = &invariantError{"insufficient qty"}
)

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return e.msg }
