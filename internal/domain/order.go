package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Order is the engine's intent to trade. Status transitions follow the DAG
// in I5: created -> submitted -> {pending, working} -> {partial -> filled |
// filled | rejected | cancelled}. No regression is ever permitted.
type Order struct {
	ID                      string
	TenantID                string
	PortfolioID             string
	PositionID              string
	Side                    types.OrderSide
	Qty                     decimal.Decimal
	Status                  types.OrderStatus
	IdempotencyKey          string
	RequestSignature        string
	CommissionRateSnapshot  decimal.Decimal
	BrokerOrderID           string
	BrokerStatus            string
	FilledQty               decimal.Decimal
	AvgFillPrice            decimal.Decimal
	HasFillPrice            bool
	TotalCommission         decimal.Decimal
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewOrder constructs a created order awaiting submission.
func NewOrder(id, tenantID, portfolioID, positionID string, side types.OrderSide, qty decimal.Decimal, idempotencyKey, signature string, commissionRate decimal.Decimal, now time.Time) *Order {
	return &Order{
		ID:                     id,
		TenantID:               tenantID,
		PortfolioID:            portfolioID,
		PositionID:             positionID,
		Side:                   side,
		Qty:                    qty,
		Status:                 types.OrderCreated,
		IdempotencyKey:         idempotencyKey,
		RequestSignature:       signature,
		CommissionRateSnapshot: commissionRate,
		FilledQty:              decimal.Zero,
		TotalCommission:        decimal.Zero,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// dagEdges enumerates the legal forward transitions for each status.
var dagEdges = map[types.OrderStatus]map[types.OrderStatus]bool{
	types.OrderCreated:   {types.OrderSubmitted: true},
	types.OrderSubmitted: {types.OrderPending: true, types.OrderWorking: true, types.OrderPartial: true, types.OrderFilled: true, types.OrderRejected: true, types.OrderCancelled: true},
	types.OrderPending:   {types.OrderWorking: true, types.OrderPartial: true, types.OrderFilled: true, types.OrderRejected: true, types.OrderCancelled: true},
	types.OrderWorking:   {types.OrderPartial: true, types.OrderFilled: true, types.OrderRejected: true, types.OrderCancelled: true},
	types.OrderPartial:   {types.OrderPartial: true, types.OrderFilled: true, types.OrderRejected: true, types.OrderCancelled: true},
}

// Transition moves the order to newStatus if the DAG permits it.
func (o *Order) Transition(newStatus types.OrderStatus, now time.Time) error {
	if o.Status == newStatus {
		return nil
	}
	if o.Status.IsTerminal() {
		return domainerr.New(domainerr.OrderNotCancellable, "order already in terminal status "+string(o.Status))
	}
	edges, ok := dagEdges[o.Status]
	if !ok || !edges[newStatus] {
		return domainerr.New(domainerr.InvalidArgument, "illegal order transition "+string(o.Status)+" -> "+string(newStatus))
	}
	o.Status = newStatus
	o.touch(now)
	return nil
}

// Submit moves a created order to submitted.
func (o *Order) Submit(now time.Time) error {
	return o.Transition(types.OrderSubmitted, now)
}

// Cancel moves a cancellable order to cancelled.
func (o *Order) Cancel(now time.Time) error {
	if o.Status.IsTerminal() {
		return domainerr.New(domainerr.OrderNotCancellable, "order already in terminal status "+string(o.Status))
	}
	return o.Transition(types.OrderCancelled, now)
}

// ApplyFill records a fill of q at price/commission, enforcing I6
// (FilledQty <= Qty) and recomputing the size-weighted average fill price.
// Transitions to filled or partial per whether the order is now fully filled.
func (o *Order) ApplyFill(q, price, commission decimal.Decimal, now time.Time) error {
	newFilled := o.FilledQty.Add(q)
	if newFilled.GreaterThan(o.Qty) {
		return domainerr.New(domainerr.InvalidArgument, "fill would exceed order qty")
	}
	if o.HasFillPrice {
		weighted := o.AvgFillPrice.Mul(o.FilledQty).Add(price.Mul(q))
		o.AvgFillPrice = weighted.Div(newFilled)
	} else {
		o.AvgFillPrice = price
		o.HasFillPrice = true
	}
	o.FilledQty = newFilled
	o.TotalCommission = o.TotalCommission.Add(commission)

	target := types.OrderPartial
	if o.FilledQty.Equal(o.Qty) {
		target = types.OrderFilled
	}
	return o.Transition(target, now)
}

// Reject transitions the order to rejected.
func (o *Order) Reject(now time.Time) error {
	return o.Transition(types.OrderRejected, now)
}

func (o *Order) touch(now time.Time) {
	if !now.After(o.UpdatedAt) {
		now = o.UpdatedAt.Add(time.Nanosecond)
	}
	o.UpdatedAt = now
}
