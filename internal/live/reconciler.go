package live

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/internal/usecase"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Reconciler periodically polls the Broker for every order still in
// pending/working/partial status and converges local state to the
// broker's, via ExecuteOrder.Fill. Reported fills whose running total is
// already covered by Order.FilledQty are skipped (FilledQty is the source
// of truth for what has already been applied), and ExecuteOrder returns
// early for an already-filled order, so a reconciliation pass can safely
// re-report a fill the engine already applied.
type Reconciler struct {
	orders   ports.OrdersRepo
	broker   ports.Broker
	executor *usecase.ExecuteOrder
	clock    ports.Clock
	logger   *zap.Logger
	interval time.Duration
}

// NewReconciler constructs a Reconciler polling at the given interval.
func NewReconciler(orders ports.OrdersRepo, broker ports.Broker, executor *usecase.ExecuteOrder, clock ports.Clock, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{orders: orders, broker: broker, executor: executor, clock: clock, logger: logger, interval: interval}
}

// Run loops polling until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, positionIDs func() []string) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, positionID := range positionIDs() {
				r.reconcilePosition(ctx, positionID)
			}
		}
	}
}

func (r *Reconciler) reconcilePosition(ctx context.Context, positionID string) {
	openOrders, err := r.orders.ListByPosition(ctx, positionID)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("list orders for reconciliation", zap.Error(err), zap.String("position_id", positionID))
		}
		return
	}
	for _, order := range openOrders {
		if order.Status != types.OrderPending && order.Status != types.OrderWorking && order.Status != types.OrderPartial {
			continue
		}
		if order.BrokerOrderID == "" {
			continue
		}
		status, err := r.broker.OrderStatus(ctx, order.BrokerOrderID)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("poll broker order status", zap.Error(err), zap.String("order_id", order.ID))
			}
			continue
		}
		applied := decimal.Zero
		for _, fill := range status.Fills {
			applied = applied.Add(fill.Qty)
			if applied.LessThanOrEqual(order.FilledQty) {
				continue
			}
			_, err := r.executor.Fill(ctx, usecase.FillRequest{
				OrderID:    order.ID,
				Qty:        fill.Qty,
				Price:      fill.Price,
				Commission: fill.Commission,
			})
			if err != nil && r.logger != nil {
				r.logger.Error("apply reconciled fill", zap.Error(err), zap.String("order_id", order.ID))
			}
		}
	}
}
