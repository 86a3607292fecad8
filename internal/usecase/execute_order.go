package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/domain/services"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// FillRequest carries a broker-reported fill.
type FillRequest struct {
	OrderID    string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	TraceID    string
}

// FillResult reports the order's status after the fill is applied (or
// found to already have been applied).
type FillResult struct {
	Status    types.OrderStatus
	FilledQty decimal.Decimal
	TradeID   string
}

// ExecuteOrder applies a broker fill to an Order and its Position,
// enforcing below-min policy, sell sufficiency, and the after-fill
// guardrail before any state mutation. The Position mutation here must run
// serialized per position_id; callers (internal/live) own that guarantee.
type ExecuteOrder struct {
	Orders    ports.OrdersRepo
	Positions ports.PositionsRepo
	Trades    ports.TradesRepo
	Configs   ports.ConfigRepo
	Events    ports.EventsRepo
	Clock     ports.Clock
	Logger    *zap.Logger
	IDs       ports.IDGenerator

	Guardrail services.GuardrailEvaluator
}

// NewExecuteOrder constructs an ExecuteOrder use case from its ports. IDs
// defaults to ports.UUIDGenerator{}; the simulation engine overrides it via
// WithIDGenerator so repeated runs emit identical trade/event ids.
func NewExecuteOrder(orders ports.OrdersRepo, positions ports.PositionsRepo, trades ports.TradesRepo, configs ports.ConfigRepo, events ports.EventsRepo, clock ports.Clock, logger *zap.Logger) *ExecuteOrder {
	return &ExecuteOrder{
		Orders:    orders,
		Positions: positions,
		Trades:    trades,
		Configs:   configs,
		Events:    events,
		Clock:     clock,
		Logger:    logger,
		IDs:       ports.UUIDGenerator{},
		Guardrail: services.NewGuardrailEvaluator(),
	}
}

// WithIDGenerator overrides the id generator, returning x for chaining.
func (x *ExecuteOrder) WithIDGenerator(ids ports.IDGenerator) *ExecuteOrder {
	x.IDs = ids
	return x
}

// Fill applies one fill to the order named in req.
func (x *ExecuteOrder) Fill(ctx context.Context, req FillRequest) (*FillResult, error) {
	order, err := x.Orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.OrderNotFound, req.OrderID, err)
	}

	if order.Status == types.OrderFilled {
		return &FillResult{Status: order.Status, FilledQty: order.FilledQty}, nil
	}
	if order.Status == types.OrderRejected || order.Status == types.OrderCancelled {
		return nil, domainerr.New(domainerr.OrderNotCancellable, "order is "+string(order.Status))
	}
	if !order.Status.CanFill() {
		return nil, domainerr.New(domainerr.InvalidArgument, "order status "+string(order.Status)+" cannot accept a fill")
	}

	position, err := x.Positions.Get(ctx, order.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.PositionNotFound, order.PositionID, err)
	}

	orderPolicy, err := x.Configs.OrderPolicyConfig(ctx, order.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "order policy config", err)
	}
	guardrailCfg, err := x.Configs.GuardrailConfig(ctx, order.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "guardrail config", err)
	}

	now := x.Clock.Now()

	qty := orderPolicy.ClampToLot(orderPolicy.RoundDownToStep(req.Qty))
	notional := qty.Mul(req.Price)

	if qty.LessThan(orderPolicy.MinQty) || notional.LessThan(orderPolicy.MinNotional) {
		if orderPolicy.ActionBelowMin == types.BelowMinReject {
			if err := order.Reject(now); err != nil {
				return nil, err
			}
			if err := x.Orders.Save(ctx, order); err != nil {
				return nil, fmt.Errorf("save rejected order: %w", err)
			}
			x.emit(ctx, domain.EventFillRejectedBelowMin, req.TraceID, order, map[string]interface{}{
				"qty": qty.String(), "notional": notional.String(),
			})
			return &FillResult{Status: order.Status, FilledQty: order.FilledQty}, nil
		}
		x.emit(ctx, domain.EventFillSkippedBelowMin, req.TraceID, order, map[string]interface{}{
			"qty": qty.String(), "notional": notional.String(),
		})
		return &FillResult{Status: order.Status, FilledQty: order.FilledQty}, nil
	}

	if order.Side == types.SideSell && qty.GreaterThan(position.Qty) {
		x.emit(ctx, domain.EventFillRejectedInsufficientQty, req.TraceID, order, map[string]interface{}{
			"qty": qty.String(), "position_qty": position.Qty.String(),
		})
		return nil, domainerr.New(domainerr.InsufficientQty, "sell qty exceeds position qty")
	}

	state := services.PositionState{Qty: position.Qty, Cash: position.Cash}
	validation := x.Guardrail.ValidateAfterFill(state, order.Side, qty, req.Price, req.Commission, guardrailCfg)
	if !validation.OK {
		x.emit(ctx, domain.EventGuardrailBreach, req.TraceID, order, map[string]interface{}{
			"reason": validation.Reason, "qty": qty.String(), "price": req.Price.String(),
		})
		return nil, domainerr.New(domainerr.Code(validation.Reason), "after-fill guardrail breach")
	}

	qtyBefore, cashBefore := position.Qty, position.Cash

	if order.Side == types.SideBuy {
		if err := position.ApplyBuy(qty, req.Price, req.Commission, now); err != nil {
			return nil, err
		}
	} else {
		if err := position.ApplySell(qty, req.Price, req.Commission, now); err != nil {
			return nil, err
		}
	}

	trade := domain.NewTrade(x.IDs.NewID("trade"), order.TenantID, order.PortfolioID, order.PositionID, order.ID, order.Side, qty, req.Price, req.Commission, now)
	if err := x.Trades.Save(ctx, trade); err != nil {
		return nil, fmt.Errorf("save trade: %w", err)
	}

	if err := order.ApplyFill(qty, req.Price, req.Commission, now); err != nil {
		return nil, err
	}
	if err := x.Orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	oldAnchor := position.AnchorPrice
	if err := position.SetAnchor(req.Price, now); err != nil {
		return nil, err
	}
	if err := x.Positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}

	x.emit(ctx, domain.EventAnchorReset, req.TraceID, order, map[string]interface{}{
		"reason": "post_fill", "old": oldAnchor.String(), "new": req.Price.String(),
	})
	x.emit(ctx, domain.EventExecutionRecorded, req.TraceID, order, map[string]interface{}{
		"trade_id": trade.ID, "qty": qty.String(), "price": req.Price.String(), "commission": req.Commission.String(),
	})
	x.emit(ctx, domain.EventPositionUpdated, req.TraceID, order, map[string]interface{}{
		"qty_before": qtyBefore.String(), "cash_before": cashBefore.String(),
		"qty_after": position.Qty.String(), "cash_after": position.Cash.String(),
	})

	return &FillResult{Status: order.Status, FilledQty: order.FilledQty, TradeID: trade.ID}, nil
}

func (x *ExecuteOrder) emit(ctx context.Context, eventType domain.EventType, traceID string, order *domain.Order, payload map[string]interface{}) {
	payload["order_id"] = order.ID
	ev := domain.NewEvent(x.IDs.NewID("event"), x.Clock.Now(), eventType, traceID, "", order.TenantID, order.PortfolioID, "", "execute_order", payload)
	if err := x.Events.Append(ctx, ev); err != nil && x.Logger != nil {
		x.Logger.Error("append event", zap.Error(err), zap.String("event_type", string(eventType)))
	}
}
