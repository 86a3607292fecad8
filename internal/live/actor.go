package live

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/internal/usecase"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// positionActor serializes every operation against one position: a tick
// evaluates, and if the trigger fires, submits the order and forwards it to
// the broker, all before the actor's inbox accepts the next tick. A plain
// mutex would do the same job; the inbox channel instead gives the
// scheduler a place to queue reconciliation callbacks alongside ticks
// without a second lock.
type positionActor struct {
	positionID string
	sem        *semaphore.Weighted
	eval       *usecase.EvaluatePosition
	submit     *usecase.SubmitOrder
	orders     ports.OrdersRepo
	broker     ports.Broker
	logger     *zap.Logger
	orch       *Orchestrator

	inbox chan func()
}

func newPositionActor(positionID string, sem *semaphore.Weighted, eval *usecase.EvaluatePosition, submit *usecase.SubmitOrder, orders ports.OrdersRepo, broker ports.Broker, logger *zap.Logger, orch *Orchestrator) *positionActor {
	a := &positionActor{
		positionID: positionID,
		sem:        sem,
		eval:       eval,
		submit:     submit,
		orders:     orders,
		broker:     broker,
		logger:     logger,
		orch:       orch,
		inbox:      make(chan func(), 16),
	}
	go a.drain()
	return a
}

func (a *positionActor) drain() {
	for fn := range a.inbox {
		fn()
	}
}

// Tick runs one evaluation, blocking until the actor's inbox has processed
// it, so the scheduler's errgroup can observe any error. tradingHoursPolicy
// is the owning portfolio's policy as of dispatch time, consulted against
// MarketData.IsMarketOpen before the tick runs.
func (a *positionActor) Tick(ctx context.Context, tenantID, portfolioID string, tradingHoursPolicy types.TradingHoursPolicy) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.sem.Release(1)

	done := make(chan error, 1)
	a.inbox <- func() {
		done <- a.evaluateAndSubmit(ctx, tenantID, portfolioID, tradingHoursPolicy)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// marketClosedForTrading reports whether this tick must be skipped because
// the portfolio restricts evaluation to open-market hours, the market is
// currently closed, and the position's order policy doesn't opt into
// after-hours trading.
func (a *positionActor) marketClosedForTrading(ctx context.Context, tradingHoursPolicy types.TradingHoursPolicy) (bool, error) {
	if tradingHoursPolicy != types.HoursOpenOnly {
		return false, nil
	}
	orderPolicy, err := a.eval.Configs.OrderPolicyConfig(ctx, a.positionID)
	if err != nil {
		return false, err
	}
	if orderPolicy.AllowAfterHours {
		return false, nil
	}
	position, err := a.eval.Positions.Get(ctx, a.positionID)
	if err != nil {
		return false, err
	}
	open, err := a.eval.Market.IsMarketOpen(ctx, position.AssetSymbol, a.eval.Clock.Now())
	if err != nil {
		return false, err
	}
	return !open, nil
}

func (a *positionActor) evaluateAndSubmit(ctx context.Context, tenantID, portfolioID string, tradingHoursPolicy types.TradingHoursPolicy) error {
	closed, err := a.marketClosedForTrading(ctx, tradingHoursPolicy)
	if err != nil && a.logger != nil {
		a.logger.Error("check market hours", zap.Error(err), zap.String("position_id", a.positionID))
	}
	if closed {
		_, err := a.eval.SkipClosedMarket(ctx, usecase.EvaluateInput{
			TenantID:    tenantID,
			PortfolioID: portfolioID,
			PositionID:  a.positionID,
		})
		return err
	}

	outcome, err := a.eval.Evaluate(ctx, usecase.EvaluateInput{
		TenantID:    tenantID,
		PortfolioID: portfolioID,
		PositionID:  a.positionID,
	})
	if err != nil {
		if a.logger != nil {
			a.logger.Error("evaluate position", zap.Error(err), zap.String("position_id", a.positionID))
		}
		return err
	}
	if outcome.Proposal == nil {
		return nil
	}

	res, err := a.submit.Submit(ctx, usecase.SubmitRequest{
		TenantID:       tenantID,
		PortfolioID:    portfolioID,
		PositionID:     a.positionID,
		Side:           outcome.Proposal.Side,
		Qty:            outcome.Proposal.Qty,
		IdempotencyKey: outcome.TraceID,
		TraceID:        outcome.TraceID,
	})
	if err != nil {
		if a.logger != nil {
			a.logger.Error("submit order", zap.Error(err), zap.String("position_id", a.positionID))
		}
		return err
	}
	if !res.Replayed {
		a.orch.RecordTrade(a.positionID)
	}
	if a.broker == nil || res.Replayed {
		return nil
	}

	ack, err := a.broker.PlaceOrder(ctx, ports.BrokerOrderRequest{
		PositionID:     a.positionID,
		Side:           outcome.Proposal.Side,
		Qty:            outcome.Proposal.Qty,
		IdempotencyKey: outcome.TraceID,
	})
	if err != nil {
		if a.logger != nil {
			a.logger.Error("place broker order", zap.Error(err), zap.String("position_id", a.positionID), zap.String("order_id", res.OrderID))
		}
		return err
	}

	order, err := a.orders.Get(ctx, res.OrderID)
	if err != nil {
		return err
	}
	order.BrokerOrderID = ack.BrokerOrderID
	order.BrokerStatus = ack.Status
	return a.orders.Save(ctx, order)
}
