package simulate

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/adapters/memrepo"
	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/internal/usecase"
)

// SimOrderService mimics SubmitOrder+ExecuteOrder atomically over in-memory
// repositories: simulated fills never partial-fill, since a historical bar
// gives no finer-grained execution information than its own close/open
// price. It reuses the real SubmitOrder use case for the idempotency and
// daily-cap checks and the real ExecuteOrder use case for the fill
// application, so simulation and live share every invariant.
type SimOrderService struct {
	orders  *memrepo.Orders
	trades  *memrepo.Trades
	submit  *usecase.SubmitOrder
	execute *usecase.ExecuteOrder
}

// NewSimOrderService constructs a SimOrderService backed by fresh in-memory
// order/trade stores sharing the given positions/events/clock. ids is
// shared with the caller's EvaluatePosition so every order, trade, and
// event id drawn during a single simulation run comes from one
// deterministic counter sequence.
func NewSimOrderService(positions *memrepo.Positions, events *memrepo.Events, clock ports.Clock, logger *zap.Logger, ids ports.IDGenerator) *SimOrderService {
	orders := memrepo.NewOrders()
	trades := memrepo.NewTrades()
	idemp := memrepo.NewIdempotency()
	configs := memrepo.NewConfigs()

	return &SimOrderService{
		orders:  orders,
		trades:  trades,
		submit:  usecase.NewSubmitOrder(orders, idemp, configs, events, clock, logger).WithIDGenerator(ids),
		execute: usecase.NewExecuteOrder(orders, positions, trades, configs, events, clock, logger).WithIDGenerator(ids),
	}
}

// SubmitAndFill submits req and immediately fills it in full at price,
// returning the resulting trade (nil if the order was rejected or skipped).
func (s *SimOrderService) SubmitAndFill(ctx context.Context, req usecase.SubmitRequest, price, commission decimal.Decimal) (*domain.Trade, error) {
	res, err := s.submit.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	fillResult, err := s.execute.Fill(ctx, usecase.FillRequest{
		OrderID:    res.OrderID,
		Qty:        req.Qty,
		Price:      price,
		Commission: commission,
		TraceID:    req.TraceID,
	})
	if err != nil {
		return nil, err
	}
	if fillResult.TradeID == "" {
		return nil, nil
	}

	ts, err := s.trades.ListByOrder(ctx, res.OrderID)
	if err != nil || len(ts) == 0 {
		return nil, err
	}
	return ts[len(ts)-1], nil
}
