package live

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/adapters/memrepo"
	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/internal/usecase"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

type fakeMarketData struct{ price decimal.Decimal }

func (f *fakeMarketData) LatestQuote(_ context.Context, _ string) (ports.Quote, error) {
	return ports.Quote{Price: f.price, Source: types.SourceSimulated, Timestamp: time.Now()}, nil
}
func (f *fakeMarketData) Bars(_ context.Context, _ string, _, _ time.Time, _ string) ([]ports.Bar, error) {
	return nil, nil
}
func (f *fakeMarketData) IsMarketOpen(_ context.Context, _ string, _ time.Time) (bool, error) {
	return true, nil
}

type fakeBroker struct{ placed int }

func (f *fakeBroker) PlaceOrder(_ context.Context, req ports.BrokerOrderRequest) (ports.BrokerAck, error) {
	f.placed++
	return ports.BrokerAck{BrokerOrderID: "broker-1", Status: "working"}, nil
}
func (f *fakeBroker) CancelOrder(_ context.Context, _ string) error { return nil }
func (f *fakeBroker) OrderStatus(_ context.Context, _ string) (ports.BrokerOrderStatus, error) {
	return ports.BrokerOrderStatus{}, nil
}
func (f *fakeBroker) Ping(_ context.Context) error { return nil }

func TestScheduler_TickOnceEvaluatesRunningPortfolios(t *testing.T) {
	clock := ports.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	positions := memrepo.NewPositions()
	portfolios := memrepo.NewPortfolios()
	orders := memrepo.NewOrders()
	idemp := memrepo.NewIdempotency()
	configs := memrepo.NewConfigs()
	events := memrepo.NewEvents()
	timeline := memrepo.NewTimeline()

	pf := domain.NewPortfolio("pf-1", "tenant-1", "Demo")
	pf.Start()
	require.NoError(t, portfolios.Save(context.Background(), pf))

	pos := domain.NewPosition("pos-1", "tenant-1", "pf-1", "ASSET", decimal.NewFromInt(1000), clock.Now())
	pos.Qty = decimal.NewFromInt(10)
	require.NoError(t, positions.Save(context.Background(), pos))

	price := decimal.NewFromInt(100)
	configs.SetOrderPolicy("pos-1", types.OrderPolicyConfig{
		MinQty: decimal.NewFromFloat(0.0001), MinNotional: decimal.NewFromInt(1),
		QtyStep: decimal.NewFromFloat(0.0001), LotSize: decimal.NewFromFloat(0.0001),
		ActionBelowMin: types.BelowMinHold,
	})
	_ = price

	market := &fakeMarketData{price: price}
	eval := usecase.NewEvaluatePosition(positions, configs, market, timeline, events, clock, nil)
	submit := usecase.NewSubmitOrder(orders, idemp, configs, events, clock, nil)
	broker := &fakeBroker{}

	sched := NewScheduler(DefaultSchedulerConfig(2), portfolios, positions, orders, eval, submit, broker, nil)

	evalOut, err := eval.Evaluate(context.Background(), usecase.EvaluateInput{PositionID: "pos-1", CurrentPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, evalOut.Record.Action)

	require.NoError(t, sched.tickOnce(context.Background()))
}

type closedMarketData struct{}

func (closedMarketData) LatestQuote(_ context.Context, _ string) (ports.Quote, error) {
	return ports.Quote{Price: decimal.NewFromInt(100), Source: types.SourceSimulated, Timestamp: time.Now()}, nil
}
func (closedMarketData) Bars(_ context.Context, _ string, _, _ time.Time, _ string) ([]ports.Bar, error) {
	return nil, nil
}
func (closedMarketData) IsMarketOpen(_ context.Context, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func TestScheduler_TickOnceSkipsClosedMarket(t *testing.T) {
	clock := ports.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	positions := memrepo.NewPositions()
	portfolios := memrepo.NewPortfolios()
	orders := memrepo.NewOrders()
	idemp := memrepo.NewIdempotency()
	configs := memrepo.NewConfigs()
	events := memrepo.NewEvents()
	timeline := memrepo.NewTimeline()

	pf := domain.NewPortfolio("pf-1", "tenant-1", "Demo")
	pf.Start()
	require.Equal(t, types.HoursOpenOnly, pf.TradingHoursPolicy)
	require.NoError(t, portfolios.Save(context.Background(), pf))

	pos := domain.NewPosition("pos-1", "tenant-1", "pf-1", "ASSET", decimal.NewFromInt(1000), clock.Now())
	pos.Qty = decimal.NewFromInt(10)
	require.NoError(t, positions.Save(context.Background(), pos))

	configs.SetOrderPolicy("pos-1", types.OrderPolicyConfig{
		MinQty: decimal.NewFromFloat(0.0001), MinNotional: decimal.NewFromInt(1),
		QtyStep: decimal.NewFromFloat(0.0001), LotSize: decimal.NewFromFloat(0.0001),
		ActionBelowMin: types.BelowMinHold, AllowAfterHours: false,
	})

	market := closedMarketData{}
	eval := usecase.NewEvaluatePosition(positions, configs, market, timeline, events, clock, nil)
	submit := usecase.NewSubmitOrder(orders, idemp, configs, events, clock, nil)
	broker := &fakeBroker{}

	sched := NewScheduler(DefaultSchedulerConfig(2), portfolios, positions, orders, eval, submit, broker, nil)
	require.NoError(t, sched.tickOnce(context.Background()))

	rows, _, err := timeline.Query(context.Background(), ports.TimelineQuery{PositionID: "pos-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.ActionSkip, rows[0].Action)
	assert.Equal(t, "closed_market", rows[0].BlockReason)
	assert.Equal(t, 0, broker.placed)
}
