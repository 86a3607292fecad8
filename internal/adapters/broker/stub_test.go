package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/adapters/marketdata"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

func newMarket() ports.MarketData {
	return marketdata.NewSynthetic(marketdata.SyntheticConfig{
		AssetSymbol: "SPY", StartPrice: decimal.NewFromInt(400), DailyVol: 0.001, Seed: 1, Interval: time.Hour,
		MarketHours: types.HoursExtended,
	})
}

func TestStub_PlaceAndImmediateFill(t *testing.T) {
	clock := ports.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewStub(clock, newMarket(), DefaultConfig(), nil)
	ctx := context.Background()

	ack, err := s.PlaceOrder(ctx, ports.BrokerOrderRequest{PositionID: "pos-1", AssetSymbol: "SPY", Side: types.SideBuy, Qty: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, "working", ack.Status)

	status, err := s.OrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "filled", status.Status)
	assert.True(t, status.FilledQty.Equal(decimal.NewFromInt(10)))
	assert.True(t, status.AvgFillPrice.IsPositive())
	require.Len(t, status.Fills, 1)
	assert.True(t, status.Fills[0].Commission.IsPositive())
}

func TestStub_BuySlipsAboveQuoteSellBelow(t *testing.T) {
	clock := ports.NewFixedClock(time.Now())
	market := newMarket()
	cfg := DefaultConfig()
	s := NewStub(clock, market, cfg, nil)
	ctx := context.Background()

	quote, err := market.LatestQuote(ctx, "SPY")
	require.NoError(t, err)

	buyAck, _ := s.PlaceOrder(ctx, ports.BrokerOrderRequest{AssetSymbol: "SPY", Side: types.SideBuy, Qty: decimal.NewFromInt(1)})
	buyStatus, err := s.OrderStatus(ctx, buyAck.BrokerOrderID)
	require.NoError(t, err)
	assert.True(t, buyStatus.AvgFillPrice.GreaterThan(quote.Price))

	sellAck, _ := s.PlaceOrder(ctx, ports.BrokerOrderRequest{AssetSymbol: "SPY", Side: types.SideSell, Qty: decimal.NewFromInt(1)})
	sellStatus, err := s.OrderStatus(ctx, sellAck.BrokerOrderID)
	require.NoError(t, err)
	assert.True(t, sellStatus.AvgFillPrice.LessThan(quote.Price))
}

func TestStub_FillLatencyDelaysUntilClockAdvances(t *testing.T) {
	clock := ports.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.FillLatency = 5 * time.Minute
	s := NewStub(clock, newMarket(), cfg, nil)
	ctx := context.Background()

	ack, err := s.PlaceOrder(ctx, ports.BrokerOrderRequest{AssetSymbol: "SPY", Side: types.SideBuy, Qty: decimal.NewFromInt(1)})
	require.NoError(t, err)

	status, err := s.OrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "working", status.Status)

	clock.Set(clock.Now().Add(6 * time.Minute))
	status, err = s.OrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "filled", status.Status)
}

func TestStub_CancelBeforeFillSucceeds(t *testing.T) {
	clock := ports.NewFixedClock(time.Now())
	cfg := DefaultConfig()
	cfg.FillLatency = time.Hour
	s := NewStub(clock, newMarket(), cfg, nil)
	ctx := context.Background()

	ack, err := s.PlaceOrder(ctx, ports.BrokerOrderRequest{AssetSymbol: "SPY", Side: types.SideBuy, Qty: decimal.NewFromInt(1)})
	require.NoError(t, err)

	require.NoError(t, s.CancelOrder(ctx, ack.BrokerOrderID))

	status, err := s.OrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status.Status)
}

func TestStub_CancelAfterFillFails(t *testing.T) {
	clock := ports.NewFixedClock(time.Now())
	s := NewStub(clock, newMarket(), DefaultConfig(), nil)
	ctx := context.Background()

	ack, err := s.PlaceOrder(ctx, ports.BrokerOrderRequest{AssetSymbol: "SPY", Side: types.SideBuy, Qty: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = s.OrderStatus(ctx, ack.BrokerOrderID)
	require.NoError(t, err)

	err = s.CancelOrder(ctx, ack.BrokerOrderID)
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.OrderNotCancellable))
}

func TestStub_PingAndSetReachable(t *testing.T) {
	clock := ports.NewFixedClock(time.Now())
	s := NewStub(clock, newMarket(), DefaultConfig(), nil)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	s.SetReachable(false)
	err := s.Ping(ctx)
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.BrokerUnreachable))

	_, err = s.PlaceOrder(ctx, ports.BrokerOrderRequest{AssetSymbol: "SPY", Side: types.SideBuy, Qty: decimal.NewFromInt(1)})
	require.Error(t, err)
}

func TestStub_UnknownOrderIDErrors(t *testing.T) {
	clock := ports.NewFixedClock(time.Now())
	s := NewStub(clock, newMarket(), DefaultConfig(), nil)

	_, err := s.OrderStatus(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.OrderNotFound))
}
