package usecase

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
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

type executeFixture struct {
	orders    *memrepo.Orders
	positions *memrepo.Positions
	trades    *memrepo.Trades
	configs   *memrepo.Configs
	events    *memrepo.Events
	clock     *ports.FixedClock
	exec      *ExecuteOrder
}

func newExecuteFixture() *executeFixture {
	f := &executeFixture{
		orders:    memrepo.NewOrders(),
		positions: memrepo.NewPositions(),
		trades:    memrepo.NewTrades(),
		configs:   memrepo.NewConfigs(),
		events:    memrepo.NewEvents(),
		clock:     ports.NewFixedClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.exec = NewExecuteOrder(f.orders, f.positions, f.trades, f.configs, f.events, f.clock, nil)
	return f
}

func (f *executeFixture) seedOrder(t *testing.T, side types.OrderSide, qty decimal.Decimal) *domain.Order {
	t.Helper()
	o := domain.NewOrder("order-1", "tenant-1", "portfolio-1", "pos-1", side, qty, "key-1", "sig-1", decimal.Zero, f.clock.Now())
	require.NoError(t, o.Submit(f.clock.Now()))
	require.NoError(t, f.orders.Save(context.Background(), o))
	return o
}

func TestExecute_BuyFillAppliesToPosition(t *testing.T) {
	f := newExecuteFixture()
	seedPosition(t, &fixture{positions: f.positions, clock: f.clock}, "pos-1", d("0"), d("1000"))
	f.seedOrder(t, types.SideBuy, d("1"))

	res, err := f.exec.Fill(context.Background(), FillRequest{OrderID: "order-1", Qty: d("1"), Price: d("100"), Commission: d("0")})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, res.Status)

	pos, err := f.positions.Get(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, pos.Qty.Equal(d("1")))
	assert.True(t, pos.Cash.Equal(d("900")))
	assert.True(t, pos.AnchorPrice.Equal(d("100")))
}

func TestExecute_IdempotentIfAlreadyFilled(t *testing.T) {
	f := newExecuteFixture()
	seedPosition(t, &fixture{positions: f.positions, clock: f.clock}, "pos-1", d("0"), d("1000"))
	f.seedOrder(t, types.SideBuy, d("1"))

	_, err := f.exec.Fill(context.Background(), FillRequest{OrderID: "order-1", Qty: d("1"), Price: d("100"), Commission: d("0")})
	require.NoError(t, err)

	res, err := f.exec.Fill(context.Background(), FillRequest{OrderID: "order-1", Qty: d("1"), Price: d("100"), Commission: d("0")})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, res.Status)

	pos, err := f.positions.Get(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, pos.Qty.Equal(d("1")))
}

func TestExecute_SellExceedingPositionQtyRejected(t *testing.T) {
	f := newExecuteFixture()
	seedPosition(t, &fixture{positions: f.positions, clock: f.clock}, "pos-1", d("1"), d("1000"))
	f.seedOrder(t, types.SideSell, d("5"))

	_, err := f.exec.Fill(context.Background(), FillRequest{OrderID: "order-1", Qty: d("5"), Price: d("100"), Commission: d("0")})
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.InsufficientQty))
}

func TestExecute_BelowMinQtyRejectsOrder(t *testing.T) {
	f := newExecuteFixture()
	seedPosition(t, &fixture{positions: f.positions, clock: f.clock}, "pos-1", d("0"), d("1000"))
	f.configs.SetOrderPolicy("pos-1", types.OrderPolicyConfig{
		MinQty: d("1"), MinNotional: d("1000"), QtyStep: d("0.0001"), LotSize: d("0.0001"),
		ActionBelowMin: types.BelowMinReject,
	})
	f.seedOrder(t, types.SideBuy, d("0.01"))

	res, err := f.exec.Fill(context.Background(), FillRequest{OrderID: "order-1", Qty: d("0.01"), Price: d("100"), Commission: d("0")})
	require.NoError(t, err)
	assert.Equal(t, types.OrderRejected, res.Status)
}

func TestExecute_GuardrailBreachRefusesFill(t *testing.T) {
	f := newExecuteFixture()
	seedPosition(t, &fixture{positions: f.positions, clock: f.clock}, "pos-1", d("0"), d("1000"))
	f.configs.SetGuardrail("pos-1", types.GuardrailConfig{
		MinStockPct: d("0.25"), MaxStockPct: d("0.30"), MaxOrdersPerDay: 20,
	})
	f.seedOrder(t, types.SideBuy, d("9"))

	_, err := f.exec.Fill(context.Background(), FillRequest{OrderID: "order-1", Qty: d("9"), Price: d("100"), Commission: d("0")})
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.AllocAboveMax))
}
