package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/adapters/memrepo"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

func newSubmitFixture() (*SubmitOrder, *memrepo.Orders, *ports.FixedClock) {
	orders := memrepo.NewOrders()
	idemp := memrepo.NewIdempotency()
	configs := memrepo.NewConfigs()
	events := memrepo.NewEvents()
	clock := ports.NewFixedClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	return NewSubmitOrder(orders, idemp, configs, events, clock, nil), orders, clock
}

func TestSubmit_FreshOrderAccepted(t *testing.T) {
	s, orders, _ := newSubmitFixture()
	res, err := s.Submit(context.Background(), SubmitRequest{
		PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"), IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Replayed)

	order, err := orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderSubmitted, order.Status)
}

func TestSubmit_ReplayReturnsSameOrder(t *testing.T) {
	s, _, _ := newSubmitFixture()
	req := SubmitRequest{PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"), IdempotencyKey: "key-1"}
	first, err := s.Submit(context.Background(), req)
	require.NoError(t, err)

	second, err := s.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
}

func TestSubmit_SignatureMismatchRejected(t *testing.T) {
	s, _, _ := newSubmitFixture()
	_, err := s.Submit(context.Background(), SubmitRequest{
		PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"), IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), SubmitRequest{
		PositionID: "pos-1", Side: types.SideBuy, Qty: d("2"), IdempotencyKey: "key-1",
	})
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.IdempotencySignatureMismatch))
}

func TestSubmit_DailyCapExceeded(t *testing.T) {
	s, _, _ := newSubmitFixture()
	for i := 0; i < 20; i++ {
		_, err := s.Submit(context.Background(), SubmitRequest{
			PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"),
			IdempotencyKey: "key-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}
	_, err := s.Submit(context.Background(), SubmitRequest{
		PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"), IdempotencyKey: "key-over",
	})
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.DailyOrderCapExceeded))
}

func TestSubmit_RetryAfterDailyCapSucceedsNextDay(t *testing.T) {
	s, _, clock := newSubmitFixture()
	for i := 0; i < 20; i++ {
		_, err := s.Submit(context.Background(), SubmitRequest{
			PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"),
			IdempotencyKey: "key-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}

	rejected := SubmitRequest{PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"), IdempotencyKey: "key-over"}
	_, err := s.Submit(context.Background(), rejected)
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.DailyOrderCapExceeded))

	clock.Set(clock.Now().Add(24 * time.Hour))
	res, err := s.Submit(context.Background(), rejected)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Replayed)
	assert.NotEmpty(t, res.OrderID)
}

func TestSubmit_CancelTransitionsOrder(t *testing.T) {
	s, orders, _ := newSubmitFixture()
	res, err := s.Submit(context.Background(), SubmitRequest{
		PositionID: "pos-1", Side: types.SideBuy, Qty: d("1"), IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), res.OrderID))
	order, err := orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, order.Status)
}
