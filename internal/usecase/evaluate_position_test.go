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
	"github.com/atlas-desktop/volbalance/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fixture struct {
	positions *memrepo.Positions
	configs   *memrepo.Configs
	events    *memrepo.Events
	timeline  *memrepo.Timeline
	clock     *ports.FixedClock
	eval      *EvaluatePosition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		positions: memrepo.NewPositions(),
		configs:   memrepo.NewConfigs(),
		events:    memrepo.NewEvents(),
		timeline:  memrepo.NewTimeline(),
		clock:     ports.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.eval = NewEvaluatePosition(f.positions, f.configs, nil, f.timeline, f.events, f.clock, nil)
	return f
}

func seedPosition(t *testing.T, f *fixture, id string, qty, cash decimal.Decimal) {
	t.Helper()
	pos := domain.NewPosition(id, "tenant-1", "portfolio-1", "ASSET", cash, f.clock.Now())
	pos.Qty = qty
	require.NoError(t, f.positions.Save(context.Background(), pos))
}

func TestEvaluate_InitialAnchorSetsButDoesNotTrade(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("10"), d("1000"))

	price := d("100")
	out, err := f.eval.Evaluate(context.Background(), EvaluateInput{
		TenantID: "tenant-1", PortfolioID: "portfolio-1", PositionID: "pos-1",
		CurrentPrice: &price, Mode: types.ModeLive,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, out.Record.Action)
	assert.True(t, out.Record.AnchorReset)
	assert.Equal(t, "initial", out.Record.AnchorResetReason)
	assert.Nil(t, out.Proposal)

	pos, err := f.positions.Get(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, pos.AnchorSet)
	assert.True(t, pos.AnchorPrice.Equal(price))
}

func TestEvaluate_HoldsWithinBand(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("10"), d("1000"))
	anchor := d("100")
	_, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &anchor})
	require.NoError(t, err)

	price := d("101")
	out, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, out.Record.Action)
	assert.False(t, out.Record.TriggerFired)
}

func TestEvaluate_TriggerFiresDownProposesBuy(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("10"), d("10000"))
	anchor := d("100")
	_, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &anchor})
	require.NoError(t, err)

	price := d("90")
	out, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, types.ActionBuy, out.Record.Action)
	require.NotNil(t, out.Proposal)
	assert.Equal(t, types.SideBuy, out.Proposal.Side)
	assert.True(t, out.Proposal.Qty.GreaterThan(decimal.Zero))
}

func TestEvaluate_TriggerFiresUpProposesSell(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("100"), d("1000"))
	anchor := d("100")
	_, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &anchor})
	require.NoError(t, err)

	price := d("110")
	out, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, types.ActionSell, out.Record.Action)
	require.NotNil(t, out.Proposal)
	assert.Equal(t, types.SideSell, out.Proposal.Side)
}

func TestEvaluate_SkipsBelowMinQty(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("0.01"), d("1"))
	f.configs.SetOrderPolicy("pos-1", types.OrderPolicyConfig{
		MinQty: d("1"), MinNotional: d("1000"), QtyStep: d("0.0001"), LotSize: d("0.0001"),
		ActionBelowMin: types.BelowMinHold,
	})
	anchor := d("100")
	_, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &anchor})
	require.NoError(t, err)

	price := d("90")
	out, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, types.ActionSkip, out.Record.Action)
	assert.Nil(t, out.Proposal)
}

func TestEvaluate_SingleRecordPerTick(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("10"), d("1000"))
	price := d("100")
	_, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &price})
	require.NoError(t, err)

	page, total, err := f.timeline.Query(context.Background(), ports.TimelineQuery{PositionID: "pos-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, page, 1)
}

func TestEvaluate_AnomalyResetsAnchorWithoutTrading(t *testing.T) {
	f := newFixture(t)
	seedPosition(t, f, "pos-1", d("10"), d("1000"))
	anchor := d("100")
	_, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &anchor})
	require.NoError(t, err)

	spike := d("1000")
	out, err := f.eval.Evaluate(context.Background(), EvaluateInput{PositionID: "pos-1", CurrentPrice: &spike})
	require.NoError(t, err)
	assert.True(t, out.Record.AnchorReset)
	assert.Equal(t, "anomaly_detected", out.Record.AnchorResetReason)

	pos, err := f.positions.Get(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, pos.AnchorPrice.Equal(spike))
}
