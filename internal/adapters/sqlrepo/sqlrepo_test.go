package sqlrepo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositions_SaveAndGetRoundTrips(t *testing.T) {
	db := openTestDB(t)
	repo := NewPositions(db)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	p := &domain.Position{
		ID: "pos-1", TenantID: "t1", PortfolioID: "pf-1", AssetSymbol: "SPY",
		Qty: d("10"), Cash: d("500.50"), AnchorPrice: d("420.25"), AnchorSet: true,
		AvgCost: d("415"), TotalCommissionPaid: d("1.25"), TotalDividendsReceived: d("0"),
		Status: domain.PositionActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.Get(ctx, "pos-1")
	require.NoError(t, err)
	assert.True(t, got.Qty.Equal(d("10")))
	assert.True(t, got.Cash.Equal(d("500.50")))
	assert.True(t, got.AnchorSet)
	assert.Equal(t, domain.PositionActive, got.Status)
	assert.True(t, got.CreatedAt.Equal(now))

	list, err := repo.ListByPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pos-1", list[0].ID)
}

func TestPositions_GetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewPositions(db)

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.PositionNotFound))
}

func TestPositions_SaveUpdatesExistingRow(t *testing.T) {
	db := openTestDB(t)
	repo := NewPositions(db)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &domain.Position{ID: "pos-1", TenantID: "t1", PortfolioID: "pf-1", AssetSymbol: "SPY",
		Qty: d("10"), Cash: d("100"), AnchorPrice: d("400"), Status: domain.PositionActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Save(ctx, p))

	p.Qty = d("12")
	p.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.Get(ctx, "pos-1")
	require.NoError(t, err)
	assert.True(t, got.Qty.Equal(d("12")))
}

func TestOrders_SaveGetAndIdempotencyLookup(t *testing.T) {
	db := openTestDB(t)
	repo := NewOrders(db)
	ctx := context.Background()
	now := time.Now().UTC()

	o := domain.NewOrder("ord-1", "t1", "pf-1", "pos-1", types.SideBuy, d("5"), "idem-1", "sig-1", d("0.001"), now)
	require.NoError(t, repo.Save(ctx, o))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderCreated, got.Status)
	assert.True(t, got.Qty.Equal(d("5")))

	byIdem, err := repo.GetByIdempotencyKey(ctx, "pos-1", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", byIdem.ID)

	count, err := repo.CountForPositionOnDate(ctx, "pos-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	list, err := repo.ListByPosition(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestOrders_GetByIdempotencyKeyMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewOrders(db)

	_, err := repo.GetByIdempotencyKey(context.Background(), "pos-1", "nope")
	require.Error(t, err)
	assert.True(t, domainerr.Of(err, domainerr.OrderNotFound))
}

func TestTrades_SaveAndListByOrderAndPosition(t *testing.T) {
	db := openTestDB(t)
	repo := NewTrades(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t1 := domain.NewTrade("tr-1", "t1", "pf-1", "pos-1", "ord-1", types.SideBuy, d("3"), d("100"), d("0.30"), now)
	t2 := domain.NewTrade("tr-2", "t1", "pf-1", "pos-1", "ord-1", types.SideBuy, d("2"), d("101"), d("0.20"), now.Add(time.Second))
	require.NoError(t, repo.Save(ctx, t1))
	require.NoError(t, repo.Save(ctx, t2))

	byOrder, err := repo.ListByOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 2)
	assert.True(t, byOrder[0].Qty.Equal(d("3")))

	byPosition, err := repo.ListByPosition(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, byPosition, 2)
}

func TestIdempotency_ReserveIsOnceOnly(t *testing.T) {
	db := openTestDB(t)
	repo := NewIdempotency(db)
	ctx := context.Background()

	rec := ports.IdempotencyRecord{PositionID: "pos-1", IdempotencyKey: "idem-1", Signature: "sig-1", OrderID: "ord-1"}
	existing, found, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, rec, existing)

	existing, found, err = repo.Reserve(ctx, ports.IdempotencyRecord{PositionID: "pos-1", IdempotencyKey: "idem-1", Signature: "sig-2", OrderID: "ord-2"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sig-1", existing.Signature)
}

func TestIdempotency_AttachOrderID(t *testing.T) {
	db := openTestDB(t)
	repo := NewIdempotency(db)
	ctx := context.Background()

	rec := ports.IdempotencyRecord{PositionID: "pos-1", IdempotencyKey: "idem-1", Signature: "sig-1", OrderID: ""}
	_, _, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, repo.AttachOrderID(ctx, "pos-1", "idem-1", "ord-99"))

	existing, found, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ord-99", existing.OrderID)
}

func TestIdempotency_ReleaseAllowsRetryUnderSameKey(t *testing.T) {
	db := openTestDB(t)
	repo := NewIdempotency(db)
	ctx := context.Background()

	rec := ports.IdempotencyRecord{PositionID: "pos-1", IdempotencyKey: "idem-1", Signature: "sig-1", OrderID: ""}
	_, found, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, repo.Release(ctx, "pos-1", "idem-1"))

	existing, found, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, rec, existing)
}

func TestIdempotency_ReleaseIsNoopOnceAttached(t *testing.T) {
	db := openTestDB(t)
	repo := NewIdempotency(db)
	ctx := context.Background()

	rec := ports.IdempotencyRecord{PositionID: "pos-1", IdempotencyKey: "idem-1", Signature: "sig-1", OrderID: ""}
	_, _, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, repo.AttachOrderID(ctx, "pos-1", "idem-1", "ord-99"))

	require.NoError(t, repo.Release(ctx, "pos-1", "idem-1"))

	existing, found, err := repo.Reserve(ctx, rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ord-99", existing.OrderID)
}

func TestTimeline_SaveAndQueryFiltersAndPaginates(t *testing.T) {
	db := openTestDB(t)
	repo := NewTimeline(db)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := &domain.EvaluationRecord{
			ID: "rec-" + string(rune('a'+i)), PositionID: "pos-1",
			Timestamp: base.Add(time.Duration(i) * time.Hour), Action: types.ActionHold,
		}
		require.NoError(t, repo.Save(ctx, rec))
	}

	rows, total, err := repo.Query(ctx, ports.TimelineQuery{PositionID: "pos-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, rows, 2)
	// Newest first.
	assert.True(t, rows[0].Timestamp.After(rows[1].Timestamp))
}

func TestConfigs_MissingReturnsDefaults(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigs(db)
	ctx := context.Background()

	cfg, err := repo.TriggerConfig(ctx, "pos-unset")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTriggerConfig(), cfg)
}

func TestConfigs_SetAndGetRoundTrips(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigs(db)
	ctx := context.Background()

	want := types.DefaultGuardrailConfig()
	want.MaxOrdersPerDay = 7
	require.NoError(t, repo.SetGuardrail(ctx, "pos-1", want))

	got, err := repo.GuardrailConfig(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, want.MaxOrdersPerDay, got.MaxOrdersPerDay)
}

func TestAlerts_FindActiveSaveAndResolve(t *testing.T) {
	db := openTestDB(t)
	repo := NewAlerts(db)
	ctx := context.Background()
	now := time.Now().UTC()

	a := domain.NewAlert("alert-1", domain.AlertBrokerUnreachable, domain.SeverityCritical, "title", "detail",
		map[string]interface{}{"count": float64(2)}, now)
	require.NoError(t, repo.Save(ctx, a))

	active, err := repo.FindActiveByCondition(ctx, domain.AlertBrokerUnreachable)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "alert-1", active.ID)
	assert.Equal(t, float64(2), active.Metadata["count"])

	listed, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	active.Resolve(now.Add(time.Minute))
	require.NoError(t, repo.Save(ctx, active))

	resolved, err := repo.FindActiveByCondition(ctx, domain.AlertBrokerUnreachable)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestPortfolios_SaveGetAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewPortfolios(db)
	ctx := context.Background()

	pf := &domain.Portfolio{ID: "pf-1", TenantID: "t1", Name: "Main", TradingState: types.TradingRunning, TradingHoursPolicy: types.HoursExtended}
	require.NoError(t, repo.Save(ctx, pf))

	got, err := repo.Get(ctx, "pf-1")
	require.NoError(t, err)
	assert.Equal(t, "Main", got.Name)

	list, err := repo.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
