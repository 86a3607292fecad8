package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

func TestSynthetic_BarsIsDeterministicAcrossCalls(t *testing.T) {
	cfg := SyntheticConfig{AssetSymbol: "SPY", StartPrice: decimal.NewFromInt(420), DailyVol: 0.01, Seed: 42, Interval: 24 * time.Hour}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(10 * 24 * time.Hour)

	f1 := NewSynthetic(cfg)
	bars1, err := f1.Bars(context.Background(), "SPY", from, to, "1d")
	require.NoError(t, err)

	f2 := NewSynthetic(cfg)
	bars2, err := f2.Bars(context.Background(), "SPY", from, to, "1d")
	require.NoError(t, err)

	require.Equal(t, len(bars1), len(bars2))
	require.NotEmpty(t, bars1)
	for i := range bars1 {
		assert.True(t, bars1[i].Close.Equal(bars2[i].Close), "bar %d close mismatch", i)
		assert.True(t, bars1[i].Timestamp.Equal(bars2[i].Timestamp))
	}
}

func TestSynthetic_DifferentSeedsDiverge(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(5 * 24 * time.Hour)

	f1 := NewSynthetic(SyntheticConfig{AssetSymbol: "SPY", StartPrice: decimal.NewFromInt(420), DailyVol: 0.05, Seed: 1, Interval: 24 * time.Hour})
	f2 := NewSynthetic(SyntheticConfig{AssetSymbol: "SPY", StartPrice: decimal.NewFromInt(420), DailyVol: 0.05, Seed: 2, Interval: 24 * time.Hour})

	bars1, err := f1.Bars(context.Background(), "SPY", from, to, "1d")
	require.NoError(t, err)
	bars2, err := f2.Bars(context.Background(), "SPY", from, to, "1d")
	require.NoError(t, err)

	require.NotEmpty(t, bars1)
	require.Equal(t, len(bars1), len(bars2))
	diverged := false
	for i := range bars1 {
		if !bars1[i].Close.Equal(bars2[i].Close) {
			diverged = true
			break
		}
	}
	assert.True(t, diverged, "different seeds should produce different price paths")
}

func TestSynthetic_LatestQuoteReturnsLastBarClose(t *testing.T) {
	cfg := SyntheticConfig{AssetSymbol: "SPY", StartPrice: decimal.NewFromInt(420), DailyVol: 0.01, Seed: 7, Interval: time.Hour}
	f := NewSynthetic(cfg)

	q, err := f.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, types.SourceSimulated, q.Source)
	assert.True(t, q.Price.IsPositive())
	require.NotNil(t, q.Bar)
	assert.True(t, q.Price.Equal(q.Bar.Close))
}

func TestSynthetic_UnknownAssetErrors(t *testing.T) {
	f := NewSynthetic()
	_, err := f.LatestQuote(context.Background(), "UNKNOWN")
	assert.Error(t, err)
}

func TestSynthetic_IsMarketOpenRespectsPolicy(t *testing.T) {
	f := NewSynthetic(
		SyntheticConfig{AssetSymbol: "SPY", MarketHours: types.HoursOpenOnly},
		SyntheticConfig{AssetSymbol: "BTC", MarketHours: types.HoursExtended},
	)

	// Saturday, well outside NYSE hours.
	weekend := time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)
	open, err := f.IsMarketOpen(context.Background(), "SPY", weekend)
	require.NoError(t, err)
	assert.False(t, open)

	open, err = f.IsMarketOpen(context.Background(), "BTC", weekend)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestSynthetic_BarsFiltersToRequestedRange(t *testing.T) {
	cfg := SyntheticConfig{AssetSymbol: "SPY", StartPrice: decimal.NewFromInt(420), DailyVol: 0.01, Seed: 3, Interval: 24 * time.Hour}
	f := NewSynthetic(cfg)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(30 * 24 * time.Hour)

	all, err := f.Bars(context.Background(), "SPY", from, to, "1d")
	require.NoError(t, err)
	require.True(t, len(all) > 10)

	narrowFrom := from.Add(5 * 24 * time.Hour)
	narrowTo := from.Add(10 * 24 * time.Hour)
	narrow, err := f.Bars(context.Background(), "SPY", narrowFrom, narrowTo, "1d")
	require.NoError(t, err)
	for _, b := range narrow {
		assert.False(t, b.Timestamp.Before(narrowFrom))
		assert.False(t, b.Timestamp.After(narrowTo))
	}
}
