package simulate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

type fixedBarsMarket struct {
	bars []ports.Bar
}

func (m *fixedBarsMarket) LatestQuote(_ context.Context, _ string) (ports.Quote, error) {
	return ports.Quote{}, nil
}
func (m *fixedBarsMarket) Bars(_ context.Context, _ string, _, _ time.Time, _ string) ([]ports.Bar, error) {
	return m.bars, nil
}
func (m *fixedBarsMarket) IsMarketOpen(_ context.Context, _ string, _ time.Time) (bool, error) {
	return true, nil
}

func sampleBars() []ports.Bar {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []string{"100", "100", "90", "90", "130", "130", "95"}
	bars := make([]ports.Bar, len(prices))
	for i, p := range prices {
		price, _ := decimal.NewFromString(p)
		bars[i] = ports.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price, High: price, Low: price, Close: price,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func testConfig() Config {
	return Config{
		Ticker:          "ASSET",
		From:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:              time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		InitialCash:     decimal.NewFromInt(10000),
		IntervalMinutes: 1440,
		SimPrice:        types.SimPriceClose,
		Trigger:         types.DefaultTriggerConfig(),
		Guardrail:       types.DefaultGuardrailConfig(),
		OrderPolicy:     types.DefaultOrderPolicyConfig(),
	}
}

func TestEngine_RunIsDeterministic(t *testing.T) {
	market := &fixedBarsMarket{bars: sampleBars()}
	engine := NewEngine(market, nil)
	cfg := testConfig()

	r1, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)
	r2, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, r1.FinalCash.Equal(r2.FinalCash))
	assert.True(t, r1.FinalQty.Equal(r2.FinalQty))
	assert.Equal(t, len(r1.Timeline), len(r2.Timeline))
	assert.Equal(t, len(r1.Trades), len(r2.Trades))

	j1, err := json.Marshal(r1)
	require.NoError(t, err)
	j2, err := json.Marshal(r2)
	require.NoError(t, err)
	assert.Equal(t, string(j1), string(j2), "two runs of the same config must produce byte-identical output, including every order/trade/event/trace id")

	require.NotEmpty(t, r1.Trades)
	assert.Equal(t, "sim-sim-ASSET-trade-0", r1.Trades[0].ID)
}

func TestEngine_FirstBarSetsAnchorWithoutTrading(t *testing.T) {
	market := &fixedBarsMarket{bars: sampleBars()}
	engine := NewEngine(market, nil)
	res, err := engine.Run(context.Background(), testConfig())
	require.NoError(t, err)
	require.NotEmpty(t, res.Timeline)

	first := res.Timeline[len(res.Timeline)-1]
	assert.Equal(t, types.ActionHold, first.Action)
	assert.True(t, first.AnchorReset)
}

func TestEngine_TradesOnLargeDeviation(t *testing.T) {
	market := &fixedBarsMarket{bars: sampleBars()}
	engine := NewEngine(market, nil)
	res, err := engine.Run(context.Background(), testConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Trades)
}

func TestEngine_ComputesBuyAndHoldBaseline(t *testing.T) {
	market := &fixedBarsMarket{bars: sampleBars()}
	engine := NewEngine(market, nil)
	res, err := engine.Run(context.Background(), testConfig())
	require.NoError(t, err)

	expectedReturn := decimal.NewFromInt(95).Sub(decimal.NewFromInt(100)).Div(decimal.NewFromInt(100))
	assert.True(t, res.BuyAndHold.TotalReturn.Equal(expectedReturn))
}
