package simulate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimize_SweepsGridAndPicksBest(t *testing.T) {
	market := &fixedBarsMarket{bars: sampleBars()}
	engine := NewEngine(market, nil)
	base := testConfig()

	grid := Grid{
		TauUp:   []decimal.Decimal{decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.05)},
		TauDown: []decimal.Decimal{decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.05)},
	}

	results, err := Optimize(context.Background(), engine, base, grid)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	best := BestBySharpe(results)
	require.NotNil(t, best)
}
