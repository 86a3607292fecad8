package simulate

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/types"
	"github.com/atlas-desktop/volbalance/pkg/utils"
)

// Metrics is the performance summary computed for both the simulated
// strategy and its buy-and-hold baseline, grounded on the teacher's
// backtester.MetricsCalculator.Calculate output shape, narrowed to the
// fields spec §4.6 names explicitly.
type Metrics struct {
	TotalReturn      decimal.Decimal
	AnnualizedVol    decimal.Decimal
	SharpeRatio      decimal.Decimal
	MaxDrawdown      decimal.Decimal
	TradeCount       int
	TotalCommission  decimal.Decimal
	TotalDividends   decimal.Decimal
}

// ComputeMetrics derives the strategy's performance summary from its
// equity curve and trade log.
func ComputeMetrics(equity []decimal.Decimal, trades []*domain.Trade, periodsPerYear int) Metrics {
	m := Metrics{TradeCount: len(trades)}
	if len(equity) < 2 || equity[0].IsZero() {
		return m
	}

	m.TotalReturn = equity[len(equity)-1].Sub(equity[0]).Div(equity[0])
	m.MaxDrawdown = utils.CalculateMaxDrawdown(equity)

	returns := utils.CalculateReturns(equity)
	m.AnnualizedVol = annualizedVolatility(returns, periodsPerYear)
	m.SharpeRatio = utils.CalculateSharpeRatio(returns, decimal.Zero, periodsPerYear)

	for _, t := range trades {
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
	}
	return m
}

func annualizedVolatility(returns []decimal.Decimal, periodsPerYear int) decimal.Decimal {
	stdDev := utils.CalculateStdDev(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}
	factor := decimal.NewFromFloat(math.Sqrt(float64(periodsPerYear)))
	return stdDev.Mul(factor)
}

// BuyAndHold computes the baseline that invests initialCash at the first
// bar's simulation price and holds through the last bar.
func BuyAndHold(bars []ports.Bar, initialCash decimal.Decimal, field types.SimPriceField, periodsPerYear int) Metrics {
	if len(bars) == 0 || initialCash.IsZero() {
		return Metrics{}
	}

	prices := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		if field == types.SimPriceOpen {
			prices[i] = b.Open
		} else {
			prices[i] = b.Close
		}
	}

	entryPrice := prices[0]
	if entryPrice.IsZero() {
		return Metrics{}
	}
	qty := initialCash.Div(entryPrice)

	equity := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		equity[i] = qty.Mul(p)
	}

	m := Metrics{TradeCount: 1}
	m.TotalReturn = equity[len(equity)-1].Sub(equity[0]).Div(equity[0])
	m.MaxDrawdown = utils.CalculateMaxDrawdown(equity)
	returns := utils.CalculateReturns(equity)
	m.AnnualizedVol = annualizedVolatility(returns, periodsPerYear)
	m.SharpeRatio = utils.CalculateSharpeRatio(returns, decimal.Zero, periodsPerYear)
	return m
}
