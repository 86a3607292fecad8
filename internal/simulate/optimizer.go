package simulate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Grid enumerates the trigger/guardrail parameter combinations the
// optimizer sweeps over. A thin driver looping Engine.Run, grounded on the
// teacher's internal/optimization/optimizer.go grid-search shape — this
// engine does not implement anything smarter (no gradient search, no
// Bayesian optimization) since spec §1 scopes the optimizer as a non-core
// harness that simply loops simulate.
type Grid struct {
	TauUp          []decimal.Decimal
	TauDown        []decimal.Decimal
	RebalanceRatio []decimal.Decimal
	MinStockPct    []decimal.Decimal
	MaxStockPct    []decimal.Decimal
}

// RunResult pairs one parameter combination with its simulation result.
type RunResult struct {
	Trigger   types.TriggerConfig
	Guardrail types.GuardrailConfig
	Result    *Result
}

// Optimize runs Engine.Run once per combination in the grid, varying only
// the trigger/guardrail knobs the grid names; every other Config field is
// held fixed at base.
func Optimize(ctx context.Context, engine *Engine, base Config, grid Grid) ([]RunResult, error) {
	tauUps := grid.TauUp
	if len(tauUps) == 0 {
		tauUps = []decimal.Decimal{base.Trigger.TauUp}
	}
	tauDowns := grid.TauDown
	if len(tauDowns) == 0 {
		tauDowns = []decimal.Decimal{base.Trigger.TauDown}
	}
	ratios := grid.RebalanceRatio
	if len(ratios) == 0 {
		ratios = []decimal.Decimal{base.Trigger.RebalanceRatio}
	}
	mins := grid.MinStockPct
	if len(mins) == 0 {
		mins = []decimal.Decimal{base.Guardrail.MinStockPct}
	}
	maxs := grid.MaxStockPct
	if len(maxs) == 0 {
		maxs = []decimal.Decimal{base.Guardrail.MaxStockPct}
	}

	var results []RunResult
	for _, tauUp := range tauUps {
		for _, tauDown := range tauDowns {
			for _, ratio := range ratios {
				for _, minPct := range mins {
					for _, maxPct := range maxs {
						if minPct.GreaterThan(maxPct) {
							continue
						}
						cfg := base
						cfg.Trigger.TauUp = tauUp
						cfg.Trigger.TauDown = tauDown
						cfg.Trigger.RebalanceRatio = ratio
						cfg.Guardrail.MinStockPct = minPct
						cfg.Guardrail.MaxStockPct = maxPct

						res, err := engine.Run(ctx, cfg)
						if err != nil {
							return nil, fmt.Errorf("run grid point tau_up=%s tau_down=%s ratio=%s min=%s max=%s: %w",
								tauUp, tauDown, ratio, minPct, maxPct, err)
						}
						results = append(results, RunResult{Trigger: cfg.Trigger, Guardrail: cfg.Guardrail, Result: res})
					}
				}
			}
		}
	}
	return results, nil
}

// BestBySharpe returns the run with the highest strategy Sharpe ratio, or
// nil if results is empty.
func BestBySharpe(results []RunResult) *RunResult {
	if len(results) == 0 {
		return nil
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Result.Metrics.SharpeRatio.GreaterThan(best.Result.Metrics.SharpeRatio) {
			best = r
		}
	}
	return &best
}
