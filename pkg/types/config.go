package types

import "github.com/shopspring/decimal"

// TriggerConfig controls how far price must deviate from the anchor before
// a rebalancing trade is proposed, and the sizing ratio used once it does.
type TriggerConfig struct {
	TauUp               decimal.Decimal `json:"tauUp" yaml:"tau_up"`
	TauDown             decimal.Decimal `json:"tauDown" yaml:"tau_down"`
	RebalanceRatio      decimal.Decimal `json:"rebalanceRatio" yaml:"rebalance_ratio"`
	AnomalyThreshold    decimal.Decimal `json:"anomalyThreshold" yaml:"anomaly_threshold"`
	AnomalyResetEnabled bool            `json:"anomalyResetEnabled" yaml:"anomaly_reset_enabled"`
}

// DefaultTriggerConfig returns the spec's stated defaults: tauUp = tauDown =
// 3%, rebalance ratio 1.6667, anomaly threshold 50%.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		TauUp:               decimal.NewFromFloat(0.03),
		TauDown:             decimal.NewFromFloat(0.03),
		RebalanceRatio:      decimal.NewFromFloat(1.6667),
		AnomalyThreshold:    decimal.NewFromFloat(0.50),
		AnomalyResetEnabled: true,
	}
}

// Validate checks internal consistency.
func (c TriggerConfig) Validate() error {
	if c.TauUp.IsNegative() || c.TauDown.IsNegative() {
		return errInvalid("trigger thresholds must be non-negative")
	}
	if c.RebalanceRatio.LessThanOrEqual(decimal.Zero) {
		return errInvalid("rebalance ratio must be positive")
	}
	return nil
}

// GuardrailConfig bounds post-trade allocation and caps order frequency.
type GuardrailConfig struct {
	MinStockPct      decimal.Decimal `json:"minStockPct" yaml:"min_stock_pct"`
	MaxStockPct      decimal.Decimal `json:"maxStockPct" yaml:"max_stock_pct"`
	MaxOrdersPerDay  int             `json:"maxOrdersPerDay" yaml:"max_orders_per_day"`
	MaxTradePctOfPos decimal.Decimal `json:"maxTradePctOfPos,omitempty" yaml:"max_trade_pct_of_position,omitempty"`
}

// DefaultGuardrailConfig returns the spec's stated defaults: 25%/75% band.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MinStockPct:     decimal.NewFromFloat(0.25),
		MaxStockPct:     decimal.NewFromFloat(0.75),
		MaxOrdersPerDay: 20,
	}
}

// Validate checks internal consistency.
func (c GuardrailConfig) Validate() error {
	if c.MinStockPct.IsNegative() || c.MaxStockPct.IsNegative() {
		return errInvalid("guardrail bounds must be non-negative")
	}
	if c.MinStockPct.GreaterThan(c.MaxStockPct) {
		return errInvalid("min stock pct must not exceed max stock pct")
	}
	if c.MaxOrdersPerDay <= 0 {
		return errInvalid("max orders per day must be positive")
	}
	return nil
}

// OrderPolicyConfig governs quantization, minimums, commission, and hours
// eligibility for orders on a position.
type OrderPolicyConfig struct {
	MinQty          decimal.Decimal `json:"minQty" yaml:"min_qty"`
	MinNotional     decimal.Decimal `json:"minNotional" yaml:"min_notional"`
	LotSize         decimal.Decimal `json:"lotSize" yaml:"lot_size"`
	QtyStep         decimal.Decimal `json:"qtyStep" yaml:"qty_step"`
	ActionBelowMin  ActionBelowMin  `json:"actionBelowMin" yaml:"action_below_min"`
	CommissionRate  decimal.Decimal `json:"commissionRate" yaml:"commission_rate"`
	AllowAfterHours bool            `json:"allowAfterHours" yaml:"allow_after_hours"`
}

// DefaultOrderPolicyConfig returns sane, spec-consistent defaults.
func DefaultOrderPolicyConfig() OrderPolicyConfig {
	return OrderPolicyConfig{
		MinQty:          decimal.NewFromFloat(0.0001),
		MinNotional:     decimal.NewFromInt(100),
		LotSize:         decimal.NewFromFloat(0.0001),
		QtyStep:         decimal.NewFromFloat(0.0001),
		ActionBelowMin:  BelowMinHold,
		CommissionRate:  decimal.Zero,
		AllowAfterHours: false,
	}
}

// Validate checks internal consistency.
func (c OrderPolicyConfig) Validate() error {
	if c.QtyStep.LessThanOrEqual(decimal.Zero) {
		return errInvalid("qty_step must be positive")
	}
	if c.LotSize.LessThan(decimal.Zero) {
		return errInvalid("lot_size must be non-negative")
	}
	if c.MinQty.IsNegative() || c.MinNotional.IsNegative() {
		return errInvalid("min_qty and min_notional must be non-negative")
	}
	if c.CommissionRate.IsNegative() {
		return errInvalid("commission_rate must be non-negative")
	}
	if c.ActionBelowMin != BelowMinHold && c.ActionBelowMin != BelowMinReject {
		return errInvalid("action_below_min must be hold or reject")
	}
	return nil
}

// RoundDownToStep truncates qty to the nearest qty_step at or below it,
// toward zero (spec §4.1 step 6: "round down to qty_step").
func (c OrderPolicyConfig) RoundDownToStep(qty decimal.Decimal) decimal.Decimal {
	if c.QtyStep.IsZero() {
		return qty
	}
	neg := qty.IsNegative()
	abs := qty.Abs()
	steps := abs.Div(c.QtyStep).Truncate(0)
	rounded := steps.Mul(c.QtyStep)
	if neg {
		rounded = rounded.Neg()
	}
	return rounded
}

// ClampToLot rounds qty down to a multiple of LotSize, if LotSize > 0.
func (c OrderPolicyConfig) ClampToLot(qty decimal.Decimal) decimal.Decimal {
	if c.LotSize.IsZero() {
		return qty
	}
	neg := qty.IsNegative()
	abs := qty.Abs()
	lots := abs.Div(c.LotSize).Truncate(0)
	rounded := lots.Mul(c.LotSize)
	if neg {
		rounded = rounded.Neg()
	}
	return rounded
}

func errInvalid(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
