package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// EvaluationRecord is the denormalized timeline row written exactly once
// per live tick or simulated bar. It is the Explainability view's raw
// material: every field a viewer would need to answer "why did (or didn't)
// the engine trade here" without joining back to configs or logs.
type EvaluationRecord struct {
	ID          string
	TenantID    string
	PortfolioID string
	PositionID  string
	TraceID     string
	Timestamp   time.Time
	Mode        types.EvaluationMode

	EffectivePrice decimal.Decimal
	PriceSource    types.PriceSource
	Open, High, Low, Close, Volume decimal.Decimal
	HasOHLCV                       bool

	AnchorBefore decimal.Decimal
	AnchorAfter  decimal.Decimal
	AnchorReset  bool
	AnchorResetReason string
	DeltaPct     decimal.Decimal

	TauUp, TauDown decimal.Decimal

	TriggerFired     bool
	TriggerDirection types.TriggerDirection
	TriggerReason    string

	GuardrailMinPct, GuardrailMaxPct decimal.Decimal
	StockPctBefore, StockPctAfter    decimal.Decimal
	Allowed                          bool
	BlockReason                      string

	Action       types.EvaluationAction
	IntendedQty  decimal.Decimal
	IntendedValue decimal.Decimal

	QtyBefore, QtyAfter   decimal.Decimal
	CashBefore, CashAfter decimal.Decimal
	StockValueBefore, StockValueAfter decimal.Decimal
	TotalValueBefore, TotalValueAfter decimal.Decimal

	OrderID string

	ExecutionQty        decimal.Decimal
	ExecutionPrice      decimal.Decimal
	ExecutionValue      decimal.Decimal
	ExecutionCommission decimal.Decimal
	HasExecution        bool

	DividendApplied bool
	DividendAmount  decimal.Decimal
}
