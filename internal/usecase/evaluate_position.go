// Package usecase implements the engine's three orchestrated operations:
// EvaluatePosition (C5), SubmitOrder (C6), and ExecuteOrder (C7). Each use
// case is a small struct constructed with its ports; no use case reaches
// for a global or reads the wall clock directly.
package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/domain/services"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// OrderProposal is what EvaluatePosition hands back when the trigger fires
// and every downstream check passes. The caller (the live orchestrator or
// the simulation engine) decides whether and how to submit it.
type OrderProposal struct {
	Side                types.OrderSide
	Qty                 decimal.Decimal
	Notional            decimal.Decimal
	CommissionEstimate  decimal.Decimal
	PostTradePct        decimal.Decimal
}

// EvaluateInput carries everything one evaluation tick needs beyond the
// injected ports.
type EvaluateInput struct {
	TenantID    string
	PortfolioID string
	PositionID  string

	// CurrentPrice, when set, bypasses MarketData (used by simulation
	// replay to evaluate against a historical bar's close/open).
	CurrentPrice *decimal.Decimal
	PriceSource  types.PriceSource
	Bar          *ports.Bar

	Mode    types.EvaluationMode
	TraceID string
}

// EvaluateOutcome is the result of one evaluation tick.
type EvaluateOutcome struct {
	Record   *domain.EvaluationRecord
	Proposal *OrderProposal
	TraceID  string
}

// EvaluatePosition orchestrates one evaluation tick: resolve price, run the
// pure trigger/sizer/guardrail services, quantize to order policy, and
// write exactly one EvaluationRecord.
type EvaluatePosition struct {
	Positions ports.PositionsRepo
	Configs   ports.ConfigRepo
	Market    ports.MarketData
	Timeline  ports.TimelineRepo
	Events    ports.EventsRepo
	Clock     ports.Clock
	Logger    *zap.Logger
	IDs       ports.IDGenerator

	Trigger   services.PriceTrigger
	Sizer     services.Sizer
	Guardrail services.GuardrailEvaluator
}

// NewEvaluatePosition constructs an EvaluatePosition use case from its
// ports. IDs defaults to ports.UUIDGenerator{}; the simulation engine
// overrides it via WithIDGenerator so repeated runs emit identical ids.
func NewEvaluatePosition(positions ports.PositionsRepo, configs ports.ConfigRepo, market ports.MarketData, timeline ports.TimelineRepo, events ports.EventsRepo, clock ports.Clock, logger *zap.Logger) *EvaluatePosition {
	return &EvaluatePosition{
		Positions: positions,
		Configs:   configs,
		Market:    market,
		Timeline:  timeline,
		Events:    events,
		Clock:     clock,
		Logger:    logger,
		IDs:       ports.UUIDGenerator{},
		Trigger:   services.NewPriceTrigger(),
		Sizer:     services.NewSizer(),
		Guardrail: services.NewGuardrailEvaluator(),
	}
}

// WithIDGenerator overrides the id generator, returning e for chaining.
func (e *EvaluatePosition) WithIDGenerator(ids ports.IDGenerator) *EvaluatePosition {
	e.IDs = ids
	return e
}

// Evaluate runs one tick for a position and returns exactly one
// EvaluationRecord plus an optional OrderProposal when a trade is warranted.
func (e *EvaluatePosition) Evaluate(ctx context.Context, in EvaluateInput) (*EvaluateOutcome, error) {
	now := e.Clock.Now()
	traceID := in.TraceID
	if traceID == "" {
		traceID = e.IDs.NewID("trace")
	}

	position, err := e.Positions.Get(ctx, in.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.PositionNotFound, in.PositionID, err)
	}

	triggerCfg, err := e.Configs.TriggerConfig(ctx, in.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "trigger config", err)
	}
	guardrailCfg, err := e.Configs.GuardrailConfig(ctx, in.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "guardrail config", err)
	}
	orderPolicy, err := e.Configs.OrderPolicyConfig(ctx, in.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "order policy config", err)
	}

	rec := &domain.EvaluationRecord{
		ID:          e.IDs.NewID("evaluation_record"),
		TenantID:    in.TenantID,
		PortfolioID: in.PortfolioID,
		PositionID:  in.PositionID,
		TraceID:     traceID,
		Timestamp:   now,
		Mode:        in.Mode,
		TauUp:       triggerCfg.TauUp,
		TauDown:     triggerCfg.TauDown,
		GuardrailMinPct: guardrailCfg.MinStockPct,
		GuardrailMaxPct: guardrailCfg.MaxStockPct,
	}

	price, source, err := e.resolvePrice(ctx, in, position.AssetSymbol)
	if err != nil {
		rec.Action = types.ActionSkip
		rec.BlockReason = string(domainerr.PriceUnavailable)
		e.finalize(ctx, rec, position, decimal.Zero)
		return &EvaluateOutcome{Record: rec, TraceID: traceID}, nil
	}
	rec.EffectivePrice = price
	rec.PriceSource = source
	if in.Bar != nil {
		rec.HasOHLCV = true
		rec.Open, rec.High, rec.Low, rec.Close, rec.Volume = in.Bar.Open, in.Bar.High, in.Bar.Low, in.Bar.Close, in.Bar.Volume
	}

	anchorBefore := position.AnchorPrice
	rec.AnchorBefore = anchorBefore
	rec.QtyBefore = position.Qty
	rec.CashBefore = position.Cash
	rec.StockValueBefore = position.StockValue(price)
	rec.TotalValueBefore = position.TotalValue(price)
	rec.StockPctBefore = position.StockPct(price)

	if !position.AnchorSet {
		if err := position.SetAnchor(price, now); err != nil {
			return nil, err
		}
		rec.AnchorReset = true
		rec.AnchorResetReason = "initial"
		e.emit(ctx, domain.EventAnchorReset, traceID, "", in.TenantID, in.PortfolioID, map[string]interface{}{
			"position_id": in.PositionID, "reason": "initial", "price": price.String(),
		})
	} else if triggerCfg.AnomalyResetEnabled && e.Trigger.IsAnomalous(anchorBefore, price, triggerCfg.AnomalyThreshold) {
		old := position.AnchorPrice
		if err := position.SetAnchor(price, now); err != nil {
			return nil, err
		}
		rec.AnchorReset = true
		rec.AnchorResetReason = "anomaly_detected"
		e.emit(ctx, domain.EventAnchorReset, traceID, "", in.TenantID, in.PortfolioID, map[string]interface{}{
			"position_id": in.PositionID, "reason": "anomaly_detected", "old": old.String(), "new": price.String(),
		})
	}
	rec.AnchorAfter = position.AnchorPrice

	trig := e.Trigger.Evaluate(position.AnchorPrice, price, triggerCfg.TauUp, triggerCfg.TauDown)
	rec.DeltaPct = trig.DeltaPct
	rec.TriggerFired = trig.Fired
	rec.TriggerDirection = trig.Direction
	rec.TriggerReason = trig.Reason
	e.emit(ctx, domain.EventTriggerEvaluated, traceID, "", in.TenantID, in.PortfolioID, map[string]interface{}{
		"position_id": in.PositionID, "fired": trig.Fired, "direction": string(trig.Direction), "reason": trig.Reason,
	})

	if !trig.Fired {
		rec.Action = types.ActionHold
		e.finalize(ctx, rec, position, price)
		return &EvaluateOutcome{Record: rec, TraceID: traceID}, nil
	}

	raw := e.Sizer.RawSize(position.AnchorPrice, price, position.Qty, position.Cash, triggerCfg.RebalanceRatio)
	side := types.SideBuy
	if raw.LessThan(decimal.Zero) {
		side = types.SideSell
	}

	state := services.PositionState{Qty: position.Qty, Cash: position.Cash}
	trim := e.Guardrail.TrimToBounds(side, raw, state, guardrailCfg, price)

	magnitude := trim.Qty.Abs()
	magnitude = orderPolicy.RoundDownToStep(magnitude)
	magnitude = orderPolicy.ClampToLot(magnitude)

	notional := magnitude.Mul(price)
	commissionEstimate := notional.Mul(orderPolicy.CommissionRate)

	e.emit(ctx, domain.EventGuardrailEvaluated, traceID, "", in.TenantID, in.PortfolioID, map[string]interface{}{
		"position_id": in.PositionID, "side": string(side), "raw_qty": raw.String(), "trimmed_qty": trim.Qty.String(), "trimmed": trim.Trimmed,
	})

	if magnitude.LessThan(orderPolicy.MinQty) || notional.LessThan(orderPolicy.MinNotional) {
		rec.Action = types.ActionSkip
		rec.BlockReason = string(domainerr.BelowMinQty)
		rec.IntendedQty = magnitude
		rec.IntendedValue = notional
		e.finalize(ctx, rec, position, price)
		return &EvaluateOutcome{Record: rec, TraceID: traceID}, nil
	}

	if side == types.SideBuy {
		if position.Cash.LessThan(notional.Add(commissionEstimate)) {
			rec.Action = types.ActionSkip
			rec.BlockReason = string(domainerr.InsufficientCash)
			rec.IntendedQty = magnitude
			rec.IntendedValue = notional
			e.finalize(ctx, rec, position, price)
			return &EvaluateOutcome{Record: rec, TraceID: traceID}, nil
		}
	} else {
		if position.Qty.LessThan(magnitude) {
			rec.Action = types.ActionSkip
			rec.BlockReason = string(domainerr.InsufficientQty)
			rec.IntendedQty = magnitude
			rec.IntendedValue = notional
			e.finalize(ctx, rec, position, price)
			return &EvaluateOutcome{Record: rec, TraceID: traceID}, nil
		}
	}

	postPct := e.Guardrail.PostTradePct(side, magnitude, state, price)

	if side == types.SideBuy {
		rec.Action = types.ActionBuy
	} else {
		rec.Action = types.ActionSell
	}
	rec.Allowed = true
	rec.IntendedQty = magnitude
	rec.IntendedValue = notional
	rec.StockPctAfter = postPct

	e.finalize(ctx, rec, position, price)

	proposal := &OrderProposal{
		Side:               side,
		Qty:                magnitude,
		Notional:           notional,
		CommissionEstimate: commissionEstimate,
		PostTradePct:       postPct,
	}
	return &EvaluateOutcome{Record: rec, Proposal: proposal, TraceID: traceID}, nil
}

// SkipClosedMarket records a SKIP evaluation for a tick that the caller
// chose not to run because the market is closed and the position's order
// policy disallows after-hours trading. It writes through the same
// EvaluationRecord/finalize path as every other skip reason so the
// Explainability timeline sees one consistent shape regardless of why a
// tick produced no trade.
func (e *EvaluatePosition) SkipClosedMarket(ctx context.Context, in EvaluateInput) (*EvaluateOutcome, error) {
	now := e.Clock.Now()
	traceID := in.TraceID
	if traceID == "" {
		traceID = e.IDs.NewID("trace")
	}

	position, err := e.Positions.Get(ctx, in.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.PositionNotFound, in.PositionID, err)
	}

	rec := &domain.EvaluationRecord{
		ID:          e.IDs.NewID("evaluation_record"),
		TenantID:    in.TenantID,
		PortfolioID: in.PortfolioID,
		PositionID:  in.PositionID,
		TraceID:     traceID,
		Timestamp:   now,
		Mode:        in.Mode,
		Action:      types.ActionSkip,
		BlockReason: string(domainerr.ClosedMarket),
	}
	e.finalize(ctx, rec, position, decimal.Zero)
	return &EvaluateOutcome{Record: rec, TraceID: traceID}, nil
}

func (e *EvaluatePosition) resolvePrice(ctx context.Context, in EvaluateInput, assetSymbol string) (decimal.Decimal, types.PriceSource, error) {
	if in.CurrentPrice != nil {
		source := in.PriceSource
		if source == "" {
			source = types.SourceSimulated
		}
		return *in.CurrentPrice, source, nil
	}
	q, err := e.Market.LatestQuote(ctx, assetSymbol)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("resolve price: %w", err)
	}
	return q.Price, q.Source, nil
}

// finalize persists the position (anchor/updated_at may have changed even
// with no trade) and writes the evaluation record.
func (e *EvaluatePosition) finalize(ctx context.Context, rec *domain.EvaluationRecord, position *domain.Position, price decimal.Decimal) {
	rec.QtyAfter = position.Qty
	rec.CashAfter = position.Cash
	if !price.IsZero() {
		rec.StockValueAfter = position.StockValue(price)
		rec.TotalValueAfter = position.TotalValue(price)
		if rec.StockPctAfter.IsZero() {
			rec.StockPctAfter = position.StockPct(price)
		}
	}
	if err := e.Positions.Save(ctx, position); err != nil && e.Logger != nil {
		e.Logger.Error("save position after evaluation", zap.Error(err), zap.String("position_id", position.ID))
	}
	if err := e.Timeline.Save(ctx, rec); err != nil && e.Logger != nil {
		e.Logger.Error("save evaluation record", zap.Error(err), zap.String("position_id", position.ID))
	}
}

func (e *EvaluatePosition) emit(ctx context.Context, eventType domain.EventType, traceID, parentEventID, tenantID, portfolioID string, payload map[string]interface{}) {
	ev := domain.NewEvent(e.IDs.NewID("event"), e.Clock.Now(), eventType, traceID, parentEventID, tenantID, portfolioID, "", "evaluate_position", payload)
	if err := e.Events.Append(ctx, ev); err != nil && e.Logger != nil {
		e.Logger.Error("append event", zap.Error(err), zap.String("event_type", string(eventType)))
	}
}
