// Package explain builds the Explainability timeline: a denormalized,
// filterable, paginated view joining stored EvaluationRecord rows with the
// Orders and Trades they produced. It is grounded on the original
// implementation's ExplainabilityTimelineService
// (application/services/explainability_timeline_service.py), carrying over
// its filter/aggregate/paginate semantics verbatim while replacing its
// loosely-typed dict plumbing with the typed EvaluationRecord/Order/Trade
// entities this repo already has.
package explain

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// ExecutionStatus classifies how much of a row's order has filled.
type ExecutionStatus string

const (
	ExecutionFilled  ExecutionStatus = "FILLED"
	ExecutionPartial ExecutionStatus = "PARTIAL"
	ExecutionNone    ExecutionStatus = "NONE"
)

// Row is one Explainability timeline entry: an EvaluationRecord enriched,
// when it carries an order_id, with that order's status and aggregated
// trade execution details. Field grouping mirrors spec §4.7 and the
// original row's Group 1-10 layout.
type Row struct {
	*domain.EvaluationRecord

	OrderStatus     types.OrderStatus
	BrokerOrderID   string
	BrokerStatus    string
	ExecutionStatus ExecutionStatus

	// EnrichedExecutionQty/Price/Value/Commission override the record's own
	// (possibly stale or absent) execution fields once the owning order and
	// its trades are joined in.
	EnrichedExecutionQty        decimal.Decimal
	EnrichedExecutionPrice      decimal.Decimal
	EnrichedExecutionValue      decimal.Decimal
	EnrichedExecutionCommission decimal.Decimal
}

// Filter narrows which rows Build returns. Zero values mean "no filter" for
// that dimension.
type Filter struct {
	Actions       []types.EvaluationAction
	OrderStatuses []types.OrderStatus
}

// Aggregation selects how Build collapses same-day rows.
type Aggregation string

const (
	AggregateDaily Aggregation = "daily"
	AggregateAll   Aggregation = "all"
)

// Timeline is Build's response: the paginated, enriched row set plus the
// counts and echoed parameters a client needs to render and re-page.
type Timeline struct {
	Rows         []Row
	TotalRows    int
	FilteredRows int
	Offset       int
	Limit        int
	PositionID   string
	Aggregation  Aggregation
}

// Service builds Explainability timelines by joining a TimelineRepo with
// OrdersRepo/TradesRepo.
type Service struct {
	Timeline ports.TimelineRepo
	Orders   ports.OrdersRepo
	Trades   ports.TradesRepo
}

// NewService constructs an explainability Service.
func NewService(timeline ports.TimelineRepo, orders ports.OrdersRepo, trades ports.TradesRepo) *Service {
	return &Service{Timeline: timeline, Orders: orders, Trades: trades}
}

// Build implements spec §4.7's Build contract: fetch, enrich, filter,
// aggregate, sort newest-first, paginate.
func (s *Service) Build(ctx context.Context, q ports.TimelineQuery, filter Filter, aggregation Aggregation, offset, limit int) (*Timeline, error) {
	records, total, err := s.Timeline.Query(ctx, ports.TimelineQuery{
		PositionID: q.PositionID,
		From:       q.From,
		To:         q.To,
		// Unfiltered, unpaginated fetch: aggregation/filtering/pagination is
		// this service's job, not the repo's. A large limit asks the repo
		// for everything in range; memrepo caps at 2000 regardless.
		Limit: 1 << 30,
	})
	if err != nil {
		return nil, fmt.Errorf("explain: query timeline: %w", err)
	}

	rows, err := s.enrich(ctx, records)
	if err != nil {
		return nil, err
	}

	rows = applyFilter(rows, filter)

	if aggregation == "" {
		aggregation = AggregateDaily
	}
	if aggregation == AggregateDaily {
		rows = aggregateDaily(rows)
	}
	filteredCount := len(rows)

	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })

	if offset > len(rows) {
		offset = len(rows)
	}
	if limit <= 0 || limit > 2000 {
		limit = 2000
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[offset:end]

	return &Timeline{
		Rows:         page,
		TotalRows:    total,
		FilteredRows: filteredCount,
		Offset:       offset,
		Limit:        limit,
		PositionID:   q.PositionID,
		Aggregation:  aggregation,
	}, nil
}

// enrich joins each record to its order (if any) and that order's trades,
// per spec §4.7's enrichment rule.
func (s *Service) enrich(ctx context.Context, records []*domain.EvaluationRecord) ([]Row, error) {
	rows := make([]Row, len(records))
	orderCache := make(map[string]*domain.Order)
	tradeCache := make(map[string][]*domain.Trade)

	for i, rec := range records {
		row := Row{EvaluationRecord: rec}
		if rec.OrderID == "" {
			rows[i] = row
			continue
		}

		order, ok := orderCache[rec.OrderID]
		if !ok {
			var err error
			order, err = s.Orders.Get(ctx, rec.OrderID)
			if err != nil {
				order = nil
			}
			orderCache[rec.OrderID] = order
		}
		if order == nil {
			rows[i] = row
			continue
		}

		row.OrderStatus = order.Status
		row.BrokerOrderID = order.BrokerOrderID
		row.BrokerStatus = order.BrokerStatus
		row.ExecutionStatus = executionStatus(order)

		trades, ok := tradeCache[rec.OrderID]
		if !ok {
			var err error
			trades, err = s.Trades.ListByOrder(ctx, rec.OrderID)
			if err != nil {
				trades = nil
			}
			tradeCache[rec.OrderID] = trades
		}
		if len(trades) > 0 {
			qty, price, value, commission := aggregateTrades(trades)
			row.EnrichedExecutionQty = qty
			row.EnrichedExecutionPrice = price
			row.EnrichedExecutionValue = value
			row.EnrichedExecutionCommission = commission
		} else if order.HasFillPrice {
			row.EnrichedExecutionQty = order.FilledQty
			row.EnrichedExecutionPrice = order.AvgFillPrice
			row.EnrichedExecutionValue = order.AvgFillPrice.Mul(order.FilledQty)
			row.EnrichedExecutionCommission = order.TotalCommission
		}
		rows[i] = row
	}
	return rows, nil
}

// aggregateTrades computes execution_qty/price/value/commission exactly as
// spec §4.7 defines them: qty is the sum of absolute trade quantities,
// price is the qty-weighted average, value is price*qty, commission sums.
func aggregateTrades(trades []*domain.Trade) (qty, price, value, commission decimal.Decimal) {
	var weighted decimal.Decimal
	for _, t := range trades {
		absQty := t.Qty.Abs()
		qty = qty.Add(absQty)
		weighted = weighted.Add(absQty.Mul(t.Price))
		commission = commission.Add(t.Commission)
	}
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero, commission
	}
	price = weighted.Div(qty)
	value = price.Mul(qty)
	return qty, price, value, commission
}

func executionStatus(o *domain.Order) ExecutionStatus {
	switch o.Status {
	case types.OrderFilled:
		return ExecutionFilled
	case types.OrderPartial:
		return ExecutionPartial
	case types.OrderRejected, types.OrderCancelled:
		return ExecutionNone
	default:
		if o.FilledQty.IsPositive() {
			return ExecutionPartial
		}
		return ExecutionNone
	}
}

func applyFilter(rows []Row, f Filter) []Row {
	if len(f.Actions) == 0 && len(f.OrderStatuses) == 0 {
		return rows
	}
	actionSet := make(map[types.EvaluationAction]bool, len(f.Actions))
	for _, a := range f.Actions {
		actionSet[a] = true
	}
	statusSet := make(map[types.OrderStatus]bool, len(f.OrderStatuses))
	for _, st := range f.OrderStatuses {
		statusSet[st] = true
	}

	out := rows[:0:0]
	for _, r := range rows {
		if len(actionSet) > 0 && !actionSet[r.Action] {
			continue
		}
		if len(statusSet) > 0 && !statusSet[r.OrderStatus] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// aggregateDaily implements spec §4.7's daily granularity rule: per UTC
// calendar day, if any action row (BUY/SELL/SKIP) exists, return all of
// them sorted by time; otherwise return the day's first (HOLD) row.
func aggregateDaily(rows []Row) []Row {
	byDate := make(map[string][]Row)
	order := make([]string, 0)
	for _, r := range rows {
		key := r.Timestamp.UTC().Format("2006-01-02")
		if _, ok := byDate[key]; !ok {
			order = append(order, key)
		}
		byDate[key] = append(byDate[key], r)
	}
	sort.Strings(order)

	var out []Row
	for _, date := range order {
		dayRows := byDate[date]
		var actionRows []Row
		for _, r := range dayRows {
			if r.Action == types.ActionBuy || r.Action == types.ActionSell || r.Action == types.ActionSkip {
				actionRows = append(actionRows, r)
			}
		}
		if len(actionRows) > 0 {
			sort.Slice(actionRows, func(i, j int) bool { return actionRows[i].Timestamp.Before(actionRows[j].Timestamp) })
			out = append(out, actionRows...)
			continue
		}
		sort.Slice(dayRows, func(i, j int) bool { return dayRows[i].Timestamp.Before(dayRows[j].Timestamp) })
		out = append(out, dayRows[0])
	}
	return out
}
