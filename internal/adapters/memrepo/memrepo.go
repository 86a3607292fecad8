// Package memrepo implements every repository port with in-memory maps
// guarded by a mutex. It backs unit tests and the simulation engine, where
// durability is irrelevant and speed matters.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Positions is an in-memory PositionsRepo.
type Positions struct {
	mu   sync.RWMutex
	byID map[string]*domain.Position
}

// NewPositions constructs an empty in-memory position store.
func NewPositions() *Positions {
	return &Positions{byID: make(map[string]*domain.Position)}
}

func (r *Positions) Get(_ context.Context, id string) (*domain.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domainerr.New(domainerr.PositionNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *Positions) Save(_ context.Context, p *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *Positions) ListByPortfolio(_ context.Context, portfolioID string) ([]*domain.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Position
	for _, p := range r.byID {
		if p.PortfolioID == portfolioID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Portfolios is an in-memory PortfoliosRepo.
type Portfolios struct {
	mu   sync.RWMutex
	byID map[string]*domain.Portfolio
}

// NewPortfolios constructs an empty in-memory portfolio store.
func NewPortfolios() *Portfolios {
	return &Portfolios{byID: make(map[string]*domain.Portfolio)}
}

func (r *Portfolios) Get(_ context.Context, id string) (*domain.Portfolio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domainerr.New(domainerr.PortfolioNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *Portfolios) Save(_ context.Context, p *domain.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *Portfolios) List(_ context.Context, tenantID string) ([]*domain.Portfolio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Portfolio
	for _, p := range r.byID {
		if tenantID == "" || p.TenantID == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Orders is an in-memory OrdersRepo.
type Orders struct {
	mu             sync.RWMutex
	byID           map[string]*domain.Order
	byIdempotency  map[string]string // positionID|key -> orderID
}

// NewOrders constructs an empty in-memory order store.
func NewOrders() *Orders {
	return &Orders{byID: make(map[string]*domain.Order), byIdempotency: make(map[string]string)}
}

func (r *Orders) Get(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, domainerr.New(domainerr.OrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (r *Orders) GetByIdempotencyKey(_ context.Context, positionID, idempotencyKey string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdempotency[positionID+"|"+idempotencyKey]
	if !ok {
		return nil, domainerr.New(domainerr.OrderNotFound, idempotencyKey)
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *Orders) Save(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.byID[o.ID] = &cp
	r.byIdempotency[o.PositionID+"|"+o.IdempotencyKey] = o.ID
	return nil
}

func (r *Orders) CountForPositionOnDate(_ context.Context, positionID string, date time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	y, m, d := date.UTC().Date()
	count := 0
	for _, o := range r.byID {
		if o.PositionID != positionID {
			continue
		}
		oy, om, od := o.CreatedAt.UTC().Date()
		if oy == y && om == m && od == d {
			count++
		}
	}
	return count, nil
}

func (r *Orders) ListByPosition(_ context.Context, positionID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.byID {
		if o.PositionID == positionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Trades is an in-memory TradesRepo.
type Trades struct {
	mu   sync.RWMutex
	list []*domain.Trade
}

// NewTrades constructs an empty in-memory trade store.
func NewTrades() *Trades { return &Trades{} }

func (r *Trades) Save(_ context.Context, t *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.list = append(r.list, &cp)
	return nil
}

func (r *Trades) ListByOrder(_ context.Context, orderID string) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Trade
	for _, t := range r.list {
		if t.OrderID == orderID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Trades) ListByPosition(_ context.Context, positionID string) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Trade
	for _, t := range r.list {
		if t.PositionID == positionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Events is an in-memory EventsRepo, appending to one slice per trace id
// for ListByTrace.
type Events struct {
	mu      sync.RWMutex
	byTrace map[string][]domain.Event
}

// NewEvents constructs an empty in-memory event store.
func NewEvents() *Events { return &Events{byTrace: make(map[string][]domain.Event)} }

func (r *Events) Append(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTrace[e.TraceID] = append(r.byTrace[e.TraceID], e)
	return nil
}

func (r *Events) ListByTrace(_ context.Context, traceID string) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, len(r.byTrace[traceID]))
	copy(out, r.byTrace[traceID])
	return out, nil
}

// Idempotency is an in-memory IdempotencyRepo.
type Idempotency struct {
	mu   sync.Mutex
	byID map[string]ports.IdempotencyRecord
}

// NewIdempotency constructs an empty in-memory idempotency store.
func NewIdempotency() *Idempotency {
	return &Idempotency{byID: make(map[string]ports.IdempotencyRecord)}
}

func (r *Idempotency) Reserve(_ context.Context, rec ports.IdempotencyRecord) (ports.IdempotencyRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rec.PositionID + "|" + rec.IdempotencyKey
	if existing, ok := r.byID[key]; ok {
		return existing, true, nil
	}
	r.byID[key] = rec
	return ports.IdempotencyRecord{}, false, nil
}

func (r *Idempotency) AttachOrderID(_ context.Context, positionID, idempotencyKey, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := positionID + "|" + idempotencyKey
	rec := r.byID[key]
	rec.OrderID = orderID
	r.byID[key] = rec
	return nil
}

func (r *Idempotency) Release(_ context.Context, positionID, idempotencyKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := positionID + "|" + idempotencyKey
	if rec, ok := r.byID[key]; ok && rec.OrderID == "" {
		delete(r.byID, key)
	}
	return nil
}

// Timeline is an in-memory TimelineRepo.
type Timeline struct {
	mu   sync.RWMutex
	rows []*domain.EvaluationRecord
}

// NewTimeline constructs an empty in-memory timeline store.
func NewTimeline() *Timeline { return &Timeline{} }

func (r *Timeline) Save(_ context.Context, rec *domain.EvaluationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *Timeline) Query(_ context.Context, q ports.TimelineQuery) ([]*domain.EvaluationRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.EvaluationRecord
	total := 0
	for _, row := range r.rows {
		if q.PositionID != "" && row.PositionID != q.PositionID {
			continue
		}
		total++
		if !q.From.IsZero() && row.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && row.Timestamp.After(q.To) {
			continue
		}
		matched = append(matched, row)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	offset := q.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	limit := q.Limit
	if limit <= 0 || limit > 2000 {
		limit = 2000
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]*domain.EvaluationRecord, end-offset)
	copy(page, matched[offset:end])

	return page, total, nil
}

// Configs is an in-memory ConfigRepo backed by one default config set shared
// by every position, with optional per-position overrides.
type Configs struct {
	mu         sync.RWMutex
	trigger    map[string]types.TriggerConfig
	guardrail  map[string]types.GuardrailConfig
	orderPolicy map[string]types.OrderPolicyConfig
	defaultTrigger    types.TriggerConfig
	defaultGuardrail  types.GuardrailConfig
	defaultOrderPolicy types.OrderPolicyConfig
}

// NewConfigs constructs a ConfigRepo seeded with the spec's default configs.
func NewConfigs() *Configs {
	return &Configs{
		trigger:            make(map[string]types.TriggerConfig),
		guardrail:          make(map[string]types.GuardrailConfig),
		orderPolicy:        make(map[string]types.OrderPolicyConfig),
		defaultTrigger:     types.DefaultTriggerConfig(),
		defaultGuardrail:   types.DefaultGuardrailConfig(),
		defaultOrderPolicy: types.DefaultOrderPolicyConfig(),
	}
}

// SetTrigger overrides the trigger config for one position.
func (c *Configs) SetTrigger(positionID string, cfg types.TriggerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trigger[positionID] = cfg
}

// SetGuardrail overrides the guardrail config for one position.
func (c *Configs) SetGuardrail(positionID string, cfg types.GuardrailConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guardrail[positionID] = cfg
}

// SetOrderPolicy overrides the order-policy config for one position.
func (c *Configs) SetOrderPolicy(positionID string, cfg types.OrderPolicyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderPolicy[positionID] = cfg
}

func (c *Configs) TriggerConfig(_ context.Context, positionID string) (types.TriggerConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cfg, ok := c.trigger[positionID]; ok {
		return cfg, nil
	}
	return c.defaultTrigger, nil
}

func (c *Configs) GuardrailConfig(_ context.Context, positionID string) (types.GuardrailConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cfg, ok := c.guardrail[positionID]; ok {
		return cfg, nil
	}
	return c.defaultGuardrail, nil
}

func (c *Configs) OrderPolicyConfig(_ context.Context, positionID string) (types.OrderPolicyConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cfg, ok := c.orderPolicy[positionID]; ok {
		return cfg, nil
	}
	return c.defaultOrderPolicy, nil
}

// Alerts is an in-memory AlertRepo. Alerts are keyed by ID; active-lookup
// by condition scans the map, which is fine at this scale (six fixed
// conditions, checked on a multi-second cadence).
type Alerts struct {
	mu   sync.RWMutex
	byID map[string]*domain.Alert
}

// NewAlerts constructs an empty in-memory alert store.
func NewAlerts() *Alerts {
	return &Alerts{byID: make(map[string]*domain.Alert)}
}

func (r *Alerts) FindActiveByCondition(_ context.Context, condition domain.AlertCondition) (*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Condition == condition && a.Status == domain.AlertActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Alerts) Save(_ context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.byID[a.ID] = &cp
	return nil
}

func (r *Alerts) ListActive(_ context.Context) ([]*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Alert
	for _, a := range r.byID {
		if a.Status == domain.AlertActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ ports.PositionsRepo = (*Positions)(nil)
var _ ports.PortfoliosRepo = (*Portfolios)(nil)
var _ ports.OrdersRepo = (*Orders)(nil)
var _ ports.TradesRepo = (*Trades)(nil)
var _ ports.EventsRepo = (*Events)(nil)
var _ ports.IdempotencyRepo = (*Idempotency)(nil)
var _ ports.TimelineRepo = (*Timeline)(nil)
var _ ports.ConfigRepo = (*Configs)(nil)
var _ ports.AlertRepo = (*Alerts)(nil)
