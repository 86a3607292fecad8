package ports

import (
	"context"
	"time"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// PositionsRepo persists Position aggregates.
type PositionsRepo interface {
	Get(ctx context.Context, id string) (*domain.Position, error)
	Save(ctx context.Context, p *domain.Position) error
	ListByPortfolio(ctx context.Context, portfolioID string) ([]*domain.Position, error)
}

// PortfoliosRepo persists Portfolio aggregates.
type PortfoliosRepo interface {
	Get(ctx context.Context, id string) (*domain.Portfolio, error)
	Save(ctx context.Context, p *domain.Portfolio) error
	List(ctx context.Context, tenantID string) ([]*domain.Portfolio, error)
}

// OrdersRepo persists Order aggregates and answers the daily-cap query.
type OrdersRepo interface {
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, positionID, idempotencyKey string) (*domain.Order, error)
	Save(ctx context.Context, o *domain.Order) error
	CountForPositionOnDate(ctx context.Context, positionID string, date time.Time) (int, error)
	ListByPosition(ctx context.Context, positionID string) ([]*domain.Order, error)
}

// TradesRepo persists immutable Trade records.
type TradesRepo interface {
	Save(ctx context.Context, t *domain.Trade) error
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Trade, error)
	ListByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error)
}

// EventsRepo appends and queries audit events, independent of the durable
// JSONL sink (internal/audit); used where callers need structured replay
// rather than a flat log (e.g. the Explainability view's trace lookups).
type EventsRepo interface {
	Append(ctx context.Context, e domain.Event) error
	ListByTrace(ctx context.Context, traceID string) ([]domain.Event, error)
}

// IdempotencyRecord is what IdempotencyRepo reserves and recalls.
type IdempotencyRecord struct {
	PositionID     string
	IdempotencyKey string
	Signature      string
	OrderID        string
}

// IdempotencyRepo reserves (position_id, idempotency_key) pairs so
// SubmitOrder can detect fresh requests, replays, and signature conflicts.
type IdempotencyRepo interface {
	// Reserve atomically inserts a record if absent and returns
	// (existing, found); if found is true, existing is the prior record and
	// no insert happened.
	Reserve(ctx context.Context, rec IdempotencyRecord) (existing IdempotencyRecord, found bool, err error)

	// AttachOrderID records the order id once SubmitOrder has created it,
	// so later replays return the real order id rather than a placeholder.
	AttachOrderID(ctx context.Context, positionID, idempotencyKey, orderID string) error

	// Release removes a reservation that was never attached to an order,
	// so a request that failed a later guardrail check (daily cap, config
	// lookup) can be retried under the same idempotency key instead of
	// replaying a permanent empty-OrderID record.
	Release(ctx context.Context, positionID, idempotencyKey string) error
}

// TimelineRepo persists EvaluationRecord rows for the Explainability view.
type TimelineRepo interface {
	Save(ctx context.Context, r *domain.EvaluationRecord) error
	Query(ctx context.Context, q TimelineQuery) ([]*domain.EvaluationRecord, int, error)
}

// TimelineQuery filters and paginates EvaluationRecord rows.
type TimelineQuery struct {
	PositionID string
	From, To   time.Time
	Aggregate  string // "" | "daily"
	Offset     int
	Limit      int
}

// ConfigRepo resolves the per-position policy configs. Configs are decoupled
// from the Position entity itself, which carries only state.
type ConfigRepo interface {
	TriggerConfig(ctx context.Context, positionID string) (types.TriggerConfig, error)
	GuardrailConfig(ctx context.Context, positionID string) (types.GuardrailConfig, error)
	OrderPolicyConfig(ctx context.Context, positionID string) (types.OrderPolicyConfig, error)
}

// AlertRepo persists Alert invariant-check state. At most one active Alert
// exists per AlertCondition at any time.
type AlertRepo interface {
	FindActiveByCondition(ctx context.Context, condition domain.AlertCondition) (*domain.Alert, error)
	Save(ctx context.Context, a *domain.Alert) error
	ListActive(ctx context.Context) ([]*domain.Alert, error)
}
