package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// SubmitRequest is the caller-supplied order intent.
type SubmitRequest struct {
	TenantID       string
	PortfolioID    string
	PositionID     string
	Side           types.OrderSide
	Qty            decimal.Decimal
	IdempotencyKey string
	TraceID        string
}

// SubmitResult reports the order id and whether this call created the
// order fresh or returned an idempotent replay.
type SubmitResult struct {
	OrderID  string
	Accepted bool
	Replayed bool
}

// SubmitOrder implements the idempotent order-creation pipeline: signature
// computation, idempotency-key reservation, the daily-cap guardrail, and
// commission-rate snapshotting.
type SubmitOrder struct {
	Orders      ports.OrdersRepo
	Idempotency ports.IdempotencyRepo
	Configs     ports.ConfigRepo
	Events      ports.EventsRepo
	Clock       ports.Clock
	Logger      *zap.Logger
	IDs         ports.IDGenerator
}

// NewSubmitOrder constructs a SubmitOrder use case from its ports. IDs
// defaults to ports.UUIDGenerator{}; the simulation engine overrides it via
// WithIDGenerator so repeated runs emit identical order/event ids.
func NewSubmitOrder(orders ports.OrdersRepo, idempotency ports.IdempotencyRepo, configs ports.ConfigRepo, events ports.EventsRepo, clock ports.Clock, logger *zap.Logger) *SubmitOrder {
	return &SubmitOrder{Orders: orders, Idempotency: idempotency, Configs: configs, Events: events, Clock: clock, Logger: logger, IDs: ports.UUIDGenerator{}}
}

// WithIDGenerator overrides the id generator, returning s for chaining.
func (s *SubmitOrder) WithIDGenerator(ids ports.IDGenerator) *SubmitOrder {
	s.IDs = ids
	return s
}

// Submit computes the request signature, reserves the idempotency key,
// enforces the daily-order cap, and creates the Order. A reservation that
// doesn't make it to AttachOrderID — because a guardrail or config lookup
// fails first — is released rather than left behind, so the same
// idempotency key can be retried once the condition that rejected it
// clears (e.g. the daily cap resetting the next day).
func (s *SubmitOrder) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	normalizedQty := req.Qty.Truncate(8).String()
	signature := requestSignature(req.PositionID, string(req.Side), normalizedQty)

	existing, found, err := s.Idempotency.Reserve(ctx, ports.IdempotencyRecord{
		PositionID:     req.PositionID,
		IdempotencyKey: req.IdempotencyKey,
		Signature:      signature,
	})
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if found {
		if existing.Signature != signature {
			return nil, domainerr.New(domainerr.IdempotencySignatureMismatch, req.IdempotencyKey)
		}
		return &SubmitResult{OrderID: existing.OrderID, Accepted: true, Replayed: true}, nil
	}

	attached := false
	defer func() {
		if attached {
			return
		}
		if relErr := s.Idempotency.Release(ctx, req.PositionID, req.IdempotencyKey); relErr != nil && s.Logger != nil {
			s.Logger.Error("release idempotency reservation", zap.Error(relErr), zap.String("position_id", req.PositionID), zap.String("idempotency_key", req.IdempotencyKey))
		}
	}()

	now := s.Clock.Now()
	count, err := s.Orders.CountForPositionOnDate(ctx, req.PositionID, now)
	if err != nil {
		return nil, fmt.Errorf("count orders for day: %w", err)
	}
	guardrailCfg, err := s.Configs.GuardrailConfig(ctx, req.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "guardrail config", err)
	}
	if count >= guardrailCfg.MaxOrdersPerDay {
		return nil, domainerr.New(domainerr.DailyOrderCapExceeded, fmt.Sprintf("%d orders already placed today", count))
	}

	orderPolicy, err := s.Configs.OrderPolicyConfig(ctx, req.PositionID)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.ConfigurationMissing, "order policy config", err)
	}

	order := domain.NewOrder(s.IDs.NewID("order"), req.TenantID, req.PortfolioID, req.PositionID, req.Side, req.Qty, req.IdempotencyKey, signature, orderPolicy.CommissionRate, now)
	if err := order.Submit(now); err != nil {
		return nil, err
	}
	if err := s.Orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}
	if err := s.Idempotency.AttachOrderID(ctx, req.PositionID, req.IdempotencyKey, order.ID); err != nil {
		return nil, fmt.Errorf("attach order id: %w", err)
	}
	attached = true

	ev := domain.NewEvent(s.IDs.NewID("event"), now, domain.EventOrderCreated, req.TraceID, "", req.TenantID, req.PortfolioID, "", "submit_order", map[string]interface{}{
		"order_id": order.ID, "position_id": req.PositionID, "side": string(req.Side), "qty": req.Qty.String(),
	})
	if err := s.Events.Append(ctx, ev); err != nil && s.Logger != nil {
		s.Logger.Error("append OrderCreated event", zap.Error(err), zap.String("order_id", order.ID))
	}

	return &SubmitResult{OrderID: order.ID, Accepted: true}, nil
}

// Cancel requests cancellation of an order's local status. The caller
// (live orchestrator) is responsible for also notifying the Broker port;
// this method only performs the local state transition, which is the
// missing operation the Order DAG's `cancelled` terminal state implies but
// spec.md's distilled C6 contract never names.
func (s *SubmitOrder) Cancel(ctx context.Context, orderID string) error {
	order, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return domainerr.Wrap(domainerr.OrderNotFound, orderID, err)
	}
	now := s.Clock.Now()
	if err := order.Cancel(now); err != nil {
		return err
	}
	return s.Orders.Save(ctx, order)
}

func requestSignature(positionID, side, normalizedQty string) string {
	h := sha256.Sum256([]byte(positionID + "|" + side + "|" + normalizedQty))
	return hex.EncodeToString(h[:])
}
