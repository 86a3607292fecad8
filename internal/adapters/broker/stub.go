// Package broker implements ports.Broker with an in-memory execution
// simulator: configurable fill latency, commission, and slippage, grounded
// on the teacher's internal/execution/execution_model.go (commission,
// slippage, and fill-price cost modeling) and order_manager.go (order
// lifecycle state machine: pending -> open -> filled/cancelled/rejected).
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Config models the stub's execution cost assumptions. Unlike the
// teacher's ExecutionModelConfig, this omits market-impact and MEV terms:
// the engine only needs a plausible fill price and commission to drive its
// own rebalancing logic, not a research-grade cost model.
type Config struct {
	// FillLatency is how long a placed order stays "working" before the
	// stub marks it filled on the next OrderStatus poll.
	FillLatency time.Duration
	// CommissionRate is applied to notional (qty * fill price).
	CommissionRate decimal.Decimal
	// SlippageBps worsens the fill price against the taker: buys fill
	// above quote, sells fill below it.
	SlippageBps decimal.Decimal
}

// DefaultConfig mirrors the teacher's StockExecutionModelConfig order of
// magnitude: immediate fills, 1bps commission, 2bps slippage.
func DefaultConfig() Config {
	return Config{
		FillLatency:    0,
		CommissionRate: decimal.NewFromFloat(0.0001),
		SlippageBps:    decimal.NewFromFloat(2),
	}
}

type stubOrder struct {
	req          ports.BrokerOrderRequest
	placedAt     time.Time
	status       string
	filledQty    decimal.Decimal
	avgFillPrice decimal.Decimal
	commission   decimal.Decimal
	cancelled    bool
}

// Stub is an in-memory broker simulator. Fill timing is driven by the
// injected ports.Clock rather than a goroutine/timer, so OrderStatus is a
// pure function of elapsed clock time — deterministic and pollable exactly
// like a real broker's reconciliation endpoint, and testable without
// sleeping.
type Stub struct {
	mu         sync.Mutex
	clock      ports.Clock
	market     ports.MarketData
	cfg        Config
	orders     map[string]*stubOrder
	reachable  bool
	logger     *zap.Logger
}

// NewStub constructs a Stub broker. market supplies the reference price a
// placed order fills against; if nil, orders fill against a base price of 1
// with the configured slippage still applied (only useful in tests that
// don't care about fill price).
func NewStub(clock ports.Clock, market ports.MarketData, cfg Config, logger *zap.Logger) *Stub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stub{
		clock:     clock,
		market:    market,
		cfg:       cfg,
		orders:    make(map[string]*stubOrder),
		reachable: true,
		logger:    logger,
	}
}

// SetReachable toggles Ping's behavior, used to exercise the engine's
// broker_unreachable alert path in tests without a real network fault.
func (s *Stub) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
}

func (s *Stub) PlaceOrder(ctx context.Context, req ports.BrokerOrderRequest) (ports.BrokerAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reachable {
		return ports.BrokerAck{}, domainerr.New(domainerr.BrokerUnreachable, "broker stub is set unreachable")
	}

	id := "brk-" + uuid.NewString()
	s.orders[id] = &stubOrder{
		req:      req,
		placedAt: s.clock.Now(),
		status:   "working",
	}
	s.logger.Info("broker stub accepted order",
		zap.String("broker_order_id", id), zap.String("asset", req.AssetSymbol), zap.String("side", string(req.Side)))
	return ports.BrokerAck{BrokerOrderID: id, Status: "working"}, nil
}

func (s *Stub) CancelOrder(ctx context.Context, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[brokerOrderID]
	if !ok {
		return domainerr.New(domainerr.OrderNotFound, "broker stub: no such order "+brokerOrderID)
	}
	if o.status == "filled" {
		return domainerr.New(domainerr.OrderNotCancellable, "broker stub: order "+brokerOrderID+" already filled")
	}
	o.cancelled = true
	o.status = "cancelled"
	return nil
}

func (s *Stub) OrderStatus(ctx context.Context, brokerOrderID string) (ports.BrokerOrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[brokerOrderID]
	if !ok {
		return ports.BrokerOrderStatus{}, domainerr.New(domainerr.OrderNotFound, "broker stub: no such order "+brokerOrderID)
	}

	if o.status == "working" && !o.cancelled && s.clock.Now().Sub(o.placedAt) >= s.cfg.FillLatency {
		if err := s.fill(ctx, o); err != nil {
			return ports.BrokerOrderStatus{}, err
		}
	}

	status := ports.BrokerOrderStatus{
		BrokerOrderID: brokerOrderID,
		Status:        o.status,
		FilledQty:     o.filledQty,
		AvgFillPrice:  o.avgFillPrice,
	}
	if o.status == "filled" {
		status.Fills = []ports.BrokerFill{{
			BrokerOrderID: brokerOrderID,
			Qty:           o.filledQty,
			Price:         o.avgFillPrice,
			Commission:    o.commission,
		}}
	}
	return status, nil
}

func (s *Stub) fill(ctx context.Context, o *stubOrder) error {
	price := decimal.NewFromInt(1)
	if s.market != nil {
		q, err := s.market.LatestQuote(ctx, o.req.AssetSymbol)
		if err != nil {
			return fmt.Errorf("broker stub: fetch quote for %s: %w", o.req.AssetSymbol, err)
		}
		price = q.Price
	}

	slipFactor := s.cfg.SlippageBps.Div(decimal.NewFromInt(10000))
	if o.req.Side == types.SideBuy {
		price = price.Mul(decimal.NewFromInt(1).Add(slipFactor))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(slipFactor))
	}

	notional := price.Mul(o.req.Qty)
	commission := notional.Mul(s.cfg.CommissionRate)

	o.status = "filled"
	o.filledQty = o.req.Qty
	o.avgFillPrice = price
	o.commission = commission
	return nil
}

func (s *Stub) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return domainerr.New(domainerr.BrokerUnreachable, "broker stub is set unreachable")
	}
	return nil
}

var _ ports.Broker = (*Stub)(nil)
