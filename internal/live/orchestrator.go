package live

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// PositionState is the orchestrator's per-position run state, independent
// of the owning Portfolio's TradingState: a portfolio can be RUNNING while
// one of its positions is individually paused or stopped for maintenance.
type PositionState string

const (
	StateRunning PositionState = "running"
	StatePaused  PositionState = "paused"
	StateStopped PositionState = "stopped"
)

// PositionStatus is the counters and last-known state Status(position)
// returns, per spec.md's C8 contract.
type PositionStatus struct {
	State       PositionState
	TotalChecks int64
	TotalTrades int64
	TotalErrors int64
	LastError   string
	LastCheck   time.Time
}

// Orchestrator is the LiveTrading orchestrator's Start/Pause/Resume/Stop/
// Status surface (spec.md §4.5, C8). It does not itself run the tick loop
// -- Scheduler does that -- it holds the per-position control state the
// scheduler consults before ticking and the counters the admin API reports.
// A nil *Orchestrator is valid everywhere it's consulted: every position is
// then always running and unmonitored, matching Scheduler's pre-existing
// portfolio-only gating.
type Orchestrator struct {
	mu       sync.Mutex
	clock    ports.Clock
	broker   ports.Broker
	orders   ports.OrdersRepo
	logger   *zap.Logger
	statuses map[string]*PositionStatus
}

// NewOrchestrator constructs an Orchestrator. broker may be nil; Stop then
// skips the best-effort broker cancellation step.
func NewOrchestrator(clock ports.Clock, broker ports.Broker, orders ports.OrdersRepo, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		clock:    clock,
		broker:   broker,
		orders:   orders,
		logger:   logger,
		statuses: make(map[string]*PositionStatus),
	}
}

func (o *Orchestrator) entry(positionID string) *PositionStatus {
	s, ok := o.statuses[positionID]
	if !ok {
		s = &PositionStatus{State: StateRunning}
		o.statuses[positionID] = s
	}
	return s
}

// Start begins (or resumes after Stop) scheduling ticks for positionID.
func (o *Orchestrator) Start(positionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entry(positionID).State = StateRunning
}

// Pause stops scheduling new ticks for positionID; an in-flight tick is
// left to finish since the scheduler only consults CanTick before
// dispatching the next one.
func (o *Orchestrator) Pause(positionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entry(positionID).State = StatePaused
}

// Resume transitions a paused position back to running. No-op if the
// position was stopped or already running.
func (o *Orchestrator) Resume(positionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.entry(positionID)
	if s.State == StatePaused {
		s.State = StateRunning
	}
}

// Stop halts scheduling for positionID and, best-effort, cancels any
// broker-working orders against it so no pending fill can still land.
func (o *Orchestrator) Stop(ctx context.Context, positionID string) {
	o.mu.Lock()
	o.entry(positionID).State = StateStopped
	o.mu.Unlock()

	if o.broker == nil || o.orders == nil {
		return
	}
	openOrders, err := o.orders.ListByPosition(ctx, positionID)
	if err != nil {
		o.logger.Warn("orchestrator stop: list orders", zap.Error(err), zap.String("position_id", positionID))
		return
	}
	for _, ord := range openOrders {
		if ord.BrokerOrderID == "" || ord.Status.IsTerminal() {
			continue
		}
		if ord.Status != types.OrderPending && ord.Status != types.OrderWorking && ord.Status != types.OrderPartial {
			continue
		}
		if err := o.broker.CancelOrder(ctx, ord.BrokerOrderID); err != nil {
			o.logger.Warn("orchestrator stop: cancel broker order", zap.Error(err), zap.String("order_id", ord.ID))
		}
	}
}

// Status returns a copy of positionID's current counters and state. An
// unknown position reports StateRunning with zeroed counters, matching the
// nil-Orchestrator default everywhere else.
func (o *Orchestrator) Status(positionID string) PositionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.statuses[positionID]
	if !ok {
		return PositionStatus{State: StateRunning}
	}
	return *s
}

// CanTick reports whether the scheduler should dispatch a tick for
// positionID right now.
func (o *Orchestrator) CanTick(positionID string) bool {
	if o == nil {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.statuses[positionID]
	return !ok || s.State == StateRunning
}

// RecordCheck increments TotalChecks and, on error, TotalErrors/LastError.
func (o *Orchestrator) RecordCheck(positionID string, tickErr error) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.entry(positionID)
	s.TotalChecks++
	s.LastCheck = o.clock.Now()
	if tickErr != nil {
		s.TotalErrors++
		s.LastError = tickErr.Error()
	}
}

// RecordTrade increments TotalTrades for positionID.
func (o *Orchestrator) RecordTrade(positionID string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entry(positionID).TotalTrades++
}
