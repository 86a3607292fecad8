// Package live runs the engine's position-tick scheduler, per-position
// actors, and the broker reconciliation worker — the pieces that turn the
// pure EvaluatePosition/SubmitOrder/ExecuteOrder use cases into a running
// service. Modeled on the teacher's internal/workers bounded-pool idiom,
// generalized to per-key actors because every position needs its own total
// order of ticks, fills, and reconciliation passes.
package live

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/internal/usecase"
)

// SchedulerConfig controls tick cadence and worker concurrency.
type SchedulerConfig struct {
	TickInterval   time.Duration
	MaxConcurrency int64
}

// DefaultSchedulerConfig returns a sane per-minute tick cadence with
// concurrency bounded to the host's CPU count.
func DefaultSchedulerConfig(numCPU int) SchedulerConfig {
	if numCPU <= 0 {
		numCPU = 1
	}
	return SchedulerConfig{
		TickInterval:   time.Minute,
		MaxConcurrency: int64(numCPU),
	}
}

// Scheduler drives one tick of EvaluatePosition per active position per
// interval, fanning work out across a bounded pool of goroutines while each
// position's own work stays serialized through its positionActor.
type Scheduler struct {
	cfg        SchedulerConfig
	portfolios ports.PortfoliosRepo
	positions  ports.PositionsRepo
	orders     ports.OrdersRepo
	eval       *usecase.EvaluatePosition
	submit     *usecase.SubmitOrder
	broker     ports.Broker
	logger     *zap.Logger

	sem    *semaphore.Weighted
	actors map[string]*positionActor
	orch   *Orchestrator
}

// WithOrchestrator attaches the per-position Start/Pause/Resume/Stop
// control surface; ticks for a paused or stopped position are skipped
// entirely, and every dispatched tick's outcome feeds the orchestrator's
// counters. Returns s for chaining at construction time.
func (s *Scheduler) WithOrchestrator(orch *Orchestrator) *Scheduler {
	s.orch = orch
	return s
}

// NewScheduler constructs a Scheduler from its dependencies.
func NewScheduler(cfg SchedulerConfig, portfolios ports.PortfoliosRepo, positions ports.PositionsRepo, orders ports.OrdersRepo, eval *usecase.EvaluatePosition, submit *usecase.SubmitOrder, broker ports.Broker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		portfolios: portfolios,
		positions:  positions,
		orders:     orders,
		eval:       eval,
		submit:     submit,
		broker:     broker,
		logger:     logger,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
		actors:     make(map[string]*positionActor),
	}
}

// actorFor returns the serializing actor for a position, creating it on
// first use. Called only from tickOnce's single dispatch loop, never from
// inside a spawned goroutine, so the map needs no lock of its own.
func (s *Scheduler) actorFor(positionID string) *positionActor {
	a, ok := s.actors[positionID]
	if !ok {
		a = newPositionActor(positionID, s.sem, s.eval, s.submit, s.orders, s.broker, s.logger, s.orch)
		s.actors[positionID] = a
	}
	return a
}

// Run loops ticking every active portfolio's positions until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tickOnce(ctx); err != nil && s.logger != nil {
				s.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// tickOnce evaluates every position of every RUNNING portfolio exactly once,
// fanning the work across the bounded pool.
func (s *Scheduler) tickOnce(ctx context.Context) error {
	portfolios, err := s.portfolios.List(ctx, "")
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pf := range portfolios {
		if !pf.CanEvaluate() {
			continue
		}
		positions, err := s.positions.ListByPortfolio(ctx, pf.ID)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("list positions", zap.Error(err), zap.String("portfolio_id", pf.ID))
			}
			continue
		}
		for _, pos := range positions {
			if !s.orch.CanTick(pos.ID) {
				continue
			}
			tenantID := pf.TenantID
			portfolioID := pf.ID
			positionID := pos.ID
			tradingHoursPolicy := pf.TradingHoursPolicy
			actor := s.actorFor(pos.ID)
			g.Go(func() error {
				err := actor.Tick(gctx, tenantID, portfolioID, tradingHoursPolicy)
				s.orch.RecordCheck(positionID, err)
				return err
			})
		}
	}
	return g.Wait()
}
