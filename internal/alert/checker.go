// Package alert runs the engine's six periodic invariant checks and keeps
// at most one active Alert per condition, auto-resolving it once the
// underlying condition clears. It is a direct port of
// application/services/alert_checker.py's AlertChecker, kept check-for-
// check and resolve-for-resolve.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
)

// Config carries the three threshold knobs the original checker exposes as
// constructor arguments.
type Config struct {
	NoEvalMinutes          int
	GuardrailSkipThreshold int
	PriceStaleMinutes      int
}

// DefaultConfig mirrors the original's constructor defaults.
func DefaultConfig() Config {
	return Config{NoEvalMinutes: 10, GuardrailSkipThreshold: 5, PriceStaleMinutes: 5}
}

// Input is the snapshot of system state run_all_checks takes as positional
// arguments in the original; grouped into a struct here since Go has no
// named-default-argument sugar.
type Input struct {
	WorkerRunning         bool
	WorkerEnabled         bool
	LastEvaluationTime    *time.Time
	IsMarketHours         bool
	RecentOrderRejections int
	RecentGuardrailSkips  int
	LastPriceUpdate       *time.Time
	BrokerReachable       bool
}

// Checker runs the six invariant checks against an AlertRepo.
type Checker struct {
	repo   ports.AlertRepo
	clock  ports.Clock
	cfg    Config
	logger *zap.Logger

	idSeq int
}

// NewChecker constructs a Checker. Alert IDs are built from the condition
// and the checker's own sequence counter (see nextID).
func NewChecker(repo ports.AlertRepo, clock ports.Clock, cfg Config, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{repo: repo, clock: clock, cfg: cfg, logger: logger}
}

// RunAllChecks runs every check in the original's fixed order and returns
// the alerts newly raised this pass (already resolved alerts are not
// returned, matching the original's empty-list-on-resolve behavior).
func (c *Checker) RunAllChecks(ctx context.Context, in Input) ([]*domain.Alert, error) {
	var raised []*domain.Alert

	checks := []func(context.Context, Input) (*domain.Alert, error){
		c.checkWorkerStopped,
		c.checkNoEvaluations,
		c.checkOrderRejections,
		c.checkGuardrailSkips,
		c.checkPriceDataStale,
		c.checkBrokerUnreachable,
	}
	for _, check := range checks {
		a, err := check(ctx, in)
		if err != nil {
			return nil, err
		}
		if a != nil {
			raised = append(raised, a)
		}
	}
	return raised, nil
}

func (c *Checker) nextID(condition domain.AlertCondition) string {
	c.idSeq++
	return fmt.Sprintf("alert-%s-%d", condition, c.idSeq)
}

func (c *Checker) raise(ctx context.Context, condition domain.AlertCondition, severity domain.AlertSeverity, title, detail string, metadata map[string]interface{}) (*domain.Alert, error) {
	a := domain.NewAlert(c.nextID(condition), condition, severity, title, detail, metadata, c.clock.Now())
	if err := c.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("alert: save %s: %w", condition, err)
	}
	c.logger.Warn("alert raised", zap.String("condition", string(condition)), zap.String("title", title))
	return a, nil
}

func (c *Checker) resolveIfExists(ctx context.Context, existing *domain.Alert) error {
	if existing == nil {
		return nil
	}
	existing.Resolve(c.clock.Now())
	if err := c.repo.Save(ctx, existing); err != nil {
		return fmt.Errorf("alert: resolve %s: %w", existing.Condition, err)
	}
	c.logger.Info("alert resolved", zap.String("condition", string(existing.Condition)))
	return nil
}

func (c *Checker) checkWorkerStopped(ctx context.Context, in Input) (*domain.Alert, error) {
	existing, err := c.repo.FindActiveByCondition(ctx, domain.AlertWorkerStopped)
	if err != nil {
		return nil, err
	}

	if !in.WorkerRunning && in.WorkerEnabled {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertWorkerStopped, domain.SeverityCritical,
			"Trading worker stopped unexpectedly",
			"The trading worker is enabled but not running.", nil)
	}

	return nil, c.resolveIfExists(ctx, existing)
}

func (c *Checker) checkNoEvaluations(ctx context.Context, in Input) (*domain.Alert, error) {
	existing, err := c.repo.FindActiveByCondition(ctx, domain.AlertNoEvaluations)
	if err != nil {
		return nil, err
	}

	if !in.IsMarketHours {
		return nil, c.resolveIfExists(ctx, existing)
	}

	if in.LastEvaluationTime == nil {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertNoEvaluations, domain.SeverityWarning,
			"No evaluations recorded",
			"No position evaluations have been recorded during market hours.", nil)
	}

	minutesSince := c.clock.Now().Sub(*in.LastEvaluationTime).Minutes()
	if minutesSince > float64(c.cfg.NoEvalMinutes) {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertNoEvaluations, domain.SeverityWarning,
			"No recent evaluations",
			fmt.Sprintf("No evaluations in the last %.0f minutes (threshold: %dm).", minutesSince, c.cfg.NoEvalMinutes), nil)
	}

	return nil, c.resolveIfExists(ctx, existing)
}

func (c *Checker) checkOrderRejections(ctx context.Context, in Input) (*domain.Alert, error) {
	existing, err := c.repo.FindActiveByCondition(ctx, domain.AlertOrderRejected)
	if err != nil {
		return nil, err
	}

	if in.RecentOrderRejections > 0 {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertOrderRejected, domain.SeverityWarning,
			"Order rejections detected",
			fmt.Sprintf("%d order(s) rejected recently.", in.RecentOrderRejections),
			map[string]interface{}{"count": in.RecentOrderRejections})
	}

	return nil, c.resolveIfExists(ctx, existing)
}

func (c *Checker) checkGuardrailSkips(ctx context.Context, in Input) (*domain.Alert, error) {
	existing, err := c.repo.FindActiveByCondition(ctx, domain.AlertGuardrailSkipThreshold)
	if err != nil {
		return nil, err
	}

	if in.RecentGuardrailSkips >= c.cfg.GuardrailSkipThreshold {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertGuardrailSkipThreshold, domain.SeverityWarning,
			"Guardrail skip threshold reached",
			fmt.Sprintf("%d guardrail skips (threshold: %d).", in.RecentGuardrailSkips, c.cfg.GuardrailSkipThreshold),
			map[string]interface{}{"count": in.RecentGuardrailSkips})
	}

	return nil, c.resolveIfExists(ctx, existing)
}

func (c *Checker) checkPriceDataStale(ctx context.Context, in Input) (*domain.Alert, error) {
	existing, err := c.repo.FindActiveByCondition(ctx, domain.AlertPriceDataStale)
	if err != nil {
		return nil, err
	}

	if !in.IsMarketHours {
		return nil, c.resolveIfExists(ctx, existing)
	}

	if in.LastPriceUpdate == nil {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertPriceDataStale, domain.SeverityWarning,
			"No price data available",
			"No price data updates recorded during market hours.", nil)
	}

	minutesSince := c.clock.Now().Sub(*in.LastPriceUpdate).Minutes()
	if minutesSince > float64(c.cfg.PriceStaleMinutes) {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertPriceDataStale, domain.SeverityWarning,
			"Price data stale",
			fmt.Sprintf("No price update in %.0f minutes (threshold: %dm).", minutesSince, c.cfg.PriceStaleMinutes), nil)
	}

	return nil, c.resolveIfExists(ctx, existing)
}

func (c *Checker) checkBrokerUnreachable(ctx context.Context, in Input) (*domain.Alert, error) {
	existing, err := c.repo.FindActiveByCondition(ctx, domain.AlertBrokerUnreachable)
	if err != nil {
		return nil, err
	}

	if !in.BrokerReachable {
		if existing != nil {
			return nil, nil
		}
		return c.raise(ctx, domain.AlertBrokerUnreachable, domain.SeverityCritical,
			"Broker unreachable",
			"Cannot connect to broker service.", nil)
	}

	return nil, c.resolveIfExists(ctx, existing)
}
