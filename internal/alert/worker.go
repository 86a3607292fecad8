package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/ports"
)

// StateProvider supplies the live system state the Checker needs each
// pass. cmd/engine's engineStateProvider implements this by reading the
// live repositories and the market-data port; kept as a narrow
// interface here so alert stays decoupled from live's concrete types.
type StateProvider interface {
	Snapshot(ctx context.Context) (Input, error)
}

// Worker runs Checker.RunAllChecks on a fixed interval, grounded on the
// same ticker-loop shape as internal/live.Reconciler.
type Worker struct {
	checker  *Checker
	provider StateProvider
	broker   ports.Broker
	interval time.Duration
	logger   *zap.Logger
}

// NewWorker constructs an alert Worker. broker may be nil, in which case
// BrokerReachable is always reported true (no broker configured: nothing
// to be unreachable).
func NewWorker(checker *Checker, provider StateProvider, broker ports.Broker, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{checker: checker, provider: provider, broker: broker, interval: interval, logger: logger}
}

// Run loops until ctx is cancelled, checking invariants once per tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.logger.Error("alert check failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	in, err := w.provider.Snapshot(ctx)
	if err != nil {
		return err
	}

	if w.broker != nil {
		in.BrokerReachable = w.broker.Ping(ctx) == nil
	} else {
		in.BrokerReachable = true
	}

	_, err = w.checker.RunAllChecks(ctx, in)
	return err
}
