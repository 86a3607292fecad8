package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/adapters/memrepo"
	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
)

func newChecker() (*Checker, *memrepo.Alerts, *ports.FixedClock) {
	repo := memrepo.NewAlerts()
	clock := ports.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewChecker(repo, clock, DefaultConfig(), nil), repo, clock
}

func baseInput() Input {
	lastEval := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastPrice := lastEval
	return Input{
		WorkerRunning:      true,
		WorkerEnabled:      true,
		LastEvaluationTime: &lastEval,
		IsMarketHours:      true,
		LastPriceUpdate:    &lastPrice,
		BrokerReachable:    true,
	}
}

func TestChecker_WorkerStoppedRaisesAndResolves(t *testing.T) {
	c, repo, _ := newChecker()
	ctx := context.Background()

	in := baseInput()
	in.WorkerRunning = false

	raised, err := c.RunAllChecks(ctx, in)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertWorkerStopped, raised[0].Condition)
	assert.Equal(t, domain.SeverityCritical, raised[0].Severity)

	// Re-running with the same bad state must not raise a second alert.
	raised, err = c.RunAllChecks(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, raised)

	active, err := repo.FindActiveByCondition(ctx, domain.AlertWorkerStopped)
	require.NoError(t, err)
	require.NotNil(t, active)

	// Recovery resolves the existing alert.
	in.WorkerRunning = true
	_, err = c.RunAllChecks(ctx, in)
	require.NoError(t, err)

	active, err = repo.FindActiveByCondition(ctx, domain.AlertWorkerStopped)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestChecker_NoEvaluationsSkippedOutsideMarketHours(t *testing.T) {
	c, _, _ := newChecker()
	in := baseInput()
	in.IsMarketHours = false
	in.LastEvaluationTime = nil

	raised, err := c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestChecker_NoEvaluationsStaleDuringMarketHours(t *testing.T) {
	c, _, clock := newChecker()
	in := baseInput()
	stale := clock.Now().Add(-20 * time.Minute)
	in.LastEvaluationTime = &stale

	raised, err := c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertNoEvaluations, raised[0].Condition)
}

func TestChecker_OrderRejectionsThreshold(t *testing.T) {
	c, _, _ := newChecker()
	in := baseInput()
	in.RecentOrderRejections = 2

	raised, err := c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertOrderRejected, raised[0].Condition)
	assert.Equal(t, 2, raised[0].Metadata["count"])
}

func TestChecker_GuardrailSkipThreshold(t *testing.T) {
	c, _, _ := newChecker()
	in := baseInput()
	in.RecentGuardrailSkips = 4

	raised, err := c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, raised)

	in.RecentGuardrailSkips = 5
	raised, err = c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertGuardrailSkipThreshold, raised[0].Condition)
}

func TestChecker_PriceDataStale(t *testing.T) {
	c, _, clock := newChecker()
	in := baseInput()
	stale := clock.Now().Add(-10 * time.Minute)
	in.LastPriceUpdate = &stale

	raised, err := c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertPriceDataStale, raised[0].Condition)
}

func TestChecker_BrokerUnreachable(t *testing.T) {
	c, _, _ := newChecker()
	in := baseInput()
	in.BrokerReachable = false

	raised, err := c.RunAllChecks(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, domain.AlertBrokerUnreachable, raised[0].Condition)
	assert.Equal(t, domain.SeverityCritical, raised[0].Severity)
}

func TestChecker_OnlyOneActiveAlertPerCondition(t *testing.T) {
	c, repo, _ := newChecker()
	ctx := context.Background()
	in := baseInput()
	in.BrokerReachable = false

	_, err := c.RunAllChecks(ctx, in)
	require.NoError(t, err)
	_, err = c.RunAllChecks(ctx, in)
	require.NoError(t, err)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	count := 0
	for _, a := range active {
		if a.Condition == domain.AlertBrokerUnreachable {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
