package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/internal/domain"
)

func TestSink_AppendAndListByTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := Open(path, nil)
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	root := domain.NewEvent("evt-1", now, domain.EventTriggerEvaluated, "trace-1", "", "tenant-1", "pf-1", "pos-1", "evaluate", nil)
	child := domain.NewEvent("evt-2", now.Add(time.Second), domain.EventOrderCreated, "trace-1", "evt-1", "tenant-1", "pf-1", "pos-1", "submit", map[string]interface{}{"side": "buy"})

	require.NoError(t, sink.Append(ctx, root))
	require.NoError(t, sink.Append(ctx, child))

	events, err := sink.ListByTrace(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTriggerEvaluated, events[0].EventType)
	assert.Equal(t, domain.EventOrderCreated, events[1].EventType)
	assert.Equal(t, "evt-1", events[1].ParentEventID)
}

func TestSink_ListByTraceUnknownReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := Open(path, nil)
	require.NoError(t, err)
	defer sink.Close()

	events, err := sink.ListByTrace(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSink_ReplaysExistingFileOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sink1, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, sink1.Append(context.Background(), domain.NewEvent(
		"evt-1", now, domain.EventAnchorReset, "trace-2", "", "tenant-1", "pf-1", "pos-1", "evaluate", nil,
	)))
	require.NoError(t, sink1.Close())

	sink2, err := Open(path, nil)
	require.NoError(t, err)
	defer sink2.Close()

	events, err := sink2.ListByTrace(context.Background(), "trace-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].EventID)
	assert.True(t, events[0].CreatedAt.Equal(now))
}

func TestSink_AppendIsConcurrencySafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := Open(path, nil)
	require.NoError(t, err)
	defer sink.Close()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			e := domain.NewEvent("evt", time.Now(), domain.EventPositionUpdated, "trace-concurrent", "", "tenant-1", "pf-1", "pos-1", "test", nil)
			done <- sink.Append(context.Background(), e)
		}(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}

	events, err := sink.ListByTrace(context.Background(), "trace-concurrent")
	require.NoError(t, err)
	assert.Len(t, events, 20)
}
