package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/schedflow/pkg/schema"
)

func TestAppendEvent_MonotonicSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e := &Event{RunID: "run-1", NodeID: "n1", Type: schema.EventStepStarted}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i), e.Sequence)
		assert.NotZero(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestGetEvents_Since(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", Type: schema.EventRunStarted}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", NodeID: "n1", Type: schema.EventStepStarted}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", NodeID: "n1", Type: schema.EventStepCompleted,
		Payload: json.RawMessage(`{"result":{"evaluated":true}}`)}))

	all, err := s.GetEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, schema.EventRunStarted, all[0].Type)
	assert.Empty(t, all[0].NodeID)
	assert.Nil(t, all[0].Payload)

	tail, err := s.GetEvents(ctx, "run-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Sequence)
	assert.Equal(t, "n1", tail[0].NodeID)
	assert.JSONEq(t, `{"result":{"evaluated":true}}`, string(tail[0].Payload))
}

func TestAppendEvent_RunScopedSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", Type: schema.EventRunStarted}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", Type: schema.EventRunCompleted}))

	e := &Event{RunID: "run-2", Type: schema.EventRunStarted}
	require.NoError(t, s.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "run-2 should have its own sequence starting at 1")
}

func TestAppendEvent_ConcurrentRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runs := []string{"r1", "r2", "r3", "r4", "r5"}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for _, runID := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventStepStarted}); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}
	for _, runID := range runs {
		events, err := s.GetEvents(ctx, runID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestGetEvents_UnknownRun(t *testing.T) {
	s := newTestStore(t)
	events, err := s.GetEvents(context.Background(), "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
