package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "engram-backend/pkg/errors"
)

func TestPublishAndFlush(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 8}, zap.NewNop())
	defer d.Close()

	var mu sync.Mutex
	var seen []string
	d.Subscribe(EventTypeTurnRecorded, func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.AggregateID())
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Publish(ctx, TurnRecorded{SessionID: "session-1", At: time.Now()}))
	}
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5)
}

func TestSubscribeByType(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), zap.NewNop())
	defer d.Close()

	var turns, facts int
	var mu sync.Mutex
	d.Subscribe(EventTypeTurnRecorded, func(ctx context.Context, event Event) error {
		mu.Lock()
		turns++
		mu.Unlock()
		return nil
	})
	d.Subscribe(EventTypeFactRecorded, func(ctx context.Context, event Event) error {
		mu.Lock()
		facts++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	require.NoError(t, d.Publish(ctx, TurnRecorded{SessionID: "s", At: time.Now()}))
	require.NoError(t, d.Publish(ctx, FactRecorded{FactID: "f", At: time.Now()}))
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, turns)
	assert.Equal(t, 1, facts)
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), zap.NewNop())
	defer d.Close()

	var called bool
	var mu sync.Mutex
	d.Subscribe(EventTypeMemoryAdded, func(ctx context.Context, event Event) error {
		return appErrors.NewInternal("boom", nil)
	})
	d.Subscribe(EventTypeMemoryAdded, func(ctx context.Context, event Event) error {
		mu.Lock()
		called = true
		mu.Unlock()
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), MemoryAdded{MemoryID: "m", At: time.Now()}))
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, called)
}

func TestDispatchSync(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), zap.NewNop())
	defer d.Close()

	d.Subscribe(EventTypeSessionEnded, func(ctx context.Context, event Event) error {
		return appErrors.NewInternal("boom", nil)
	})

	err := d.DispatchSync(context.Background(), SessionEnded{SessionID: "s", At: time.Now()})
	require.Error(t, err)
	assert.True(t, appErrors.IsInternal(err))
}

func TestClose(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 8}, zap.NewNop())

	var handled int
	var mu sync.Mutex
	d.Subscribe(EventTypeTurnRecorded, func(ctx context.Context, event Event) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Publish(ctx, TurnRecorded{SessionID: "s", At: time.Now()}))
	}

	// Close drains what was already accepted.
	d.Close()
	mu.Lock()
	assert.Equal(t, 3, handled)
	mu.Unlock()

	err := d.Publish(ctx, TurnRecorded{SessionID: "s", At: time.Now()})
	require.Error(t, err)
	assert.True(t, appErrors.IsUnavailable(err))

	// Closing twice is safe.
	d.Close()
}
