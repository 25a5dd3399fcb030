package eventqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFOOrder(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, Event{ID: "1"}))
	require.NoError(t, q.Push(ctx, Event{ID: "2"}))

	ev, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", ev.ID)

	ev, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", ev.ID)
}

func TestMemoryQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	done := make(chan Event, 1)
	go func() {
		ev, err := q.Pop(ctx)
		assert.NoError(t, err)
		done <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, Event{ID: "late"}))

	select {
	case ev := <-done:
		assert.Equal(t, "late", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned")
	}
}

func TestMemoryQueue_PopRespectsContextCancellation(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_CloseUnblocksPop(t *testing.T) {
	q := NewMemoryQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Close")
	}
}
