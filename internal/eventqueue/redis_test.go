package eventqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "apifabric:events")
}

func TestRedisQueue_PushPopRoundTrips(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Event{ID: "a", Kind: "webhook", Plugin: "p"}))
	require.NoError(t, q.Push(ctx, Event{ID: "b", Kind: "webhook", Plugin: "p"}))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second.ID)
}
