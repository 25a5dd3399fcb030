package eventqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue backs Queue with a single Redis list, so the FIFO survives a
// restart of this one fabric instance. It is deliberately not a
// cross-instance broker: one producer process, one consumer process,
// LPUSH/BRPOP on a single key.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue returns a RedisQueue backed by client, using key as the
// list name.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventqueue: marshal event: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (Event, error) {
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return Event{}, err
	}
	if len(res) != 2 {
		return Event{}, fmt.Errorf("eventqueue: unexpected BRPOP reply shape")
	}
	var ev Event
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		return Event{}, fmt.Errorf("eventqueue: unmarshal event: %w", err)
	}
	return ev, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
