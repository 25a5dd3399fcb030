// Package eventqueue is the shared FIFO abstraction behind the Polling
// Manager's change-event stream and the Webhook Manager's dispatch queue:
// single producer-process, single consumer, not a distributed broker.
package eventqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one queued unit: a change event from polling, or an inbound
// webhook payload awaiting dispatch. Kind and Plugin are used for routing
// and metrics labels; Payload is opaque and round-trips through JSON.
type Event struct {
	ID         string
	Kind       string
	Plugin     string
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

// Queue is a single-consumer FIFO of Events.
type Queue interface {
	// Push enqueues ev. MemoryQueue blocks while its buffer is full;
	// RedisQueue does not block on capacity.
	Push(ctx context.Context, ev Event) error
	// Pop blocks until an Event is available or ctx is done.
	Pop(ctx context.Context) (Event, error)
	// Close releases any resources held by the queue.
	Close() error
}
