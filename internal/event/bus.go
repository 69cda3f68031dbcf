// Package event carries cross-aggregate effects. Producers write an outbox
// row inside the aggregate's own transaction; the dispatcher worker delivers
// pending rows here at least once. Handlers must be idempotent: duplicate and
// out-of-order delivery are normal, not faults.
package event

import (
	"context"
	"fmt"
	"sync"

	"receivables/internal/model"
)

// Handler consumes one delivered domain event. Returning an error keeps the
// event pending for redelivery.
type Handler func(ctx context.Context, ev model.OutboxEvent) error

// Bus routes delivered events to their registered handlers by event type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for one event type. Registration happens at
// wiring time, before the dispatcher starts.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Dispatch delivers the event to every subscribed handler. All handlers run
// even when an earlier one fails; any failure keeps the event pending.
func (b *Bus) Dispatch(ctx context.Context, ev model.OutboxEvent) error {
	b.mu.RLock()
	handlers := b.handlers[ev.EventType]
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("handler for %s: %w", ev.EventType, err)
		}
	}
	return firstErr
}
