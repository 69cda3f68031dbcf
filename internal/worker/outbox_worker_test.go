package worker

import (
	"context"
	"fmt"
	"testing"

	"receivables/internal/event"
	"receivables/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memOutbox struct {
	events []model.OutboxEvent
}

func (r *memOutbox) Enqueue(ctx context.Context, ev *model.OutboxEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	r.events = append(r.events, *ev)
	return nil
}

func (r *memOutbox) FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	for _, ev := range r.events {
		if ev.Status == model.OutboxPending {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memOutbox) MarkPublished(ctx context.Context, id uuid.UUID) error {
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = model.OutboxPublished
		}
	}
	return nil
}

func (r *memOutbox) RecordFailure(ctx context.Context, id uuid.UUID) error {
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Attempts++
		}
	}
	return nil
}

func pending(t *testing.T, repo *memOutbox, eventType string) model.OutboxEvent {
	t.Helper()
	ev := model.OutboxEvent{
		AggregateID: uuid.New(),
		EventType:   eventType,
		Payload:     "{}",
		Status:      model.OutboxPending,
	}
	require.NoError(t, repo.Enqueue(context.Background(), &ev))
	return ev
}

func TestOutboxDrainMarksDeliveredEventsPublished(t *testing.T) {
	repo := &memOutbox{}
	bus := event.NewBus()

	var delivered []string
	bus.Subscribe(model.EventChainCompleted, func(ctx context.Context, ev model.OutboxEvent) error {
		delivered = append(delivered, ev.ID.String())
		return nil
	})

	first := pending(t, repo, model.EventChainCompleted)
	second := pending(t, repo, model.EventChainCompleted)

	w := NewOutboxWorker(repo, bus, zap.NewNop())
	w.drain(context.Background())

	assert.Equal(t, []string{first.ID.String(), second.ID.String()}, delivered)
	for _, ev := range repo.events {
		assert.Equal(t, model.OutboxPublished, ev.Status)
	}

	// A second drain finds nothing pending.
	w.drain(context.Background())
	assert.Len(t, delivered, 2)
}

func TestOutboxDrainKeepsFailedEventsPending(t *testing.T) {
	repo := &memOutbox{}
	bus := event.NewBus()

	attempts := 0
	bus.Subscribe(model.EventChainCompleted, func(ctx context.Context, ev model.OutboxEvent) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("downstream unavailable")
		}
		return nil
	})

	pending(t, repo, model.EventChainCompleted)

	w := NewOutboxWorker(repo, bus, zap.NewNop())
	w.drain(context.Background())

	require.Len(t, repo.events, 1)
	assert.Equal(t, model.OutboxPending, repo.events[0].Status)
	assert.Equal(t, 1, repo.events[0].Attempts)

	// The retry succeeds and retires the event.
	w.drain(context.Background())
	assert.Equal(t, model.OutboxPublished, repo.events[0].Status)
}

func TestOutboxDrainDeliversTypesIndependently(t *testing.T) {
	repo := &memOutbox{}
	bus := event.NewBus()

	var returned int
	bus.Subscribe(model.EventPaymentReturned, func(ctx context.Context, ev model.OutboxEvent) error {
		returned++
		return nil
	})

	pending(t, repo, model.EventPaymentReturned)
	// No subscriber: still drained and published, delivery is best effort
	// toward whoever registered.
	pending(t, repo, model.EventBatchSubmitted)

	w := NewOutboxWorker(repo, bus, zap.NewNop())
	w.drain(context.Background())

	assert.Equal(t, 1, returned)
	for _, ev := range repo.events {
		assert.Equal(t, model.OutboxPublished, ev.Status)
	}
}
