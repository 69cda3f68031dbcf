package worker

import (
	"context"
	"sync"
	"time"

	"receivables/internal/event"
	"receivables/internal/repository"

	"go.uber.org/zap"
)

const (
	outboxPollInterval = 2 * time.Second
	outboxBatchSize    = 50
)

// OutboxWorker polls pending outbox rows and delivers them through the event
// bus. A failed delivery leaves the row pending and bumps its attempt
// counter, so delivery is at least once and handlers must stay idempotent.
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	bus        *event.Bus
	logger     *zap.Logger

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewOutboxWorker(outboxRepo repository.OutboxRepository, bus *event.Bus, logger *zap.Logger) *OutboxWorker {
	return &OutboxWorker{outboxRepo: outboxRepo, bus: bus, logger: logger}
}

func (w *OutboxWorker) Name() string { return "outbox-dispatcher" }

func (w *OutboxWorker) Start(ctx context.Context) error {
	ctx, w.stop = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *OutboxWorker) Stop() error {
	if w.stop != nil {
		w.stop()
	}
	w.wg.Wait()
	return nil
}

func (w *OutboxWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *OutboxWorker) drain(ctx context.Context) {
	events, err := w.outboxRepo.FetchPending(ctx, outboxBatchSize)
	if err != nil {
		w.logger.Error("Failed to fetch pending outbox events", zap.Error(err))
		return
	}

	for _, ev := range events {
		if err := w.bus.Dispatch(ctx, ev); err != nil {
			w.logger.Warn("Event delivery failed, will retry",
				zap.String("event_id", ev.ID.String()),
				zap.String("event_type", ev.EventType),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err))
			if recErr := w.outboxRepo.RecordFailure(ctx, ev.ID); recErr != nil {
				w.logger.Error("Failed to record delivery failure", zap.Error(recErr))
			}
			continue
		}
		if err := w.outboxRepo.MarkPublished(ctx, ev.ID); err != nil {
			// The event will be re-delivered; handlers tolerate that.
			w.logger.Error("Failed to mark event published",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err))
		}
	}
}
