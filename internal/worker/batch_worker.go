package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"receivables/internal/model"
	"receivables/internal/repository"
	"receivables/internal/service"

	"go.uber.org/zap"
)

// BatchWindowWorker closes batching windows: open batches older than the
// configured window are closed and submitted across the gateway. Submission
// failures are left alone — the batch stays closed and retryable on the next
// tick or by an operator.
type BatchWindowWorker struct {
	batchRepo   repository.BatchRepository
	origination service.OriginationService
	interval    time.Duration
	window      time.Duration
	logger      *zap.Logger

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewBatchWindowWorker(
	batchRepo repository.BatchRepository,
	origination service.OriginationService,
	interval, window time.Duration,
	logger *zap.Logger,
) *BatchWindowWorker {
	return &BatchWindowWorker{
		batchRepo:   batchRepo,
		origination: origination,
		interval:    interval,
		window:      window,
		logger:      logger,
	}
}

func (w *BatchWindowWorker) Name() string { return "batch-window-closer" }

func (w *BatchWindowWorker) Start(ctx context.Context) error {
	ctx, w.stop = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *BatchWindowWorker) Stop() error {
	if w.stop != nil {
		w.stop()
	}
	w.wg.Wait()
	return nil
}

func (w *BatchWindowWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.closeDueWindows(ctx)
		}
	}
}

func (w *BatchWindowWorker) closeDueWindows(ctx context.Context) {
	batches, err := w.batchRepo.ListOpenOlderThan(ctx, time.Now().Add(-w.window))
	if err != nil {
		w.logger.Error("Failed to list due batches", zap.Error(err))
		return
	}

	for _, batch := range batches {
		if _, err := w.origination.CloseBatch(ctx, batch.ID, nil); err != nil {
			var empty *model.EmptyBatchError
			if errors.As(err, &empty) {
				continue
			}
			var conflict *model.ConcurrentModificationError
			if errors.As(err, &conflict) {
				// Someone else is working this batch; next tick will see the result.
				continue
			}
			w.logger.Error("Failed to close batch window",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err))
			continue
		}

		if _, err := w.origination.SubmitBatch(ctx, batch.ID, nil); err != nil {
			var gatewayErr *model.GatewaySubmissionError
			if errors.As(err, &gatewayErr) {
				w.logger.Warn("Batch submission failed, left closed for retry",
					zap.String("batch_id", batch.ID.String()),
					zap.Error(err))
				continue
			}
			w.logger.Error("Failed to submit batch",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err))
		}
	}
}
