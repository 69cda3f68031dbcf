package repository

import (
	"context"
	"errors"
	"time"

	"receivables/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, batch *model.PaymentBatch) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.PaymentBatch, error)
	// FindOpen returns the currently open batch for a (payor, effective date)
	// window, or nil when none exists yet.
	FindOpen(ctx context.Context, payorID uuid.UUID, effectiveDate time.Time) (*model.PaymentBatch, error)
	// ListOpenOlderThan returns open batches created before the cutoff,
	// candidates for the window-closing worker.
	ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]model.PaymentBatch, error)
	List(ctx context.Context, status string, page, limit int) ([]model.PaymentBatch, int64, error)
	UpdateState(ctx context.Context, batch *model.PaymentBatch) error
}

type batchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) Create(ctx context.Context, batch *model.PaymentBatch) error {
	return GetDB(ctx, r.db).Create(batch).Error
}

func (r *batchRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.PaymentBatch, error) {
	var batch model.PaymentBatch
	err := GetDB(ctx, r.db).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepository) FindOpen(ctx context.Context, payorID uuid.UUID, effectiveDate time.Time) (*model.PaymentBatch, error) {
	var batch model.PaymentBatch
	err := GetDB(ctx, r.db).
		Where("payor_id = ? AND effective_date = ? AND status = ?", payorID, effectiveDate, model.BatchStatusOpen).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepository) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]model.PaymentBatch, error) {
	var batches []model.PaymentBatch
	err := GetDB(ctx, r.db).
		Where("status = ? AND created_at < ?", model.BatchStatusOpen, cutoff).
		Order("created_at asc").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *batchRepository) List(ctx context.Context, status string, page, limit int) ([]model.PaymentBatch, int64, error) {
	var batches []model.PaymentBatch
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.PaymentBatch{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Order("created_at DESC").Offset(offset).Limit(limit)
	if status != "" {
		fetchQuery = fetchQuery.Where("status = ?", status)
	}
	if err := fetchQuery.Find(&batches).Error; err != nil {
		return nil, 0, err
	}

	return batches, total, nil
}

func (r *batchRepository) UpdateState(ctx context.Context, batch *model.PaymentBatch) error {
	rows, err := optimisticUpdate(GetDB(ctx, r.db), &model.PaymentBatch{}, batch.ID, batch.Version, map[string]interface{}{
		"status":       batch.Status,
		"external_ref": batch.ExternalRef,
		"submitted_at": batch.SubmittedAt,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return &model.ConcurrentModificationError{Aggregate: "payment batch", ID: batch.ID}
	}
	batch.Version++
	return nil
}
