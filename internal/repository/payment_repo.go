package repository

import (
	"context"
	"errors"

	"receivables/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	// FindOriginalByApprovalID returns the first (non-superseding) payment
	// originated for an approval, or nil. Used for idempotent origination.
	FindOriginalByApprovalID(ctx context.Context, approvalID uuid.UUID) (*model.Payment, error)
	ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]model.Payment, error)
	List(ctx context.Context, status string, page, limit int) ([]model.Payment, int64, error)
	// UpdateState persists status/batch assignment under the optimistic
	// version the payment was read at.
	UpdateState(ctx context.Context, payment *model.Payment) error
	// MarkBatchSubmitted flips every ORIGINATED payment of the batch to
	// SUBMITTED in one statement. Ran inside the batch submission transaction.
	MarkBatchSubmitted(ctx context.Context, batchID uuid.UUID) (int64, error)
	AppendEvent(ctx context.Context, event *model.PaymentEvent) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	return GetDB(ctx, r.db).Create(payment).Error
}

func (r *paymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	var payment model.Payment
	err := GetDB(ctx, r.db).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc") }).
		First(&payment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindOriginalByApprovalID(ctx context.Context, approvalID uuid.UUID) (*model.Payment, error) {
	var payment model.Payment
	err := GetDB(ctx, r.db).
		Where("approval_id = ? AND supersedes_id IS NULL", approvalID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]model.Payment, error) {
	var payments []model.Payment
	// Insertion order is the deterministic file order at submission time.
	err := GetDB(ctx, r.db).
		Where("batch_id = ?", batchID).
		Order("created_at asc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepository) List(ctx context.Context, status string, page, limit int) ([]model.Payment, int64, error) {
	var payments []model.Payment
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Payment{})
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
	if err := fetchQuery.Find(&payments).Error; err != nil {
		return nil, 0, err
	}

	return payments, total, nil
}

func (r *paymentRepository) UpdateState(ctx context.Context, payment *model.Payment) error {
	rows, err := optimisticUpdate(GetDB(ctx, r.db), &model.Payment{}, payment.ID, payment.Version, map[string]interface{}{
		"status":   payment.Status,
		"batch_id": payment.BatchID,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return &model.ConcurrentModificationError{Aggregate: "payment", ID: payment.ID}
	}
	payment.Version++
	return nil
}

func (r *paymentRepository) MarkBatchSubmitted(ctx context.Context, batchID uuid.UUID) (int64, error) {
	res := GetDB(ctx, r.db).
		Model(&model.Payment{}).
		Where("batch_id = ? AND status = ?", batchID, model.PaymentStatusOriginated).
		Updates(map[string]interface{}{
			"status":  model.PaymentStatusSubmitted,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

func (r *paymentRepository) AppendEvent(ctx context.Context, event *model.PaymentEvent) error {
	return GetDB(ctx, r.db).Create(event).Error
}
