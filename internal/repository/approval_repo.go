package repository

import (
	"context"
	"errors"

	"receivables/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ApprovalRepository interface {
	Create(ctx context.Context, approval *model.InvoiceApproval) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.InvoiceApproval, error)
	FindByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*model.InvoiceApproval, error)
	List(ctx context.Context, status string, page, limit int) ([]model.InvoiceApproval, int64, error)
	// UpdateState persists status/cursor under the optimistic version the
	// approval was read at; a stale version yields ConcurrentModificationError.
	UpdateState(ctx context.Context, approval *model.InvoiceApproval) error
	AppendAction(ctx context.Context, action *model.ApprovalAction) error
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, approval *model.InvoiceApproval) error {
	return GetDB(ctx, r.db).Create(approval).Error
}

func (r *approvalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.InvoiceApproval, error) {
	var approval model.InvoiceApproval
	err := GetDB(ctx, r.db).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc") }).
		First(&approval, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &approval, nil
}

func (r *approvalRepository) FindByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*model.InvoiceApproval, error) {
	var approval model.InvoiceApproval
	err := GetDB(ctx, r.db).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc") }).
		First(&approval, "invoice_id = ?", invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &approval, nil
}

func (r *approvalRepository) List(ctx context.Context, status string, page, limit int) ([]model.InvoiceApproval, int64, error) {
	var approvals []model.InvoiceApproval
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.InvoiceApproval{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Preload("Actions")
	if status != "" {
		fetchQuery = fetchQuery.Where("status = ?", status)
	}
	if err := fetchQuery.Order("created_at DESC").Offset(offset).Limit(limit).Find(&approvals).Error; err != nil {
		return nil, 0, err
	}

	return approvals, total, nil
}

func (r *approvalRepository) UpdateState(ctx context.Context, approval *model.InvoiceApproval) error {
	rows, err := optimisticUpdate(GetDB(ctx, r.db), &model.InvoiceApproval{}, approval.ID, approval.Version, map[string]interface{}{
		"status":       approval.Status,
		"current_slot": approval.CurrentSlot,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return &model.ConcurrentModificationError{Aggregate: "invoice approval", ID: approval.ID}
	}
	approval.Version++
	return nil
}

func (r *approvalRepository) AppendAction(ctx context.Context, action *model.ApprovalAction) error {
	return GetDB(ctx, r.db).Create(action).Error
}
