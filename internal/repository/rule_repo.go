package repository

import (
	"context"
	"errors"

	"receivables/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RuleRepository interface {
	Create(ctx context.Context, rule *model.ApprovalRule) error
	FindActive(ctx context.Context, payorID uuid.UUID) (*model.ApprovalRule, error)
	FindByVersion(ctx context.Context, payorID uuid.UUID, version int) (*model.ApprovalRule, error)
	NextVersion(ctx context.Context, payorID uuid.UUID) (int, error)
	DeactivateActive(ctx context.Context, payorID uuid.UUID) error
}

type ruleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) Create(ctx context.Context, rule *model.ApprovalRule) error {
	return GetDB(ctx, r.db).Create(rule).Error
}

func (r *ruleRepository) FindActive(ctx context.Context, payorID uuid.UUID) (*model.ApprovalRule, error) {
	var rule model.ApprovalRule
	err := GetDB(ctx, r.db).
		Where("payor_id = ? AND active = true", payorID).
		Order("version desc").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.RuleNotFoundError{PayorID: payorID, Reason: "no active approval rule"}
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) FindByVersion(ctx context.Context, payorID uuid.UUID, version int) (*model.ApprovalRule, error) {
	var rule model.ApprovalRule
	err := GetDB(ctx, r.db).
		Where("payor_id = ? AND version = ?", payorID, version).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.RuleNotFoundError{PayorID: payorID, Version: version, Reason: "rule version does not exist"}
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) NextVersion(ctx context.Context, payorID uuid.UUID) (int, error) {
	var max int
	err := GetDB(ctx, r.db).
		Model(&model.ApprovalRule{}).
		Where("payor_id = ?", payorID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *ruleRepository) DeactivateActive(ctx context.Context, payorID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Model(&model.ApprovalRule{}).
		Where("payor_id = ? AND active = true", payorID).
		Update("active", false).Error
}
