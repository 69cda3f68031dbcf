package repository

import (
	"context"
	"time"

	"receivables/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutboxRepository interface {
	// Enqueue writes the event row; callers run it inside the same
	// transaction as the aggregate mutation it announces.
	Enqueue(ctx context.Context, event *model.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID) error
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, event *model.OutboxEvent) error {
	return GetDB(ctx, r.db).Create(event).Error
}

func (r *outboxRepository) FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	err := GetDB(ctx, r.db).
		Where("status = ?", model.OutboxPending).
		Order("created_at asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return GetDB(ctx, r.db).
		Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.OutboxPublished,
			"published_at": &now,
		}).Error
}

func (r *outboxRepository) RecordFailure(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).
		Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
