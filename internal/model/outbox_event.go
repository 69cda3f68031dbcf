package model

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants carried through the outbox. Cross-aggregate effects
// travel only this way: the event row is written in the same transaction as
// the aggregate mutation, then delivered at least once by the dispatcher.
// Every handler must therefore be idempotent.
const (
	EventSlotApproved      = "approval.slot_approved"
	EventChainCompleted    = "approval.chain_completed"
	EventChainRejected     = "approval.chain_rejected"
	EventChainWithdrawn    = "approval.chain_withdrawn"
	EventPaymentOriginated = "payment.originated"
	EventPaymentReturned   = "payment.returned"
	EventBatchSubmitted    = "batch.submitted"
)

// Outbox event status constants
const (
	OutboxPending   = "PENDING"
	OutboxPublished = "PUBLISHED"
)

// OutboxEvent is one pending or delivered domain event.
type OutboxEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AggregateID uuid.UUID  `gorm:"type:uuid;not null;index" json:"aggregate_id"`
	EventType   string     `gorm:"type:varchar(50);not null;index" json:"event_type"`
	Payload     string     `gorm:"type:jsonb;not null" json:"payload"`
	Status      string     `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	PublishedAt *time.Time `json:"published_at"`
}
