package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentBatch status constants
const (
	BatchStatusOpen      = "OPEN"
	BatchStatusClosed    = "CLOSED"
	BatchStatusSubmitted = "SUBMITTED"
)

// PaymentBatch is a time-boxed collection of payments submitted together.
// One open batch exists per (payor, effective date) pair; closing freezes
// membership, submission flips the batch and every member payment to
// SUBMITTED in a single transaction. A failed submission leaves the batch
// CLOSED and every payment ORIGINATED, so nothing reads as submitted without
// a confirmed gateway acceptance.
type PaymentBatch struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PayorID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_batch_window" json:"payor_id"`
	EffectiveDate time.Time  `gorm:"type:date;not null;index:idx_batch_window" json:"effective_date"`
	Status        string     `gorm:"type:varchar(20);not null;index" json:"status"`
	ExternalRef   string     `gorm:"type:varchar(64)" json:"external_ref"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	Version       int        `gorm:"not null;default:1" json:"version"` // optimistic lock token
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Close freezes batch membership ahead of submission.
func (b *PaymentBatch) Close() error {
	if b.Status != BatchStatusOpen {
		return &BatchNotOpenError{BatchID: b.ID, Status: b.Status}
	}
	b.Status = BatchStatusClosed
	return nil
}

// MarkSubmitted records a confirmed gateway acceptance.
func (b *PaymentBatch) MarkSubmitted(externalRef string, now time.Time) {
	b.Status = BatchStatusSubmitted
	b.ExternalRef = externalRef
	b.SubmittedAt = &now
}
