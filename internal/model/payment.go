package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment status constants
const (
	PaymentStatusOriginated = "ORIGINATED"
	PaymentStatusSubmitted  = "SUBMITTED"
	PaymentStatusProcessing = "PROCESSING"
	PaymentStatusSettled    = "SETTLED"
	PaymentStatusReturned   = "RETURNED"
	PaymentStatusFailed     = "FAILED"
)

// Payment event type constants. Status transitions append one event each;
// ReturnAfterSettlement is the append-only record of a return notification
// that arrived for an already settled payment — a distinct occurrence, never
// a backward transition.
const (
	PaymentEventTransition            = "STATUS_TRANSITION"
	PaymentEventReturnAfterSettlement = "RETURN_AFTER_SETTLEMENT"
	PaymentEventResubmitted           = "RESUBMITTED"
)

// paymentTransitions is the exhaustive lifecycle table. The key is the
// current status, the value the set of statuses reachable from it.
var paymentTransitions = map[string][]string{
	PaymentStatusOriginated: {PaymentStatusSubmitted},
	PaymentStatusSubmitted:  {PaymentStatusProcessing, PaymentStatusSettled, PaymentStatusReturned},
	PaymentStatusProcessing: {PaymentStatusSettled, PaymentStatusReturned},
	PaymentStatusSettled:    {}, // terminal on the success path
	PaymentStatusReturned:   {PaymentStatusFailed},
	PaymentStatusFailed:     {}, // terminal
}

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to string) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment is a single originated payment instruction for exactly one
// approved invoice. Amount is fixed at creation from the source invoice and
// never changes. A resubmission after a return is a new Payment referencing
// the same invoice, linked back through SupersedesID; the returned original
// stays immutable history.
type Payment struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InvoiceID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"invoice_id"`
	ApprovalID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"approval_id"`
	PayorID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"payor_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	BankAccountRef string          `gorm:"type:varchar(64);not null" json:"bank_account_ref"`
	EffectiveDate  time.Time       `gorm:"type:date;not null;index" json:"effective_date"`
	Status         string          `gorm:"type:varchar(20);not null;index" json:"status"`
	BatchID        *uuid.UUID      `gorm:"type:uuid;index" json:"batch_id"`
	SupersedesID   *uuid.UUID      `gorm:"type:uuid;index" json:"supersedes_id"`
	Events         []PaymentEvent  `gorm:"foreignKey:PaymentID" json:"events,omitempty"`
	Version        int             `gorm:"not null;default:1" json:"version"` // optimistic lock token
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PaymentEvent is one append-only entry in a payment's history.
type PaymentEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PaymentID  uuid.UUID `gorm:"type:uuid;not null;index" json:"payment_id"`
	EventType  string    `gorm:"type:varchar(30);not null" json:"event_type"`
	FromStatus string    `gorm:"type:varchar(20)" json:"from_status"`
	ToStatus   string    `gorm:"type:varchar(20)" json:"to_status"`
	ReasonCode string    `gorm:"type:varchar(40)" json:"reason_code"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// IsTerminal reports whether the payment can change status again.
func (p *Payment) IsTerminal() bool {
	return len(paymentTransitions[p.Status]) == 0
}

// TransitionTo moves the payment to the target status and returns the
// appended history event. Re-delivering the current status is an idempotent
// no-op (nil event, nil error) to tolerate duplicate gateway notifications.
func (p *Payment) TransitionTo(to, reasonCode string, now time.Time) (*PaymentEvent, error) {
	if p.Status == to {
		return nil, nil
	}
	if !CanTransition(p.Status, to) {
		return nil, &InvalidTransitionError{PaymentID: p.ID, From: p.Status, To: to}
	}
	event := PaymentEvent{
		PaymentID:  p.ID,
		EventType:  PaymentEventTransition,
		FromStatus: p.Status,
		ToStatus:   to,
		ReasonCode: reasonCode,
		CreatedAt:  now,
	}
	p.Status = to
	p.Events = append(p.Events, event)
	return &event, nil
}

// RecordReturnAfterSettlement appends the branch event for a return
// notification on an already settled payment. Status stays SETTLED.
func (p *Payment) RecordReturnAfterSettlement(reasonCode string, now time.Time) PaymentEvent {
	event := PaymentEvent{
		PaymentID:  p.ID,
		EventType:  PaymentEventReturnAfterSettlement,
		FromStatus: p.Status,
		ToStatus:   p.Status,
		ReasonCode: reasonCode,
		CreatedAt:  now,
	}
	p.Events = append(p.Events, event)
	return event
}
