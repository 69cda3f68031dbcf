package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceApproval status constants
const (
	ApprovalStatusApproved  = "APPROVED"
	ApprovalStatusRejected  = "REJECTED"
	ApprovalStatusWithdrawn = "WITHDRAWN"
)

// AwaitingSlotStatus renders the non-terminal status for slot i.
func AwaitingSlotStatus(i int) string {
	return fmt.Sprintf("AWAITING_SLOT_%d", i)
}

// Decision constants for recorded approver actions
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// ApproverSlot is one required position in a chain snapshot: any approver
// from the eligible set may fill it, subject to chain-wide distinctness.
type ApproverSlot struct {
	Eligible []uuid.UUID `json:"eligible"`
}

// SlotList is the chain definition snapshot, stored as jsonb.
type SlotList []ApproverSlot

func (l SlotList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *SlotList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported slot list column type %T", value)
	}
}

// InvoiceApproval tracks one invoice through its required approval chain.
// The chain definition is a snapshot of the payor's rule taken at submission
// time; later rule edits never alter an in-flight chain. The invoice itself
// is owned by Invoicing and referenced here by identifier only.
type InvoiceApproval struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InvoiceID   uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex" json:"invoice_id"`
	PayorID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"payor_id"`
	Amount      decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"amount"`
	RuleVersion int              `gorm:"not null" json:"rule_version"`
	Chain       SlotList         `gorm:"type:jsonb;not null" json:"chain"`
	CurrentSlot int              `gorm:"not null;default:0" json:"current_slot"`
	Status      string           `gorm:"type:varchar(30);not null;index" json:"status"`
	Actions     []ApprovalAction `gorm:"foreignKey:ApprovalID" json:"actions,omitempty"`
	Version     int              `gorm:"not null;default:1" json:"version"` // optimistic lock token
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ApprovalAction is one recorded approver decision, append-only.
type ApprovalAction struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ApprovalID uuid.UUID `gorm:"type:uuid;not null;index" json:"approval_id"`
	SlotIndex  int       `gorm:"not null" json:"slot_index"`
	ApproverID uuid.UUID `gorm:"type:uuid;not null;index" json:"approver_id"`
	Decision   string    `gorm:"type:varchar(10);not null" json:"decision"`
	Note       string    `gorm:"type:text" json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsTerminal reports whether the chain has reached a final outcome.
func (a *InvoiceApproval) IsTerminal() bool {
	switch a.Status {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusWithdrawn:
		return true
	}
	return false
}

// RecordAction applies one approver decision to the chain and returns the
// appended action row. The receiver is mutated only when the action is valid;
// every failure leaves the chain untouched.
func (a *InvoiceApproval) RecordAction(approverID uuid.UUID, decision, note string, now time.Time) (*ApprovalAction, error) {
	if a.IsTerminal() {
		return nil, &ChainAlreadyTerminalError{ApprovalID: a.ID, Status: a.Status}
	}
	if a.CurrentSlot < 0 || a.CurrentSlot >= len(a.Chain) {
		return nil, fmt.Errorf("chain %s has corrupt slot cursor %d of %d", a.ID, a.CurrentSlot, len(a.Chain))
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	// All slots of one chain must be filled by pairwise-distinct approvers.
	for _, prev := range a.Actions {
		if prev.ApproverID == approverID {
			return nil, &DuplicateApproverError{ApproverID: approverID}
		}
	}

	if !a.Chain[a.CurrentSlot].eligible(approverID) {
		return nil, &IneligibleApproverError{ApproverID: approverID, SlotIndex: a.CurrentSlot}
	}

	action := ApprovalAction{
		ApprovalID: a.ID,
		SlotIndex:  a.CurrentSlot,
		ApproverID: approverID,
		Decision:   decision,
		Note:       note,
		CreatedAt:  now,
	}
	a.Actions = append(a.Actions, action)

	switch {
	case decision == DecisionReject:
		a.Status = ApprovalStatusRejected
	case a.CurrentSlot == len(a.Chain)-1:
		a.Status = ApprovalStatusApproved
	default:
		a.CurrentSlot++
		a.Status = AwaitingSlotStatus(a.CurrentSlot)
	}

	return &action, nil
}

// Withdraw forces the chain into its distinct terminal state on an explicit,
// audited request from Invoicing. Not available once the chain is terminal.
func (a *InvoiceApproval) Withdraw() error {
	if a.IsTerminal() {
		return &ChainAlreadyTerminalError{ApprovalID: a.ID, Status: a.Status}
	}
	a.Status = ApprovalStatusWithdrawn
	return nil
}

func (s ApproverSlot) eligible(approverID uuid.UUID) bool {
	for _, id := range s.Eligible {
		if id == approverID {
			return true
		}
	}
	return false
}
