package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Domain error taxonomy. Handlers map these onto HTTP codes with errors.As;
// everything else is wrapped with fmt.Errorf("%w") and treated as internal.

// NotFoundError reports a missing aggregate by kind and id.
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// RuleNotFoundError signals a configuration defect: no active approval rule,
// or a tier table that does not cover the requested amount. Never defaulted.
type RuleNotFoundError struct {
	PayorID uuid.UUID
	Version int
	Reason  string
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("approval rule not found for payor %s (version %d): %s", e.PayorID, e.Version, e.Reason)
}

// IneligibleApproverError rejects an action by an approver not in the
// snapshot's eligible set for the current slot.
type IneligibleApproverError struct {
	ApproverID uuid.UUID
	SlotIndex  int
}

func (e *IneligibleApproverError) Error() string {
	return fmt.Sprintf("approver %s is not eligible for slot %d", e.ApproverID, e.SlotIndex)
}

// DuplicateApproverError enforces pairwise-distinct approvers across the
// slots of one chain.
type DuplicateApproverError struct {
	ApproverID uuid.UUID
}

func (e *DuplicateApproverError) Error() string {
	return fmt.Sprintf("approver %s already acted on this chain", e.ApproverID)
}

// ChainAlreadyTerminalError rejects any action on a chain that has reached
// approved, rejected or withdrawn. Returned to the caller, never swallowed,
// so the audit trail stays honest.
type ChainAlreadyTerminalError struct {
	ApprovalID uuid.UUID
	Status     string
}

func (e *ChainAlreadyTerminalError) Error() string {
	return fmt.Sprintf("approval chain %s is already terminal (%s)", e.ApprovalID, e.Status)
}

// NotApprovedError is the defensive check on origination: the referenced
// chain is not in the approved state.
type NotApprovedError struct {
	ApprovalID uuid.UUID
	Status     string
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("invoice approval %s is not approved (status %s)", e.ApprovalID, e.Status)
}

// InvalidTransitionError rejects a payment status change not present in the
// lifecycle transition table.
type InvalidTransitionError struct {
	PaymentID uuid.UUID
	From      string
	To        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("payment %s: illegal transition %s -> %s", e.PaymentID, e.From, e.To)
}

// EmptyBatchError rejects closing a batch with no member payments.
type EmptyBatchError struct {
	BatchID uuid.UUID
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("batch %s has no payments", e.BatchID)
}

// BatchNotOpenError rejects adding payments to a closed or submitted batch.
type BatchNotOpenError struct {
	BatchID uuid.UUID
	Status  string
}

func (e *BatchNotOpenError) Error() string {
	return fmt.Sprintf("batch %s is not open (status %s)", e.BatchID, e.Status)
}

// ConcurrentModificationError reports an optimistic-version mismatch.
// Recoverable: the caller re-reads and retries. Not a defect, not logged as one.
type ConcurrentModificationError struct {
	Aggregate string
	ID        uuid.UUID
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently, retry with fresh state", e.Aggregate, e.ID)
}

// GatewaySubmissionError wraps a failed batch submission at the processor
// boundary. The batch stays unsubmitted and retryable.
type GatewaySubmissionError struct {
	BatchID uuid.UUID
	Err     error
}

func (e *GatewaySubmissionError) Error() string {
	return fmt.Sprintf("gateway rejected batch %s: %v", e.BatchID, e.Err)
}

func (e *GatewaySubmissionError) Unwrap() error { return e.Err }

// UnknownPaymentError marks a gateway notification that references a payment
// identifier this engine never issued. Logged and discarded at the boundary
// with an operational alert; never propagated to the processor as a failure.
type UnknownPaymentError struct {
	PaymentID uuid.UUID
}

func (e *UnknownPaymentError) Error() string {
	return fmt.Sprintf("gateway notification references unknown payment %s", e.PaymentID)
}
