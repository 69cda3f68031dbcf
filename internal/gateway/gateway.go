// Package gateway is the anti-corruption layer toward the external payment
// processor. The engine only ever sees this contract: an opaque batch payload
// going out, and status/return notifications keyed by the engine's own
// payment identifiers coming back. Translating the processor's wire format
// and code vocabulary happens behind this interface, never in the core.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentInstruction is one payment line of a batch payload, in the order it
// was added to the batch.
type PaymentInstruction struct {
	PaymentID      uuid.UUID       `json:"payment_id"`
	BankAccountRef string          `json:"bank_account_ref"`
	Amount         decimal.Decimal `json:"amount"`
}

// BatchPayload is the submission unit crossing the boundary.
type BatchPayload struct {
	BatchID       uuid.UUID            `json:"batch_id"`
	PayorID       uuid.UUID            `json:"payor_id"`
	EffectiveDate time.Time            `json:"effective_date"`
	Instructions  []PaymentInstruction `json:"instructions"`
}

// Processing status vocabulary delivered by the gateway. The gateway has
// already translated the processor's external codes into these.
const (
	StatusProcessing = "processing"
	StatusSettled    = "settled"
)

// StatusNotification is an asynchronous processing update for one payment.
type StatusNotification struct {
	PaymentID uuid.UUID `json:"payment_id" binding:"required"`
	Status    string    `json:"status" binding:"required,oneof=processing settled"`
}

// ReturnNotification reports a post-submission failure with the gateway's
// normalized return-reason code (e.g. "insufficient_funds").
type ReturnNotification struct {
	PaymentID  uuid.UUID `json:"payment_id" binding:"required"`
	ReasonCode string    `json:"reason_code" binding:"required"`
}

// PaymentGateway submits batches to the external processor.
type PaymentGateway interface {
	// SubmitBatch hands the payload to the processor and returns its external
	// batch reference. An error means nothing was accepted; the caller must
	// leave every payment unsubmitted.
	SubmitBatch(ctx context.Context, payload BatchPayload) (string, error)
}
