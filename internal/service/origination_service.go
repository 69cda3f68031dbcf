package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"receivables/internal/client"
	"receivables/internal/gateway"
	"receivables/internal/model"
	"receivables/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- DTOs ---

type PaymentResponse struct {
	ID             string                 `json:"id"`
	InvoiceID      string                 `json:"invoice_id"`
	PayorID        string                 `json:"payor_id"`
	Amount         string                 `json:"amount"`
	BankAccountRef string                 `json:"bank_account_ref"`
	EffectiveDate  string                 `json:"effective_date"`
	Status         string                 `json:"status"`
	BatchID        *string                `json:"batch_id"`
	SupersedesID   *string                `json:"supersedes_id"`
	Events         []PaymentEventResponse `json:"events,omitempty"`
	CreatedAt      string                 `json:"created_at"`
}

type PaymentEventResponse struct {
	EventType  string `json:"event_type"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type BatchResponse struct {
	ID            string  `json:"id"`
	PayorID       string  `json:"payor_id"`
	EffectiveDate string  `json:"effective_date"`
	Status        string  `json:"status"`
	ExternalRef   string  `json:"external_ref,omitempty"`
	SubmittedAt   *string `json:"submitted_at,omitempty"`
	PaymentCount  int     `json:"payment_count"`
}

// --- Interface ---

// OriginationService turns completed approval chains into payments and
// groups them into per-(payor, effective date) batches for submission across
// the gateway boundary. Origination is idempotent: re-delivery of the same
// completion event finds the existing payment instead of minting another.
type OriginationService interface {
	Originate(ctx context.Context, approvalID uuid.UUID) (uuid.UUID, error)
	// HandleChainCompleted is the outbox subscriber for chain completion.
	HandleChainCompleted(ctx context.Context, ev model.OutboxEvent) error
	CloseBatch(ctx context.Context, batchID uuid.UUID, actorID *uuid.UUID) (gateway.BatchPayload, error)
	SubmitBatch(ctx context.Context, batchID uuid.UUID, actorID *uuid.UUID) (BatchResponse, error)
	// Resubmit re-originates a returned payment against a replacement bank
	// account. The new payment supersedes the original, which stays RETURNED.
	Resubmit(ctx context.Context, paymentID uuid.UUID, bankAccountRef string, actorID *uuid.UUID) (PaymentResponse, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (BatchResponse, error)
	ListBatches(ctx context.Context, status string, page, limit int) ([]BatchResponse, int64, error)
}

type originationService struct {
	paymentRepo  repository.PaymentRepository
	batchRepo    repository.BatchRepository
	approvalRepo repository.ApprovalRepository
	auditRepo    repository.AuditRepository
	outboxRepo   repository.OutboxRepository
	payors       client.PayorDirectory
	gw           gateway.PaymentGateway
	txManager    repository.TransactionManager
	logger       *zap.Logger
	now          func() time.Time
}

func NewOriginationService(
	paymentRepo repository.PaymentRepository,
	batchRepo repository.BatchRepository,
	approvalRepo repository.ApprovalRepository,
	auditRepo repository.AuditRepository,
	outboxRepo repository.OutboxRepository,
	payors client.PayorDirectory,
	gw gateway.PaymentGateway,
	txManager repository.TransactionManager,
	logger *zap.Logger,
) OriginationService {
	return &originationService{
		paymentRepo:  paymentRepo,
		batchRepo:    batchRepo,
		approvalRepo: approvalRepo,
		auditRepo:    auditRepo,
		outboxRepo:   outboxRepo,
		payors:       payors,
		gw:           gw,
		txManager:    txManager,
		logger:       logger,
		now:          time.Now,
	}
}

// --- Implementation ---

func (s *originationService) HandleChainCompleted(ctx context.Context, ev model.OutboxEvent) error {
	var payload struct {
		ApprovalID string `json:"approval_id"`
	}
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		return fmt.Errorf("malformed chain-completed payload: %w", err)
	}
	approvalID, err := uuid.Parse(payload.ApprovalID)
	if err != nil {
		return fmt.Errorf("malformed approval id in chain-completed payload: %w", err)
	}

	_, err = s.Originate(ctx, approvalID)
	var notApproved *model.NotApprovedError
	if errors.As(err, &notApproved) {
		// Out-of-order or stale delivery against a non-approved chain.
		// Permanent for this event; dropping it keeps the handler idempotent.
		s.logger.Warn("Dropping chain-completed event for non-approved chain",
			zap.String("approval_id", approvalID.String()),
			zap.String("status", notApproved.Status))
		return nil
	}
	return err
}

func (s *originationService) Originate(ctx context.Context, approvalID uuid.UUID) (uuid.UUID, error) {
	approval, err := s.approvalRepo.FindByID(ctx, approvalID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invoice approval not found: %w", err)
	}
	// Defensive double check: origination is triggered asynchronously and
	// must tolerate duplicate or reordered event delivery.
	if approval.Status != model.ApprovalStatusApproved {
		return uuid.Nil, &model.NotApprovedError{ApprovalID: approvalID, Status: approval.Status}
	}

	if existing, findErr := s.paymentRepo.FindOriginalByApprovalID(ctx, approvalID); findErr != nil {
		return uuid.Nil, findErr
	} else if existing != nil {
		return existing.ID, nil
	}

	accountRef, err := s.payors.VerifiedBankAccountRef(ctx, approval.PayorID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve payor bank account: %w", err)
	}

	payment := model.Payment{
		InvoiceID:      approval.InvoiceID,
		ApprovalID:     approval.ID,
		PayorID:        approval.PayorID,
		Amount:         approval.Amount,
		BankAccountRef: accountRef,
		EffectiveDate:  effectiveDateFor(s.now()),
		Status:         model.PaymentStatusOriginated,
		Version:        1,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.paymentRepo.Create(txCtx, &payment); createErr != nil {
			return fmt.Errorf("failed to create payment: %w", createErr)
		}
		if batchErr := s.addToOpenBatch(txCtx, &payment); batchErr != nil {
			return batchErr
		}

		details, _ := json.Marshal(map[string]interface{}{
			"invoice_id":     approval.InvoiceID.String(),
			"amount":         payment.Amount.StringFixed(4),
			"effective_date": payment.EffectiveDate.Format("2006-01-02"),
		})
		audit := model.AuditLog{
			Action:   model.ActionOriginatePayment,
			EntityID: payment.ID.String(),
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		return s.enqueuePaymentEvent(txCtx, &payment, model.EventPaymentOriginated, nil)
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Payment originated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("approval_id", approvalID.String()),
		zap.String("amount", payment.Amount.StringFixed(4)))

	return payment.ID, nil
}

// addToOpenBatch places a freshly originated payment into the open batch for
// its (payor, effective date) window, creating the batch when none exists.
func (s *originationService) addToOpenBatch(ctx context.Context, payment *model.Payment) error {
	batch, err := s.batchRepo.FindOpen(ctx, payment.PayorID, payment.EffectiveDate)
	if err != nil {
		return fmt.Errorf("failed to look up open batch: %w", err)
	}
	if batch == nil {
		batch = &model.PaymentBatch{
			PayorID:       payment.PayorID,
			EffectiveDate: payment.EffectiveDate,
			Status:        model.BatchStatusOpen,
			Version:       1,
		}
		if createErr := s.batchRepo.Create(ctx, batch); createErr != nil {
			return fmt.Errorf("failed to create payment batch: %w", createErr)
		}
	}

	payment.BatchID = &batch.ID
	return s.paymentRepo.UpdateState(ctx, payment)
}

func (s *originationService) CloseBatch(ctx context.Context, batchID uuid.UUID, actorID *uuid.UUID) (gateway.BatchPayload, error) {
	var payload gateway.BatchPayload
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		batch, err := s.batchRepo.FindByID(txCtx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return &model.NotFoundError{Kind: "payment batch", ID: batchID}
		}

		payments, err := s.paymentRepo.ListByBatchID(txCtx, batchID)
		if err != nil {
			return fmt.Errorf("failed to list batch payments: %w", err)
		}
		if len(payments) == 0 {
			return &model.EmptyBatchError{BatchID: batchID}
		}

		if closeErr := batch.Close(); closeErr != nil {
			return closeErr
		}
		if updateErr := s.batchRepo.UpdateState(txCtx, batch); updateErr != nil {
			return updateErr
		}

		payload = buildPayload(batch, payments)

		details, _ := json.Marshal(map[string]interface{}{
			"payor_id": batch.PayorID.String(),
			"payments": len(payments),
		})
		audit := model.AuditLog{
			ActorID:  actorID,
			Action:   model.ActionCloseBatch,
			EntityID: batch.ID.String(),
			Details:  string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		return gateway.BatchPayload{}, err
	}
	return payload, nil
}

func (s *originationService) SubmitBatch(ctx context.Context, batchID uuid.UUID, actorID *uuid.UUID) (BatchResponse, error) {
	batch, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return BatchResponse{}, err
	}
	if batch == nil {
		return BatchResponse{}, &model.NotFoundError{Kind: "payment batch", ID: batchID}
	}
	if batch.Status == model.BatchStatusSubmitted {
		// Duplicate submit request: idempotent, report the existing outcome.
		return s.GetBatch(ctx, batchID)
	}
	if batch.Status != model.BatchStatusClosed {
		return BatchResponse{}, &model.BatchNotOpenError{BatchID: batchID, Status: batch.Status}
	}

	payments, err := s.paymentRepo.ListByBatchID(ctx, batchID)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("failed to list batch payments: %w", err)
	}
	if len(payments) == 0 {
		return BatchResponse{}, &model.EmptyBatchError{BatchID: batchID}
	}

	// The gateway call happens outside any transaction. On failure nothing
	// below runs: the batch stays CLOSED and every payment ORIGINATED, so no
	// payment ever reads as submitted without a confirmed acceptance.
	externalRef, err := s.gw.SubmitBatch(ctx, buildPayload(batch, payments))
	if err != nil {
		s.logger.Error("Batch submission rejected by gateway",
			zap.String("batch_id", batchID.String()),
			zap.Error(err))
		return BatchResponse{}, &model.GatewaySubmissionError{BatchID: batchID, Err: err}
	}

	now := s.now()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		batch.MarkSubmitted(externalRef, now)
		if updateErr := s.batchRepo.UpdateState(txCtx, batch); updateErr != nil {
			return updateErr
		}

		moved, moveErr := s.paymentRepo.MarkBatchSubmitted(txCtx, batchID)
		if moveErr != nil {
			return fmt.Errorf("failed to mark batch payments submitted: %w", moveErr)
		}
		if moved != int64(len(payments)) {
			return fmt.Errorf("batch %s: expected to submit %d payments, moved %d", batchID, len(payments), moved)
		}

		for _, p := range payments {
			event := model.PaymentEvent{
				PaymentID:  p.ID,
				EventType:  model.PaymentEventTransition,
				FromStatus: model.PaymentStatusOriginated,
				ToStatus:   model.PaymentStatusSubmitted,
				CreatedAt:  now,
			}
			if appendErr := s.paymentRepo.AppendEvent(txCtx, &event); appendErr != nil {
				return fmt.Errorf("failed to append payment event: %w", appendErr)
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"external_ref": externalRef,
			"payments":     len(payments),
		})
		audit := model.AuditLog{
			ActorID:  actorID,
			Action:   model.ActionSubmitBatch,
			EntityID: batch.ID.String(),
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		raw, _ := json.Marshal(map[string]interface{}{
			"batch_id":     batch.ID.String(),
			"external_ref": externalRef,
		})
		ev := model.OutboxEvent{
			AggregateID: batch.ID,
			EventType:   model.EventBatchSubmitted,
			Payload:     string(raw),
			Status:      model.OutboxPending,
		}
		return s.outboxRepo.Enqueue(txCtx, &ev)
	})
	if err != nil {
		return BatchResponse{}, err
	}

	s.logger.Info("Batch submitted",
		zap.String("batch_id", batchID.String()),
		zap.String("external_ref", externalRef),
		zap.Int("payments", len(payments)))

	return toBatchResponse(*batch, len(payments)), nil
}

func (s *originationService) Resubmit(ctx context.Context, paymentID uuid.UUID, bankAccountRef string, actorID *uuid.UUID) (PaymentResponse, error) {
	original, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return PaymentResponse{}, err
	}
	if original == nil {
		return PaymentResponse{}, &model.NotFoundError{Kind: "payment", ID: paymentID}
	}
	if original.Status != model.PaymentStatusReturned {
		return PaymentResponse{}, &model.InvalidTransitionError{
			PaymentID: paymentID,
			From:      original.Status,
			To:        model.PaymentStatusOriginated,
		}
	}
	if bankAccountRef == "" {
		return PaymentResponse{}, fmt.Errorf("resubmission requires a replacement bank account reference")
	}

	replacement := model.Payment{
		InvoiceID:      original.InvoiceID,
		ApprovalID:     original.ApprovalID,
		PayorID:        original.PayorID,
		Amount:         original.Amount,
		BankAccountRef: bankAccountRef,
		EffectiveDate:  effectiveDateFor(s.now()),
		Status:         model.PaymentStatusOriginated,
		SupersedesID:   &original.ID,
		Version:        1,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.paymentRepo.Create(txCtx, &replacement); createErr != nil {
			return fmt.Errorf("failed to create replacement payment: %w", createErr)
		}
		if batchErr := s.addToOpenBatch(txCtx, &replacement); batchErr != nil {
			return batchErr
		}

		// Append-only marker on the original; its RETURNED status and
		// history stay untouched.
		marker := model.PaymentEvent{
			PaymentID:  original.ID,
			EventType:  model.PaymentEventResubmitted,
			FromStatus: original.Status,
			ToStatus:   original.Status,
			CreatedAt:  s.now(),
		}
		if appendErr := s.paymentRepo.AppendEvent(txCtx, &marker); appendErr != nil {
			return fmt.Errorf("failed to append resubmission marker: %w", appendErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"superseded_payment": original.ID.String(),
			"replacement":        replacement.ID.String(),
		})
		audit := model.AuditLog{
			ActorID:  actorID,
			Action:   model.ActionResubmitPayment,
			EntityID: replacement.ID.String(),
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		return s.enqueuePaymentEvent(txCtx, &replacement, model.EventPaymentOriginated, map[string]interface{}{
			"supersedes": original.ID.String(),
		})
	})
	if err != nil {
		return PaymentResponse{}, err
	}

	return toPaymentResponse(replacement), nil
}

func (s *originationService) GetBatch(ctx context.Context, batchID uuid.UUID) (BatchResponse, error) {
	batch, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return BatchResponse{}, err
	}
	if batch == nil {
		return BatchResponse{}, &model.NotFoundError{Kind: "payment batch", ID: batchID}
	}
	payments, err := s.paymentRepo.ListByBatchID(ctx, batchID)
	if err != nil {
		return BatchResponse{}, err
	}
	return toBatchResponse(*batch, len(payments)), nil
}

func (s *originationService) ListBatches(ctx context.Context, status string, page, limit int) ([]BatchResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	batches, total, err := s.batchRepo.List(ctx, status, page, limit)
	if err != nil {
		return nil, 0, err
	}

	result := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		payments, listErr := s.paymentRepo.ListByBatchID(ctx, b.ID)
		if listErr != nil {
			return nil, 0, listErr
		}
		result = append(result, toBatchResponse(b, len(payments)))
	}
	return result, total, nil
}

func (s *originationService) enqueuePaymentEvent(ctx context.Context, payment *model.Payment, eventType string, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"payment_id": payment.ID.String(),
		"invoice_id": payment.InvoiceID.String(),
		"payor_id":   payment.PayorID.String(),
		"status":     payment.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)

	ev := model.OutboxEvent{
		AggregateID: payment.ID,
		EventType:   eventType,
		Payload:     string(raw),
		Status:      model.OutboxPending,
	}
	if err := s.outboxRepo.Enqueue(ctx, &ev); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", eventType, err)
	}
	return nil
}

// --- Helpers ---

// effectiveDateFor truncates to the UTC calendar date used as the batching
// window key.
func effectiveDateFor(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func buildPayload(batch *model.PaymentBatch, payments []model.Payment) gateway.BatchPayload {
	instructions := make([]gateway.PaymentInstruction, 0, len(payments))
	for _, p := range payments {
		instructions = append(instructions, gateway.PaymentInstruction{
			PaymentID:      p.ID,
			BankAccountRef: p.BankAccountRef,
			Amount:         p.Amount,
		})
	}
	return gateway.BatchPayload{
		BatchID:       batch.ID,
		PayorID:       batch.PayorID,
		EffectiveDate: batch.EffectiveDate,
		Instructions:  instructions,
	}
}

func toPaymentResponse(p model.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:             p.ID.String(),
		InvoiceID:      p.InvoiceID.String(),
		PayorID:        p.PayorID.String(),
		Amount:         p.Amount.StringFixed(4),
		BankAccountRef: p.BankAccountRef,
		EffectiveDate:  p.EffectiveDate.Format("2006-01-02"),
		Status:         p.Status,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.BatchID != nil {
		s := p.BatchID.String()
		resp.BatchID = &s
	}
	if p.SupersedesID != nil {
		s := p.SupersedesID.String()
		resp.SupersedesID = &s
	}
	for _, ev := range p.Events {
		resp.Events = append(resp.Events, PaymentEventResponse{
			EventType:  ev.EventType,
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			ReasonCode: ev.ReasonCode,
			CreatedAt:  ev.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

func toBatchResponse(b model.PaymentBatch, paymentCount int) BatchResponse {
	resp := BatchResponse{
		ID:            b.ID.String(),
		PayorID:       b.PayorID.String(),
		EffectiveDate: b.EffectiveDate.Format("2006-01-02"),
		Status:        b.Status,
		ExternalRef:   b.ExternalRef,
		PaymentCount:  paymentCount,
	}
	if b.SubmittedAt != nil {
		s := b.SubmittedAt.Format(time.RFC3339)
		resp.SubmittedAt = &s
	}
	return resp
}
