package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"receivables/internal/model"
	"receivables/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

type SubmitForApprovalDTO struct {
	InvoiceID   string `json:"invoice_id" binding:"required,uuid"`
	PayorID     string `json:"payor_id" binding:"required,uuid"`
	Amount      string `json:"amount" binding:"required"`
	RuleVersion int    `json:"rule_version"` // 0 = active version at submission time
}

type RecordActionDTO struct {
	Decision string `json:"decision" binding:"required,oneof=APPROVE REJECT"`
	Note     string `json:"note"`
}

type ApprovalFilter struct {
	Status string
	Page   int
	Limit  int
}

type ApprovalActionResponse struct {
	SlotIndex  int    `json:"slot_index"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type ApprovalResponse struct {
	ID          string                   `json:"id"`
	InvoiceID   string                   `json:"invoice_id"`
	PayorID     string                   `json:"payor_id"`
	Amount      string                   `json:"amount"`
	RuleVersion int                      `json:"rule_version"`
	SlotCount   int                      `json:"slot_count"`
	CurrentSlot int                      `json:"current_slot"`
	Status      string                   `json:"status"`
	Actions     []ApprovalActionResponse `json:"actions"`
	CreatedAt   string                   `json:"created_at"`
}

// --- Interface ---

// ApprovalService drives invoice approval chains: creation from the payor's
// tier rule, approver actions, and the audited external withdraw. Chain
// completion is announced through the outbox; origination picks it up
// asynchronously.
type ApprovalService interface {
	SubmitForApproval(ctx context.Context, req SubmitForApprovalDTO) (ApprovalResponse, error)
	RecordAction(ctx context.Context, approvalID uuid.UUID, approverID uuid.UUID, req RecordActionDTO) (ApprovalResponse, error)
	Withdraw(ctx context.Context, approvalID uuid.UUID, actorID *uuid.UUID) (ApprovalResponse, error)
	Get(ctx context.Context, approvalID uuid.UUID) (ApprovalResponse, error)
	List(ctx context.Context, filter ApprovalFilter) ([]ApprovalResponse, int64, error)
}

type approvalService struct {
	approvalRepo repository.ApprovalRepository
	auditRepo    repository.AuditRepository
	outboxRepo   repository.OutboxRepository
	rules        RuleService
	txManager    repository.TransactionManager
	logger       *zap.Logger
}

func NewApprovalService(
	approvalRepo repository.ApprovalRepository,
	auditRepo repository.AuditRepository,
	outboxRepo repository.OutboxRepository,
	rules RuleService,
	txManager repository.TransactionManager,
	logger *zap.Logger,
) ApprovalService {
	return &approvalService{
		approvalRepo: approvalRepo,
		auditRepo:    auditRepo,
		outboxRepo:   outboxRepo,
		rules:        rules,
		txManager:    txManager,
		logger:       logger,
	}
}

// --- Implementation ---

func (s *approvalService) SubmitForApproval(ctx context.Context, req SubmitForApprovalDTO) (ApprovalResponse, error) {
	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("invalid invoice_id: %w", err)
	}
	payorID, err := uuid.Parse(req.PayorID)
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("invalid payor_id: %w", err)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("invalid amount: %w", err)
	}
	if amount.IsNegative() {
		return ApprovalResponse{}, fmt.Errorf("amount must be non-negative, got %s", amount)
	}

	// Invoicing delivers submissions at least once; a repeat for the same
	// invoice returns the existing chain instead of creating a second one.
	existing, err := s.approvalRepo.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("failed to check for existing approval: %w", err)
	}
	if existing != nil {
		return toApprovalResponse(*existing), nil
	}

	chain, ruleVersion, err := s.rules.Resolve(ctx, payorID, amount, req.RuleVersion)
	if err != nil {
		return ApprovalResponse{}, err
	}

	approval := model.InvoiceApproval{
		InvoiceID:   invoiceID,
		PayorID:     payorID,
		Amount:      amount,
		RuleVersion: ruleVersion,
		Chain:       chain,
		CurrentSlot: 0,
		Status:      model.AwaitingSlotStatus(0),
		Version:     1,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.approvalRepo.Create(txCtx, &approval); createErr != nil {
			return fmt.Errorf("failed to create invoice approval: %w", createErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"invoice_id":   invoiceID.String(),
			"payor_id":     payorID.String(),
			"amount":       amount.StringFixed(4),
			"rule_version": ruleVersion,
			"slots":        len(chain),
		})
		audit := model.AuditLog{
			Action:   model.ActionSubmitForApproval,
			EntityID: approval.ID.String(),
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		// Notify the first slot's approvers.
		return s.enqueueChainEvent(txCtx, &approval, model.EventSlotApproved, map[string]interface{}{
			"next_slot": 0,
		})
	})
	if err != nil {
		return ApprovalResponse{}, err
	}

	return toApprovalResponse(approval), nil
}

func (s *approvalService) RecordAction(ctx context.Context, approvalID uuid.UUID, approverID uuid.UUID, req RecordActionDTO) (ApprovalResponse, error) {
	var approval *model.InvoiceApproval
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var findErr error
		approval, findErr = s.approvalRepo.FindByID(txCtx, approvalID)
		if findErr != nil {
			return fmt.Errorf("invoice approval not found: %w", findErr)
		}

		action, actionErr := approval.RecordAction(approverID, req.Decision, req.Note, time.Now())
		if actionErr != nil {
			return actionErr
		}

		if updateErr := s.approvalRepo.UpdateState(txCtx, approval); updateErr != nil {
			return updateErr
		}
		if appendErr := s.approvalRepo.AppendAction(txCtx, action); appendErr != nil {
			return fmt.Errorf("failed to record approver action: %w", appendErr)
		}

		auditAction := model.ActionRecordApproval
		if req.Decision == model.DecisionReject {
			auditAction = model.ActionRecordRejection
		}
		details, _ := json.Marshal(map[string]interface{}{
			"invoice_id": approval.InvoiceID.String(),
			"slot_index": action.SlotIndex,
			"decision":   req.Decision,
			"status":     approval.Status,
		})
		actorID := approverID
		audit := model.AuditLog{
			ActorID:  &actorID,
			Action:   auditAction,
			EntityID: approval.ID.String(),
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		switch approval.Status {
		case model.ApprovalStatusApproved:
			return s.enqueueChainEvent(txCtx, approval, model.EventChainCompleted, nil)
		case model.ApprovalStatusRejected:
			return s.enqueueChainEvent(txCtx, approval, model.EventChainRejected, map[string]interface{}{
				"rejected_by": approverID.String(),
			})
		default:
			// Intermediate approval: announce the slot and trigger the
			// "approval needed" notification for the next approver.
			return s.enqueueChainEvent(txCtx, approval, model.EventSlotApproved, map[string]interface{}{
				"approved_by": approverID.String(),
				"slot_index":  action.SlotIndex,
				"next_slot":   approval.CurrentSlot,
			})
		}
	})
	if err != nil {
		return ApprovalResponse{}, err
	}

	s.logger.Info("Approver action recorded",
		zap.String("approval_id", approvalID.String()),
		zap.String("approver_id", approverID.String()),
		zap.String("decision", req.Decision),
		zap.String("status", approval.Status))

	return toApprovalResponse(*approval), nil
}

func (s *approvalService) Withdraw(ctx context.Context, approvalID uuid.UUID, actorID *uuid.UUID) (ApprovalResponse, error) {
	var approval *model.InvoiceApproval
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var findErr error
		approval, findErr = s.approvalRepo.FindByID(txCtx, approvalID)
		if findErr != nil {
			return fmt.Errorf("invoice approval not found: %w", findErr)
		}

		if wErr := approval.Withdraw(); wErr != nil {
			return wErr
		}
		if updateErr := s.approvalRepo.UpdateState(txCtx, approval); updateErr != nil {
			return updateErr
		}

		details, _ := json.Marshal(map[string]interface{}{
			"invoice_id": approval.InvoiceID.String(),
		})
		audit := model.AuditLog{
			ActorID:  actorID,
			Action:   model.ActionWithdrawApproval,
			EntityID: approval.ID.String(),
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		return s.enqueueChainEvent(txCtx, approval, model.EventChainWithdrawn, nil)
	})
	if err != nil {
		return ApprovalResponse{}, err
	}

	return toApprovalResponse(*approval), nil
}

func (s *approvalService) Get(ctx context.Context, approvalID uuid.UUID) (ApprovalResponse, error) {
	approval, err := s.approvalRepo.FindByID(ctx, approvalID)
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("invoice approval not found: %w", err)
	}
	return toApprovalResponse(*approval), nil
}

func (s *approvalService) List(ctx context.Context, filter ApprovalFilter) ([]ApprovalResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	approvals, total, err := s.approvalRepo.List(ctx, filter.Status, filter.Page, filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch invoice approvals: %w", err)
	}

	result := make([]ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		result = append(result, toApprovalResponse(a))
	}
	return result, total, nil
}

func (s *approvalService) enqueueChainEvent(ctx context.Context, approval *model.InvoiceApproval, eventType string, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"approval_id": approval.ID.String(),
		"invoice_id":  approval.InvoiceID.String(),
		"payor_id":    approval.PayorID.String(),
		"status":      approval.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)

	ev := model.OutboxEvent{
		AggregateID: approval.ID,
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

func toApprovalResponse(a model.InvoiceApproval) ApprovalResponse {
	actions := make([]ApprovalActionResponse, 0, len(a.Actions))
	for _, action := range a.Actions {
		actions = append(actions, ApprovalActionResponse{
			SlotIndex:  action.SlotIndex,
			ApproverID: action.ApproverID.String(),
			Decision:   action.Decision,
			Note:       action.Note,
			CreatedAt:  action.CreatedAt.Format(time.RFC3339),
		})
	}

	return ApprovalResponse{
		ID:          a.ID.String(),
		InvoiceID:   a.InvoiceID.String(),
		PayorID:     a.PayorID.String(),
		Amount:      a.Amount.StringFixed(4),
		RuleVersion: a.RuleVersion,
		SlotCount:   len(a.Chain),
		CurrentSlot: a.CurrentSlot,
		Status:      a.Status,
		Actions:     actions,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}
