package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"receivables/internal/gateway"
	"receivables/internal/model"
	"receivables/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statusRank orders the success path so late or duplicated gateway
// notifications degrade to no-ops instead of errors.
var statusRank = map[string]int{
	model.PaymentStatusOriginated: 0,
	model.PaymentStatusSubmitted:  1,
	model.PaymentStatusProcessing: 2,
	model.PaymentStatusSettled:    3,
}

// --- Interface ---

// LifecycleService applies asynchronous gateway traffic to the payment state
// machine. Unknown payment identifiers are discarded with an operational
// alert: the processor is the source of truth for identifiers it reports, so
// an unknown one cannot violate any invariant here.
type LifecycleService interface {
	HandleStatusNotification(ctx context.Context, n gateway.StatusNotification) error
	HandleReturn(ctx context.Context, n gateway.ReturnNotification) error
	// Fail is the operator decision to stop retrying a returned payment.
	Fail(ctx context.Context, paymentID uuid.UUID, reason string, actorID *uuid.UUID) (PaymentResponse, error)
	Get(ctx context.Context, paymentID uuid.UUID) (PaymentResponse, error)
	List(ctx context.Context, status string, page, limit int) ([]PaymentResponse, int64, error)
}

type lifecycleService struct {
	paymentRepo repository.PaymentRepository
	auditRepo   repository.AuditRepository
	outboxRepo  repository.OutboxRepository
	alerter     gateway.Alerter
	txManager   repository.TransactionManager
	logger      *zap.Logger
}

func NewLifecycleService(
	paymentRepo repository.PaymentRepository,
	auditRepo repository.AuditRepository,
	outboxRepo repository.OutboxRepository,
	alerter gateway.Alerter,
	txManager repository.TransactionManager,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		outboxRepo:  outboxRepo,
		alerter:     alerter,
		txManager:   txManager,
		logger:      logger,
	}
}

// --- Implementation ---

func (s *lifecycleService) HandleStatusNotification(ctx context.Context, n gateway.StatusNotification) error {
	target, err := statusFromGateway(n.Status)
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		payment, findErr := s.paymentRepo.FindByID(txCtx, n.PaymentID)
		if findErr != nil {
			return findErr
		}
		if payment == nil {
			return s.discardUnknown(txCtx, n.PaymentID, model.ActionGatewayStatus)
		}

		// Monotonic success path: a notification at or below the current
		// rank is duplicate or out-of-order delivery, acknowledged silently.
		if statusRank[target] <= statusRank[payment.Status] {
			return nil
		}
		if payment.Status == model.PaymentStatusReturned || payment.Status == model.PaymentStatusFailed {
			// Late processing/settlement traffic for a payment that already
			// returned; the return outcome stands.
			s.logger.Info("Ignoring late gateway status for returned payment",
				zap.String("payment_id", payment.ID.String()),
				zap.String("status", n.Status))
			return nil
		}

		event, transErr := payment.TransitionTo(target, "", time.Now())
		if transErr != nil {
			return transErr
		}
		if event == nil {
			return nil
		}

		if updateErr := s.paymentRepo.UpdateState(txCtx, payment); updateErr != nil {
			return updateErr
		}
		if appendErr := s.paymentRepo.AppendEvent(txCtx, event); appendErr != nil {
			return fmt.Errorf("failed to append payment event: %w", appendErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"from": event.FromStatus,
			"to":   event.ToStatus,
		})
		audit := model.AuditLog{
			Action:   model.ActionGatewayStatus,
			EntityID: payment.ID.String(),
			Details:  string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
}

func (s *lifecycleService) HandleReturn(ctx context.Context, n gateway.ReturnNotification) error {
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		payment, findErr := s.paymentRepo.FindByID(txCtx, n.PaymentID)
		if findErr != nil {
			return findErr
		}
		if payment == nil {
			return s.discardUnknown(txCtx, n.PaymentID, model.ActionGatewayReturn)
		}

		switch payment.Status {
		case model.PaymentStatusSettled:
			// A settled-then-returned notification is a distinct occurrence,
			// captured as an append-only event; the status never moves back.
			event := payment.RecordReturnAfterSettlement(n.ReasonCode, time.Now())
			if appendErr := s.paymentRepo.AppendEvent(txCtx, &event); appendErr != nil {
				return fmt.Errorf("failed to append return-after-settlement event: %w", appendErr)
			}
			s.logger.Warn("Return notification for settled payment recorded as branch event",
				zap.String("payment_id", payment.ID.String()),
				zap.String("reason_code", n.ReasonCode))
		case model.PaymentStatusReturned, model.PaymentStatusFailed:
			// Duplicate return delivery.
			return nil
		case model.PaymentStatusSubmitted, model.PaymentStatusProcessing:
			event, transErr := payment.TransitionTo(model.PaymentStatusReturned, n.ReasonCode, time.Now())
			if transErr != nil {
				return transErr
			}
			if updateErr := s.paymentRepo.UpdateState(txCtx, payment); updateErr != nil {
				return updateErr
			}
			if appendErr := s.paymentRepo.AppendEvent(txCtx, event); appendErr != nil {
				return fmt.Errorf("failed to append payment event: %w", appendErr)
			}

			// "Payment returned" notification trigger for the operator.
			raw, _ := json.Marshal(map[string]interface{}{
				"payment_id":  payment.ID.String(),
				"invoice_id":  payment.InvoiceID.String(),
				"payor_id":    payment.PayorID.String(),
				"reason_code": n.ReasonCode,
			})
			ev := model.OutboxEvent{
				AggregateID: payment.ID,
				EventType:   model.EventPaymentReturned,
				Payload:     string(raw),
				Status:      model.OutboxPending,
			}
			if enqErr := s.outboxRepo.Enqueue(txCtx, &ev); enqErr != nil {
				return fmt.Errorf("failed to enqueue payment-returned event: %w", enqErr)
			}
		default:
			// A return for a payment the engine never submitted is an
			// anomaly on the processor's side; record and discard.
			s.logger.Warn("Discarding return notification for unsubmitted payment",
				zap.String("payment_id", payment.ID.String()),
				zap.String("status", payment.Status))
			return nil
		}

		details, _ := json.Marshal(map[string]interface{}{
			"reason_code": n.ReasonCode,
			"status":      payment.Status,
		})
		audit := model.AuditLog{
			Action:   model.ActionGatewayReturn,
			EntityID: payment.ID.String(),
			Details:  string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
}

func (s *lifecycleService) Fail(ctx context.Context, paymentID uuid.UUID, reason string, actorID *uuid.UUID) (PaymentResponse, error) {
	var payment *model.Payment
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var findErr error
		payment, findErr = s.paymentRepo.FindByID(txCtx, paymentID)
		if findErr != nil {
			return findErr
		}
		if payment == nil {
			return &model.NotFoundError{Kind: "payment", ID: paymentID}
		}

		event, transErr := payment.TransitionTo(model.PaymentStatusFailed, reason, time.Now())
		if transErr != nil {
			return transErr
		}
		if updateErr := s.paymentRepo.UpdateState(txCtx, payment); updateErr != nil {
			return updateErr
		}
		if appendErr := s.paymentRepo.AppendEvent(txCtx, event); appendErr != nil {
			return fmt.Errorf("failed to append payment event: %w", appendErr)
		}

		details, _ := json.Marshal(map[string]interface{}{"reason": reason})
		audit := model.AuditLog{
			ActorID:  actorID,
			Action:   model.ActionFailPayment,
			EntityID: payment.ID.String(),
			Details:  string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		return PaymentResponse{}, err
	}
	return toPaymentResponse(*payment), nil
}

func (s *lifecycleService) Get(ctx context.Context, paymentID uuid.UUID) (PaymentResponse, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return PaymentResponse{}, err
	}
	if payment == nil {
		return PaymentResponse{}, &model.NotFoundError{Kind: "payment", ID: paymentID}
	}
	return toPaymentResponse(*payment), nil
}

func (s *lifecycleService) List(ctx context.Context, status string, page, limit int) ([]PaymentResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	payments, total, err := s.paymentRepo.List(ctx, status, page, limit)
	if err != nil {
		return nil, 0, err
	}

	result := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		result = append(result, toPaymentResponse(p))
	}
	return result, total, nil
}

// discardUnknown audits and alerts an unknown payment reference, then
// acknowledges it. Nothing in the engine changes state.
func (s *lifecycleService) discardUnknown(ctx context.Context, paymentID uuid.UUID, source string) error {
	s.alerter.UnknownPaymentRef(paymentID)

	details, _ := json.Marshal(map[string]interface{}{
		"payment_id": paymentID.String(),
		"source":     source,
	})
	audit := model.AuditLog{
		Action:   model.ActionGatewayUnknownRef,
		EntityID: paymentID.String(),
		Details:  string(details),
	}
	return s.auditRepo.Log(ctx, &audit)
}

func statusFromGateway(status string) (string, error) {
	switch status {
	case gateway.StatusProcessing:
		return model.PaymentStatusProcessing, nil
	case gateway.StatusSettled:
		return model.PaymentStatusSettled, nil
	default:
		return "", fmt.Errorf("unknown gateway status %q", status)
	}
}
