package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"receivables/internal/client"
	"receivables/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type originationFixture struct {
	svc      OriginationService
	approval *fakeApprovalRepo
	payment  *fakePaymentRepo
	batch    *fakeBatchRepo
	audit    *fakeAuditRepo
	outbox   *fakeOutboxRepo
	gw       *fakeGateway
	payors   *client.StaticPayorDirectory
}

func newOriginationFixture(t *testing.T) *originationFixture {
	t.Helper()

	f := &originationFixture{
		approval: newFakeApprovalRepo(),
		payment:  newFakePaymentRepo(),
		batch:    newFakeBatchRepo(),
		audit:    &fakeAuditRepo{},
		outbox:   &fakeOutboxRepo{},
		gw:       &fakeGateway{},
		payors:   client.NewStaticPayorDirectory(),
	}
	f.svc = NewOriginationService(f.payment, f.batch, f.approval, f.audit, f.outbox, f.payors, f.gw, fakeTxManager{}, zap.NewNop())
	return f
}

// pinClock freezes the service clock so effective dates are deterministic.
func (f *originationFixture) pinClock(t *testing.T, at time.Time) {
	t.Helper()
	f.svc.(*originationService).now = func() time.Time { return at }
}

func (f *originationFixture) approvedChain(t *testing.T, payorID uuid.UUID, amount string) uuid.UUID {
	t.Helper()
	approval := model.InvoiceApproval{
		InvoiceID:   uuid.New(),
		PayorID:     payorID,
		Amount:      decimal.RequireFromString(amount),
		RuleVersion: 1,
		Status:      model.ApprovalStatusApproved,
		Version:     1,
	}
	require.NoError(t, f.approval.Create(context.Background(), &approval))
	return approval.ID
}

func (f *originationFixture) originate(t *testing.T, payorID uuid.UUID, amount string) uuid.UUID {
	t.Helper()
	paymentID, err := f.svc.Originate(context.Background(), f.approvedChain(t, payorID, amount))
	require.NoError(t, err)
	return paymentID
}

func TestOriginateCreatesPaymentInOpenBatch(t *testing.T) {
	f := newOriginationFixture(t)
	payorID := uuid.New()
	f.payors.Register(payorID, "DDA-REGISTERED")

	paymentID := f.originate(t, payorID, "1200.50")

	p, err := f.payment.FindByID(context.Background(), paymentID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PaymentStatusOriginated, p.Status)
	assert.Equal(t, "DDA-REGISTERED", p.BankAccountRef)
	require.NotNil(t, p.BatchID)

	b, err := f.batch.FindByID(context.Background(), *p.BatchID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, model.BatchStatusOpen, b.Status)
	assert.Equal(t, payorID, b.PayorID)

	assert.Len(t, f.audit.byAction(model.ActionOriginatePayment), 1)
	assert.Len(t, f.outbox.byType(model.EventPaymentOriginated), 1)
}

func TestOriginateIsIdempotent(t *testing.T) {
	f := newOriginationFixture(t)
	approvalID := f.approvedChain(t, uuid.New(), "300")

	first, err := f.svc.Originate(context.Background(), approvalID)
	require.NoError(t, err)
	second, err := f.svc.Originate(context.Background(), approvalID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.payment.payments, 1)
	assert.Len(t, f.outbox.byType(model.EventPaymentOriginated), 1)
}

func TestOriginateGroupsSamePayorSameDate(t *testing.T) {
	f := newOriginationFixture(t)
	f.pinClock(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	payorID := uuid.New()

	p1 := f.originate(t, payorID, "100")
	p2 := f.originate(t, payorID, "200")
	other := f.originate(t, uuid.New(), "300")

	first, _ := f.payment.FindByID(context.Background(), p1)
	second, _ := f.payment.FindByID(context.Background(), p2)
	third, _ := f.payment.FindByID(context.Background(), other)
	assert.Equal(t, *first.BatchID, *second.BatchID)
	assert.NotEqual(t, *first.BatchID, *third.BatchID)
}

func TestOriginateRequiresApprovedChain(t *testing.T) {
	f := newOriginationFixture(t)
	approval := model.InvoiceApproval{
		InvoiceID: uuid.New(),
		PayorID:   uuid.New(),
		Amount:    decimal.NewFromInt(100),
		Status:    model.AwaitingSlotStatus(1),
		Version:   1,
	}
	require.NoError(t, f.approval.Create(context.Background(), &approval))

	_, err := f.svc.Originate(context.Background(), approval.ID)
	var notApproved *model.NotApprovedError
	require.True(t, errors.As(err, &notApproved))
	assert.Empty(t, f.payment.payments)
}

func TestHandleChainCompletedDropsStaleEvent(t *testing.T) {
	f := newOriginationFixture(t)
	approval := model.InvoiceApproval{
		InvoiceID: uuid.New(),
		PayorID:   uuid.New(),
		Amount:    decimal.NewFromInt(100),
		Status:    model.ApprovalStatusWithdrawn,
		Version:   1,
	}
	require.NoError(t, f.approval.Create(context.Background(), &approval))

	payload, _ := json.Marshal(map[string]string{"approval_id": approval.ID.String()})
	err := f.svc.HandleChainCompleted(context.Background(), model.OutboxEvent{Payload: string(payload)})
	// Dropped, not retried: the chain will never become approved again.
	require.NoError(t, err)
	assert.Empty(t, f.payment.payments)
}

func TestCloseBatchRejectsEmptyAndMissing(t *testing.T) {
	f := newOriginationFixture(t)

	_, err := f.svc.CloseBatch(context.Background(), uuid.New(), nil)
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))

	empty := model.PaymentBatch{PayorID: uuid.New(), EffectiveDate: effectiveDateFor(time.Now()), Status: model.BatchStatusOpen, Version: 1}
	require.NoError(t, f.batch.Create(context.Background(), &empty))

	_, err = f.svc.CloseBatch(context.Background(), empty.ID, nil)
	var emptyErr *model.EmptyBatchError
	require.True(t, errors.As(err, &emptyErr))
}

func TestCloseBatchBuildsDeterministicPayload(t *testing.T) {
	f := newOriginationFixture(t)
	payorID := uuid.New()
	p1 := f.originate(t, payorID, "100")
	p2 := f.originate(t, payorID, "200")

	stored, _ := f.payment.FindByID(context.Background(), p1)
	batchID := *stored.BatchID

	payload, err := f.svc.CloseBatch(context.Background(), batchID, nil)
	require.NoError(t, err)
	assert.Equal(t, batchID, payload.BatchID)
	require.Len(t, payload.Instructions, 2)
	// Origination order is preserved in the payload.
	assert.Equal(t, p1, payload.Instructions[0].PaymentID)
	assert.Equal(t, p2, payload.Instructions[1].PaymentID)

	b, _ := f.batch.FindByID(context.Background(), batchID)
	assert.Equal(t, model.BatchStatusClosed, b.Status)
	assert.Len(t, f.audit.byAction(model.ActionCloseBatch), 1)
}

func TestSubmitBatchFlipsBatchAndPaymentsTogether(t *testing.T) {
	f := newOriginationFixture(t)
	payorID := uuid.New()
	p1 := f.originate(t, payorID, "100")
	p2 := f.originate(t, payorID, "200")

	stored, _ := f.payment.FindByID(context.Background(), p1)
	batchID := *stored.BatchID
	_, err := f.svc.CloseBatch(context.Background(), batchID, nil)
	require.NoError(t, err)

	resp, err := f.svc.SubmitBatch(context.Background(), batchID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusSubmitted, resp.Status)
	assert.Equal(t, "EXT-0001", resp.ExternalRef)
	assert.Equal(t, 2, resp.PaymentCount)
	assert.Equal(t, 1, f.gw.calls)

	for _, id := range []uuid.UUID{p1, p2} {
		p, _ := f.payment.FindByID(context.Background(), id)
		assert.Equal(t, model.PaymentStatusSubmitted, p.Status)
		assert.Len(t, f.payment.eventsFor(id, model.PaymentEventTransition), 1)
	}
	assert.Len(t, f.outbox.byType(model.EventBatchSubmitted), 1)
	assert.Len(t, f.audit.byAction(model.ActionSubmitBatch), 1)
}

func TestSubmitBatchGatewayFailureLeavesStateUntouched(t *testing.T) {
	f := newOriginationFixture(t)
	payorID := uuid.New()
	paymentID := f.originate(t, payorID, "100")

	stored, _ := f.payment.FindByID(context.Background(), paymentID)
	batchID := *stored.BatchID
	_, err := f.svc.CloseBatch(context.Background(), batchID, nil)
	require.NoError(t, err)

	f.gw.err = fmt.Errorf("processor unavailable")
	_, err = f.svc.SubmitBatch(context.Background(), batchID, nil)
	var gwErr *model.GatewaySubmissionError
	require.True(t, errors.As(err, &gwErr))

	// Retryable: the batch stays closed and the payment unsubmitted.
	b, _ := f.batch.FindByID(context.Background(), batchID)
	assert.Equal(t, model.BatchStatusClosed, b.Status)
	p, _ := f.payment.FindByID(context.Background(), paymentID)
	assert.Equal(t, model.PaymentStatusOriginated, p.Status)
	assert.Empty(t, f.outbox.byType(model.EventBatchSubmitted))

	f.gw.err = nil
	_, err = f.svc.SubmitBatch(context.Background(), batchID, nil)
	require.NoError(t, err)
}

func TestSubmitBatchRequiresClosedBatch(t *testing.T) {
	f := newOriginationFixture(t)
	paymentID := f.originate(t, uuid.New(), "100")
	stored, _ := f.payment.FindByID(context.Background(), paymentID)

	_, err := f.svc.SubmitBatch(context.Background(), *stored.BatchID, nil)
	var notOpen *model.BatchNotOpenError
	require.True(t, errors.As(err, &notOpen))
	assert.Zero(t, f.gw.calls)
}

func TestSubmitBatchDuplicateIsIdempotent(t *testing.T) {
	f := newOriginationFixture(t)
	paymentID := f.originate(t, uuid.New(), "100")
	stored, _ := f.payment.FindByID(context.Background(), paymentID)
	batchID := *stored.BatchID

	_, err := f.svc.CloseBatch(context.Background(), batchID, nil)
	require.NoError(t, err)
	first, err := f.svc.SubmitBatch(context.Background(), batchID, nil)
	require.NoError(t, err)
	second, err := f.svc.SubmitBatch(context.Background(), batchID, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ExternalRef, second.ExternalRef)
	assert.Equal(t, 1, f.gw.calls)
	assert.Len(t, f.outbox.byType(model.EventBatchSubmitted), 1)
}

func TestResubmitSupersedesReturnedPayment(t *testing.T) {
	f := newOriginationFixture(t)
	paymentID := f.originate(t, uuid.New(), "750.25")

	original, _ := f.payment.FindByID(context.Background(), paymentID)
	original.Status = model.PaymentStatusReturned
	f.payment.payments[paymentID] = original

	resp, err := f.svc.Resubmit(context.Background(), paymentID, "DDA-NEW-ACCOUNT", nil)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusOriginated, resp.Status)
	assert.Equal(t, "DDA-NEW-ACCOUNT", resp.BankAccountRef)
	assert.Equal(t, "750.2500", resp.Amount)
	require.NotNil(t, resp.SupersedesID)
	assert.Equal(t, paymentID.String(), *resp.SupersedesID)

	// The original keeps its RETURNED status and gains only a marker event.
	after, _ := f.payment.FindByID(context.Background(), paymentID)
	assert.Equal(t, model.PaymentStatusReturned, after.Status)
	assert.Len(t, f.payment.eventsFor(paymentID, model.PaymentEventResubmitted), 1)

	events := f.outbox.byType(model.EventPaymentOriginated)
	require.Len(t, events, 2)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(events[1].Payload), &payload))
	assert.Equal(t, paymentID.String(), payload["supersedes"])

	assert.Len(t, f.audit.byAction(model.ActionResubmitPayment), 1)
}

func TestResubmitRejectsNonReturnedPayment(t *testing.T) {
	f := newOriginationFixture(t)
	paymentID := f.originate(t, uuid.New(), "100")

	_, err := f.svc.Resubmit(context.Background(), paymentID, "DDA-NEW", nil)
	var invalid *model.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))

	_, err = f.svc.Resubmit(context.Background(), uuid.New(), "DDA-NEW", nil)
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestResubmitRequiresReplacementAccount(t *testing.T) {
	f := newOriginationFixture(t)
	paymentID := f.originate(t, uuid.New(), "100")
	original, _ := f.payment.FindByID(context.Background(), paymentID)
	original.Status = model.PaymentStatusReturned
	f.payment.payments[paymentID] = original

	_, err := f.svc.Resubmit(context.Background(), paymentID, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replacement bank account")
	assert.Len(t, f.payment.payments, 1)
}
