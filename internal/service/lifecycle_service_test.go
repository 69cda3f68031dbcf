package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"receivables/internal/gateway"
	"receivables/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lifecycleFixture struct {
	svc     LifecycleService
	payment *fakePaymentRepo
	audit   *fakeAuditRepo
	outbox  *fakeOutboxRepo
	alerter *fakeAlerter
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		payment: newFakePaymentRepo(),
		audit:   &fakeAuditRepo{},
		outbox:  &fakeOutboxRepo{},
		alerter: &fakeAlerter{},
	}
	f.svc = NewLifecycleService(f.payment, f.audit, f.outbox, f.alerter, fakeTxManager{}, zap.NewNop())
	return f
}

func (f *lifecycleFixture) seedPayment(t *testing.T, status string) uuid.UUID {
	t.Helper()
	p := model.Payment{
		InvoiceID:      uuid.New(),
		ApprovalID:     uuid.New(),
		PayorID:        uuid.New(),
		Amount:         decimal.NewFromInt(500),
		BankAccountRef: "DDA-TEST",
		EffectiveDate:  effectiveDateFor(time.Now()),
		Status:         status,
		Version:        1,
	}
	require.NoError(t, f.payment.Create(context.Background(), &p))
	return p.ID
}

func (f *lifecycleFixture) status(t *testing.T, id uuid.UUID) string {
	t.Helper()
	p, err := f.payment.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Status
}

func TestStatusNotificationAdvancesPayment(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusSubmitted)

	err := f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusProcessing, f.status(t, id))

	err = f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusSettled})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSettled, f.status(t, id))

	assert.Len(t, f.payment.eventsFor(id, model.PaymentEventTransition), 2)
	assert.Len(t, f.audit.byAction(model.ActionGatewayStatus), 2)
}

func TestStatusNotificationSkipsProcessing(t *testing.T) {
	// Some processors settle without an intermediate processing report.
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusSubmitted)

	err := f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusSettled})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSettled, f.status(t, id))
}

func TestStatusNotificationDuplicateAndOutOfOrderAreNoOps(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusProcessing)

	// Duplicate delivery.
	err := f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusProcessing, f.status(t, id))

	// Out-of-order delivery after settlement.
	err = f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusSettled})
	require.NoError(t, err)
	err = f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSettled, f.status(t, id))

	// One real transition, no noise.
	assert.Len(t, f.payment.eventsFor(id, model.PaymentEventTransition), 1)
	assert.Len(t, f.audit.byAction(model.ActionGatewayStatus), 1)
}

func TestStatusNotificationLateTrafficAfterReturn(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusReturned)

	err := f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: gateway.StatusSettled})
	require.NoError(t, err)
	// The return outcome stands.
	assert.Equal(t, model.PaymentStatusReturned, f.status(t, id))
}

func TestStatusNotificationUnknownPaymentIsDiscardedWithAlert(t *testing.T) {
	f := newLifecycleFixture(t)
	unknown := uuid.New()

	err := f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: unknown, Status: gateway.StatusProcessing})
	require.NoError(t, err)

	require.Len(t, f.alerter.unknown, 1)
	assert.Equal(t, unknown, f.alerter.unknown[0])
	assert.Len(t, f.audit.byAction(model.ActionGatewayUnknownRef), 1)
}

func TestStatusNotificationRejectsUnknownVocabulary(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusSubmitted)

	err := f.svc.HandleStatusNotification(context.Background(), gateway.StatusNotification{PaymentID: id, Status: "shredded"})
	require.Error(t, err)
	assert.Equal(t, model.PaymentStatusSubmitted, f.status(t, id))
}

func TestReturnMovesSubmittedPaymentToReturned(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusSubmitted)

	err := f.svc.HandleReturn(context.Background(), gateway.ReturnNotification{PaymentID: id, ReasonCode: "insufficient_funds"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReturned, f.status(t, id))

	events := f.payment.eventsFor(id, model.PaymentEventTransition)
	require.Len(t, events, 1)
	assert.Equal(t, "insufficient_funds", events[0].ReasonCode)

	// The operator notification trigger rides the outbox.
	assert.Len(t, f.outbox.byType(model.EventPaymentReturned), 1)
	assert.Len(t, f.audit.byAction(model.ActionGatewayReturn), 1)
}

func TestReturnAfterSettlementIsBranchEventOnly(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusSettled)

	err := f.svc.HandleReturn(context.Background(), gateway.ReturnNotification{PaymentID: id, ReasonCode: "unauthorized"})
	require.NoError(t, err)

	// Status never moves backwards off settled.
	assert.Equal(t, model.PaymentStatusSettled, f.status(t, id))
	branch := f.payment.eventsFor(id, model.PaymentEventReturnAfterSettlement)
	require.Len(t, branch, 1)
	assert.Equal(t, "unauthorized", branch[0].ReasonCode)
	assert.Empty(t, f.outbox.byType(model.EventPaymentReturned))
}

func TestReturnDuplicateIsNoOp(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusSubmitted)

	n := gateway.ReturnNotification{PaymentID: id, ReasonCode: "account_closed"}
	require.NoError(t, f.svc.HandleReturn(context.Background(), n))
	require.NoError(t, f.svc.HandleReturn(context.Background(), n))

	assert.Len(t, f.payment.eventsFor(id, model.PaymentEventTransition), 1)
	assert.Len(t, f.outbox.byType(model.EventPaymentReturned), 1)
}

func TestReturnForUnsubmittedPaymentIsDiscarded(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusOriginated)

	err := f.svc.HandleReturn(context.Background(), gateway.ReturnNotification{PaymentID: id, ReasonCode: "invalid_account"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusOriginated, f.status(t, id))
	assert.Empty(t, f.payment.eventsFor(id, ""))
}

func TestReturnUnknownPaymentIsDiscardedWithAlert(t *testing.T) {
	f := newLifecycleFixture(t)
	unknown := uuid.New()

	err := f.svc.HandleReturn(context.Background(), gateway.ReturnNotification{PaymentID: unknown, ReasonCode: "no_account"})
	require.NoError(t, err)
	assert.Len(t, f.alerter.unknown, 1)
	assert.Len(t, f.audit.byAction(model.ActionGatewayUnknownRef), 1)
}

func TestFailRequiresReturnedPayment(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.seedPayment(t, model.PaymentStatusReturned)
	actorID := uuid.New()

	resp, err := f.svc.Fail(context.Background(), id, "payor unreachable after two returns", &actorID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, resp.Status)
	assert.Len(t, f.audit.byAction(model.ActionFailPayment), 1)

	settled := f.seedPayment(t, model.PaymentStatusSettled)
	_, err = f.svc.Fail(context.Background(), settled, "nope", &actorID)
	var invalid *model.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))

	_, err = f.svc.Fail(context.Background(), uuid.New(), "nope", &actorID)
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))
}
