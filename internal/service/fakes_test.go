package service

import (
	"context"
	"fmt"
	"time"

	"receivables/internal/gateway"
	"receivables/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// In-memory repository fakes. They reproduce the contracts the real gorm
// repositories implement: nil-on-missing where documented, ErrRecordNotFound
// where documented, and insertion-ordered batch listings.

type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeApprovalRepo struct {
	approvals map[uuid.UUID]*model.InvoiceApproval
	actions   []model.ApprovalAction
}

func newFakeApprovalRepo() *fakeApprovalRepo {
	return &fakeApprovalRepo{approvals: map[uuid.UUID]*model.InvoiceApproval{}}
}

func (r *fakeApprovalRepo) Create(ctx context.Context, approval *model.InvoiceApproval) error {
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	cp := *approval
	r.approvals[approval.ID] = &cp
	return nil
}

func (r *fakeApprovalRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.InvoiceApproval, error) {
	stored, ok := r.approvals[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeApprovalRepo) FindByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*model.InvoiceApproval, error) {
	for _, a := range r.approvals {
		if a.InvoiceID == invoiceID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeApprovalRepo) List(ctx context.Context, status string, page, limit int) ([]model.InvoiceApproval, int64, error) {
	var out []model.InvoiceApproval
	for _, a := range r.approvals {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeApprovalRepo) UpdateState(ctx context.Context, approval *model.InvoiceApproval) error {
	stored, ok := r.approvals[approval.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != approval.Version {
		return &model.ConcurrentModificationError{Aggregate: "invoice approval", ID: approval.ID}
	}
	approval.Version++
	cp := *approval
	// Action rows travel through AppendAction, same as the real repository.
	cp.Actions = stored.Actions
	r.approvals[approval.ID] = &cp
	return nil
}

func (r *fakeApprovalRepo) AppendAction(ctx context.Context, action *model.ApprovalAction) error {
	r.actions = append(r.actions, *action)
	if stored, ok := r.approvals[action.ApprovalID]; ok {
		stored.Actions = append(stored.Actions, *action)
	}
	return nil
}

type fakePaymentRepo struct {
	payments map[uuid.UUID]*model.Payment
	order    []uuid.UUID
	events   []model.PaymentEvent
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: map[uuid.UUID]*model.Payment{}}
}

func (r *fakePaymentRepo) Create(ctx context.Context, payment *model.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.CreatedAt = time.Now()
	cp := *payment
	r.payments[payment.ID] = &cp
	r.order = append(r.order, payment.ID)
	return nil
}

func (r *fakePaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	stored, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (r *fakePaymentRepo) FindOriginalByApprovalID(ctx context.Context, approvalID uuid.UUID) (*model.Payment, error) {
	for _, id := range r.order {
		p := r.payments[id]
		if p.ApprovalID == approvalID && p.SupersedesID == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakePaymentRepo) ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]model.Payment, error) {
	var out []model.Payment
	for _, id := range r.order {
		p := r.payments[id]
		if p.BatchID != nil && *p.BatchID == batchID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) List(ctx context.Context, status string, page, limit int) ([]model.Payment, int64, error) {
	var out []model.Payment
	for _, id := range r.order {
		p := r.payments[id]
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakePaymentRepo) UpdateState(ctx context.Context, payment *model.Payment) error {
	stored, ok := r.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment %s does not exist", payment.ID)
	}
	if stored.Version != payment.Version {
		return &model.ConcurrentModificationError{Aggregate: "payment", ID: payment.ID}
	}
	payment.Version++
	cp := *payment
	// Event rows travel through AppendEvent, same as the real repository.
	cp.Events = stored.Events
	r.payments[payment.ID] = &cp
	return nil
}

func (r *fakePaymentRepo) MarkBatchSubmitted(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var moved int64
	for _, p := range r.payments {
		if p.BatchID != nil && *p.BatchID == batchID && p.Status == model.PaymentStatusOriginated {
			p.Status = model.PaymentStatusSubmitted
			p.Version++
			moved++
		}
	}
	return moved, nil
}

func (r *fakePaymentRepo) AppendEvent(ctx context.Context, event *model.PaymentEvent) error {
	r.events = append(r.events, *event)
	return nil
}

func (r *fakePaymentRepo) eventsFor(paymentID uuid.UUID, eventType string) []model.PaymentEvent {
	var out []model.PaymentEvent
	for _, ev := range r.events {
		if ev.PaymentID == paymentID && (eventType == "" || ev.EventType == eventType) {
			out = append(out, ev)
		}
	}
	return out
}

type fakeBatchRepo struct {
	batches map[uuid.UUID]*model.PaymentBatch
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: map[uuid.UUID]*model.PaymentBatch{}}
}

func (r *fakeBatchRepo) Create(ctx context.Context, batch *model.PaymentBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.CreatedAt = time.Now()
	cp := *batch
	r.batches[batch.ID] = &cp
	return nil
}

func (r *fakeBatchRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.PaymentBatch, error) {
	stored, ok := r.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeBatchRepo) FindOpen(ctx context.Context, payorID uuid.UUID, effectiveDate time.Time) (*model.PaymentBatch, error) {
	for _, b := range r.batches {
		if b.PayorID == payorID && b.EffectiveDate.Equal(effectiveDate) && b.Status == model.BatchStatusOpen {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeBatchRepo) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]model.PaymentBatch, error) {
	var out []model.PaymentBatch
	for _, b := range r.batches {
		if b.Status == model.BatchStatusOpen && b.CreatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeBatchRepo) List(ctx context.Context, status string, page, limit int) ([]model.PaymentBatch, int64, error) {
	var out []model.PaymentBatch
	for _, b := range r.batches {
		if status == "" || b.Status == status {
			out = append(out, *b)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeBatchRepo) UpdateState(ctx context.Context, batch *model.PaymentBatch) error {
	stored, ok := r.batches[batch.ID]
	if !ok {
		return fmt.Errorf("batch %s does not exist", batch.ID)
	}
	if stored.Version != batch.Version {
		return &model.ConcurrentModificationError{Aggregate: "payment batch", ID: batch.ID}
	}
	batch.Version++
	cp := *batch
	r.batches[batch.ID] = &cp
	return nil
}

type fakeOutboxRepo struct {
	events []model.OutboxEvent
}

func (r *fakeOutboxRepo) Enqueue(ctx context.Context, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *fakeOutboxRepo) FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	for _, ev := range r.events {
		if ev.Status == model.OutboxPending {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = model.OutboxPublished
		}
	}
	return nil
}

func (r *fakeOutboxRepo) RecordFailure(ctx context.Context, id uuid.UUID) error {
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Attempts++
		}
	}
	return nil
}

func (r *fakeOutboxRepo) byType(eventType string) []model.OutboxEvent {
	var out []model.OutboxEvent
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeAuditRepo struct {
	entries []model.AuditLog
}

func (r *fakeAuditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) List(ctx context.Context, action string, page, limit int) ([]model.AuditLog, int64, error) {
	var out []model.AuditLog
	for _, e := range r.entries {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeAuditRepo) byAction(action string) []model.AuditLog {
	out, _, _ := r.List(context.Background(), action, 1, 100)
	return out
}

type fakeRuleRepo struct {
	rules []*model.ApprovalRule
}

func (r *fakeRuleRepo) Create(ctx context.Context, rule *model.ApprovalRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	cp := *rule
	r.rules = append(r.rules, &cp)
	return nil
}

func (r *fakeRuleRepo) FindActive(ctx context.Context, payorID uuid.UUID) (*model.ApprovalRule, error) {
	for _, rule := range r.rules {
		if rule.PayorID == payorID && rule.Active {
			cp := *rule
			return &cp, nil
		}
	}
	return nil, &model.RuleNotFoundError{PayorID: payorID, Reason: "no active rule configured"}
}

func (r *fakeRuleRepo) FindByVersion(ctx context.Context, payorID uuid.UUID, version int) (*model.ApprovalRule, error) {
	for _, rule := range r.rules {
		if rule.PayorID == payorID && rule.Version == version {
			cp := *rule
			return &cp, nil
		}
	}
	return nil, &model.RuleNotFoundError{PayorID: payorID, Version: version, Reason: "version does not exist"}
}

func (r *fakeRuleRepo) NextVersion(ctx context.Context, payorID uuid.UUID) (int, error) {
	max := 0
	for _, rule := range r.rules {
		if rule.PayorID == payorID && rule.Version > max {
			max = rule.Version
		}
	}
	return max + 1, nil
}

func (r *fakeRuleRepo) DeactivateActive(ctx context.Context, payorID uuid.UUID) error {
	for _, rule := range r.rules {
		if rule.PayorID == payorID {
			rule.Active = false
		}
	}
	return nil
}

type fakeGateway struct {
	calls       int
	lastPayload gateway.BatchPayload
	ref         string
	err         error
}

func (g *fakeGateway) SubmitBatch(ctx context.Context, payload gateway.BatchPayload) (string, error) {
	g.calls++
	g.lastPayload = payload
	if g.err != nil {
		return "", g.err
	}
	if g.ref == "" {
		return "EXT-0001", nil
	}
	return g.ref, nil
}

type fakeAlerter struct {
	unknown []uuid.UUID
}

func (a *fakeAlerter) UnknownPaymentRef(paymentID uuid.UUID) {
	a.unknown = append(a.unknown, paymentID)
}
