package service

import (
	"context"
	"testing"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

func TestApproveLegacyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, providerTaxID, false)
	res := env.submit(t, providerTaxID, "C1", "INV-1", "2024-05-10", "1000")

	obs := "revisado contra contrato"
	inv, err := env.workflows.Approve(ctx, &ApproveRequest{InvoiceID: res.ID, Actor: human("Carlos Ruiz"), Observations: &obs})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if inv.Status != repository.StatusApproved {
		t.Errorf("Status = %v, want aprobada", inv.Status)
	}
	if inv.ApprovedBy == nil || *inv.ApprovedBy != "Carlos Ruiz" || inv.ApprovedAt == nil {
		t.Errorf("ApprovedBy/At = %v/%v", inv.ApprovedBy, inv.ApprovedAt)
	}
	if inv.Observations == nil || *inv.Observations != obs {
		t.Errorf("Observations = %v", inv.Observations)
	}
	if wf := env.workflowOf(t, res.ID); wf != nil {
		t.Errorf("legacy approval created a workflow row: %+v", wf)
	}
	if got := env.notifier.templates(); len(got) != 1 || got[0] != client.TemplateApproved {
		t.Errorf("notifications = %v, want one approved notice", got)
	}

	history, _ := env.invoices.History(ctx, res.ID)
	last := history[len(history)-1]
	if last.Action != repository.AuditApproved || last.PerformedBy != "Carlos Ruiz" {
		t.Errorf("last audit = %s by %s", last.Action, last.PerformedBy)
	}
	if last.StatusBefore == nil || *last.StatusBefore != "en_revision" {
		t.Errorf("StatusBefore = %v, want en_revision", last.StatusBefore)
	}
}

func TestApproveUnderWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, providerTaxID, false)
	res := env.submit(t, providerTaxID, "C1", "INV-1", "2024-05-10", "1000")

	if _, err := env.automation.ProcessInvoice(ctx, res.ID); err != nil {
		t.Fatalf("ProcessInvoice() error = %v", err)
	}
	env.approve(t, res.ID)

	wf := env.workflowOf(t, res.ID)
	if wf == nil || wf.Stage != repository.StatusApproved {
		t.Fatalf("workflow = %+v, want stage aprobada", wf)
	}
	if wf.ApprovedBy == nil || *wf.ApprovedBy != "Carlos Ruiz" {
		t.Errorf("workflow ApprovedBy = %v", wf.ApprovedBy)
	}
	if inv := env.invoice(t, res.ID); inv.Status != repository.StatusApproved {
		t.Errorf("invoice Status = %v, want mirror of workflow stage", inv.Status)
	}
}

func TestApproveIdempotency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.submit(t, providerTaxID, "C1", "INV-1", "2024-05-10", "1000")
	env.approve(t, res.ID)
	before := env.store.AuditCount()

	_, err := env.workflows.Approve(ctx, &ApproveRequest{InvoiceID: res.ID, Actor: human("Carlos Ruiz")})
	assertCode(t, err, errors.ErrCodeInvalidTransition)

	inv, err := env.workflows.Approve(ctx, &ApproveRequest{InvoiceID: res.ID, Actor: human("Carlos Ruiz"), AllowIdempotent: true})
	if err != nil {
		t.Fatalf("idempotent Approve() error = %v", err)
	}
	if inv.Status != repository.StatusApproved {
		t.Errorf("Status = %v, want aprobada", inv.Status)
	}
	if got := env.store.AuditCount(); got != before {
		t.Errorf("AuditCount() = %d, want %d", got, before)
	}
}

func TestRejectAndReturn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	detail := "valor no corresponde"

	pending := env.submit(t, providerTaxID, "C1", "INV-1", "2024-05-10", "1000")

	_, err := env.workflows.Reject(ctx, &RejectRequest{InvoiceID: pending.ID, Actor: human("Carlos Ruiz")})
	assertCode(t, err, errors.ErrCodeValidation)

	inv, err := env.workflows.Reject(ctx, &RejectRequest{InvoiceID: pending.ID, Actor: human("Carlos Ruiz"), Reason: "AMOUNT_MISMATCH", Detail: &detail})
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if inv.Status != repository.StatusRejected || *inv.RejectionReason != "AMOUNT_MISMATCH" || *inv.RejectionDetail != detail {
		t.Errorf("rejected invoice = %v %v %v", inv.Status, inv.RejectionReason, inv.RejectionDetail)
	}

	_, err = env.workflows.Approve(ctx, &ApproveRequest{InvoiceID: pending.ID, Actor: human("Carlos Ruiz")})
	assertCode(t, err, errors.ErrCodeInvalidTransition)

	approved := env.submit(t, providerTaxID, "C2", "INV-2", "2024-05-10", "1000")
	env.approve(t, approved.ID)
	inv, err = env.workflows.ReturnToProvider(ctx, &ReturnRequest{InvoiceID: approved.ID, Actor: human("Contabilidad")})
	if err != nil {
		t.Fatalf("ReturnToProvider() error = %v", err)
	}
	if inv.Status != repository.StatusRejected || *inv.RejectionReason != workflow.ReasonReturnedToProvider {
		t.Errorf("returned invoice = %v %v", inv.Status, inv.RejectionReason)
	}
}

func TestTransitionErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.submit(t, providerTaxID, "C1", "INV-1", "2024-05-10", "1000")

	tests := []struct {
		name string
		req  ApproveRequest
		code errors.ErrorCode
	}{
		{"unknown invoice", ApproveRequest{InvoiceID: "missing", Actor: human("Carlos Ruiz")}, errors.ErrCodeNotFound},
		{"numeric actor", ApproveRequest{InvoiceID: res.ID, Actor: workflow.Actor{ID: "u-1", DisplayName: "1023456"}}, errors.ErrCodeValidation},
		{"empty actor", ApproveRequest{InvoiceID: res.ID, Actor: workflow.Actor{ID: "u-1"}}, errors.ErrCodeValidation},
		{"automation actor", ApproveRequest{InvoiceID: res.ID, Actor: workflow.AutomationActor}, errors.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.workflows.Approve(ctx, &req)
			assertCode(t, err, tt.code)
		})
	}

	if got := env.notifier.templates(); len(got) != 0 {
		t.Errorf("failed transitions sent notifications: %v", got)
	}
	if inv := env.invoice(t, res.ID); inv.Status != repository.StatusInReview {
		t.Errorf("Status = %v, want untouched en_revision", inv.Status)
	}
}

func TestApproveSettlesNothingDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.submit(t, providerTaxID, "C0", "INV-0", "2024-05-10", "0")

	env.approve(t, res.ID)

	got, err := env.invoices.GetInvoice(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetInvoice() error = %v", err)
	}
	if got.Invoice.Status != repository.StatusPaid || !got.Settled {
		t.Errorf("Status = %v settled=%v, want pagada", got.Invoice.Status, got.Settled)
	}

	_, err = env.payments.RecordPayment(ctx, &RecordPaymentRequest{InvoiceID: res.ID, Amount: "1", Reference: "R0"})
	assertCode(t, err, errors.ErrCodeInvalidTransition)
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, providerTaxID, false)
	env.notifier.err = errUnavailable
	res := env.submit(t, providerTaxID, "C1", "INV-1", "2024-05-10", "1000")

	inv, err := env.workflows.Approve(context.Background(), &ApproveRequest{InvoiceID: res.ID, Actor: human("Carlos Ruiz")})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if inv.Status != repository.StatusApproved {
		t.Errorf("Status = %v, want aprobada", inv.Status)
	}
}
