package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// Clock returns the current time. Services default to time.Now in UTC.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func newID() string {
	return uuid.NewString()
}

func strPtr(s string) *string { return &s }

func statusPtr(s repository.InvoiceStatus) *string {
	v := s.String()
	return &v
}

// appendAudit writes one audit entry for inv inside tx.
func appendAudit(ctx context.Context, tx repository.Tx, inv *repository.Invoice, action, performedBy string, before *repository.InvoiceStatus, metadata map[string]interface{}) error {
	entry := &repository.AuditEntry{
		ID:          newID(),
		InvoiceID:   strPtr(inv.ID),
		CUFE:        inv.CUFE,
		Action:      action,
		PerformedBy: performedBy,
		StatusAfter: statusPtr(inv.Status),
		Metadata:    metadata,
	}
	if before != nil {
		entry.StatusBefore = statusPtr(*before)
	}
	return tx.AppendAudit(ctx, entry)
}

// applyTransition runs a workflow transition and persists its effects: the
// invoice, the workflow row when present, and one audit entry.
func applyTransition(ctx context.Context, tx repository.Tx, inv *repository.Invoice, wf *repository.WorkflowApproval, t workflow.Transition, metadata map[string]interface{}) error {
	before, err := workflow.Apply(inv, wf, t)
	if err != nil {
		return err
	}
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return err
	}
	if wf != nil {
		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}
	}
	return appendAudit(ctx, tx, inv, workflow.AuditAction(t.Action), t.Actor.DisplayName, &before, metadata)
}

// settleIfCovered marks an approved invoice paid once its completed payments
// cover the total due. A zero total due is covered on approval. It reports
// whether the invoice was settled.
func settleIfCovered(ctx context.Context, tx repository.Tx, inv *repository.Invoice, wf *repository.WorkflowApproval, paid decimal.Decimal, actor workflow.Actor, at time.Time, metadata map[string]interface{}) (bool, error) {
	if !workflow.CurrentStatus(inv, wf).IsApproved() || paid.LessThan(inv.TotalDue) {
		return false, nil
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["total_paid"] = paid.StringFixed(2)
	t := workflow.Transition{Action: workflow.ActionMarkPaid, Actor: actor, At: at}
	if err := applyTransition(ctx, tx, inv, wf, t, metadata); err != nil {
		return false, err
	}
	return true, nil
}

// settleAfterApproval settles an invoice that was just approved with nothing
// left to pay.
func settleAfterApproval(ctx context.Context, tx repository.Tx, inv *repository.Invoice, wf *repository.WorkflowApproval, actor workflow.Actor, at time.Time) error {
	if inv.TotalDue.IsPositive() {
		return nil
	}
	payments, err := tx.ListPayments(ctx, inv.ID)
	if err != nil {
		return err
	}
	_, err = settleIfCovered(ctx, tx, inv, wf, sumCompleted(payments), actor, at,
		map[string]interface{}{"reason": "nothing due on approval"})
	return err
}

func templateFor(a workflow.Action) string {
	switch a {
	case workflow.ActionAutoApprove:
		return client.TemplateAutoApproved
	case workflow.ActionApprove:
		return client.TemplateApproved
	case workflow.ActionReject:
		return client.TemplateRejected
	case workflow.ActionReturnToProvider:
		return client.TemplateReturned
	case workflow.ActionMarkPaid:
		return client.TemplatePaid
	}
	return ""
}

// pendingNotice is a notification collected inside a transaction and sent
// only after it committed.
type pendingNotice struct {
	template     string
	invoice      *repository.Invoice
	responsibles []*repository.ProviderAssignment
	extra        map[string]interface{}
}

// notifyResponsibles sends one notification per responsible party. Delivery
// is best effort: failures are logged and never returned.
func notifyResponsibles(ctx context.Context, n client.Notifier, log *logger.Logger, p *pendingNotice) {
	if n == nil || p == nil || p.template == "" {
		return
	}
	if len(p.responsibles) == 0 {
		log.Debug().
			Str("invoice_id", p.invoice.ID).
			Str("template", p.template).
			Msg("no responsible party to notify")
		return
	}

	for _, r := range p.responsibles {
		recipient := r.ResponsibleEmail
		if recipient == "" {
			recipient = r.ResponsibleID
		}
		data := map[string]interface{}{
			"invoice_id":       p.invoice.ID,
			"invoice_number":   p.invoice.InvoiceNumber,
			"provider_tax_id":  p.invoice.ProviderTaxID,
			"provider_name":    p.invoice.ProviderName,
			"total":            p.invoice.Total.StringFixed(2),
			"currency":         p.invoice.Currency,
			"status":           p.invoice.Status.String(),
			"responsible_name": r.ResponsibleName,
		}
		for k, v := range p.extra {
			data[k] = v
		}

		err := n.Notify(ctx, client.Notification{Recipient: recipient, TemplateKey: p.template, Context: data})
		if err != nil {
			log.Warn().Err(err).
				Str("invoice_id", p.invoice.ID).
				Str("template", p.template).
				Str("recipient", recipient).
				Msg("failed to dispatch notification")
		}
	}
}

func sumCompleted(payments []*repository.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == repository.PaymentStatusCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total
}
