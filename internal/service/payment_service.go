package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// PaymentService reconciles payments against approved invoices
type PaymentService struct {
	store    repository.Store
	notifier client.Notifier
	log      *logger.Logger
	now      Clock
}

// NewPaymentService creates a new payment service
func NewPaymentService(store repository.Store, notifier client.Notifier, log *logger.Logger) *PaymentService {
	return &PaymentService{
		store:    store,
		notifier: notifier,
		log:      log.WithComponent("payment_service"),
		now:      systemClock,
	}
}

// RecordPaymentRequest represents a record payment request
type RecordPaymentRequest struct {
	InvoiceID string
	Amount    string
	Reference string
	Method    *string
	// ProcessedBy is the display name of whoever processed the payment.
	// Empty means the payment was recorded by the system.
	ProcessedBy string
	PaidAt      *time.Time
}

// InvoiceWithPayments is an invoice with its payment history and balance.
type InvoiceWithPayments struct {
	Invoice   *repository.Invoice
	Payments  []*repository.Payment
	TotalPaid decimal.Decimal
	// Outstanding is max(total_due - total_paid, 0).
	Outstanding decimal.Decimal
	Settled     bool
}

func loadInvoiceWithPayments(ctx context.Context, tx repository.Tx, id string) (*InvoiceWithPayments, error) {
	inv, err := tx.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := tx.ListPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	return summarize(inv, payments), nil
}

func summarize(inv *repository.Invoice, payments []*repository.Payment) *InvoiceWithPayments {
	paid := sumCompleted(payments)
	return &InvoiceWithPayments{
		Invoice:     inv,
		Payments:    payments,
		TotalPaid:   paid,
		Outstanding: outstanding(inv.TotalDue, paid),
		Settled:     paid.GreaterThanOrEqual(inv.TotalDue),
	}
}

func outstanding(totalDue, paid decimal.Decimal) decimal.Decimal {
	rest := totalDue.Sub(paid)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// RecordPayment records a payment against an approved invoice and settles the
// invoice once the payments cover its total due. The balance check and the
// insert run in one transaction holding the invoice row lock.
func (s *PaymentService) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*InvoiceWithPayments, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, errors.InvalidInput("amount", fmt.Sprintf("malformed amount %q", req.Amount))
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "payment amount must be positive")
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, errors.InvalidInput("reference", "payment reference is required")
	}

	actor := workflow.AutomationActor
	if strings.TrimSpace(req.ProcessedBy) != "" {
		if actor, err = workflow.NewActor("", req.ProcessedBy); err != nil {
			return nil, err
		}
	}

	paidAt := s.now()
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	var (
		result *InvoiceWithPayments
		notice *pendingNotice
	)

	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		wf, err := tx.FindWorkflow(ctx, inv.ID)
		if err != nil {
			return err
		}

		status := workflow.CurrentStatus(inv, wf)
		if !status.IsApproved() {
			return errors.InvalidTransition(status.String(), "record payment for")
		}

		exists, err := tx.PaymentReferenceExists(ctx, reference)
		if err != nil {
			return err
		}
		if exists {
			return errors.Reconciliation(fmt.Sprintf("payment reference %q already recorded", reference)).
				WithDetail("reference", reference)
		}

		payments, err := tx.ListPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		balance := outstanding(inv.TotalDue, sumCompleted(payments))
		if amount.GreaterThan(balance) {
			return errors.Reconciliation(fmt.Sprintf("payment amount %s exceeds outstanding balance %s",
				amount.StringFixed(2), balance.StringFixed(2))).
				WithDetail("outstanding", balance.StringFixed(2))
		}

		payment := &repository.Payment{
			ID:          newID(),
			InvoiceID:   inv.ID,
			Amount:      amount,
			Reference:   reference,
			Method:      req.Method,
			Status:      repository.PaymentStatusCompleted,
			ProcessedBy: actor.DisplayName,
			PaidAt:      paidAt,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}

		payments = append(payments, payment)
		paid := sumCompleted(payments)
		settled, err := settleIfCovered(ctx, tx, inv, wf, paid, actor, paidAt, map[string]interface{}{
			"payment_id": payment.ID,
			"reference":  reference,
		})
		if err != nil {
			return err
		}
		if settled {
			responsibles, err := resolveResponsibles(ctx, tx, inv.ProviderTaxID)
			if err != nil {
				return err
			}
			notice = &pendingNotice{
				template:     client.TemplatePaid,
				invoice:      inv,
				responsibles: responsibles,
				extra:        map[string]interface{}{"total_paid": paid.StringFixed(2)},
			}
		}

		result, err = loadInvoiceWithPayments(ctx, tx, inv.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", req.InvoiceID).
		Str("reference", reference).
		Str("amount", amount.StringFixed(2)).
		Str("outstanding", result.Outstanding.StringFixed(2)).
		Bool("settled", result.Settled).
		Msg("Payment recorded")

	notifyResponsibles(ctx, s.notifier, s.log, notice)
	return result, nil
}
