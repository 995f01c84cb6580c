package service

import (
	"context"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// WorkflowService drives manual approval transitions and notifies the
// provider's responsible parties once a transition committed.
type WorkflowService struct {
	store    repository.Store
	notifier client.Notifier
	log      *logger.Logger
	now      Clock
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(store repository.Store, notifier client.Notifier, log *logger.Logger) *WorkflowService {
	return &WorkflowService{
		store:    store,
		notifier: notifier,
		log:      log.WithComponent("workflow_service"),
		now:      systemClock,
	}
}

// ApproveRequest represents an approve request
type ApproveRequest struct {
	InvoiceID    string
	Actor        workflow.Actor
	Observations *string
	// AllowIdempotent turns approving an already approved invoice into a no-op
	// instead of an invalid transition.
	AllowIdempotent bool
}

// RejectRequest represents a reject request
type RejectRequest struct {
	InvoiceID       string
	Actor           workflow.Actor
	Reason          string
	Detail          *string
	AllowIdempotent bool
}

// ReturnRequest represents an accounting return of an approved invoice.
type ReturnRequest struct {
	InvoiceID string
	Actor     workflow.Actor
	Detail    *string
}

// Approve moves an invoice in review to aprobada.
func (s *WorkflowService) Approve(ctx context.Context, req *ApproveRequest) (*repository.Invoice, error) {
	t := workflow.Transition{
		Action:       workflow.ActionApprove,
		Actor:        req.Actor,
		Observations: req.Observations,
	}
	return s.transition(ctx, req.InvoiceID, t, req.AllowIdempotent)
}

// Reject moves an invoice in review to rechazada.
func (s *WorkflowService) Reject(ctx context.Context, req *RejectRequest) (*repository.Invoice, error) {
	t := workflow.Transition{
		Action: workflow.ActionReject,
		Actor:  req.Actor,
		Reason: req.Reason,
		Detail: req.Detail,
	}
	return s.transition(ctx, req.InvoiceID, t, req.AllowIdempotent)
}

// ReturnToProvider rejects an approved invoice with the returned-to-provider reason.
func (s *WorkflowService) ReturnToProvider(ctx context.Context, req *ReturnRequest) (*repository.Invoice, error) {
	t := workflow.Transition{
		Action: workflow.ActionReturnToProvider,
		Actor:  req.Actor,
		Detail: req.Detail,
	}
	return s.transition(ctx, req.InvoiceID, t, false)
}

func (s *WorkflowService) transition(ctx context.Context, invoiceID string, t workflow.Transition, allowIdempotent bool) (*repository.Invoice, error) {
	if err := t.Actor.Validate(); err != nil {
		return nil, err
	}
	t.At = s.now()

	var (
		result *repository.Invoice
		notice *pendingNotice
		noop   bool
	)

	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		// invoices without a workflow row take the legacy path: wf stays nil
		wf, err := tx.FindWorkflow(ctx, inv.ID)
		if err != nil {
			return err
		}

		if allowIdempotent && workflow.AlreadyApplied(inv, wf, t.Action) {
			result, noop = inv, true
			return nil
		}

		metadata := map[string]interface{}{"under_workflow": wf != nil}
		if t.Reason != "" {
			metadata["reason"] = t.Reason
		}
		if err := applyTransition(ctx, tx, inv, wf, t, metadata); err != nil {
			return err
		}
		if t.Action == workflow.ActionApprove {
			if err := settleAfterApproval(ctx, tx, inv, wf, t.Actor, t.At); err != nil {
				return err
			}
		}

		responsibles, err := resolveResponsibles(ctx, tx, inv.ProviderTaxID)
		if err != nil {
			return err
		}
		result = inv
		notice = &pendingNotice{
			template:     templateFor(t.Action),
			invoice:      inv,
			responsibles: responsibles,
			extra:        map[string]interface{}{"actor": t.Actor.DisplayName},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if noop {
		s.log.Debug().
			Str("invoice_id", invoiceID).
			Str("action", string(t.Action)).
			Msg("Transition already applied")
		return result, nil
	}

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("action", string(t.Action)).
		Str("status", result.Status.String()).
		Str("actor", t.Actor.DisplayName).
		Msg("Invoice transitioned")

	notifyResponsibles(ctx, s.notifier, s.log, notice)
	return result, nil
}
