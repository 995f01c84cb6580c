package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/decision"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/pattern"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// AutomationConfig bounds the sweep.
type AutomationConfig struct {
	BatchSize int
	Workers   int
}

// AutomationItem is the outcome of automation for one invoice.
type AutomationItem struct {
	InvoiceID        string
	Decision         decision.Outcome
	Confidence       float64
	Rationale        string
	MatchedInvoiceID *string
	// Skipped is set when the invoice was no longer in review.
	Skipped bool
	Error   string
}

// BatchResult summarizes one automation sweep.
type BatchResult struct {
	Processed    int
	AutoApproved int
	SentToReview int
	Errors       int
	Items        []AutomationItem
}

// AutomationService runs invoices in review through pattern detection and the
// decision engine, and applies the decision.
type AutomationService struct {
	store    repository.Store
	detector *pattern.Detector
	engine   *decision.Engine
	notifier client.Notifier
	cfg      AutomationConfig
	log      *logger.Logger
	now      Clock
}

// NewAutomationService creates a new automation service
func NewAutomationService(
	store repository.Store,
	detector *pattern.Detector,
	engine *decision.Engine,
	notifier client.Notifier,
	cfg AutomationConfig,
	log *logger.Logger,
) *AutomationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &AutomationService{
		store:    store,
		detector: detector,
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		log:      log.WithComponent("automation_service"),
		now:      systemClock,
	}
}

// ProcessInvoice evaluates one invoice. Automatic approvals are applied
// through the workflow; any other decision is recorded on the workflow row and
// the invoice stays in review. The whole evaluation is one transaction.
// Invoices that were already evaluated are skipped.
func (s *AutomationService) ProcessInvoice(ctx context.Context, invoiceID string) (*AutomationItem, error) {
	return s.process(ctx, invoiceID, false)
}

// ReevaluateInvoice runs the evaluation again on an invoice still in review,
// even if automation already sent it there.
func (s *AutomationService) ReevaluateInvoice(ctx context.Context, invoiceID string) (*AutomationItem, error) {
	return s.process(ctx, invoiceID, true)
}

func (s *AutomationService) process(ctx context.Context, invoiceID string, force bool) (*AutomationItem, error) {
	var (
		item   *AutomationItem
		notice *pendingNotice
	)

	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		wf, err := tx.FindWorkflow(ctx, inv.ID)
		if err != nil {
			return err
		}

		if status := workflow.CurrentStatus(inv, wf); status != repository.StatusInReview {
			item = &AutomationItem{InvoiceID: inv.ID, Skipped: true, Rationale: "invoice is " + status.String()}
			return nil
		}
		if wf != nil && wf.AutomationCheckedAt != nil && !force {
			item = &AutomationItem{InvoiceID: inv.ID, Skipped: true, Rationale: "invoice was already evaluated"}
			if wf.AutomationDecision != nil {
				item.Decision = decision.Outcome(*wf.AutomationDecision)
			}
			return nil
		}

		if wf == nil {
			wf = &repository.WorkflowApproval{ID: newID(), InvoiceID: inv.ID, Stage: inv.Status}
			if err := tx.CreateWorkflow(ctx, wf); err != nil {
				return err
			}
		}

		policy, err := resolvePolicy(ctx, tx, inv.ProviderTaxID)
		if err != nil {
			return err
		}
		pr, err := s.detector.Detect(ctx, tx, inv, policy.ServiceType)
		if err != nil {
			return err
		}
		res := s.engine.Decide(decision.Input{Invoice: inv, Policy: policy, Pattern: pr})

		now := s.now()
		confidence := res.Confidence
		wf.AutomationDecision = strPtr(string(res.Decision))
		wf.AutomationConfidence = &confidence
		wf.MatchedInvoiceID = res.MatchedInvoiceID
		wf.AutomationCheckedAt = &now

		metadata := map[string]interface{}{
			"decision":   string(res.Decision),
			"confidence": res.Confidence,
			"rationale":  res.Rationale,
			"rule":       res.Rule,
		}
		if res.MatchedInvoiceID != nil {
			metadata["matched_invoice_id"] = *res.MatchedInvoiceID
		}

		if res.Decision == decision.AutoApprove {
			t := workflow.Transition{Action: workflow.ActionAutoApprove, Actor: workflow.AutomationActor, At: now}
			if err := applyTransition(ctx, tx, inv, wf, t, metadata); err != nil {
				return err
			}
			if err := settleAfterApproval(ctx, tx, inv, wf, workflow.AutomationActor, now); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateWorkflow(ctx, wf); err != nil {
				return err
			}
			before := inv.Status
			if err := appendAudit(ctx, tx, inv, repository.AuditAutomationReview, workflow.AutomationActor.DisplayName, &before, metadata); err != nil {
				return err
			}
		}

		item = &AutomationItem{
			InvoiceID:        inv.ID,
			Decision:         res.Decision,
			Confidence:       res.Confidence,
			Rationale:        res.Rationale,
			MatchedInvoiceID: res.MatchedInvoiceID,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}

		template := client.TemplateNeedsReview
		if res.Decision == decision.AutoApprove {
			template = client.TemplateAutoApproved
		}
		notice = &pendingNotice{
			template:     template,
			invoice:      inv,
			responsibles: policy.Responsibles,
			extra: map[string]interface{}{
				"confidence": res.Confidence,
				"rationale":  res.Rationale,
			},
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeOf(err), "automation failed for invoice "+invoiceID)
	}

	if !item.Skipped {
		s.log.Info().
			Str("invoice_id", item.InvoiceID).
			Str("decision", string(item.Decision)).
			Float64("confidence", item.Confidence).
			Msg("Invoice evaluated")
		notifyResponsibles(ctx, s.notifier, s.log, notice)
	}
	return item, nil
}

// RunAutomationBatch evaluates up to limit pending invoices in parallel.
// Each invoice is processed in its own transaction, so a failed or partial
// batch leaves every invoice either evaluated or still pending.
func (s *AutomationService) RunAutomationBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 || limit > s.cfg.BatchSize {
		limit = s.cfg.BatchSize
	}

	var ids []string
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		ids, err = tx.ListPendingAutomation(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	items := make([]AutomationItem, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			item, err := s.ProcessInvoice(ctx, id)
			if err != nil {
				s.log.Error().Err(err).Str("invoice_id", id).Msg("Automation failed")
				items[i] = AutomationItem{InvoiceID: id, Decision: decision.Error, Error: err.Error()}
				return nil
			}
			items[i] = *item
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Items: items}
	for _, it := range items {
		if it.Skipped {
			continue
		}
		result.Processed++
		switch it.Decision {
		case decision.AutoApprove:
			result.AutoApproved++
		case decision.NeedsReview:
			result.SentToReview++
		}
		if it.Error != "" {
			result.Errors++
		}
	}

	s.log.Info().
		Int("processed", result.Processed).
		Int("auto_approved", result.AutoApproved).
		Int("sent_to_review", result.SentToReview).
		Int("errors", result.Errors).
		Msg("Automation batch completed")

	return result, nil
}
