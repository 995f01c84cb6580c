package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/fingerprint"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/workflow"
)

// SubmitAction is the fate of a submitted invoice.
type SubmitAction string

const (
	SubmitCreated  SubmitAction = "created"
	SubmitUpdated  SubmitAction = "updated"
	SubmitIgnored  SubmitAction = "ignored"
	SubmitConflict SubmitAction = "conflict"
)

const defaultSubmitter = "ingestion"

// InvoiceProcessor runs automation for a single invoice.
type InvoiceProcessor interface {
	ProcessInvoice(ctx context.Context, invoiceID string) (*AutomationItem, error)
}

// InvoiceService handles invoice ingestion, deduplication and queries
type InvoiceService struct {
	store           repository.Store
	processor       InvoiceProcessor
	processOnIngest bool
	now             Clock
	log             *logger.Logger
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(store repository.Store, log *logger.Logger) *InvoiceService {
	return &InvoiceService{
		store: store,
		now:   systemClock,
		log:   log.WithComponent("invoice_service"),
	}
}

// SetProcessor enables automation of newly created invoices.
func (s *InvoiceService) SetProcessor(p InvoiceProcessor, processOnIngest bool) {
	s.processor = p
	s.processOnIngest = processOnIngest
}

// SubmitInvoiceRequest represents an incoming invoice payload. Amounts are
// decimal strings; Total and TotalDue are optional.
type SubmitInvoiceRequest struct {
	CUFE          string
	InvoiceNumber string
	IssueDate     string
	ProviderTaxID string
	ProviderName  string
	Concept       string
	Subtotal      string
	Tax           string
	Total         *string
	TotalDue      *string
	Currency      string
	Observations  *string
	SubmittedBy   string
}

// SubmitResult reports what happened to a submission.
type SubmitResult struct {
	ID     string
	Action SubmitAction
	// Changes lists the fields modified by an update.
	Changes []string
	// ConflictingCUFE is the CUFE of the existing invoice on conflict.
	ConflictingCUFE string
	Invoice         *repository.Invoice
	// Automation is set when a created invoice was processed on ingestion.
	Automation *AutomationItem
}

type candidate struct {
	issueDate time.Time
	subtotal  decimal.Decimal
	tax       decimal.Decimal
	total     decimal.Decimal
	totalDue  decimal.Decimal
	currency  string
}

// validate checks the payload before any persistence and derives the totals.
func (r *SubmitInvoiceRequest) validate() (*candidate, error) {
	r.CUFE = strings.TrimSpace(r.CUFE)
	r.InvoiceNumber = strings.TrimSpace(r.InvoiceNumber)
	r.ProviderTaxID = strings.TrimSpace(r.ProviderTaxID)

	if r.CUFE == "" {
		return nil, errors.InvalidInput("cufe", "cufe is required")
	}
	if r.InvoiceNumber == "" {
		return nil, errors.InvalidInput("invoice_number", "invoice number is required")
	}
	if r.ProviderTaxID == "" {
		return nil, errors.InvalidInput("provider_tax_id", "provider tax id is required")
	}

	issueDate, err := time.Parse("2006-01-02", r.IssueDate)
	if err != nil {
		return nil, errors.InvalidInput("issue_date", "invalid date format, expected YYYY-MM-DD")
	}

	c := &candidate{issueDate: issueDate}
	if c.subtotal, err = parseAmount("subtotal", r.Subtotal); err != nil {
		return nil, err
	}
	if c.tax, err = parseAmount("tax", r.Tax); err != nil {
		return nil, err
	}

	c.total = c.subtotal.Add(c.tax)
	if r.Total != nil && strings.TrimSpace(*r.Total) != "" {
		if c.total, err = parseAmount("total", *r.Total); err != nil {
			return nil, err
		}
	}
	c.totalDue = c.total
	if r.TotalDue != nil && strings.TrimSpace(*r.TotalDue) != "" {
		if c.totalDue, err = parseAmount("total_due", *r.TotalDue); err != nil {
			return nil, err
		}
	}

	c.currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if c.currency == "" {
		c.currency = "COP"
	}
	if len(c.currency) != 3 {
		return nil, errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	return c, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, errors.InvalidInput(field, "amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.InvalidInput(field, fmt.Sprintf("malformed amount %q", raw))
	}
	if d.IsNegative() {
		return decimal.Zero, errors.InvalidInput(field, "amount cannot be negative")
	}
	return d.Round(2), nil
}

// SubmitInvoice deduplicates and persists an incoming invoice. Each call
// mutates at most one row and writes at most one audit entry. A conflict is
// returned both as the result action and as a CONFLICT error.
func (s *InvoiceService) SubmitInvoice(ctx context.Context, req *SubmitInvoiceRequest) (*SubmitResult, error) {
	c, err := req.validate()
	if err != nil {
		return nil, err
	}
	submitter := strings.TrimSpace(req.SubmittedBy)
	if submitter == "" {
		submitter = defaultSubmitter
	}

	var result *SubmitResult
	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.LockDedupKeys(ctx, req.CUFE, req.InvoiceNumber, req.ProviderTaxID); err != nil {
			return err
		}

		existing, err := tx.FindInvoiceByCUFE(ctx, req.CUFE)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = s.updateExisting(ctx, tx, existing, req, c, submitter)
			return err
		}

		byNumber, err := tx.FindInvoiceByNumber(ctx, req.InvoiceNumber, req.ProviderTaxID)
		if err != nil {
			return err
		}
		if byNumber != nil {
			result, err = s.recordConflict(ctx, tx, byNumber, req, submitter)
			return err
		}

		result, err = s.create(ctx, tx, req, c, submitter)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", result.ID).
		Str("cufe", req.CUFE).
		Str("invoice_number", req.InvoiceNumber).
		Str("provider_tax_id", req.ProviderTaxID).
		Str("action", string(result.Action)).
		Msg("Invoice submitted")

	switch result.Action {
	case SubmitConflict:
		return result, errors.Conflict(fmt.Sprintf("invoice %s from provider %s already exists with a different CUFE",
			req.InvoiceNumber, req.ProviderTaxID)).
			WithDetail("invoice_id", result.ID).
			WithDetail("existing_cufe", result.ConflictingCUFE).
			WithDetail("incoming_cufe", req.CUFE)
	case SubmitCreated:
		s.processCreated(ctx, result)
	}
	return result, nil
}

func (s *InvoiceService) updateExisting(ctx context.Context, tx repository.Tx, existing *repository.Invoice, req *SubmitInvoiceRequest, c *candidate, submitter string) (*SubmitResult, error) {
	updated := existing.Clone()
	changes := make(map[string]interface{})

	diffAmount := func(field string, cur *decimal.Decimal, next decimal.Decimal) {
		if !cur.Equal(next) {
			changes[field] = map[string]string{"from": cur.StringFixed(2), "to": next.StringFixed(2)}
			*cur = next
		}
	}
	diffAmount("subtotal", &updated.Subtotal, c.subtotal)
	diffAmount("tax", &updated.Tax, c.tax)
	diffAmount("total", &updated.Total, c.total)
	diffAmount("total_due", &updated.TotalDue, c.totalDue)

	if req.Observations != nil && (existing.Observations == nil || *existing.Observations != *req.Observations) {
		changes["observations"] = map[string]interface{}{"from": existing.Observations, "to": *req.Observations}
		updated.Observations = strPtr(*req.Observations)
	}

	if len(changes) == 0 {
		return &SubmitResult{ID: existing.ID, Action: SubmitIgnored, Invoice: existing}, nil
	}

	_, totalDueChanged := changes["total_due"]
	paid := decimal.Zero
	if totalDueChanged {
		payments, err := tx.ListPayments(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		if paid = sumCompleted(payments); updated.TotalDue.LessThan(paid) {
			return nil, errors.Reconciliation(fmt.Sprintf("total due %s is below the %s already paid",
				updated.TotalDue.StringFixed(2), paid.StringFixed(2)))
		}
	}

	if err := tx.UpdateInvoice(ctx, updated); err != nil {
		return nil, err
	}

	changes["reason"] = "update on existing CUFE"
	status := updated.Status
	if err := appendAudit(ctx, tx, updated, repository.AuditUpdate, submitter, &status, changes); err != nil {
		return nil, err
	}

	// lowering total due can leave an approved invoice fully paid
	if totalDueChanged {
		wf, err := tx.FindWorkflow(ctx, updated.ID)
		if err != nil {
			return nil, err
		}
		if _, err := settleIfCovered(ctx, tx, updated, wf, paid, workflow.AutomationActor, s.now(),
			map[string]interface{}{"reason": "total due lowered to the amount paid"}); err != nil {
			return nil, err
		}
	}

	fields := make([]string, 0, len(changes))
	for _, f := range []string{"subtotal", "tax", "total", "total_due", "observations"} {
		if _, ok := changes[f]; ok {
			fields = append(fields, f)
		}
	}
	return &SubmitResult{ID: updated.ID, Action: SubmitUpdated, Changes: fields, Invoice: updated}, nil
}

func (s *InvoiceService) recordConflict(ctx context.Context, tx repository.Tx, existing *repository.Invoice, req *SubmitInvoiceRequest, submitter string) (*SubmitResult, error) {
	if existing.CUFE == req.CUFE {
		return &SubmitResult{ID: existing.ID, Action: SubmitIgnored, Invoice: existing}, nil
	}

	status := existing.Status
	metadata := map[string]interface{}{
		"invoice_number":  req.InvoiceNumber,
		"provider_tax_id": req.ProviderTaxID,
		"existing_cufe":   existing.CUFE,
		"incoming_cufe":   req.CUFE,
	}
	if err := appendAudit(ctx, tx, existing, repository.AuditConflict, submitter, &status, metadata); err != nil {
		return nil, err
	}

	s.log.Warn().
		Str("invoice_id", existing.ID).
		Str("existing_cufe", existing.CUFE).
		Str("incoming_cufe", req.CUFE).
		Msg("Duplicate invoice number with different CUFE")

	return &SubmitResult{ID: existing.ID, Action: SubmitConflict, ConflictingCUFE: existing.CUFE, Invoice: existing}, nil
}

func (s *InvoiceService) create(ctx context.Context, tx repository.Tx, req *SubmitInvoiceRequest, c *candidate, submitter string) (*SubmitResult, error) {
	fp := fingerprint.Generate(req.Concept)

	inv := &repository.Invoice{
		ID:                   newID(),
		InvoiceNumber:        req.InvoiceNumber,
		IssueDate:            c.issueDate,
		ProviderTaxID:        req.ProviderTaxID,
		ProviderName:         strings.TrimSpace(req.ProviderName),
		Concept:              strings.TrimSpace(req.Concept),
		Subtotal:             c.subtotal,
		Tax:                  c.tax,
		Total:                c.total,
		TotalDue:             c.totalDue,
		Currency:             c.currency,
		Status:               repository.StatusInReview,
		CUFE:                 req.CUFE,
		FingerprintPrincipal: fp.Principal,
		FingerprintConcept:   fp.Concept,
		CreatedBy:            strPtr(submitter),
	}
	if req.Observations != nil {
		inv.Observations = strPtr(*req.Observations)
	}

	responsibles, err := resolveResponsibles(ctx, tx, req.ProviderTaxID)
	if err != nil {
		return nil, err
	}
	if len(responsibles) > 0 {
		inv.ResponsibleID = strPtr(responsibles[0].ResponsibleID)
	}

	if err := tx.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{
		"invoice_number":  inv.InvoiceNumber,
		"provider_tax_id": inv.ProviderTaxID,
		"total":           inv.Total.StringFixed(2),
		"total_due":       inv.TotalDue.StringFixed(2),
	}
	if err := appendAudit(ctx, tx, inv, repository.AuditCreate, submitter, nil, metadata); err != nil {
		return nil, err
	}

	return &SubmitResult{ID: inv.ID, Action: SubmitCreated, Invoice: inv}, nil
}

// processCreated runs automation for a new invoice. Its failure never fails the submission.
func (s *InvoiceService) processCreated(ctx context.Context, result *SubmitResult) {
	if s.processor == nil || !s.processOnIngest {
		return
	}
	item, err := s.processor.ProcessInvoice(ctx, result.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("invoice_id", result.ID).Msg("automation on ingest failed, left for the next sweep")
		return
	}
	result.Automation = item
}

// GetInvoice returns an invoice with its payments and balance.
func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*InvoiceWithPayments, error) {
	var out *InvoiceWithPayments
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		out, err = loadInvoiceWithPayments(ctx, tx, id)
		return err
	})
	return out, err
}

// History returns the audit log of an invoice, oldest first.
func (s *InvoiceService) History(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetInvoice(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.ListAudit(ctx, id)
		return err
	})
	return out, err
}
