package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
)

// MemoryStore is an in-process Store used by tests and local runs without a
// database. Transactions are fully serialized and roll back on error.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	seq         int64
	invoices    map[string]*memInvoice
	workflows   map[string]*WorkflowApproval // by invoice id
	assignments []*ProviderAssignment
	payments    []*Payment
	audit       []*AuditEntry
}

type memInvoice struct {
	seq     int64
	invoice *Invoice
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			invoices:  make(map[string]*memInvoice),
			workflows: make(map[string]*WorkflowApproval),
		},
		now: time.Now,
	}
}

// InTransaction runs fn with exclusive access to the store. Changes are
// discarded when fn returns an error.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (st memState) clone() memState {
	c := memState{
		seq:       st.seq,
		invoices:  make(map[string]*memInvoice, len(st.invoices)),
		workflows: make(map[string]*WorkflowApproval, len(st.workflows)),
	}
	for id, mi := range st.invoices {
		c.invoices[id] = &memInvoice{seq: mi.seq, invoice: mi.invoice.Clone()}
	}
	for id, wf := range st.workflows {
		c.workflows[id] = wf.Clone()
	}
	for _, a := range st.assignments {
		cp := *a
		c.assignments = append(c.assignments, &cp)
	}
	for _, p := range st.payments {
		cp := *p
		c.payments = append(c.payments, &cp)
	}
	// audit entries are immutable once appended
	c.audit = append(c.audit, st.audit...)
	return c
}

type memTx struct {
	s *MemoryStore
}

func (t *memTx) LockDedupKeys(ctx context.Context, cufe, invoiceNumber, providerTaxID string) error {
	return nil
}

// ── invoices ─────────────────────────────────────────────────────────────────

func (t *memTx) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	mi, ok := t.s.state.invoices[id]
	if !ok {
		return nil, errors.NotFound("invoice", id)
	}
	return mi.invoice.Clone(), nil
}

func (t *memTx) GetInvoiceForUpdate(ctx context.Context, id string) (*Invoice, error) {
	return t.GetInvoice(ctx, id)
}

func (t *memTx) FindInvoiceByCUFE(ctx context.Context, cufe string) (*Invoice, error) {
	for _, mi := range t.s.state.invoices {
		if mi.invoice.CUFE == cufe {
			return mi.invoice.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) FindInvoiceByNumber(ctx context.Context, invoiceNumber, providerTaxID string) (*Invoice, error) {
	for _, mi := range t.s.state.invoices {
		if mi.invoice.InvoiceNumber == invoiceNumber && mi.invoice.ProviderTaxID == providerTaxID {
			return mi.invoice.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateInvoice(ctx context.Context, invoice *Invoice) error {
	if invoice.ID == "" {
		return errors.New(errors.ErrCodeInternal, "invoice id is required")
	}
	if _, exists := t.s.state.invoices[invoice.ID]; exists {
		return errors.New(errors.ErrCodeInternal, "duplicate invoice id")
	}
	for _, mi := range t.s.state.invoices {
		if mi.invoice.CUFE == invoice.CUFE {
			return errors.New(errors.ErrCodeInternal, "unique violation: invoices_cufe_key")
		}
		if mi.invoice.InvoiceNumber == invoice.InvoiceNumber && mi.invoice.ProviderTaxID == invoice.ProviderTaxID {
			return errors.New(errors.ErrCodeInternal, "unique violation: invoices_number_provider_key")
		}
	}
	if invoice.TotalDue.IsNegative() {
		return errors.New(errors.ErrCodeInternal, "check violation: total_due >= 0")
	}

	invoice.RecomputeAssignmentStatus()
	now := t.s.now()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	t.s.state.seq++
	t.s.state.invoices[invoice.ID] = &memInvoice{seq: t.s.state.seq, invoice: invoice.Clone()}
	return nil
}

func (t *memTx) UpdateInvoice(ctx context.Context, invoice *Invoice) error {
	mi, ok := t.s.state.invoices[invoice.ID]
	if !ok {
		return errors.NotFound("invoice", invoice.ID)
	}
	if invoice.TotalDue.IsNegative() {
		return errors.New(errors.ErrCodeInternal, "check violation: total_due >= 0")
	}

	invoice.RecomputeAssignmentStatus()
	invoice.UpdatedAt = t.s.now()
	mi.invoice = invoice.Clone()
	return nil
}

func (t *memTx) ListProviderInvoices(ctx context.Context, providerTaxID string, from, to time.Time, excludeID string) ([]*Invoice, error) {
	var out []*Invoice
	for id, mi := range t.s.state.invoices {
		inv := mi.invoice
		if id == excludeID || inv.ProviderTaxID != providerTaxID {
			continue
		}
		if inv.IssueDate.Before(from) || !inv.IssueDate.Before(to) {
			continue
		}
		out = append(out, inv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return t.s.state.invoices[out[i].ID].seq > t.s.state.invoices[out[j].ID].seq
	})
	return out, nil
}

func (t *memTx) ListPendingAutomation(ctx context.Context, limit int) ([]string, error) {
	var pending []*memInvoice
	for id, mi := range t.s.state.invoices {
		if mi.invoice.Status != StatusInReview {
			continue
		}
		if wf, ok := t.s.state.workflows[id]; ok && wf.AutomationCheckedAt != nil {
			continue
		}
		pending = append(pending, mi)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	ids := make([]string, 0, limit)
	for _, mi := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, mi.invoice.ID)
	}
	return ids, nil
}

// ── workflows ────────────────────────────────────────────────────────────────

func (t *memTx) FindWorkflow(ctx context.Context, invoiceID string) (*WorkflowApproval, error) {
	wf, ok := t.s.state.workflows[invoiceID]
	if !ok {
		return nil, nil
	}
	return wf.Clone(), nil
}

func (t *memTx) CreateWorkflow(ctx context.Context, wf *WorkflowApproval) error {
	if _, exists := t.s.state.workflows[wf.InvoiceID]; exists {
		return errors.New(errors.ErrCodeInternal, "unique violation: workflow_approvals_invoice_key")
	}
	if _, ok := t.s.state.invoices[wf.InvoiceID]; !ok {
		return errors.New(errors.ErrCodeInternal, "foreign key violation: workflow_approvals.invoice_id")
	}
	now := t.s.now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	t.s.state.workflows[wf.InvoiceID] = wf.Clone()
	return nil
}

func (t *memTx) UpdateWorkflow(ctx context.Context, wf *WorkflowApproval) error {
	existing, ok := t.s.state.workflows[wf.InvoiceID]
	if !ok || existing.ID != wf.ID {
		return errors.NotFound("workflow_approval", wf.ID)
	}
	wf.UpdatedAt = t.s.now()
	t.s.state.workflows[wf.InvoiceID] = wf.Clone()
	return nil
}

// ── assignments ──────────────────────────────────────────────────────────────

func (t *memTx) ListActiveAssignments(ctx context.Context, providerTaxID string) ([]*ProviderAssignment, error) {
	var out []*ProviderAssignment
	for _, a := range t.s.state.assignments {
		if a.ProviderTaxID == providerTaxID && a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) FindAssignment(ctx context.Context, providerTaxID, responsibleID string) (*ProviderAssignment, error) {
	var found *ProviderAssignment
	for _, a := range t.s.state.assignments {
		if a.ProviderTaxID != providerTaxID || a.ResponsibleID != responsibleID {
			continue
		}
		if found == nil || (a.Active && !found.Active) || (a.Active == found.Active && !a.UpdatedAt.Before(found.UpdatedAt)) {
			found = a
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (t *memTx) CreateAssignment(ctx context.Context, a *ProviderAssignment) error {
	if a.Active {
		for _, existing := range t.s.state.assignments {
			if existing.Active && existing.ProviderTaxID == a.ProviderTaxID && existing.ResponsibleID == a.ResponsibleID {
				return errors.New(errors.ErrCodeInternal, "unique violation: uq_provider_assignments_active")
			}
		}
	}
	now := t.s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	t.s.state.assignments = append(t.s.state.assignments, &cp)
	return nil
}

func (t *memTx) UpdateAssignment(ctx context.Context, a *ProviderAssignment) error {
	for i, existing := range t.s.state.assignments {
		if existing.ID != a.ID {
			continue
		}
		a.UpdatedAt = t.s.now()
		cp := *a
		t.s.state.assignments[i] = &cp
		return nil
	}
	return errors.NotFound("provider_assignment", a.ID)
}

// ── payments ─────────────────────────────────────────────────────────────────

func (t *memTx) ListPayments(ctx context.Context, invoiceID string) ([]*Payment, error) {
	out := make([]*Payment, 0)
	for _, p := range t.s.state.payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) PaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	for _, p := range t.s.state.payments {
		if p.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreatePayment(ctx context.Context, p *Payment) error {
	if exists, _ := t.PaymentReferenceExists(ctx, p.Reference); exists {
		return errors.New(errors.ErrCodeInternal, "unique violation: payments_reference_key")
	}
	if !p.Amount.IsPositive() {
		return errors.New(errors.ErrCodeInternal, "check violation: amount > 0")
	}
	p.CreatedAt = t.s.now()
	cp := *p
	t.s.state.payments = append(t.s.state.payments, &cp)
	return nil
}

// ── audit ────────────────────────────────────────────────────────────────────

func (t *memTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	entry.PerformedAt = t.s.now()
	cp := *entry
	t.s.state.audit = append(t.s.state.audit, &cp)
	return nil
}

func (t *memTx) ListAudit(ctx context.Context, invoiceID string) ([]*AuditEntry, error) {
	var out []*AuditEntry
	for _, e := range t.s.state.audit {
		if e.InvoiceID != nil && *e.InvoiceID == invoiceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AuditCount returns the number of audit entries across all invoices.
func (s *MemoryStore) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.audit)
}
