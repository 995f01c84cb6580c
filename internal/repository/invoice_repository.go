package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
)

const invoiceColumns = `
	id, invoice_number, issue_date, provider_tax_id, provider_name, concept,
	subtotal, tax, total, total_due, currency, status, cufe,
	fingerprint_principal, fingerprint_concept,
	responsible_id, acted_by, assignment_status, observations,
	created_by, approved_by, approved_at, rejected_by, rejected_at,
	rejection_reason, rejection_detail, paid_at, created_at, updated_at
`

func wrapInternal(err error, msg string) error {
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

// CreateInvoice inserts a new invoice. The assignment status is derived before the write.
func (t *pgTx) CreateInvoice(ctx context.Context, invoice *Invoice) error {
	invoice.RecomputeAssignmentStatus()

	query := `
		INSERT INTO invoices (id, invoice_number, issue_date, provider_tax_id, provider_name, concept,
		                      subtotal, tax, total, total_due, currency, status, cufe,
		                      fingerprint_principal, fingerprint_concept,
		                      responsible_id, acted_by, assignment_status, observations, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		invoice.ID,
		invoice.InvoiceNumber,
		invoice.IssueDate,
		invoice.ProviderTaxID,
		invoice.ProviderName,
		invoice.Concept,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Total,
		invoice.TotalDue,
		invoice.Currency,
		string(invoice.Status),
		invoice.CUFE,
		invoice.FingerprintPrincipal,
		invoice.FingerprintConcept,
		invoice.ResponsibleID,
		invoice.ActedBy,
		string(invoice.AssignmentStatus),
		invoice.Observations,
		invoice.CreatedBy,
	).Scan(&invoice.CreatedAt, &invoice.UpdatedAt)
	if err != nil {
		return wrapInternal(err, "failed to create invoice")
	}
	return nil
}

// UpdateInvoice persists every mutable field of an invoice.
func (t *pgTx) UpdateInvoice(ctx context.Context, invoice *Invoice) error {
	invoice.RecomputeAssignmentStatus()

	query := `
		UPDATE invoices
		SET subtotal          = $2,
		    tax               = $3,
		    total             = $4,
		    total_due         = $5,
		    status            = $6,
		    responsible_id    = $7,
		    acted_by          = $8,
		    assignment_status = $9,
		    observations      = $10,
		    approved_by       = $11,
		    approved_at       = $12,
		    rejected_by       = $13,
		    rejected_at       = $14,
		    rejection_reason  = $15,
		    rejection_detail  = $16,
		    paid_at           = $17,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		invoice.ID,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Total,
		invoice.TotalDue,
		string(invoice.Status),
		invoice.ResponsibleID,
		invoice.ActedBy,
		string(invoice.AssignmentStatus),
		invoice.Observations,
		invoice.ApprovedBy,
		invoice.ApprovedAt,
		invoice.RejectedBy,
		invoice.RejectedAt,
		invoice.RejectionReason,
		invoice.RejectionDetail,
		invoice.PaidAt,
	).Scan(&invoice.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("invoice", invoice.ID)
	}
	if err != nil {
		return wrapInternal(err, "failed to update invoice")
	}
	return nil
}

// GetInvoice retrieves an invoice by ID
func (t *pgTx) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return t.getInvoice(ctx, query, id)
}

// GetInvoiceForUpdate retrieves an invoice and holds its row lock until the transaction ends
func (t *pgTx) GetInvoiceForUpdate(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	return t.getInvoice(ctx, query, id)
}

func (t *pgTx) getInvoice(ctx context.Context, query, id string) (*Invoice, error) {
	invoice, err := scanInvoice(t.tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("invoice", id)
	}
	if err != nil {
		return nil, wrapInternal(err, "failed to get invoice")
	}
	return invoice, nil
}

// FindInvoiceByCUFE looks an invoice up by its electronic invoice identifier
func (t *pgTx) FindInvoiceByCUFE(ctx context.Context, cufe string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE cufe = $1 FOR UPDATE`
	return t.findInvoice(ctx, query, cufe)
}

// FindInvoiceByNumber looks an invoice up by its (number, provider) pair
func (t *pgTx) FindInvoiceByNumber(ctx context.Context, invoiceNumber, providerTaxID string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_number = $1 AND provider_tax_id = $2`
	return t.findInvoice(ctx, query, invoiceNumber, providerTaxID)
}

func (t *pgTx) findInvoice(ctx context.Context, query string, args ...any) (*Invoice, error) {
	invoice, err := scanInvoice(t.tx.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapInternal(err, "failed to find invoice")
	}
	return invoice, nil
}

// ListProviderInvoices returns a provider's invoices issued within [from, to)
func (t *pgTx) ListProviderInvoices(ctx context.Context, providerTaxID string, from, to time.Time, excludeID string) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE provider_tax_id = $1
		  AND issue_date >= $2 AND issue_date < $3
		  AND id <> $4
		ORDER BY issue_date DESC, created_at DESC
	`

	rows, err := t.tx.Query(ctx, query, providerTaxID, from, to, excludeID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list provider invoices")
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, wrapInternal(err, "failed to scan invoice")
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapInternal(err, "failed to iterate invoices")
	}
	return invoices, nil
}

// ListPendingAutomation returns invoices awaiting their first automated evaluation.
// SKIP LOCKED only keeps concurrent listings from blocking on each other; the
// row locks end with the listing transaction, so two sweeps may still return
// the same ids. Processing re-checks automation_checked_at under its own lock.
func (t *pgTx) ListPendingAutomation(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT i.id
		FROM invoices i
		LEFT JOIN workflow_approvals w ON w.invoice_id = i.id
		WHERE i.status = 'en_revision'
		  AND (w.id IS NULL OR w.automation_checked_at IS NULL)
		ORDER BY i.created_at ASC
		LIMIT $1
		FOR UPDATE OF i SKIP LOCKED
	`

	rows, err := t.tx.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapInternal(err, "failed to list pending invoices")
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapInternal(err, "failed to scan invoice id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	invoice := &Invoice{}
	var status, assignmentStatus string

	err := row.Scan(
		&invoice.ID,
		&invoice.InvoiceNumber,
		&invoice.IssueDate,
		&invoice.ProviderTaxID,
		&invoice.ProviderName,
		&invoice.Concept,
		&invoice.Subtotal,
		&invoice.Tax,
		&invoice.Total,
		&invoice.TotalDue,
		&invoice.Currency,
		&status,
		&invoice.CUFE,
		&invoice.FingerprintPrincipal,
		&invoice.FingerprintConcept,
		&invoice.ResponsibleID,
		&invoice.ActedBy,
		&assignmentStatus,
		&invoice.Observations,
		&invoice.CreatedBy,
		&invoice.ApprovedBy,
		&invoice.ApprovedAt,
		&invoice.RejectedBy,
		&invoice.RejectedAt,
		&invoice.RejectionReason,
		&invoice.RejectionDetail,
		&invoice.PaidAt,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.Status = InvoiceStatus(status)
	invoice.AssignmentStatus = AssignmentStatus(assignmentStatus)
	return invoice, nil
}
