package repository

import (
	"context"
)

// ListPayments returns every payment recorded against an invoice, oldest first.
func (t *pgTx) ListPayments(ctx context.Context, invoiceID string) ([]*Payment, error) {
	query := `
		SELECT id, invoice_id, amount, reference, method, status, processed_by, paid_at, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY paid_at ASC, created_at ASC
	`

	rows, err := t.tx.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list payments")
	}
	defer rows.Close()

	payments := make([]*Payment, 0)
	for rows.Next() {
		p := &Payment{}
		err := rows.Scan(
			&p.ID,
			&p.InvoiceID,
			&p.Amount,
			&p.Reference,
			&p.Method,
			&p.Status,
			&p.ProcessedBy,
			&p.PaidAt,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, wrapInternal(err, "failed to scan payment")
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// PaymentReferenceExists reports whether any invoice already carries the reference.
func (t *pgTx) PaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)`, reference).Scan(&exists)
	if err != nil {
		return false, wrapInternal(err, "failed to check payment reference")
	}
	return exists, nil
}

// CreatePayment records a payment
func (t *pgTx) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (id, invoice_id, amount, reference, method, status, processed_by, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := t.tx.QueryRow(ctx, query,
		p.ID,
		p.InvoiceID,
		p.Amount,
		p.Reference,
		p.Method,
		p.Status,
		p.ProcessedBy,
		p.PaidAt,
	).Scan(&p.CreatedAt)
	if err != nil {
		return wrapInternal(err, "failed to record payment")
	}
	return nil
}
