package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
)

// FindWorkflow returns the workflow row for an invoice, or nil for legacy
// invoices that never entered workflow tracking.
func (t *pgTx) FindWorkflow(ctx context.Context, invoiceID string) (*WorkflowApproval, error) {
	query := `
		SELECT id, invoice_id, stage,
		       approved_by, approved_at, rejected_by, rejected_at,
		       observations, automation_decision, automation_confidence,
		       matched_invoice_id, automation_checked_at,
		       created_at, updated_at
		FROM workflow_approvals
		WHERE invoice_id = $1
		FOR UPDATE
	`

	wf, err := scanWorkflow(t.tx.QueryRow(ctx, query, invoiceID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapInternal(err, "failed to get workflow approval")
	}
	return wf, nil
}

// CreateWorkflow inserts the workflow row for an invoice.
func (t *pgTx) CreateWorkflow(ctx context.Context, wf *WorkflowApproval) error {
	query := `
		INSERT INTO workflow_approvals
		    (id, invoice_id, stage, approved_by, approved_at, rejected_by, rejected_at,
		     observations, automation_decision, automation_confidence,
		     matched_invoice_id, automation_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		wf.ID,
		wf.InvoiceID,
		string(wf.Stage),
		wf.ApprovedBy,
		wf.ApprovedAt,
		wf.RejectedBy,
		wf.RejectedAt,
		wf.Observations,
		wf.AutomationDecision,
		wf.AutomationConfidence,
		wf.MatchedInvoiceID,
		wf.AutomationCheckedAt,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return wrapInternal(err, "failed to create workflow approval")
	}
	return nil
}

// UpdateWorkflow persists the stage, actors and automation outcome of a workflow row.
func (t *pgTx) UpdateWorkflow(ctx context.Context, wf *WorkflowApproval) error {
	query := `
		UPDATE workflow_approvals
		SET stage                 = $2,
		    approved_by           = $3,
		    approved_at           = $4,
		    rejected_by           = $5,
		    rejected_at           = $6,
		    observations          = $7,
		    automation_decision   = $8,
		    automation_confidence = $9,
		    matched_invoice_id    = $10,
		    automation_checked_at = $11,
		    updated_at            = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		wf.ID,
		string(wf.Stage),
		wf.ApprovedBy,
		wf.ApprovedAt,
		wf.RejectedBy,
		wf.RejectedAt,
		wf.Observations,
		wf.AutomationDecision,
		wf.AutomationConfidence,
		wf.MatchedInvoiceID,
		wf.AutomationCheckedAt,
	).Scan(&wf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_approval", wf.ID)
	}
	if err != nil {
		return wrapInternal(err, "failed to update workflow approval")
	}
	return nil
}

func scanWorkflow(row rowScanner) (*WorkflowApproval, error) {
	wf := &WorkflowApproval{}
	var stage string
	err := row.Scan(
		&wf.ID,
		&wf.InvoiceID,
		&stage,
		&wf.ApprovedBy,
		&wf.ApprovedAt,
		&wf.RejectedBy,
		&wf.RejectedAt,
		&wf.Observations,
		&wf.AutomationDecision,
		&wf.AutomationConfidence,
		&wf.MatchedInvoiceID,
		&wf.AutomationCheckedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.Stage = InvoiceStatus(stage)
	return wf, nil
}
