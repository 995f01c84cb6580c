package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/database"
)

// Store is the persistence boundary consumed by the services. Every
// read-modify-write sequence runs inside InTransaction so that concurrent
// callers are serialized per invoice.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the entity operations available inside one transaction.
//
// Find* methods return (nil, nil) when nothing matches; Get* methods return a
// NotFound error.
type Tx interface {
	// LockDedupKeys serializes concurrent submissions sharing a CUFE or an
	// (invoice number, provider) pair until the transaction ends.
	LockDedupKeys(ctx context.Context, cufe, invoiceNumber, providerTaxID string) error

	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id string) (*Invoice, error)
	FindInvoiceByCUFE(ctx context.Context, cufe string) (*Invoice, error)
	FindInvoiceByNumber(ctx context.Context, invoiceNumber, providerTaxID string) (*Invoice, error)
	CreateInvoice(ctx context.Context, invoice *Invoice) error
	UpdateInvoice(ctx context.Context, invoice *Invoice) error
	// ListProviderInvoices returns the provider's invoices issued in [from, to), excluding excludeID.
	ListProviderInvoices(ctx context.Context, providerTaxID string, from, to time.Time, excludeID string) ([]*Invoice, error)
	// ListPendingAutomation returns ids of invoices in review that automation has not evaluated yet, oldest first.
	ListPendingAutomation(ctx context.Context, limit int) ([]string, error)

	FindWorkflow(ctx context.Context, invoiceID string) (*WorkflowApproval, error)
	CreateWorkflow(ctx context.Context, wf *WorkflowApproval) error
	UpdateWorkflow(ctx context.Context, wf *WorkflowApproval) error

	ListActiveAssignments(ctx context.Context, providerTaxID string) ([]*ProviderAssignment, error)
	FindAssignment(ctx context.Context, providerTaxID, responsibleID string) (*ProviderAssignment, error)
	CreateAssignment(ctx context.Context, a *ProviderAssignment) error
	UpdateAssignment(ctx context.Context, a *ProviderAssignment) error

	ListPayments(ctx context.Context, invoiceID string) ([]*Payment, error)
	PaymentReferenceExists(ctx context.Context, reference string) (bool, error)
	CreatePayment(ctx context.Context, p *Payment) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, invoiceID string) ([]*AuditEntry, error)
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTransaction runs fn in a database transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// pgTx implements Tx. Its methods are split across the per-entity repository files.
type pgTx struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

// LockDedupKeys takes transaction-scoped advisory locks on both dedup keys.
// Keys are locked in a fixed order to avoid deadlocks between callers.
func (t *pgTx) LockDedupKeys(ctx context.Context, cufe, invoiceNumber, providerTaxID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1)), pg_advisory_xact_lock(hashtext($2))`
	_, err := t.tx.Exec(ctx, query, "cufe:"+cufe, "num:"+providerTaxID+"|"+invoiceNumber)
	if err != nil {
		return wrapInternal(err, "failed to lock dedup keys")
	}
	return nil
}
