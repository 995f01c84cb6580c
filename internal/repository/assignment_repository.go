package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
)

const assignmentColumns = `
	id, provider_tax_id, responsible_id, responsible_name, responsible_email,
	allow_auto_approval, service_type, trust_level, active, deactivated_at,
	created_at, updated_at
`

// ListActiveAssignments returns the active assignments of a provider, oldest first.
func (t *pgTx) ListActiveAssignments(ctx context.Context, providerTaxID string) ([]*ProviderAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM provider_assignments
		WHERE provider_tax_id = $1 AND active = TRUE
		ORDER BY created_at ASC, id ASC
	`

	rows, err := t.tx.Query(ctx, query, providerTaxID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list provider assignments")
	}
	defer rows.Close()

	var assignments []*ProviderAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, wrapInternal(err, "failed to scan provider assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// FindAssignment returns the most recent row for a (provider, responsible)
// pair, active or not. Reactivation reuses this row.
func (t *pgTx) FindAssignment(ctx context.Context, providerTaxID, responsibleID string) (*ProviderAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM provider_assignments
		WHERE provider_tax_id = $1 AND responsible_id = $2
		ORDER BY active DESC, updated_at DESC
		LIMIT 1
		FOR UPDATE
	`

	a, err := scanAssignment(t.tx.QueryRow(ctx, query, providerTaxID, responsibleID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapInternal(err, "failed to find provider assignment")
	}
	return a, nil
}

// CreateAssignment inserts a new provider assignment.
func (t *pgTx) CreateAssignment(ctx context.Context, a *ProviderAssignment) error {
	query := `
		INSERT INTO provider_assignments
		    (id, provider_tax_id, responsible_id, responsible_name, responsible_email,
		     allow_auto_approval, service_type, trust_level, active, deactivated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		a.ID,
		a.ProviderTaxID,
		a.ResponsibleID,
		a.ResponsibleName,
		a.ResponsibleEmail,
		a.AllowAutoApproval,
		string(a.ServiceType),
		a.TrustLevel,
		a.Active,
		a.DeactivatedAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return wrapInternal(err, "failed to create provider assignment")
	}
	return nil
}

// UpdateAssignment persists policy fields and the active flag.
func (t *pgTx) UpdateAssignment(ctx context.Context, a *ProviderAssignment) error {
	query := `
		UPDATE provider_assignments
		SET responsible_name    = $2,
		    responsible_email   = $3,
		    allow_auto_approval = $4,
		    service_type        = $5,
		    trust_level         = $6,
		    active              = $7,
		    deactivated_at      = $8,
		    updated_at          = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		a.ID,
		a.ResponsibleName,
		a.ResponsibleEmail,
		a.AllowAutoApproval,
		string(a.ServiceType),
		a.TrustLevel,
		a.Active,
		a.DeactivatedAt,
	).Scan(&a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("provider_assignment", a.ID)
	}
	if err != nil {
		return wrapInternal(err, "failed to update provider assignment")
	}
	return nil
}

func scanAssignment(row rowScanner) (*ProviderAssignment, error) {
	a := &ProviderAssignment{}
	var serviceType string
	err := row.Scan(
		&a.ID,
		&a.ProviderTaxID,
		&a.ResponsibleID,
		&a.ResponsibleName,
		&a.ResponsibleEmail,
		&a.AllowAutoApproval,
		&serviceType,
		&a.TrustLevel,
		&a.Active,
		&a.DeactivatedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ServiceType = ServiceType(serviceType)
	return a, nil
}
