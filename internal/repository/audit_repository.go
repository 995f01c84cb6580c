package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

// AppendAudit inserts one audit entry. The table rejects updates and deletes
// through a trigger, so this is the only mutation exposed.
func (t *pgTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return wrapInternal(err, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO invoice_audit_log
		    (id, invoice_id, cufe, action, performed_by, status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING performed_at
	`

	err := t.tx.QueryRow(ctx, query,
		entry.ID,
		entry.InvoiceID,
		entry.CUFE,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.PerformedAt)
	if err != nil {
		return wrapInternal(err, "failed to append audit entry")
	}
	return nil
}

// ListAudit returns the full audit trail for an invoice ordered oldest-first.
func (t *pgTx) ListAudit(ctx context.Context, invoiceID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, invoice_id, cufe, action, performed_by,
		       status_before, status_after, metadata, performed_at
		FROM invoice_audit_log
		WHERE invoice_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := t.tx.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, wrapInternal(err, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte
		var cufe *string

		err := rows.Scan(
			&entry.ID,
			&entry.InvoiceID,
			&cufe,
			&entry.Action,
			&entry.PerformedBy,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadataJSON,
			&entry.PerformedAt,
		)
		if err != nil {
			return nil, wrapInternal(err, "failed to scan audit entry")
		}
		if cufe != nil {
			entry.CUFE = *cufe
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, wrapInternal(err, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
